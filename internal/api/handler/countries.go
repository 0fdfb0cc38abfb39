package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/safetrip/internal/catalog"
	"github.com/timmy/safetrip/internal/domain"
)

// CountryReader is the read side of the country store.
type CountryReader interface {
	GetByName(ctx context.Context, name string) (*domain.Country, error)
	ListSummaries(ctx context.Context) ([]domain.CountrySummary, error)
}

// CountryHandler serves stored advisory data.
type CountryHandler struct {
	catalog   *catalog.Catalog
	countries CountryReader
}

func NewCountryHandler(cat *catalog.Catalog, countries CountryReader) *CountryHandler {
	return &CountryHandler{catalog: cat, countries: countries}
}

// ListCountries handles GET /countries.
func (h *CountryHandler) ListCountries(c *gin.Context) {
	summaries, err := h.countries.ListSummaries(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"countries": summaries,
		"total":     len(summaries),
		"supported": h.catalog.Len(),
	})
}

// ValidateCountry handles GET /countries/validate?name=.
func (h *CountryHandler) ValidateCountry(c *gin.Context) {
	name := c.Query("name")
	if strings.TrimSpace(name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'name' is required"})
		return
	}
	c.JSON(http.StatusOK, h.catalog.Validate(name))
}

// GetCountry handles GET /countries/:name.
func (h *CountryHandler) GetCountry(c *gin.Context) {
	res := h.catalog.Validate(c.Param("name"))
	if !res.IsValid {
		body := gin.H{"error": domain.ErrInvalidCountry.Error()}
		if res.Suggestion != "" {
			body["suggestion"] = res.Suggestion
		}
		c.JSON(http.StatusBadRequest, body)
		return
	}

	country, err := h.countries.GetByName(c.Request.Context(), res.NormalizedName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, country)
}
