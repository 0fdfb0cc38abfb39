// Package background fetches general country facts (capital, population,
// currency, languages) from a REST countries API.
package background

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/source"
)

const SourceID = "background"

type countryInfo struct {
	Name struct {
		Common string `json:"common"`
	} `json:"name"`
	CCA2       string            `json:"cca2"`
	Capital    []string          `json:"capital"`
	Population int64             `json:"population"`
	Languages  map[string]string `json:"languages"`
	Currencies map[string]struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"currencies"`
	Flags struct {
		PNG string `json:"png"`
	} `json:"flags"`
	Maps struct {
		GoogleMaps string `json:"googleMaps"`
	} `json:"maps"`
}

// Adapter implements source.Source for the countries API.
type Adapter struct {
	client *resty.Client
}

func NewAdapter(baseURL string, timeout time.Duration) *Adapter {
	return &Adapter{client: source.NewHTTPClient(baseURL, timeout)}
}

func (a *Adapter) GetSourceID() string { return SourceID }

// Fetch looks the country up by full name. A 404 means the API does not know it.
func (a *Adapter) Fetch(ctx context.Context, country string) (*source.Result, error) {
	const op = "background.Fetch"

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParam("fullText", "true").
		Get("/name/" + url.PathEscape(source.DisplayName(country)))
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil, source.ErrNoData
	}
	if err := source.CheckResponse(op, resp, err); err != nil {
		return nil, err
	}

	var infos []countryInfo
	if err := json.Unmarshal(resp.Body(), &infos); err != nil {
		return nil, source.DecodeError(op, err)
	}
	if len(infos) == 0 {
		return nil, source.ErrNoData
	}
	info := infos[0]

	bg := &domain.BackgroundInfo{
		Population: info.Population,
		Link:       info.Maps.GoogleMaps,
		Languages:  sortedValues(info.Languages),
	}
	if len(info.Capital) > 0 {
		bg.Capital = info.Capital[0]
	}
	bg.Currency = currencyName(info)

	raw, err := json.Marshal(info)
	raw = source.KeepRaw(ctx, SourceID, raw, err)
	return &source.Result{
		Background: bg,
		Code:       strings.ToUpper(info.CCA2),
		FlagURL:    info.Flags.PNG,
		Raw:        raw,
	}, nil
}

func sortedValues(m map[string]string) domain.StringArray {
	out := make(domain.StringArray, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func currencyName(info countryInfo) string {
	codes := make([]string, 0, len(info.Currencies))
	for code := range info.Currencies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	names := make([]string, 0, len(codes))
	for _, code := range codes {
		c := info.Currencies[code]
		names = append(names, c.Name+" ("+code+")")
	}
	return strings.Join(names, ", ")
}
