package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/safetrip/internal/api/middleware"
	"github.com/timmy/safetrip/internal/domain"
)

// RefreshController is the job control surface of the orchestrator.
type RefreshController interface {
	Start(ctx context.Context, trigger domain.Trigger) (string, error)
	Status(ctx context.Context, jobID string) (domain.JobView, error)
	Cancel(ctx context.Context, jobID string) error
	History(ctx context.Context, limit int) ([]domain.JobView, error)
}

// RefreshHandler serves the bulk refresh endpoints.
type RefreshHandler struct {
	jobs RefreshController
}

// NewRefreshHandler creates a new refresh handler.
// Parameters:
//   - jobs: orchestrator driving the refresh jobs.
// Returns:
//   - *RefreshHandler: initialized handler.
func NewRefreshHandler(jobs RefreshController) *RefreshHandler {
	return &RefreshHandler{jobs: jobs}
}

// StartResponse is returned when a job is admitted.
type StartResponse struct {
	JobID string `json:"jobId"`
}

// StartRefresh handles POST /refresh-advisories.
func (h *RefreshHandler) StartRefresh(c *gin.Context) {
	log := middleware.GetLogger(c)

	jobID, err := h.jobs.Start(c.Request.Context(), domain.TriggerManual)
	if err != nil {
		log.WithError(err).Warn("Refresh request rejected")
		respondError(c, err)
		return
	}

	log.WithField("job_id", jobID).Info("Refresh job accepted")
	c.JSON(http.StatusAccepted, StartResponse{JobID: jobID})
}

// GetStatus handles GET /refresh-status/:jobId.
func (h *RefreshHandler) GetStatus(c *gin.Context) {
	view, err := h.jobs.Status(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CancelRefresh handles POST /refresh-cancel/:jobId.
func (h *RefreshHandler) CancelRefresh(c *gin.Context) {
	jobID := c.Param("jobId")
	if err := h.jobs.Cancel(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobId":  jobID,
		"status": domain.JobStatusCancelled,
	})
}

// GetHistory handles GET /refresh-history?limit=.
func (h *RefreshHandler) GetHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	views, err := h.jobs.History(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}
