package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gsarma/examrunner/internal/dispatch"
	"github.com/gsarma/examrunner/internal/job"
)

const (
	headerAgentKey      = "x-agent-key"
	headerExecutionMode = "x-execution-mode"
	headerFilterUserID  = "x-filter-user-id"
	headerUserID        = "x-user-id"
)

// ClaimJob hands at most one pending job to the calling worker. It returns
// immediately with {"job": null} when nothing is queued.
func (h *Handler) ClaimJob(c *gin.Context) {
	mode, err := job.ParseMode(c.GetHeader(headerExecutionMode))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.dispatch.Claim(c.Request.Context(), dispatch.ClaimParams{
		Mode:         mode,
		FilterUserID: c.GetHeader(headerFilterUserID),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": a})
}

// ReportJob records a worker's outcome.
//
// Request body (may be sent with Content-Encoding: gzip):
//
//	{
//	  "job_id":  "...",
//	  "output":  "...",
//	  "image":   "base64, optional",
//	  "outcome": "completed" | "failed",
//	  "score":   0            // ignored, the server grades
//	}
//
// Returns 404 when the job is unknown or no longer running.
func (h *Handler) ReportJob(c *gin.Context) {
	var body struct {
		JobID   string   `json:"job_id" binding:"required"`
		Output  string   `json:"output"`
		Image   []byte   `json:"image"`
		Outcome string   `json:"outcome" binding:"required"`
		Score   *float64 `json:"score"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := uuid.Parse(body.JobID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	_, err = h.dispatch.Report(c.Request.Context(), dispatch.ReportParams{
		JobID:   id,
		Output:  body.Output,
		Image:   body.Image,
		Outcome: job.Status(body.Outcome),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
