package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gsarma/examrunner/internal/dispatch"
	"github.com/gsarma/examrunner/internal/exam"
	"github.com/gsarma/examrunner/internal/job"
)

type Handler struct {
	exam     *exam.Service
	dispatch *dispatch.Service
	log      *zap.Logger
}

func NewHandler(e *exam.Service, d *dispatch.Service, log *zap.Logger) *Handler {
	return &Handler{exam: e, dispatch: d, log: log}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrQuotaExceeded), errors.Is(err, job.ErrBlocked):
		return http.StatusForbidden
	case errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunCode queues a submission for execution.
//
//	{"owner_id": "...", "exam_id": "...", "question_id": "...", "code": "...", "input": "", "execution_mode": "server"}
//
// Returns 200 {"job_id", "status": "pending", "remaining_attempts"} or 403
// once the attempt ceiling for the question is reached.
func (h *Handler) RunCode(c *gin.Context) {
	var body exam.SubmitParams
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.exam.RunCode(c.Request.Context(), body)
	if err != nil {
		if errors.Is(err, job.ErrQuotaExceeded) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "remaining_attempts": 0})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SaveCode stores a submission without running it.
func (h *Handler) SaveCode(c *gin.Context) {
	var body exam.SubmitParams
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.exam.SaveCode(c.Request.Context(), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id})
}

// GetResult is polled by clients until the job leaves pending/running.
func (h *Handler) GetResult(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	res, err := h.exam.Result(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) FinishExam(c *gin.Context) {
	var body struct {
		OwnerID string `json:"owner_id" binding:"required"`
		ExamID  string `json:"exam_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	totals, err := h.exam.Finish(c.Request.Context(), body.OwnerID, body.ExamID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (h *Handler) SubmitQuiz(c *gin.Context) {
	var body exam.QuizParams
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	answer, err := h.exam.SubmitQuiz(c.Request.Context(), body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_correct": answer.IsCorrect, "score": answer.Score})
}

// SubmissionCounts reports execution attempts per question for the user in
// the x-user-id header.
func (h *Handler) SubmissionCounts(c *gin.Context) {
	counts, err := h.exam.SubmissionCounts(c.Request.Context(), c.GetHeader(headerUserID), c.Param("examId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) CheckBlocked(c *gin.Context) {
	ownerID := c.GetHeader(headerUserID)
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}
	blocked, reason, err := h.exam.Blocked(c.Request.Context(), c.Param("examId"), ownerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": blocked, "reason": reason})
}

func (h *Handler) BlockUser(c *gin.Context) {
	var body struct {
		ExamID  string `json:"exam_id" binding:"required"`
		OwnerID string `json:"owner_id" binding:"required"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.exam.Block(c.Request.Context(), body.ExamID, body.OwnerID, body.Reason); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
