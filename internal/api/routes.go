package api

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, h *Handler, agentKey string) {
	r.GET("/health", h.Health)

	// Student-facing routes
	ex := r.Group("/exam")
	{
		ex.POST("/run-code", h.RunCode)
		ex.POST("/save-code", h.SaveCode)
		ex.GET("/result/:id", h.GetResult)
		ex.POST("/finish-exam", h.FinishExam)
		ex.POST("/submit-quiz", h.SubmitQuiz)
		ex.GET("/submission-counts/:examId", h.SubmissionCounts)
		ex.GET("/check-blocked/:examId", h.CheckBlocked)
		ex.POST("/block-user", h.BlockUser)
	}

	// Worker agents poll here; they hold the shared key, not a student session.
	agent := r.Group("/agent", AgentKeyMiddleware(agentKey), DecompressRequest())
	{
		agent.GET("/jobs", h.ClaimJob)
		agent.POST("/job-result", h.ReportJob)
	}
}
