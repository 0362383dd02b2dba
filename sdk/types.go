package sdk

import "encoding/json"

// Job statuses as reported by the API.
const (
	StatusSubmitted = "submitted"
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// IsTerminal reports whether a polled status will not change any more.
func IsTerminal(status string) bool {
	switch status {
	case StatusSubmitted, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// --- Exam ---

// SubmitRequest is the body of run-code and save-code.
type SubmitRequest struct {
	OwnerID       string `json:"owner_id"`
	ExamID        string `json:"exam_id"`
	QuestionID    string `json:"question_id"`
	Code          string `json:"code"`
	Input         string `json:"input,omitempty"`
	ExecutionMode string `json:"execution_mode,omitempty"`
}

// RunResponse is returned when an execution job was queued.
type RunResponse struct {
	JobID             string `json:"job_id"`
	Status            string `json:"status"`
	RemainingAttempts int    `json:"remaining_attempts"`
}

// SaveResponse is returned when code was saved without running it.
type SaveResponse struct {
	JobID string `json:"job_id"`
}

// Result is the polled view of one job.
type Result struct {
	Status string  `json:"status"`
	Output string  `json:"output"`
	Score  float64 `json:"score"`
	Image  []byte  `json:"image"`
}

// FinishRequest finalizes one student's exam.
type FinishRequest struct {
	OwnerID string `json:"owner_id"`
	ExamID  string `json:"exam_id"`
}

// Totals is the finalized score breakdown.
type Totals struct {
	QuizScore   float64 `json:"quiz_score"`
	CodingScore float64 `json:"coding_score"`
	TotalScore  float64 `json:"total_score"`
}

// QuizRequest answers one quiz question.
type QuizRequest struct {
	OwnerID    string `json:"owner_id"`
	ExamID     string `json:"exam_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// QuizResponse is the immediate grade for a quiz answer.
type QuizResponse struct {
	IsCorrect bool    `json:"is_correct"`
	Score     float64 `json:"score"`
}

// BlockedResponse is returned by check-blocked.
type BlockedResponse struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
}

// BlockRequest adds a student to an exam's block list.
type BlockRequest struct {
	ExamID  string `json:"exam_id"`
	OwnerID string `json:"owner_id"`
	Reason  string `json:"reason,omitempty"`
}

// SuccessResponse is a generic {"success": true} response.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// --- Agent ---

// ClaimOptions selects which jobs an agent is willing to take.
type ClaimOptions struct {
	// Mode is "server" or "local"; empty means server.
	Mode string
	// FilterUserID restricts claims to one student's jobs.
	FilterUserID string
}

// ReferenceMaterial is attached to a claimed job.
type ReferenceMaterial struct {
	ExpectedOutput string          `json:"expected_output"`
	TestCases      json.RawMessage `json:"test_cases"`
	SolutionCode   string          `json:"solution_code,omitempty"`
}

// Job is one claimed job.
type Job struct {
	ID                string            `json:"id"`
	Code              string            `json:"code"`
	Input             string            `json:"input"`
	QuestionID        string            `json:"question_id"`
	ExamID            string            `json:"exam_id"`
	ReferenceMaterial ReferenceMaterial `json:"reference_material"`
}

// JobReport is the outcome of one execution. Outcome is "completed" or "failed".
type JobReport struct {
	JobID   string `json:"job_id"`
	Output  string `json:"output"`
	Image   []byte `json:"image,omitempty"`
	Outcome string `json:"outcome"`
}
