package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/gsarma/examrunner/internal/job"
)

type Job struct {
	ID            uuid.UUID  `json:"id"`
	OwnerID       string     `json:"owner_id"`
	ExamID        string     `json:"exam_id"`
	QuestionID    string     `json:"question_id"`
	Code          string     `json:"code"`
	Input         string     `json:"input"`
	Status        job.Status `json:"status"`
	Output        string     `json:"output"`
	Image         []byte     `json:"image"`
	Score         float64    `json:"score"`
	ExecutionMode job.Mode   `json:"execution_mode"`
	CreatedAt     time.Time  `json:"created_at"`
	ClaimedAt     *time.Time `json:"claimed_at"`
	FinishedAt    *time.Time `json:"finished_at"`
}

// JobScore is the slice of a job the finalization aggregate needs.
type JobScore struct {
	QuestionID string
	Score      float64
	CreatedAt  time.Time
}

type QuestionCount struct {
	QuestionID string
	Count      int64
}

type Exam struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	IsActive bool   `json:"is_active"`
}

type CodingQuestion struct {
	ID             string          `json:"id"`
	ExamID         string          `json:"exam_id"`
	Title          string          `json:"title"`
	Points         float64         `json:"points"`
	ExpectedOutput string          `json:"expected_output"`
	TestCases      json.RawMessage `json:"test_cases"`
	SolutionCode   string          `json:"solution_code"`
}

type QuizQuestion struct {
	ID            string  `json:"id"`
	ExamID        string  `json:"exam_id"`
	Type          string  `json:"type"`
	Question      string  `json:"question"`
	CorrectAnswer string  `json:"correct_answer"`
	Points        float64 `json:"points"`
}

type QuizAnswer struct {
	OwnerID    string    `json:"owner_id"`
	ExamID     string    `json:"exam_id"`
	QuestionID string    `json:"question_id"`
	Answer     string    `json:"answer"`
	IsCorrect  bool      `json:"is_correct"`
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"created_at"`
}

type BlockedStudent struct {
	ExamID    string    `json:"exam_id"`
	OwnerID   string    `json:"owner_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
