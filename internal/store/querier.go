package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gsarma/examrunner/internal/job"
)

// ErrNoRows is returned by every lookup or conditional update that matched
// nothing. Both implementations return pgx.ErrNoRows so callers test once.
var ErrNoRows = pgx.ErrNoRows

type CreateJobParams struct {
	OwnerID       string
	ExamID        string
	QuestionID    string
	Code          string
	Input         string
	Status        job.Status
	Output        string
	ExecutionMode job.Mode
}

type ClaimNextJobParams struct {
	ExecutionMode job.Mode
	// OwnerID restricts the claim to one student's jobs when non-empty.
	OwnerID string
}

type ReportJobParams struct {
	ID     uuid.UUID
	Status job.Status
	Output string
	Image  []byte
	Score  float64
}

type CountExecutionJobsParams struct {
	OwnerID    string
	QuestionID string
}

type OwnerExamParams struct {
	OwnerID string
	ExamID  string
}

type GetBlockedStudentParams struct {
	ExamID  string
	OwnerID string
}

// Querier is the Job Store plus the read side of the exam content it grades
// against. Jobs are only ever mutated through CreateJob, ClaimNextJob and
// ReportJob.
type Querier interface {
	CreateJob(ctx context.Context, arg CreateJobParams) (Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
	// ClaimNextJob moves the oldest pending job of the given mode to running.
	// It returns ErrNoRows when nothing is claimable.
	ClaimNextJob(ctx context.Context, arg ClaimNextJobParams) (Job, error)
	// ReportJob moves a running job to a terminal status. It returns ErrNoRows
	// when the job does not exist or is not running, without mutating it.
	ReportJob(ctx context.Context, arg ReportJobParams) (Job, error)
	CountExecutionJobs(ctx context.Context, arg CountExecutionJobsParams) (int64, error)
	CountExecutionJobsByQuestion(ctx context.Context, arg OwnerExamParams) ([]QuestionCount, error)
	ListJobScores(ctx context.Context, arg OwnerExamParams) ([]JobScore, error)
	ListStuckJobs(ctx context.Context, claimedBefore time.Time) ([]Job, error)

	UpsertExam(ctx context.Context, arg Exam) (Exam, error)
	UpsertCodingQuestion(ctx context.Context, arg CodingQuestion) (CodingQuestion, error)
	GetCodingQuestion(ctx context.Context, id string) (CodingQuestion, error)
	// ListCodingQuestions returns the coding questions of one exam ordered by id.
	ListCodingQuestions(ctx context.Context, examID string) ([]CodingQuestion, error)
	UpsertQuizQuestion(ctx context.Context, arg QuizQuestion) (QuizQuestion, error)
	GetQuizQuestion(ctx context.Context, id string) (QuizQuestion, error)
	UpsertQuizAnswer(ctx context.Context, arg QuizAnswer) (QuizAnswer, error)
	ListQuizAnswers(ctx context.Context, arg OwnerExamParams) ([]QuizAnswer, error)
	UpsertBlockedStudent(ctx context.Context, arg BlockedStudent) (BlockedStudent, error)
	GetBlockedStudent(ctx context.Context, arg GetBlockedStudentParams) (BlockedStudent, error)
}

var (
	_ Querier = (*Queries)(nil)
	_ Querier = (*Memory)(nil)
)
