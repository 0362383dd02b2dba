// Package exam is the student-facing side of the job queue: creating run and
// save jobs, polling results, quiz answers and exam finalization.
package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gsarma/examrunner/internal/grading"
	"github.com/gsarma/examrunner/internal/job"
	"github.com/gsarma/examrunner/internal/metrics"
	"github.com/gsarma/examrunner/internal/quota"
	"github.com/gsarma/examrunner/internal/store"
)

// SavedOutput is stored on jobs created by the save path.
const SavedOutput = "Code submitted without execution"

type Service struct {
	queries store.Querier
	guard   quota.Guard
	metrics *metrics.Server
	log     *zap.Logger
}

func NewService(q store.Querier, guard quota.Guard, m *metrics.Server, log *zap.Logger) *Service {
	return &Service{queries: q, guard: guard, metrics: m, log: log}
}

type SubmitParams struct {
	OwnerID       string `json:"owner_id"`
	ExamID        string `json:"exam_id"`
	QuestionID    string `json:"question_id"`
	Code          string `json:"code"`
	Input         string `json:"input"`
	ExecutionMode string `json:"execution_mode"`
}

func (p SubmitParams) validate() error {
	var missing []string
	if p.OwnerID == "" {
		missing = append(missing, "owner_id")
	}
	if p.ExamID == "" {
		missing = append(missing, "exam_id")
	}
	if p.QuestionID == "" {
		missing = append(missing, "question_id")
	}
	if strings.TrimSpace(p.Code) == "" {
		missing = append(missing, "code")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", job.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

type RunResult struct {
	JobID             uuid.UUID  `json:"job_id"`
	Status            job.Status `json:"status"`
	RemainingAttempts int        `json:"remaining_attempts"`
}

// RunCode queues a job for execution once the quota guard grants an attempt.
func (s *Service) RunCode(ctx context.Context, p SubmitParams) (RunResult, error) {
	if err := p.validate(); err != nil {
		return RunResult{}, err
	}
	mode, err := job.ParseMode(p.ExecutionMode)
	if err != nil {
		return RunResult{}, err
	}
	if err := s.checkBlocked(ctx, p.ExamID, p.OwnerID); err != nil {
		return RunResult{}, err
	}

	remaining, err := s.guard.Acquire(ctx, p.OwnerID, p.QuestionID)
	if err != nil {
		if errors.Is(err, job.ErrQuotaExceeded) {
			s.metrics.QuotaRejected()
			s.log.Info("execution limit reached",
				zap.String("owner_id", p.OwnerID), zap.String("question_id", p.QuestionID))
		}
		return RunResult{}, err
	}

	j, err := s.queries.CreateJob(ctx, store.CreateJobParams{
		OwnerID:       p.OwnerID,
		ExamID:        p.ExamID,
		QuestionID:    p.QuestionID,
		Code:          p.Code,
		Input:         p.Input,
		Status:        job.StatusPending,
		ExecutionMode: mode,
	})
	if err != nil {
		if relErr := s.guard.Release(ctx, p.OwnerID, p.QuestionID); relErr != nil {
			s.log.Warn("release quota reservation", zap.Error(relErr))
		}
		return RunResult{}, fmt.Errorf("create job: %w", err)
	}
	s.metrics.JobCreated("run")
	s.log.Info("job queued",
		zap.String("job_id", j.ID.String()),
		zap.String("owner_id", j.OwnerID),
		zap.String("question_id", j.QuestionID),
		zap.String("execution_mode", string(j.ExecutionMode)),
		zap.Int("remaining_attempts", remaining))

	return RunResult{JobID: j.ID, Status: j.Status, RemainingAttempts: remaining}, nil
}

// SaveCode records code without running it. The job is created directly in
// the submitted state and is invisible to workers.
func (s *Service) SaveCode(ctx context.Context, p SubmitParams) (uuid.UUID, error) {
	if err := p.validate(); err != nil {
		return uuid.Nil, err
	}
	if err := s.checkBlocked(ctx, p.ExamID, p.OwnerID); err != nil {
		return uuid.Nil, err
	}
	j, err := s.queries.CreateJob(ctx, store.CreateJobParams{
		OwnerID:       p.OwnerID,
		ExamID:        p.ExamID,
		QuestionID:    p.QuestionID,
		Code:          p.Code,
		Input:         p.Input,
		Status:        job.StatusSubmitted,
		Output:        SavedOutput,
		ExecutionMode: job.ModeServer,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}
	s.metrics.JobCreated("save")
	s.log.Info("code saved", zap.String("job_id", j.ID.String()), zap.String("owner_id", j.OwnerID))
	return j.ID, nil
}

// Result is what a polling client sees of a job.
type Result struct {
	Status job.Status `json:"status"`
	Output string     `json:"output"`
	Score  float64    `json:"score"`
	Image  []byte     `json:"image"`
}

func (s *Service) Result(ctx context.Context, id uuid.UUID) (Result, error) {
	j, err := s.queries.GetJob(ctx, id)
	if errors.Is(err, store.ErrNoRows) {
		return Result{}, job.ErrNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("get job: %w", err)
	}
	return Result{Status: j.Status, Output: j.Output, Score: j.Score, Image: j.Image}, nil
}

// Finish computes the final exam totals for one student.
func (s *Service) Finish(ctx context.Context, ownerID, examID string) (grading.Totals, error) {
	if ownerID == "" || examID == "" {
		return grading.Totals{}, fmt.Errorf("%w: owner_id and exam_id are required", job.ErrInvalidInput)
	}
	key := store.OwnerExamParams{OwnerID: ownerID, ExamID: examID}
	answers, err := s.queries.ListQuizAnswers(ctx, key)
	if err != nil {
		return grading.Totals{}, fmt.Errorf("list quiz answers: %w", err)
	}
	questions, err := s.queries.ListCodingQuestions(ctx, examID)
	if err != nil {
		return grading.Totals{}, fmt.Errorf("list coding questions: %w", err)
	}
	scores, err := s.queries.ListJobScores(ctx, key)
	if err != nil {
		return grading.Totals{}, fmt.Errorf("list job scores: %w", err)
	}
	totals := grading.Finalize(answers, questions, scores)
	s.log.Info("exam finished",
		zap.String("owner_id", ownerID),
		zap.String("exam_id", examID),
		zap.Float64("total_score", totals.TotalScore))
	return totals, nil
}

type QuizParams struct {
	OwnerID    string `json:"owner_id"`
	ExamID     string `json:"exam_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// SubmitQuiz grades an answer immediately and stores it, replacing any
// earlier answer to the same question.
func (s *Service) SubmitQuiz(ctx context.Context, p QuizParams) (store.QuizAnswer, error) {
	if p.OwnerID == "" || p.ExamID == "" || p.QuestionID == "" {
		return store.QuizAnswer{}, fmt.Errorf("%w: owner_id, exam_id and question_id are required", job.ErrInvalidInput)
	}
	q, err := s.queries.GetQuizQuestion(ctx, p.QuestionID)
	if errors.Is(err, store.ErrNoRows) {
		return store.QuizAnswer{}, fmt.Errorf("quiz question %s: %w", p.QuestionID, job.ErrNotFound)
	}
	if err != nil {
		return store.QuizAnswer{}, fmt.Errorf("get quiz question: %w", err)
	}
	if q.ExamID != p.ExamID {
		return store.QuizAnswer{}, fmt.Errorf("quiz question %s in exam %s: %w", p.QuestionID, p.ExamID, job.ErrNotFound)
	}
	correct, score := grading.GradeQuiz(q, p.Answer)
	return s.queries.UpsertQuizAnswer(ctx, store.QuizAnswer{
		OwnerID:    p.OwnerID,
		ExamID:     p.ExamID,
		QuestionID: p.QuestionID,
		Answer:     p.Answer,
		IsCorrect:  correct,
		Score:      score,
	})
}

// SubmissionCounts returns execution attempts used per question.
func (s *Service) SubmissionCounts(ctx context.Context, ownerID, examID string) (map[string]int64, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: missing user id", job.ErrInvalidInput)
	}
	counts, err := s.queries.CountExecutionJobsByQuestion(ctx, store.OwnerExamParams{OwnerID: ownerID, ExamID: examID})
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.QuestionID] = c.Count
	}
	return out, nil
}

// Blocked reports whether the student was blocked from the exam, and why.
func (s *Service) Blocked(ctx context.Context, examID, ownerID string) (bool, string, error) {
	b, err := s.queries.GetBlockedStudent(ctx, store.GetBlockedStudentParams{ExamID: examID, OwnerID: ownerID})
	if errors.Is(err, store.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("get blocked student: %w", err)
	}
	return true, b.Reason, nil
}

func (s *Service) Block(ctx context.Context, examID, ownerID, reason string) error {
	if examID == "" || ownerID == "" {
		return fmt.Errorf("%w: exam_id and owner_id are required", job.ErrInvalidInput)
	}
	if _, err := s.queries.UpsertBlockedStudent(ctx, store.BlockedStudent{
		ExamID:  examID,
		OwnerID: ownerID,
		Reason:  reason,
	}); err != nil {
		return fmt.Errorf("block student: %w", err)
	}
	s.log.Warn("student blocked",
		zap.String("exam_id", examID), zap.String("owner_id", ownerID), zap.String("reason", reason))
	return nil
}

func (s *Service) checkBlocked(ctx context.Context, examID, ownerID string) error {
	blocked, _, err := s.Blocked(ctx, examID, ownerID)
	if err != nil {
		return err
	}
	if blocked {
		return job.ErrBlocked
	}
	return nil
}
