// Package dispatch is the worker-facing side of the job queue: handing out
// pending jobs one at a time and recording their graded outcome.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gsarma/examrunner/internal/grading"
	"github.com/gsarma/examrunner/internal/job"
	"github.com/gsarma/examrunner/internal/metrics"
	"github.com/gsarma/examrunner/internal/store"
)

type Service struct {
	queries store.Querier
	metrics *metrics.Server
	log     *zap.Logger
}

func NewService(q store.Querier, m *metrics.Server, log *zap.Logger) *Service {
	return &Service{queries: q, metrics: m, log: log}
}

type ReferenceMaterial struct {
	ExpectedOutput string          `json:"expected_output"`
	TestCases      json.RawMessage `json:"test_cases"`
	SolutionCode   string          `json:"solution_code,omitempty"`
}

// Assignment is a claimed job as shipped to a worker.
type Assignment struct {
	ID                uuid.UUID         `json:"id"`
	Code              string            `json:"code"`
	Input             string            `json:"input"`
	QuestionID        string            `json:"question_id"`
	ExamID            string            `json:"exam_id"`
	ReferenceMaterial ReferenceMaterial `json:"reference_material"`
}

type ClaimParams struct {
	Mode         job.Mode
	FilterUserID string
}

// Claim hands the oldest pending job of the requested mode to the caller, or
// returns nil when there is none. It never waits for work to appear.
func (s *Service) Claim(ctx context.Context, p ClaimParams) (*Assignment, error) {
	j, err := s.queries.ClaimNextJob(ctx, store.ClaimNextJobParams{
		ExecutionMode: p.Mode,
		OwnerID:       p.FilterUserID,
	})
	if errors.Is(err, store.ErrNoRows) {
		s.metrics.Claim(false)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	s.metrics.Claim(true)

	a := &Assignment{
		ID:         j.ID,
		Code:       j.Code,
		Input:      j.Input,
		QuestionID: j.QuestionID,
		ExamID:     j.ExamID,
	}
	q, ok, err := s.question(ctx, j)
	switch {
	case ok:
		a.ReferenceMaterial = ReferenceMaterial{
			ExpectedOutput: q.ExpectedOutput,
			TestCases:      q.TestCases,
		}
		// A local-mode worker runs on the student's own machine.
		if p.Mode == job.ModeServer {
			a.ReferenceMaterial.SolutionCode = q.SolutionCode
		}
	case err == nil:
		s.log.Warn("claimed job references unknown question",
			zap.String("job_id", j.ID.String()),
			zap.String("exam_id", j.ExamID),
			zap.String("question_id", j.QuestionID))
	default:
		// The job is already running; losing the reference material is
		// better than stranding it.
		s.log.Error("load reference material", zap.String("job_id", j.ID.String()), zap.Error(err))
	}

	s.log.Info("job claimed",
		zap.String("job_id", j.ID.String()),
		zap.String("execution_mode", string(p.Mode)),
		zap.String("filter_user_id", p.FilterUserID))
	return a, nil
}

type ReportParams struct {
	JobID   uuid.UUID
	Output  string
	Image   []byte
	Outcome job.Status
}

// Report records a worker's outcome for a running job and grades it in the
// same step. Reports for jobs that are not running are rejected with
// job.ErrStaleReport (or job.ErrNotFound for unknown ids) and change nothing.
func (s *Service) Report(ctx context.Context, p ReportParams) (store.Job, error) {
	if !p.Outcome.IsOutcome() {
		return store.Job{}, fmt.Errorf("%w: outcome must be completed or failed, got %q", job.ErrInvalidInput, p.Outcome)
	}
	current, err := s.queries.GetJob(ctx, p.JobID)
	if errors.Is(err, store.ErrNoRows) {
		s.metrics.Report("unknown", string(p.Outcome))
		return store.Job{}, job.ErrNotFound
	}
	if err != nil {
		return store.Job{}, fmt.Errorf("get job: %w", err)
	}
	if err := job.MustTransition(current.Status, p.Outcome); err != nil {
		s.metrics.Report("stale", string(p.Outcome))
		s.log.Warn("ignoring report for job that is not running",
			zap.String("job_id", p.JobID.String()), zap.Error(err))
		return store.Job{}, job.ErrStaleReport
	}

	var points float64
	var reference string
	q, ok, err := s.question(ctx, current)
	switch {
	case ok:
		points, reference = q.Points, q.ExpectedOutput
	case err == nil:
		s.log.Warn("grading job without question, awarding 0",
			zap.String("job_id", p.JobID.String()),
			zap.String("exam_id", current.ExamID),
			zap.String("question_id", current.QuestionID))
	default:
		return store.Job{}, err
	}
	score := grading.Grade(p.Outcome, points, reference)

	output := p.Output
	if output == "" && p.Outcome == job.StatusFailed {
		output = "Execution failed without output."
	}

	done, err := s.queries.ReportJob(ctx, store.ReportJobParams{
		ID:     p.JobID,
		Status: p.Outcome,
		Output: output,
		Image:  p.Image,
		Score:  score,
	})
	if errors.Is(err, store.ErrNoRows) {
		// Another report won between the read and the update.
		s.metrics.Report("stale", string(p.Outcome))
		return store.Job{}, job.ErrStaleReport
	}
	if err != nil {
		return store.Job{}, fmt.Errorf("report job: %w", err)
	}
	s.metrics.Report("accepted", string(p.Outcome))
	s.log.Info("job finished",
		zap.String("job_id", done.ID.String()),
		zap.String("status", string(done.Status)),
		zap.Float64("score", done.Score))
	return done, nil
}

// AbandonedOutput is written to jobs failed by operator recovery.
const AbandonedOutput = "Execution abandoned: no result reported by worker."

// FailAbandoned moves a running job to failed on an operator's behalf, using
// the same conditional update as a worker report.
func (s *Service) FailAbandoned(ctx context.Context, id uuid.UUID) (store.Job, error) {
	return s.Report(ctx, ReportParams{JobID: id, Outcome: job.StatusFailed, Output: AbandonedOutput})
}

// question loads the coding question a job answers. ok is false when the
// question does not exist or belongs to another exam.
func (s *Service) question(ctx context.Context, j store.Job) (store.CodingQuestion, bool, error) {
	q, err := s.queries.GetCodingQuestion(ctx, j.QuestionID)
	if errors.Is(err, store.ErrNoRows) {
		return store.CodingQuestion{}, false, nil
	}
	if err != nil {
		return store.CodingQuestion{}, false, fmt.Errorf("get coding question: %w", err)
	}
	if q.ExamID != j.ExamID {
		return store.CodingQuestion{}, false, nil
	}
	return q, true, nil
}
