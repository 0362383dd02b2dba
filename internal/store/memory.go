package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gsarma/examrunner/internal/job"
)

// Memory is an in-process Querier for single-node deployments and tests.
// A single mutex serialises every mutation, which makes claim and report
// trivially compare-and-swap.
type Memory struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*Job
	order    []uuid.UUID
	lastTime time.Time
	now      func() time.Time

	exams           map[string]Exam
	codingQuestions map[string]CodingQuestion
	quizQuestions   map[string]QuizQuestion
	quizAnswers     map[[3]string]QuizAnswer
	blocked         map[[2]string]BlockedStudent
}

func NewMemory() *Memory {
	return &Memory{
		jobs:            make(map[uuid.UUID]*Job),
		now:             time.Now,
		exams:           make(map[string]Exam),
		codingQuestions: make(map[string]CodingQuestion),
		quizQuestions:   make(map[string]QuizQuestion),
		quizAnswers:     make(map[[3]string]QuizAnswer),
		blocked:         make(map[[2]string]BlockedStudent),
	}
}

// tick returns a strictly increasing timestamp so created_at ordering is total.
func (m *Memory) tick() time.Time {
	t := m.now()
	if !t.After(m.lastTime) {
		t = m.lastTime.Add(time.Microsecond)
	}
	m.lastTime = t
	return t
}

func cloneJob(j *Job) Job {
	out := *j
	if j.Image != nil {
		out.Image = append([]byte(nil), j.Image...)
	}
	return out
}

func (m *Memory) CreateJob(_ context.Context, arg CreateJobParams) (Job, error) {
	if arg.Status != job.StatusPending && arg.Status != job.StatusSubmitted {
		return Job{}, fmt.Errorf("%w: jobs start as pending or submitted, not %s", job.ErrInvalidInput, arg.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j := &Job{
		ID:            uuid.New(),
		OwnerID:       arg.OwnerID,
		ExamID:        arg.ExamID,
		QuestionID:    arg.QuestionID,
		Code:          arg.Code,
		Input:         arg.Input,
		Status:        arg.Status,
		Output:        arg.Output,
		ExecutionMode: arg.ExecutionMode,
		CreatedAt:     m.tick(),
	}
	m.jobs[j.ID] = j
	m.order = append(m.order, j.ID)
	return cloneJob(j), nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNoRows
	}
	return cloneJob(j), nil
}

func (m *Memory) ClaimNextJob(_ context.Context, arg ClaimNextJobParams) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		j := m.jobs[id]
		if !job.CanTransition(j.Status, job.StatusRunning) || j.ExecutionMode != arg.ExecutionMode {
			continue
		}
		if arg.OwnerID != "" && j.OwnerID != arg.OwnerID {
			continue
		}
		now := m.tick()
		j.Status = job.StatusRunning
		j.ClaimedAt = &now
		return cloneJob(j), nil
	}
	return Job{}, ErrNoRows
}

func (m *Memory) ReportJob(_ context.Context, arg ReportJobParams) (Job, error) {
	if !arg.Status.IsOutcome() {
		return Job{}, fmt.Errorf("%w: report status %q", job.ErrInvalidInput, arg.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[arg.ID]
	if !ok || !job.CanTransition(j.Status, arg.Status) {
		return Job{}, ErrNoRows
	}
	now := m.tick()
	j.Status = arg.Status
	j.Output = arg.Output
	j.Image = append([]byte(nil), arg.Image...)
	if len(arg.Image) == 0 {
		j.Image = nil
	}
	j.Score = arg.Score
	j.FinishedAt = &now
	return cloneJob(j), nil
}

func (m *Memory) CountExecutionJobs(_ context.Context, arg CountExecutionJobsParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.OwnerID == arg.OwnerID && j.QuestionID == arg.QuestionID && j.Status != job.StatusSubmitted {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountExecutionJobsByQuestion(_ context.Context, arg OwnerExamParams) ([]QuestionCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int64)
	for _, j := range m.jobs {
		if j.OwnerID == arg.OwnerID && j.ExamID == arg.ExamID && j.Status != job.StatusSubmitted {
			counts[j.QuestionID]++
		}
	}
	out := make([]QuestionCount, 0, len(counts))
	for q, n := range counts {
		out = append(out, QuestionCount{QuestionID: q, Count: n})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].QuestionID < out[k].QuestionID })
	return out, nil
}

func (m *Memory) ListJobScores(_ context.Context, arg OwnerExamParams) ([]JobScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []JobScore
	for _, id := range m.order {
		j := m.jobs[id]
		if j.OwnerID == arg.OwnerID && j.ExamID == arg.ExamID {
			out = append(out, JobScore{QuestionID: j.QuestionID, Score: j.Score, CreatedAt: j.CreatedAt})
		}
	}
	return out, nil
}

func (m *Memory) ListStuckJobs(_ context.Context, claimedBefore time.Time) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, id := range m.order {
		j := m.jobs[id]
		if j.Status == job.StatusRunning && j.ClaimedAt != nil && j.ClaimedAt.Before(claimedBefore) {
			out = append(out, cloneJob(j))
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].ClaimedAt.Before(*out[k].ClaimedAt) })
	return out, nil
}

func (m *Memory) UpsertExam(_ context.Context, arg Exam) (Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[arg.ID] = arg
	return arg, nil
}

func (m *Memory) UpsertCodingQuestion(_ context.Context, arg CodingQuestion) (CodingQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codingQuestions[arg.ID] = arg
	return arg, nil
}

func (m *Memory) GetCodingQuestion(_ context.Context, id string) (CodingQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.codingQuestions[id]
	if !ok {
		return CodingQuestion{}, ErrNoRows
	}
	return q, nil
}

func (m *Memory) ListCodingQuestions(_ context.Context, examID string) ([]CodingQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CodingQuestion
	for _, q := range m.codingQuestions {
		if q.ExamID == examID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *Memory) UpsertQuizQuestion(_ context.Context, arg QuizQuestion) (QuizQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quizQuestions[arg.ID] = arg
	return arg, nil
}

func (m *Memory) GetQuizQuestion(_ context.Context, id string) (QuizQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quizQuestions[id]
	if !ok {
		return QuizQuestion{}, ErrNoRows
	}
	return q, nil
}

func (m *Memory) UpsertQuizAnswer(_ context.Context, arg QuizAnswer) (QuizAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	arg.CreatedAt = m.tick()
	m.quizAnswers[[3]string{arg.OwnerID, arg.ExamID, arg.QuestionID}] = arg
	return arg, nil
}

func (m *Memory) ListQuizAnswers(_ context.Context, arg OwnerExamParams) ([]QuizAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []QuizAnswer
	for _, a := range m.quizAnswers {
		if a.OwnerID == arg.OwnerID && a.ExamID == arg.ExamID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].QuestionID < out[k].QuestionID })
	return out, nil
}

func (m *Memory) UpsertBlockedStudent(_ context.Context, arg BlockedStudent) (BlockedStudent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{arg.ExamID, arg.OwnerID}
	if prev, ok := m.blocked[key]; ok {
		arg.CreatedAt = prev.CreatedAt
	} else {
		arg.CreatedAt = m.tick()
	}
	m.blocked[key] = arg
	return arg, nil
}

func (m *Memory) GetBlockedStudent(_ context.Context, arg GetBlockedStudentParams) (BlockedStudent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocked[[2]string{arg.ExamID, arg.OwnerID}]
	if !ok {
		return BlockedStudent{}, ErrNoRows
	}
	return b, nil
}
