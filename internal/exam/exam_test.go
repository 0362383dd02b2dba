package exam_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/gsarma/examrunner/internal/dispatch"
	"github.com/gsarma/examrunner/internal/exam"
	"github.com/gsarma/examrunner/internal/job"
	"github.com/gsarma/examrunner/internal/quota"
	"github.com/gsarma/examrunner/internal/store"
)

func newService(t *testing.T) (*exam.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return exam.NewService(mem, quota.NewCountGuard(mem, 5), nil, zaptest.NewLogger(t)), mem
}

func submit(owner, question string) exam.SubmitParams {
	return exam.SubmitParams{
		OwnerID:    owner,
		ExamID:     "exam-1",
		QuestionID: question,
		Code:       "disp(42)",
	}
}

func TestRunCode_QuotaCeiling(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := svc.RunCode(ctx, submit("s1", "q1"))
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if res.Status != job.StatusPending {
			t.Errorf("attempt %d: expected pending, got %s", i, res.Status)
		}
		if want := 5 - i; res.RemainingAttempts != want {
			t.Errorf("attempt %d: expected remaining=%d, got %d", i, want, res.RemainingAttempts)
		}
	}
	if _, err := svc.RunCode(ctx, submit("s1", "q1")); !errors.Is(err, job.ErrQuotaExceeded) {
		t.Fatalf("sixth attempt: expected ErrQuotaExceeded, got %v", err)
	}

	// Other questions and other students have their own budget.
	if _, err := svc.RunCode(ctx, submit("s1", "q2")); err != nil {
		t.Errorf("other question: %v", err)
	}
	if _, err := svc.RunCode(ctx, submit("s2", "q1")); err != nil {
		t.Errorf("other student: %v", err)
	}
}

func TestSaveCode_DoesNotConsumeQuota(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := svc.SaveCode(ctx, submit("s1", "q1")); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	res, err := svc.RunCode(ctx, submit("s1", "q1"))
	if err != nil {
		t.Fatalf("run after saves: %v", err)
	}
	if res.RemainingAttempts != 4 {
		t.Errorf("expected remaining=4, got %d", res.RemainingAttempts)
	}
	if _, err := mem.ClaimNextJob(ctx, store.ClaimNextJobParams{ExecutionMode: job.ModeServer}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := mem.ClaimNextJob(ctx, store.ClaimNextJobParams{ExecutionMode: job.ModeServer}); !errors.Is(err, store.ErrNoRows) {
		t.Error("saved jobs must never be claimable")
	}
}

func TestSaveCode_ResultIsTerminal(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	id, err := svc.SaveCode(ctx, submit("s1", "q1"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := svc.Result(ctx, id)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Status != job.StatusSubmitted || res.Output != exam.SavedOutput || res.Score != 0 {
		t.Errorf("unexpected saved result: %+v", res)
	}
}

func TestRunCode_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p := submit("s1", "q1")
	p.Code = "   "
	if _, err := svc.RunCode(ctx, p); !errors.Is(err, job.ErrInvalidInput) {
		t.Errorf("blank code: expected ErrInvalidInput, got %v", err)
	}
	p = submit("", "q1")
	if _, err := svc.RunCode(ctx, p); !errors.Is(err, job.ErrInvalidInput) {
		t.Errorf("missing owner: expected ErrInvalidInput, got %v", err)
	}
	p = submit("s1", "q1")
	p.ExecutionMode = "cloud"
	if _, err := svc.RunCode(ctx, p); !errors.Is(err, job.ErrInvalidInput) {
		t.Errorf("bad mode: expected ErrInvalidInput, got %v", err)
	}
}

func TestRunCode_LocalMode(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	p := submit("s1", "q1")
	p.ExecutionMode = "local"
	res, err := svc.RunCode(ctx, p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	j, _ := mem.GetJob(ctx, res.JobID)
	if j.ExecutionMode != job.ModeLocal {
		t.Errorf("expected local mode, got %s", j.ExecutionMode)
	}
}

func TestBlockedStudentCannotRunOrSave(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if err := svc.Block(ctx, "exam-1", "s1", "left fullscreen"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := svc.RunCode(ctx, submit("s1", "q1")); !errors.Is(err, job.ErrBlocked) {
		t.Errorf("run: expected ErrBlocked, got %v", err)
	}
	if _, err := svc.SaveCode(ctx, submit("s1", "q1")); !errors.Is(err, job.ErrBlocked) {
		t.Errorf("save: expected ErrBlocked, got %v", err)
	}
	blocked, reason, err := svc.Blocked(ctx, "exam-1", "s1")
	if err != nil || !blocked || reason != "left fullscreen" {
		t.Errorf("unexpected block state: %v %q %v", blocked, reason, err)
	}
	if blocked, _, _ := svc.Blocked(ctx, "exam-1", "s2"); blocked {
		t.Error("s2 was never blocked")
	}
}

func TestResult_NotFound(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Result(context.Background(), uuid.New()); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFinish_LatestJobPerQuestionPlusQuiz(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	if _, err := mem.UpsertQuizQuestion(ctx, store.QuizQuestion{ID: "quiz-1", ExamID: "exam-1", Type: "mcq", CorrectAnswer: "A", Points: 2}); err != nil {
		t.Fatalf("quiz question: %v", err)
	}
	if _, err := mem.UpsertCodingQuestion(ctx, store.CodingQuestion{ID: "q1", ExamID: "exam-1", Points: 10}); err != nil {
		t.Fatalf("coding question: %v", err)
	}
	if _, err := svc.SubmitQuiz(ctx, exam.QuizParams{OwnerID: "s1", ExamID: "exam-1", QuestionID: "quiz-1", Answer: "A"}); err != nil {
		t.Fatalf("submit quiz: %v", err)
	}

	for _, score := range []float64{3, 0, 5} {
		res, err := svc.RunCode(ctx, submit("s1", "q1"))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if _, err := mem.ClaimNextJob(ctx, store.ClaimNextJobParams{ExecutionMode: job.ModeServer}); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if _, err := mem.ReportJob(ctx, store.ReportJobParams{ID: res.JobID, Status: job.StatusCompleted, Output: "ok", Score: score}); err != nil {
			t.Fatalf("report: %v", err)
		}
	}

	totals, err := svc.Finish(ctx, "s1", "exam-1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if totals.QuizScore != 2 || totals.CodingScore != 5 || totals.TotalScore != 7 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}

func TestSubmitQuiz_UnknownQuestion(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.SubmitQuiz(context.Background(), exam.QuizParams{OwnerID: "s1", ExamID: "e", QuestionID: "nope", Answer: "x"})
	if !errors.Is(err, job.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmissionCounts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for _, q := range []string{"q1", "q1", "q2"} {
		if _, err := svc.RunCode(ctx, submit("s1", q)); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if _, err := svc.SaveCode(ctx, submit("s1", "q3")); err != nil {
		t.Fatalf("save: %v", err)
	}
	counts, err := svc.SubmissionCounts(ctx, "s1", "exam-1")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["q1"] != 2 || counts["q2"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if _, ok := counts["q3"]; ok {
		t.Error("saves must not appear in execution counts")
	}
}

// failingCreate wraps the memory store to make CreateJob fail.
type failingCreate struct {
	*store.Memory
}

func (failingCreate) CreateJob(context.Context, store.CreateJobParams) (store.Job, error) {
	return store.Job{}, errors.New("insert failed")
}

// recordingGuard implements quota.Guard and records releases.
type recordingGuard struct {
	released int
}

func (g *recordingGuard) Acquire(context.Context, string, string) (int, error) { return 4, nil }
func (g *recordingGuard) Release(context.Context, string, string) error {
	g.released++
	return nil
}

var _ quota.Guard = (*recordingGuard)(nil)

func TestRunCode_ReleasesReservationWhenInsertFails(t *testing.T) {
	g := &recordingGuard{}
	svc := exam.NewService(failingCreate{store.NewMemory()}, g, nil, zaptest.NewLogger(t))
	if _, err := svc.RunCode(context.Background(), submit("s1", "q1")); err == nil {
		t.Fatal("expected create error")
	}
	if g.released != 1 {
		t.Errorf("expected one release, got %d", g.released)
	}
}

func TestFinish_QuestionFromAnotherExamEarnsNothing(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	for _, q := range []store.CodingQuestion{
		{ID: "q1", ExamID: "exam-1", Points: 10},
		{ID: "qY", ExamID: "exam-2", Points: 7},
	} {
		if _, err := mem.UpsertCodingQuestion(ctx, q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	d := dispatch.NewService(mem, nil, zaptest.NewLogger(t))

	res, err := svc.RunCode(ctx, submit("s1", "qY"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if a, err := d.Claim(ctx, dispatch.ClaimParams{Mode: job.ModeServer}); err != nil || a == nil {
		t.Fatalf("claim: %v %v", a, err)
	}
	done, err := d.Report(ctx, dispatch.ReportParams{JobID: res.JobID, Output: "42", Outcome: job.StatusCompleted})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if done.Score != 0 {
		t.Errorf("a question of exam-2 must not earn points in exam-1, got %v", done.Score)
	}

	totals, err := svc.Finish(ctx, "s1", "exam-1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if totals.CodingScore != 0 || totals.TotalScore != 0 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}

func TestSubmitQuiz_QuestionFromAnotherExam(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()
	if _, err := mem.UpsertQuizQuestion(ctx, store.QuizQuestion{ID: "quiz-2", ExamID: "exam-2", Type: "mcq", CorrectAnswer: "A", Points: 3}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.SubmitQuiz(ctx, exam.QuizParams{OwnerID: "s1", ExamID: "exam-1", QuestionID: "quiz-2", Answer: "A"})
	if !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	answers, _ := mem.ListQuizAnswers(ctx, store.OwnerExamParams{OwnerID: "s1", ExamID: "exam-1"})
	if len(answers) != 0 {
		t.Errorf("nothing should be stored, got %+v", answers)
	}
}
