package store_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gsarma/examrunner/internal/job"
	"github.com/gsarma/examrunner/internal/store"
)

// queriers returns every store implementation available in this environment.
// Postgres is only exercised when EXAMRUNNER_TEST_DATABASE_URL is set.
func queriers(t *testing.T) map[string]store.Querier {
	t.Helper()
	out := map[string]store.Querier{"memory": store.NewMemory()}

	dsn := os.Getenv("EXAMRUNNER_TEST_DATABASE_URL")
	if dsn == "" {
		return out
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	m, err := store.NewMigrator(pool)
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	defer m.Close()
	if _, err := m.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	out["postgres"] = store.New(pool)
	return out
}

// owner returns a fresh owner id so tests sharing a database never see each other's jobs.
func owner() string {
	return "student-" + uuid.NewString()
}

func createPending(t *testing.T, q store.Querier, ownerID, questionID string, mode job.Mode) store.Job {
	t.Helper()
	j, err := q.CreateJob(context.Background(), store.CreateJobParams{
		OwnerID:       ownerID,
		ExamID:        "exam-1",
		QuestionID:    questionID,
		Code:          "disp(42)",
		Status:        job.StatusPending,
		ExecutionMode: mode,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return j
}

func TestCreateJob_RejectsNonInitialStatus(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := q.CreateJob(context.Background(), store.CreateJobParams{
				OwnerID: owner(), ExamID: "e", QuestionID: "q", Code: "x", Status: job.StatusRunning,
				ExecutionMode: job.ModeServer,
			})
			if !errors.Is(err, job.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestClaimNextJob_ConcurrentClaimersGetOneJob(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ownerID := owner()
			created := createPending(t, q, ownerID, "q1", job.ModeServer)

			const claimers = 16
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners []store.Job
				misses  int
			)
			start := make(chan struct{})
			for i := 0; i < claimers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					j, err := q.ClaimNextJob(context.Background(), store.ClaimNextJobParams{
						ExecutionMode: job.ModeServer,
						OwnerID:       ownerID,
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						winners = append(winners, j)
					case errors.Is(err, store.ErrNoRows):
						misses++
					default:
						t.Errorf("claim: %v", err)
					}
				}()
			}
			close(start)
			wg.Wait()

			if len(winners) != 1 {
				t.Fatalf("expected exactly one winner, got %d", len(winners))
			}
			if misses != claimers-1 {
				t.Errorf("expected %d misses, got %d", claimers-1, misses)
			}
			if winners[0].ID != created.ID || winners[0].Status != job.StatusRunning {
				t.Errorf("unexpected claim result: %+v", winners[0])
			}
			if winners[0].ClaimedAt == nil {
				t.Error("expected claimed_at to be set")
			}
		})
	}
}

func TestClaimNextJob_OldestFirstAndModeFilter(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ownerID := owner()
			local := createPending(t, q, ownerID, "q1", job.ModeLocal)
			first := createPending(t, q, ownerID, "q1", job.ModeServer)
			second := createPending(t, q, ownerID, "q2", job.ModeServer)
			ctx := context.Background()
			params := store.ClaimNextJobParams{ExecutionMode: job.ModeServer, OwnerID: ownerID}

			got, err := q.ClaimNextJob(ctx, params)
			if err != nil || got.ID != first.ID {
				t.Fatalf("expected first job, got %v %v", got.ID, err)
			}
			got, err = q.ClaimNextJob(ctx, params)
			if err != nil || got.ID != second.ID {
				t.Fatalf("expected second job, got %v %v", got.ID, err)
			}
			if _, err = q.ClaimNextJob(ctx, params); !errors.Is(err, store.ErrNoRows) {
				t.Fatalf("expected no rows for server mode, got %v", err)
			}
			got, err = q.ClaimNextJob(ctx, store.ClaimNextJobParams{ExecutionMode: job.ModeLocal, OwnerID: ownerID})
			if err != nil || got.ID != local.ID {
				t.Fatalf("expected local job, got %v %v", got.ID, err)
			}
		})
	}
}

func TestClaimNextJob_OwnerFilter(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			alice, bob := owner(), owner()
			createPending(t, q, alice, "q1", job.ModeLocal)
			bobJob := createPending(t, q, bob, "q1", job.ModeLocal)

			got, err := q.ClaimNextJob(context.Background(), store.ClaimNextJobParams{
				ExecutionMode: job.ModeLocal,
				OwnerID:       bob,
			})
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			if got.ID != bobJob.ID {
				t.Errorf("expected bob's job, got owner %s", got.OwnerID)
			}
		})
	}
}

func TestSubmittedJobsAreNeverClaimedOrCounted(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ownerID := owner()
			_, err := q.CreateJob(ctx, store.CreateJobParams{
				OwnerID: ownerID, ExamID: "exam-1", QuestionID: "q1", Code: "x",
				Status: job.StatusSubmitted, Output: "saved", ExecutionMode: job.ModeServer,
			})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := q.ClaimNextJob(ctx, store.ClaimNextJobParams{ExecutionMode: job.ModeServer, OwnerID: ownerID}); !errors.Is(err, store.ErrNoRows) {
				t.Errorf("submitted job must not be claimable, got %v", err)
			}
			createPending(t, q, ownerID, "q1", job.ModeServer)
			n, err := q.CountExecutionJobs(ctx, store.CountExecutionJobsParams{OwnerID: ownerID, QuestionID: "q1"})
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if n != 1 {
				t.Errorf("expected 1 execution job, got %d", n)
			}
		})
	}
}

func TestReportJob_OnlyFromRunning(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ownerID := owner()
			pending := createPending(t, q, ownerID, "q1", job.ModeServer)

			report := store.ReportJobParams{ID: pending.ID, Status: job.StatusCompleted, Output: "42", Score: 10}
			if _, err := q.ReportJob(ctx, report); !errors.Is(err, store.ErrNoRows) {
				t.Fatalf("report on pending job must be rejected, got %v", err)
			}
			got, _ := q.GetJob(ctx, pending.ID)
			if got.Status != job.StatusPending || got.Output != "" {
				t.Fatalf("rejected report mutated the job: %+v", got)
			}

			if _, err := q.ClaimNextJob(ctx, store.ClaimNextJobParams{ExecutionMode: job.ModeServer, OwnerID: ownerID}); err != nil {
				t.Fatalf("claim: %v", err)
			}
			done, err := q.ReportJob(ctx, report)
			if err != nil {
				t.Fatalf("report: %v", err)
			}
			if done.Status != job.StatusCompleted || done.Output != "42" || done.Score != 10 || done.FinishedAt == nil {
				t.Errorf("unexpected reported job: %+v", done)
			}

			late := store.ReportJobParams{ID: pending.ID, Status: job.StatusFailed, Output: "late"}
			if _, err := q.ReportJob(ctx, late); !errors.Is(err, store.ErrNoRows) {
				t.Fatalf("duplicate report must be rejected, got %v", err)
			}
			got, _ = q.GetJob(ctx, pending.ID)
			if got.Status != job.StatusCompleted || got.Output != "42" {
				t.Errorf("duplicate report mutated the job: %+v", got)
			}
		})
	}
}

func TestReportJob_UnknownJobAndBadStatus(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := q.ReportJob(ctx, store.ReportJobParams{ID: uuid.New(), Status: job.StatusFailed})
			if !errors.Is(err, store.ErrNoRows) {
				t.Errorf("expected ErrNoRows, got %v", err)
			}
			_, err = q.ReportJob(ctx, store.ReportJobParams{ID: uuid.New(), Status: job.StatusPending})
			if !errors.Is(err, job.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestReportJob_StoresImage(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ownerID := owner()
			created := createPending(t, q, ownerID, "q1", job.ModeServer)
			if _, err := q.ClaimNextJob(ctx, store.ClaimNextJobParams{ExecutionMode: job.ModeServer, OwnerID: ownerID}); err != nil {
				t.Fatalf("claim: %v", err)
			}
			png := []byte{0x89, 'P', 'N', 'G'}
			if _, err := q.ReportJob(ctx, store.ReportJobParams{ID: created.ID, Status: job.StatusCompleted, Output: "plot", Image: png}); err != nil {
				t.Fatalf("report: %v", err)
			}
			got, err := q.GetJob(ctx, created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(got.Image) != string(png) {
				t.Errorf("image not persisted: %v", got.Image)
			}
		})
	}
}

func TestListJobScores_CreationOrder(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ownerID := owner()
			for _, score := range []float64{3, 0, 5} {
				created := createPending(t, q, ownerID, "q1", job.ModeServer)
				if _, err := q.ClaimNextJob(ctx, store.ClaimNextJobParams{ExecutionMode: job.ModeServer, OwnerID: ownerID}); err != nil {
					t.Fatalf("claim: %v", err)
				}
				if _, err := q.ReportJob(ctx, store.ReportJobParams{ID: created.ID, Status: job.StatusCompleted, Output: "ok", Score: score}); err != nil {
					t.Fatalf("report: %v", err)
				}
			}
			scores, err := q.ListJobScores(ctx, store.OwnerExamParams{OwnerID: ownerID, ExamID: "exam-1"})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(scores) != 3 || scores[0].Score != 3 || scores[2].Score != 5 {
				t.Fatalf("unexpected scores: %+v", scores)
			}
			if !scores[0].CreatedAt.Before(scores[2].CreatedAt) {
				t.Error("expected strictly increasing created_at")
			}
		})
	}
}

func TestListStuckJobs(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ownerID := owner()
			created := createPending(t, q, ownerID, "q1", job.ModeServer)
			if _, err := q.ClaimNextJob(ctx, store.ClaimNextJobParams{ExecutionMode: job.ModeServer, OwnerID: ownerID}); err != nil {
				t.Fatalf("claim: %v", err)
			}

			stuck, err := q.ListStuckJobs(ctx, time.Now().Add(-time.Hour))
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			for _, j := range stuck {
				if j.ID == created.ID {
					t.Fatal("a job claimed just now is not stuck for an hour")
				}
			}

			stuck, err = q.ListStuckJobs(ctx, time.Now().Add(time.Minute))
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			found := false
			for _, j := range stuck {
				found = found || j.ID == created.ID
			}
			if !found {
				t.Error("expected the running job in the stuck list")
			}
		})
	}
}

func TestCountExecutionJobsByQuestion(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ownerID := owner()
			createPending(t, q, ownerID, "q1", job.ModeServer)
			createPending(t, q, ownerID, "q1", job.ModeServer)
			createPending(t, q, ownerID, "q2", job.ModeLocal)

			counts, err := q.CountExecutionJobsByQuestion(context.Background(), store.OwnerExamParams{OwnerID: ownerID, ExamID: "exam-1"})
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			want := map[string]int64{"q1": 2, "q2": 1}
			if len(counts) != len(want) {
				t.Fatalf("unexpected counts: %+v", counts)
			}
			for _, c := range counts {
				if want[c.QuestionID] != c.Count {
					t.Errorf("%s: expected %d, got %d", c.QuestionID, want[c.QuestionID], c.Count)
				}
			}
		})
	}
}

func TestQuizAnswersUpsert(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ownerID := owner()
			if _, err := q.UpsertExam(ctx, store.Exam{ID: "exam-1", Title: "Midterm", IsActive: true}); err != nil {
				t.Fatalf("exam: %v", err)
			}
			for _, score := range []float64{0, 2} {
				if _, err := q.UpsertQuizAnswer(ctx, store.QuizAnswer{
					OwnerID: ownerID, ExamID: "exam-1", QuestionID: "quiz-1", Answer: "b", IsCorrect: score > 0, Score: score,
				}); err != nil {
					t.Fatalf("upsert: %v", err)
				}
			}
			answers, err := q.ListQuizAnswers(ctx, store.OwnerExamParams{OwnerID: ownerID, ExamID: "exam-1"})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(answers) != 1 || answers[0].Score != 2 || !answers[0].IsCorrect {
				t.Errorf("expected one overwritten answer, got %+v", answers)
			}
		})
	}
}

func TestBlockedStudents(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ownerID := owner()
			key := store.GetBlockedStudentParams{ExamID: "exam-1", OwnerID: ownerID}
			if _, err := q.GetBlockedStudent(ctx, key); !errors.Is(err, store.ErrNoRows) {
				t.Fatalf("expected ErrNoRows, got %v", err)
			}
			if _, err := q.UpsertBlockedStudent(ctx, store.BlockedStudent{ExamID: "exam-1", OwnerID: ownerID, Reason: "tab switch"}); err != nil {
				t.Fatalf("block: %v", err)
			}
			b, err := q.GetBlockedStudent(ctx, key)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if b.Reason != "tab switch" {
				t.Errorf("unexpected reason %q", b.Reason)
			}
		})
	}
}

func TestListCodingQuestions_ScopedToExam(t *testing.T) {
	for name, q := range queriers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			exam := "exam-" + uuid.NewString()
			for _, id := range []string{exam, exam + "-x"} {
				if _, err := q.UpsertExam(ctx, store.Exam{ID: id, IsActive: true}); err != nil {
					t.Fatalf("exam: %v", err)
				}
			}
			for _, cq := range []store.CodingQuestion{
				{ID: exam + "-b", ExamID: exam, Points: 2},
				{ID: exam + "-a", ExamID: exam, Points: 1},
				{ID: exam + "-other", ExamID: exam + "-x", Points: 9},
			} {
				if _, err := q.UpsertCodingQuestion(ctx, cq); err != nil {
					t.Fatalf("upsert: %v", err)
				}
			}
			got, err := q.ListCodingQuestions(ctx, exam)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != 2 || got[0].ID != exam+"-a" || got[1].ID != exam+"-b" {
				t.Errorf("unexpected questions: %+v", got)
			}
		})
	}
}
