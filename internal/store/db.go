package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gsarma/examrunner/internal/job"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries is the Postgres Job Store.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const jobColumns = `id, owner_id, exam_id, question_id, code, input, status, output,
	image, score, execution_mode, created_at, claimed_at, finished_at`

func scanJob(row pgx.Row) (Job, error) {
	var (
		j      Job
		status string
		mode   string
	)
	err := row.Scan(&j.ID, &j.OwnerID, &j.ExamID, &j.QuestionID, &j.Code, &j.Input, &status, &j.Output,
		&j.Image, &j.Score, &mode, &j.CreatedAt, &j.ClaimedAt, &j.FinishedAt)
	if err != nil {
		return Job{}, err
	}
	j.Status = job.Status(status)
	if !j.Status.Valid() {
		return Job{}, fmt.Errorf("job %s has unknown status %q", j.ID, status)
	}
	j.ExecutionMode = job.Mode(mode)
	return j, nil
}

const createJob = `INSERT INTO jobs (id, owner_id, exam_id, question_id, code, input, status, output, execution_mode)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + jobColumns

func (q *Queries) CreateJob(ctx context.Context, arg CreateJobParams) (Job, error) {
	if arg.Status != job.StatusPending && arg.Status != job.StatusSubmitted {
		return Job{}, fmt.Errorf("%w: jobs start as pending or submitted, not %s", job.ErrInvalidInput, arg.Status)
	}
	row := q.db.QueryRow(ctx, createJob, uuid.New(), arg.OwnerID, arg.ExamID, arg.QuestionID,
		arg.Code, arg.Input, string(arg.Status), arg.Output, string(arg.ExecutionMode))
	return scanJob(row)
}

const getJob = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

func (q *Queries) GetJob(ctx context.Context, id uuid.UUID) (Job, error) {
	return scanJob(q.db.QueryRow(ctx, getJob, id))
}

// The outer status predicate makes the transition a compare-and-swap even if
// the row lock is somehow skipped.
const claimNextJob = `UPDATE jobs
SET status = 'running', claimed_at = now()
WHERE id = (
	SELECT id FROM jobs
	WHERE status = 'pending'
	  AND execution_mode = $1
	  AND ($2::text = '' OR owner_id = $2::text)
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
) AND status = 'pending'
RETURNING ` + jobColumns

func (q *Queries) ClaimNextJob(ctx context.Context, arg ClaimNextJobParams) (Job, error) {
	return scanJob(q.db.QueryRow(ctx, claimNextJob, string(arg.ExecutionMode), arg.OwnerID))
}

const reportJob = `UPDATE jobs
SET status = $2, output = $3, image = $4, score = $5, finished_at = now()
WHERE id = $1 AND status = 'running'
RETURNING ` + jobColumns

func (q *Queries) ReportJob(ctx context.Context, arg ReportJobParams) (Job, error) {
	if !arg.Status.IsOutcome() {
		return Job{}, fmt.Errorf("%w: report status %q", job.ErrInvalidInput, arg.Status)
	}
	return scanJob(q.db.QueryRow(ctx, reportJob, arg.ID, string(arg.Status), arg.Output, arg.Image, arg.Score))
}

const countExecutionJobs = `SELECT count(*) FROM jobs
WHERE owner_id = $1 AND question_id = $2 AND status <> 'submitted'`

func (q *Queries) CountExecutionJobs(ctx context.Context, arg CountExecutionJobsParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countExecutionJobs, arg.OwnerID, arg.QuestionID).Scan(&n)
	return n, err
}

const countExecutionJobsByQuestion = `SELECT question_id, count(*) FROM jobs
WHERE owner_id = $1 AND exam_id = $2 AND status <> 'submitted'
GROUP BY question_id
ORDER BY question_id`

func (q *Queries) CountExecutionJobsByQuestion(ctx context.Context, arg OwnerExamParams) ([]QuestionCount, error) {
	rows, err := q.db.Query(ctx, countExecutionJobsByQuestion, arg.OwnerID, arg.ExamID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (QuestionCount, error) {
		var c QuestionCount
		err := row.Scan(&c.QuestionID, &c.Count)
		return c, err
	})
}

const listJobScores = `SELECT question_id, score, created_at FROM jobs
WHERE owner_id = $1 AND exam_id = $2
ORDER BY created_at`

func (q *Queries) ListJobScores(ctx context.Context, arg OwnerExamParams) ([]JobScore, error) {
	rows, err := q.db.Query(ctx, listJobScores, arg.OwnerID, arg.ExamID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (JobScore, error) {
		var s JobScore
		err := row.Scan(&s.QuestionID, &s.Score, &s.CreatedAt)
		return s, err
	})
}

const listStuckJobs = `SELECT ` + jobColumns + ` FROM jobs
WHERE status = 'running' AND claimed_at < $1
ORDER BY claimed_at`

func (q *Queries) ListStuckJobs(ctx context.Context, claimedBefore time.Time) ([]Job, error) {
	rows, err := q.db.Query(ctx, listStuckJobs, claimedBefore)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Job, error) {
		return scanJob(row)
	})
}

const upsertExam = `INSERT INTO exams (id, title, is_active) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, is_active = EXCLUDED.is_active
RETURNING id, title, is_active`

func (q *Queries) UpsertExam(ctx context.Context, arg Exam) (Exam, error) {
	var e Exam
	err := q.db.QueryRow(ctx, upsertExam, arg.ID, arg.Title, arg.IsActive).Scan(&e.ID, &e.Title, &e.IsActive)
	return e, err
}

const codingQuestionColumns = `id, exam_id, title, points, expected_output, test_cases, solution_code`

func scanCodingQuestion(row pgx.Row) (CodingQuestion, error) {
	var (
		cq        CodingQuestion
		testCases []byte
	)
	err := row.Scan(&cq.ID, &cq.ExamID, &cq.Title, &cq.Points, &cq.ExpectedOutput, &testCases, &cq.SolutionCode)
	cq.TestCases = testCases
	return cq, err
}

const upsertCodingQuestion = `INSERT INTO coding_questions (` + codingQuestionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	exam_id = EXCLUDED.exam_id,
	title = EXCLUDED.title,
	points = EXCLUDED.points,
	expected_output = EXCLUDED.expected_output,
	test_cases = EXCLUDED.test_cases,
	solution_code = EXCLUDED.solution_code
RETURNING ` + codingQuestionColumns

func (q *Queries) UpsertCodingQuestion(ctx context.Context, arg CodingQuestion) (CodingQuestion, error) {
	var testCases []byte
	if len(arg.TestCases) > 0 {
		testCases = arg.TestCases
	}
	row := q.db.QueryRow(ctx, upsertCodingQuestion, arg.ID, arg.ExamID, arg.Title, arg.Points,
		arg.ExpectedOutput, testCases, arg.SolutionCode)
	return scanCodingQuestion(row)
}

const getCodingQuestion = `SELECT ` + codingQuestionColumns + ` FROM coding_questions WHERE id = $1`

func (q *Queries) GetCodingQuestion(ctx context.Context, id string) (CodingQuestion, error) {
	return scanCodingQuestion(q.db.QueryRow(ctx, getCodingQuestion, id))
}

const listCodingQuestions = `SELECT ` + codingQuestionColumns + ` FROM coding_questions WHERE exam_id = $1 ORDER BY id`

func (q *Queries) ListCodingQuestions(ctx context.Context, examID string) ([]CodingQuestion, error) {
	rows, err := q.db.Query(ctx, listCodingQuestions, examID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CodingQuestion, error) {
		return scanCodingQuestion(row)
	})
}

const upsertQuizQuestion = `INSERT INTO quiz_questions (id, exam_id, type, question, correct_answer, points)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	exam_id = EXCLUDED.exam_id,
	type = EXCLUDED.type,
	question = EXCLUDED.question,
	correct_answer = EXCLUDED.correct_answer,
	points = EXCLUDED.points
RETURNING id, exam_id, type, question, correct_answer, points`

func (q *Queries) UpsertQuizQuestion(ctx context.Context, arg QuizQuestion) (QuizQuestion, error) {
	var qq QuizQuestion
	err := q.db.QueryRow(ctx, upsertQuizQuestion, arg.ID, arg.ExamID, arg.Type, arg.Question,
		arg.CorrectAnswer, arg.Points).
		Scan(&qq.ID, &qq.ExamID, &qq.Type, &qq.Question, &qq.CorrectAnswer, &qq.Points)
	return qq, err
}

const getQuizQuestion = `SELECT id, exam_id, type, question, correct_answer, points
FROM quiz_questions WHERE id = $1`

func (q *Queries) GetQuizQuestion(ctx context.Context, id string) (QuizQuestion, error) {
	var qq QuizQuestion
	err := q.db.QueryRow(ctx, getQuizQuestion, id).
		Scan(&qq.ID, &qq.ExamID, &qq.Type, &qq.Question, &qq.CorrectAnswer, &qq.Points)
	return qq, err
}

const upsertQuizAnswer = `INSERT INTO quiz_answers (owner_id, exam_id, question_id, answer, is_correct, score)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (owner_id, exam_id, question_id) DO UPDATE SET
	answer = EXCLUDED.answer,
	is_correct = EXCLUDED.is_correct,
	score = EXCLUDED.score,
	created_at = now()
RETURNING owner_id, exam_id, question_id, answer, is_correct, score, created_at`

func (q *Queries) UpsertQuizAnswer(ctx context.Context, arg QuizAnswer) (QuizAnswer, error) {
	var a QuizAnswer
	err := q.db.QueryRow(ctx, upsertQuizAnswer, arg.OwnerID, arg.ExamID, arg.QuestionID, arg.Answer,
		arg.IsCorrect, arg.Score).
		Scan(&a.OwnerID, &a.ExamID, &a.QuestionID, &a.Answer, &a.IsCorrect, &a.Score, &a.CreatedAt)
	return a, err
}

const listQuizAnswers = `SELECT owner_id, exam_id, question_id, answer, is_correct, score, created_at
FROM quiz_answers WHERE owner_id = $1 AND exam_id = $2
ORDER BY question_id`

func (q *Queries) ListQuizAnswers(ctx context.Context, arg OwnerExamParams) ([]QuizAnswer, error) {
	rows, err := q.db.Query(ctx, listQuizAnswers, arg.OwnerID, arg.ExamID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (QuizAnswer, error) {
		var a QuizAnswer
		err := row.Scan(&a.OwnerID, &a.ExamID, &a.QuestionID, &a.Answer, &a.IsCorrect, &a.Score, &a.CreatedAt)
		return a, err
	})
}

const upsertBlockedStudent = `INSERT INTO blocked_students (exam_id, owner_id, reason)
VALUES ($1, $2, $3)
ON CONFLICT (exam_id, owner_id) DO UPDATE SET reason = EXCLUDED.reason
RETURNING exam_id, owner_id, reason, created_at`

func (q *Queries) UpsertBlockedStudent(ctx context.Context, arg BlockedStudent) (BlockedStudent, error) {
	var b BlockedStudent
	err := q.db.QueryRow(ctx, upsertBlockedStudent, arg.ExamID, arg.OwnerID, arg.Reason).
		Scan(&b.ExamID, &b.OwnerID, &b.Reason, &b.CreatedAt)
	return b, err
}

const getBlockedStudent = `SELECT exam_id, owner_id, reason, created_at
FROM blocked_students WHERE exam_id = $1 AND owner_id = $2`

func (q *Queries) GetBlockedStudent(ctx context.Context, arg GetBlockedStudentParams) (BlockedStudent, error) {
	var b BlockedStudent
	err := q.db.QueryRow(ctx, getBlockedStudent, arg.ExamID, arg.OwnerID).
		Scan(&b.ExamID, &b.OwnerID, &b.Reason, &b.CreatedAt)
	return b, err
}
