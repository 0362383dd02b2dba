// Package grading turns execution outcomes and quiz answers into scores and
// aggregates them when an exam is finished. Everything here is pure.
package grading

import (
	"math"
	"strings"

	"github.com/gsarma/examrunner/internal/job"
	"github.com/gsarma/examrunner/internal/store"
)

// Grade awards full points to a completed run and nothing otherwise. The
// reference output is accepted but not compared; the result always lies in
// [0, points].
func Grade(status job.Status, points float64, referenceOutput string) float64 {
	if math.IsNaN(points) || points <= 0 {
		return 0
	}
	if status != job.StatusCompleted {
		return 0
	}
	return points
}

const (
	QuizMCQ       = "mcq"
	QuizTrueFalse = "true_false"
	QuizShort     = "short"
)

// GradeQuiz compares an answer with the question's key. Multiple choice and
// true/false answers must match exactly; short answers ignore case and
// surrounding whitespace.
func GradeQuiz(q store.QuizQuestion, answer string) (correct bool, score float64) {
	switch q.Type {
	case QuizShort:
		correct = strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.CorrectAnswer))
	default:
		correct = answer == q.CorrectAnswer
	}
	if correct && q.Points > 0 {
		score = q.Points
	}
	return correct, score
}

type Totals struct {
	QuizScore   float64 `json:"quiz_score"`
	CodingScore float64 `json:"coding_score"`
	TotalScore  float64 `json:"total_score"`
}

// Finalize sums every quiz answer and, for each coding question of the exam,
// the score of the most recent job only. A question without jobs scores 0 and
// jobs for questions outside the exam are ignored. Ties on created_at go to
// the later entry in jobs.
func Finalize(answers []store.QuizAnswer, questions []store.CodingQuestion, jobs []store.JobScore) Totals {
	var t Totals
	for _, a := range answers {
		t.QuizScore += a.Score
	}

	latest := make(map[string]store.JobScore)
	for _, j := range jobs {
		prev, ok := latest[j.QuestionID]
		if !ok || !j.CreatedAt.Before(prev.CreatedAt) {
			latest[j.QuestionID] = j
		}
	}
	for _, q := range questions {
		if j, ok := latest[q.ID]; ok {
			t.CodingScore += j.Score
		}
	}
	t.TotalScore = t.QuizScore + t.CodingScore
	return t
}
