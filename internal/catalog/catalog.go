// Package catalog loads exam content (exams, coding and quiz questions) from
// a TOML file and upserts it into the store.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/gsarma/examrunner/internal/grading"
	"github.com/gsarma/examrunner/internal/store"
)

// TestCase is one input/expected-output pair shipped to agents as reference
// material.
type TestCase struct {
	Input  string `toml:"input" json:"input"`
	Output string `toml:"output" json:"output"`
}

type CodingQuestion struct {
	ID             string     `toml:"id"`
	Title          string     `toml:"title"`
	Points         float64    `toml:"points"`
	ExpectedOutput string     `toml:"expected_output"`
	Solution       string     `toml:"solution"`
	TestCases      []TestCase `toml:"test_case"`
}

type QuizQuestion struct {
	ID       string  `toml:"id"`
	Type     string  `toml:"type"`
	Question string  `toml:"question"`
	Answer   string  `toml:"answer"`
	Points   float64 `toml:"points"`
}

type Exam struct {
	ID     string           `toml:"id"`
	Title  string           `toml:"title"`
	Active *bool            `toml:"active"`
	Coding []CodingQuestion `toml:"coding"`
	Quiz   []QuizQuestion   `toml:"quiz"`
}

// Catalog maps to the root of the file: one [[exam]] table per exam.
type Catalog struct {
	Exams []Exam `toml:"exam"`
}

// Summary counts what Seed wrote.
type Summary struct {
	Exams           int
	CodingQuestions int
	QuizQuestions   int
}

// Load decodes and validates a catalog. Unknown keys are rejected so typos
// do not silently drop content.
func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			keys := make([]string, 0, len(serr.Errors))
			for _, e := range serr.Errors {
				keys = append(keys, strings.Join(e.Key(), "."))
			}
			return nil, fmt.Errorf("catalog: unknown keys %s", strings.Join(keys, ", "))
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("catalog: line %d column %d: %w", row, col, err)
		}
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile is Load on the named file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Validate checks ids are present and unique and that quiz types and points
// are usable by the grader.
func (c *Catalog) Validate() error {
	var problems []string
	seen := map[string]string{}
	claim := func(kind, id, where string) {
		if id == "" {
			problems = append(problems, fmt.Sprintf("%s: %s without id", where, kind))
			return
		}
		if prev, ok := seen[kind+"/"+id]; ok {
			problems = append(problems, fmt.Sprintf("%s: duplicate %s %q (first in %s)", where, kind, id, prev))
			return
		}
		seen[kind+"/"+id] = where
	}
	for i, e := range c.Exams {
		where := fmt.Sprintf("exam[%d]", i)
		claim("exam", e.ID, where)
		for k, q := range e.Coding {
			qwhere := fmt.Sprintf("%s.coding[%d]", where, k)
			claim("question", q.ID, qwhere)
			if q.Points < 0 {
				problems = append(problems, fmt.Sprintf("%s: negative points", qwhere))
			}
		}
		for k, q := range e.Quiz {
			qwhere := fmt.Sprintf("%s.quiz[%d]", where, k)
			claim("question", q.ID, qwhere)
			switch q.Type {
			case grading.QuizMCQ, grading.QuizTrueFalse, grading.QuizShort:
			default:
				problems = append(problems, fmt.Sprintf("%s: unknown quiz type %q", qwhere, q.Type))
			}
			if q.Points < 0 {
				problems = append(problems, fmt.Sprintf("%s: negative points", qwhere))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("catalog: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Seed upserts every exam and question. It is idempotent.
func (c *Catalog) Seed(ctx context.Context, q store.Querier) (Summary, error) {
	var s Summary
	for _, e := range c.Exams {
		active := e.Active == nil || *e.Active
		if _, err := q.UpsertExam(ctx, store.Exam{ID: e.ID, Title: e.Title, IsActive: active}); err != nil {
			return s, fmt.Errorf("seed exam %s: %w", e.ID, err)
		}
		s.Exams++
		for _, cq := range e.Coding {
			tc, err := json.Marshal(cq.testCases())
			if err != nil {
				return s, fmt.Errorf("seed question %s: %w", cq.ID, err)
			}
			if _, err := q.UpsertCodingQuestion(ctx, store.CodingQuestion{
				ID:             cq.ID,
				ExamID:         e.ID,
				Title:          cq.Title,
				Points:         cq.Points,
				ExpectedOutput: cq.ExpectedOutput,
				TestCases:      tc,
				SolutionCode:   cq.Solution,
			}); err != nil {
				return s, fmt.Errorf("seed question %s: %w", cq.ID, err)
			}
			s.CodingQuestions++
		}
		for _, qq := range e.Quiz {
			if _, err := q.UpsertQuizQuestion(ctx, store.QuizQuestion{
				ID:            qq.ID,
				ExamID:        e.ID,
				Type:          qq.Type,
				Question:      qq.Question,
				CorrectAnswer: qq.Answer,
				Points:        qq.Points,
			}); err != nil {
				return s, fmt.Errorf("seed quiz question %s: %w", qq.ID, err)
			}
			s.QuizQuestions++
		}
	}
	return s, nil
}

func (q CodingQuestion) testCases() []TestCase {
	if q.TestCases == nil {
		return []TestCase{}
	}
	return q.TestCases
}
