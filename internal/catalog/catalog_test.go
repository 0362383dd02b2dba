package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gsarma/examrunner/internal/store"
)

const sample = `
[[exam]]
id = "midterm"
title = "Numerical Methods Midterm"

[[exam.coding]]
id = "q1"
title = "Print the answer"
points = 10
expected_output = "42"
solution = "disp(42)"

[[exam.coding.test_case]]
input = ""
output = "42"

[[exam.coding]]
id = "q2"
points = 5

[[exam.quiz]]
id = "z1"
type = "mcq"
question = "Which is a root of x^2 - 4?"
answer = "b"
points = 2

[[exam.quiz]]
id = "z2"
type = "short"
question = "Name the method that halves an interval."
answer = "bisection"
points = 3

[[exam]]
id = "retired"
title = "Old exam"
active = false
`

func TestLoadAndSeed(t *testing.T) {
	c, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()
	mem := store.NewMemory()
	s, err := c.Seed(ctx, mem)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if s != (Summary{Exams: 2, CodingQuestions: 2, QuizQuestions: 2}) {
		t.Errorf("unexpected summary %+v", s)
	}

	q1, err := mem.GetCodingQuestion(ctx, "q1")
	if err != nil {
		t.Fatalf("get q1: %v", err)
	}
	if q1.ExamID != "midterm" || q1.Points != 10 || q1.ExpectedOutput != "42" || q1.SolutionCode != "disp(42)" {
		t.Errorf("unexpected q1 %+v", q1)
	}
	var cases []TestCase
	if err := json.Unmarshal(q1.TestCases, &cases); err != nil || len(cases) != 1 || cases[0].Output != "42" {
		t.Errorf("unexpected test cases %s (%v)", q1.TestCases, err)
	}

	q2, _ := mem.GetCodingQuestion(ctx, "q2")
	if string(q2.TestCases) != "[]" {
		t.Errorf("missing test cases should be stored as an empty list, got %s", q2.TestCases)
	}

	z2, err := mem.GetQuizQuestion(ctx, "z2")
	if err != nil || z2.Type != "short" || z2.CorrectAnswer != "bisection" || z2.Points != 3 {
		t.Errorf("unexpected z2 %+v (%v)", z2, err)
	}

	// Seeding twice is harmless.
	if _, err := c.Seed(ctx, mem); err != nil {
		t.Fatalf("reseed: %v", err)
	}
}

func TestLoad_Active(t *testing.T) {
	c, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Exams[0].Active != nil || c.Exams[1].Active == nil || *c.Exams[1].Active {
		t.Errorf("unexpected active flags: %v, %v", c.Exams[0].Active, c.Exams[1].Active)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"syntax", "[[exam]\nid=", "line"},
		{"unknown key", "[[exam]]\nid = \"e\"\ntitel = \"typo\"", "titel"},
		{"missing id", "[[exam]]\ntitle = \"x\"", "without id"},
		{"duplicate question", "[[exam]]\nid = \"e\"\n[[exam.coding]]\nid = \"q\"\n[[exam.quiz]]\nid = \"q\"\ntype = \"mcq\"", "duplicate question"},
		{"bad quiz type", "[[exam]]\nid = \"e\"\n[[exam.quiz]]\nid = \"z\"\ntype = \"essay\"", "unknown quiz type"},
		{"negative points", "[[exam]]\nid = \"e\"\n[[exam.coding]]\nid = \"q\"\npoints = -1", "negative points"},
	}
	for _, tt := range tests {
		_, err := Load(strings.NewReader(tt.doc))
		if err == nil {
			t.Errorf("%s: expected an error", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.want)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exam.toml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil || len(c.Exams) != 2 {
		t.Fatalf("load file: %v", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
