package code

import (
	"context"

	"github.com/gsarma/examrunner/internal/job"
)

// Task is one claimed job as seen by an execution backend.
type Task struct {
	JobID string
	Code  string
	Input string
}

// Outcome is the classified result of running a Task. Status is always
// completed or failed, and a failed Outcome always carries an explanation in
// Output.
type Outcome struct {
	Status job.Status
	Output string
	Image  []byte
}

// Provider defines the interface each execution backend must implement.
// Execute returns an error only when the backend itself could not be reached
// or used; problems with the submitted program are reported in the Outcome.
type Provider interface {
	Execute(ctx context.Context, t Task) (*Outcome, error)
}

// Submission is the raw result of a remote execution before classification.
type Submission struct {
	Token         string
	Stdout        string
	Stderr        string
	CompileOutput string
	StatusID      int
	Status        string
	Time          string
	Memory        int
}

const (
	timedOutNote     = "\nExecution timed out."
	truncatedNote    = "\n[output truncated]"
	failedNoOutput   = "Execution failed without output."
	interpreterGone  = "Interpreter not found: %s. Check the agent's interpreter configuration."
	startFailed      = "Failed to start interpreter: %v"
	exitedWithStatus = "\nProcess exited with status %d."
)
