// Package job defines the submission job lifecycle shared by the server, the
// store implementations and the worker agent.
//
// A job moves pending → running → completed|failed. A job saved without
// execution is created directly as submitted and never moves again.
package job

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSubmitted Status = "submitted"
)

var terminal = mapset.NewThreadUnsafeSet(StatusCompleted, StatusFailed, StatusSubmitted)

// transitions lists every legal edge of the state machine.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusSubmitted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return terminal.Contains(s)
}

// IsOutcome reports whether s may be carried by a worker report.
func (s Status) IsOutcome() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MustTransition returns an error describing an illegal move, or nil.
func MustTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	return nil
}

// Mode tags where a job is meant to be executed.
type Mode string

const (
	ModeServer Mode = "server"
	ModeLocal  Mode = "local"
)

// ParseMode maps an empty value to ModeServer and rejects unknown modes.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeServer:
		return ModeServer, nil
	case ModeLocal:
		return ModeLocal, nil
	}
	return "", fmt.Errorf("%w: unknown execution mode %q", ErrInvalidInput, s)
}
