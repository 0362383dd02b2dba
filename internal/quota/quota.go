// Package quota limits how many times a student may execute code for one
// question. Saves without execution are never counted.
package quota

import (
	"context"
	"fmt"

	"github.com/gsarma/examrunner/internal/job"
	"github.com/gsarma/examrunner/internal/store"
)

const DefaultCeiling = 5

// Guard reserves execution attempts ahead of job creation.
type Guard interface {
	// Acquire reserves one attempt for (ownerID, questionID) and returns the
	// attempts left afterwards. It fails with job.ErrQuotaExceeded once the
	// ceiling is reached.
	Acquire(ctx context.Context, ownerID, questionID string) (remaining int, err error)
	// Release gives back a reservation whose job was never created.
	Release(ctx context.Context, ownerID, questionID string) error
}

// Counter is the slice of the job store the guards need.
type Counter interface {
	CountExecutionJobs(ctx context.Context, arg store.CountExecutionJobsParams) (int64, error)
}

// CountGuard counts existing jobs and compares against the ceiling. The count
// and the insert that follows are separate steps, so two concurrent requests
// from the same student can both pass at ceiling-1.
type CountGuard struct {
	counter Counter
	ceiling int
}

func NewCountGuard(counter Counter, ceiling int) *CountGuard {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &CountGuard{counter: counter, ceiling: ceiling}
}

func (g *CountGuard) Acquire(ctx context.Context, ownerID, questionID string) (int, error) {
	n, err := g.counter.CountExecutionJobs(ctx, store.CountExecutionJobsParams{
		OwnerID:    ownerID,
		QuestionID: questionID,
	})
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	if int(n) >= g.ceiling {
		return 0, job.ErrQuotaExceeded
	}
	return g.ceiling - int(n) - 1, nil
}

// Release is a no-op: nothing was reserved beyond the rows themselves.
func (g *CountGuard) Release(context.Context, string, string) error {
	return nil
}

func (g *CountGuard) Ceiling() int {
	return g.ceiling
}
