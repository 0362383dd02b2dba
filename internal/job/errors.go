package job

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrQuotaExceeded = errors.New("execution limit reached")
	ErrBlocked       = errors.New("student is blocked from this exam")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrStaleReport is returned when a report targets a job that is not
	// running. It wraps ErrNotFound so transport layers can treat both alike.
	ErrStaleReport = fmt.Errorf("%w: job is not running", ErrNotFound)
)
