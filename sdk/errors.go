package sdk

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned when the examrunner API responds with a non-success status.
type APIError struct {
	StatusCode int
	Message    string
	// RemainingAttempts is set on quota rejections.
	RemainingAttempts int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("examrunner: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API. For job reports this
// means the job is unknown or no longer running, so retrying cannot help.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsForbidden reports whether err is a 403, returned for quota rejections and
// blocked students.
func IsForbidden(err error) bool {
	return hasStatus(err, http.StatusForbidden)
}

func hasStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
