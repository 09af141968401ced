package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable indicates the upstream host could not be reached or
	// kept failing after the retry budget was spent. Transient; the next
	// run may succeed.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrNotFound indicates the upstream project identifier does not
	// resolve to a repository. Permanent for the module's configuration.
	ErrNotFound = errors.New("upstream project not found")

	// ErrModuleFileNotFound indicates the release exists but ships no
	// MODULE.bazel at its tag.
	ErrModuleFileNotFound = errors.New("MODULE.bazel not found at release tag")
)

// HTTPError carries the status of a failed upstream API response.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}
