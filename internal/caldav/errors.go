// Package caldav provides an HTTP client for CalDAV servers: collection
// discovery, time-ranged calendar-query reports, and conditional object
// writes with ETag-based optimistic concurrency.
package caldav

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for classification. Use errors.Is(err, caldav.ErrConflict).
var (
	ErrBadRequest         = errors.New("caldav: bad request")
	ErrUnauthorized       = errors.New("caldav: unauthorized")
	ErrForbidden          = errors.New("caldav: forbidden")
	ErrNotFound           = errors.New("caldav: not found")
	ErrConflict           = errors.New("caldav: resource already exists")
	ErrPreconditionFailed = errors.New("caldav: precondition failed")
	ErrServerError        = errors.New("caldav: server error")

	// ErrConnection covers DNS failures, refused connections, and timeouts.
	// Safe to retry on the next scheduled trigger.
	ErrConnection = errors.New("caldav: connection failed")

	// ErrNoCalendars is returned when the server reports zero calendar
	// collections. Misconfiguration, surfaced to the user.
	ErrNoCalendars = errors.New("caldav: no calendars found on server")
)

// DavError wraps a sentinel with the HTTP status code and response body
// excerpt for debugging.
type DavError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *DavError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("caldav: HTTP %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("caldav: HTTP %d", e.StatusCode)
}

func (e *DavError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
