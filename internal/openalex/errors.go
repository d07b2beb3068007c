package openalex

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JakeFAU/citenet/internal/citation"
)

// Kind classifies a failed API call.
type Kind int

const (
	// KindTransient failures are retried.
	KindTransient Kind = iota
	// KindNotFound failures mark the node as a stub.
	KindNotFound
	// KindFatal failures abort the run.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrEmptyID is returned when FetchNode is called without an identifier.
var ErrEmptyID = errors.New("empty work identifier")

const maxRetryAfter = 2 * time.Minute

// Error describes a failed API call.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("openalex %s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("openalex %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps the error kind onto the shared citation error classes.
func (e *Error) Is(target error) bool {
	switch target {
	case citation.ErrTransient:
		return e.Kind == KindTransient
	case citation.ErrNotFound:
		return e.Kind == KindNotFound
	case citation.ErrFatal:
		return e.Kind == KindFatal
	}
	return false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, citation.ErrTransient)
}

func classifyStatus(op string, resp *http.Response, body []byte) *Error {
	e := &Error{
		Op:         op,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("unexpected response: %s", snippet(body)),
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		e.Kind = KindFatal
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindTransient
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	case resp.StatusCode >= 500:
		e.Kind = KindTransient
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	default:
		// 404, 410 and any other client error describe the work, not the run.
		e.Kind = KindNotFound
	}
	return e
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	}
	if d < 0 {
		return 0
	}
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
