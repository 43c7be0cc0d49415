package ratelimit

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// Class is the failure category assigned by Classify.
type Class int

// Failure classes.
const (
	ClassFatal Class = iota
	ClassPrimary
	ClassSecondary
	ClassTransient
	ClassAuth
	ClassNotFound
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassPrimary:
		return "primary_rate_limit"
	case ClassSecondary:
		return "secondary_rate_limit"
	case ClassTransient:
		return "transient"
	case ClassAuth:
		return "auth"
	case ClassNotFound:
		return "not_found"
	default:
		return "fatal"
	}
}

// Sentinel maps the class onto the domain error taxonomy.
func (c Class) Sentinel() error {
	switch c {
	case ClassPrimary, ClassSecondary:
		return domain.ErrRateLimited
	case ClassTransient:
		return domain.ErrTransientHost
	case ClassAuth:
		return domain.ErrAuth
	case ClassNotFound:
		return domain.ErrNotFound
	default:
		return domain.ErrHostRequest
	}
}

// Failure is a failed host call as seen by the limiter.
// Adapters return it from the function passed to Do.
type Failure struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
	// Timeout is set when the per-call deadline expired.
	Timeout bool
}

func (f *Failure) Error() string {
	switch {
	case f.StatusCode != 0 && f.Err != nil:
		return fmt.Sprintf("host responded %d: %v", f.StatusCode, f.Err)
	case f.StatusCode != 0:
		return fmt.Sprintf("host responded %d", f.StatusCode)
	case f.Err != nil:
		return f.Err.Error()
	default:
		return "host call failed"
	}
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// permanentError marks an error that must never be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Classify treats it as fatal, e.g. a decode failure
// on an otherwise successful response.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// CallError is the terminal error of a call through Do.
// It unwraps to both the taxonomy sentinel and the last underlying error.
type CallError struct {
	Key        string
	Attempts   int
	StatusCode int
	Reason     string
	Class      Class
	Err        error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s: %s after %d attempt(s)", e.Key, e.Reason, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	return msg
}

// Unwrap exposes the sentinel and the cause to errors.Is and errors.As.
func (e *CallError) Unwrap() []error {
	errs := []error{e.Class.Sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// StatusCode extracts the HTTP status of a CallError or Failure, or 0.
func StatusCode(err error) int {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.StatusCode
	}
	return 0
}
