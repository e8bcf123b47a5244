package ratingclient

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	Transient Kind = "transient"
	Permanent Kind = "permanent"
)

var (
	ErrHandleNotFound   = errors.New("handle not found")
	ErrResponseTooLarge = errors.New("response body too large")
)

// FetchError classifies a failed call so the pipeline can decide whether to
// retry it.
type FetchError struct {
	Kind   Kind
	Op     string
	Handle string
	Status int
	Err    error
	// RetryAfter is the server's backoff hint, zero when absent.
	RetryAfter time.Duration
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %s (http %d): %v", e.Op, e.Handle, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Handle, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a FetchError worth retrying. Errors of
// any other type are treated as permanent.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Transient
}

// KindOf returns the fetch kind of err, or "" when err is not a FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
