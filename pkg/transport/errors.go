package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTooManyRedirects is returned when a redirect chain exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrorClass classifies transport failures.
type ErrorClass string

const (
	// ErrorClassNetwork covers DNS, connection and protocol failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout covers deadline and net timeouts.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassCanceled is used when the caller cancelled the request.
	ErrorClassCanceled ErrorClass = "canceled"
)

// Error is returned by a Transport when a request could not be executed.
type Error struct {
	Op    string
	URL   string
	Class ErrorClass
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("transport %s %s (%s): %v", e.Op, e.URL, e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps an error to its ErrorClass.
func Classify(err error) ErrorClass {
	var te *Error
	if errors.As(err, &te) && te.Class != "" {
		return te.Class
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}

// Wrap builds an *Error for op and rawURL, classifying err.
func Wrap(op, rawURL string, err error) *Error {
	return &Error{Op: op, URL: rawURL, Class: Classify(err), Err: err}
}
