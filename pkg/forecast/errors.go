package forecast

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a request-scoped pipeline failure.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindTimeParse        Kind = "TimeParseError"
	KindInsufficientData Kind = "InsufficientDataError"
	KindPrediction       Kind = "PredictionError"
	KindEncoding         Kind = "EncodingError"
)

// Status returns the HTTP status code a failure of this kind is reported with.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindTimeParse:
		return http.StatusBadRequest
	case KindInsufficientData:
		return http.StatusUnprocessableEntity
	case KindPrediction:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ClientFault reports whether the failure was caused by the caller's input.
func (k Kind) ClientFault() bool {
	return k.Status() < http.StatusInternalServerError
}

// Error is a pipeline failure carrying its kind and a human-readable reason.
// It never affects worker state; it terminates only the current request.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind. A trailing error argument matched
// by %w is kept as the wrapped cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Reason: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// KindOf extracts the kind of err. The boolean is false when err carries no
// *Error in its chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Reason returns the caller-facing reason for err.
func Reason(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return err.Error()
}
