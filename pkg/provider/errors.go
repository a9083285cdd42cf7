package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrCircuitOpen is wrapped by [*Error] values with [KindCircuitOpen] so
// callers can match the condition with errors.Is regardless of which
// layer produced it.
var ErrCircuitOpen = errors.New("circuit open")

// Kind classifies a call failure for retry and circuit-breaker decisions.
type Kind int

const (
	// KindTransient covers network errors, timeouts, and 5xx responses.
	// Transient failures are retried by the relay and count toward the
	// endpoint's circuit-breaker failure threshold.
	KindTransient Kind = iota

	// KindPermanent covers well-formed request rejections (4xx-class).
	// Permanent failures are never retried and are orthogonal to circuit
	// health.
	KindPermanent

	// KindCircuitOpen means the call was refused before any network
	// attempt because the endpoint's breaker is OPEN (or HALF_OPEN with
	// its probe already in flight).
	KindCircuitOpen
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the structured failure returned by adapters and the relay.
// It carries enough detail (endpoint id, kind, HTTP status, attempt
// count) for callers to decide on their own retry or fallback behavior.
type Error struct {
	// Endpoint is the configured endpoint id the call targeted. Adapters
	// leave it empty; the relay stamps it.
	Endpoint string

	// Kind classifies the failure.
	Kind Kind

	// Status is the HTTP status code when one was received, 0 otherwise.
	Status int

	// Attempts is the number of attempts the relay made for the logical
	// call (1 for a non-retried failure). Zero when the error did not
	// pass through the relay.
	Attempts int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("provider: %s", e.Kind)
	if e.Endpoint != "" {
		msg = fmt.Sprintf("provider: endpoint %q: %s", e.Endpoint, e.Kind)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient returns a transient *Error for the given status and cause.
func Transient(status int, err error) *Error {
	return &Error{Kind: KindTransient, Status: status, Err: err}
}

// Permanent returns a permanent *Error for the given status and cause.
func Permanent(status int, err error) *Error {
	return &Error{Kind: KindPermanent, Status: status, Err: err}
}

// CircuitOpen returns a circuit-open *Error for the endpoint. The result
// matches errors.Is(err, ErrCircuitOpen).
func CircuitOpen(endpoint string, cause error) *Error {
	if cause == nil {
		cause = ErrCircuitOpen
	} else if !errors.Is(cause, ErrCircuitOpen) {
		cause = fmt.Errorf("%w: %w", ErrCircuitOpen, cause)
	}
	return &Error{Endpoint: endpoint, Kind: KindCircuitOpen, Err: cause}
}

// ClassifyStatus maps an HTTP status code to a failure kind. 408 and 429
// indicate server pressure rather than a malformed request and classify
// as transient; every other 4xx is permanent; 5xx is transient.
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 400 && status < 500:
		return KindPermanent
	default:
		return KindTransient
	}
}

// FromStatus builds a classified *Error from an HTTP status and cause.
func FromStatus(status int, err error) *Error {
	return &Error{Kind: ClassifyStatus(status), Status: status, Err: err}
}

// KindOf extracts the failure kind from err. Context cancellation and
// unclassified errors report as transient, which is how the relay treats
// any failure it cannot prove permanent.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsTransient reports whether err classifies as a transient failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransient
}

// IsPermanent reports whether err classifies as a permanent failure.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindPermanent
}

// IsCircuitOpen reports whether err represents a breaker fast-fail.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsCanceled reports whether err stems from caller cancellation or a
// deadline on the caller's context rather than from the endpoint.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
