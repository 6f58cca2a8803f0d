package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies provider failures for retry decisions.
type Kind int

const (
	// KindTransient covers timeouts, rate limits and 5xx responses; the
	// orchestrator retries these with backoff up to the attempt limit.
	KindTransient Kind = iota
	// KindProtocol marks a batch response whose item count disagrees with
	// the request. Handled by per-item fallback, not retried as-is.
	KindProtocol
	// KindPermanent covers malformed input, authentication and permission
	// failures. Never retried.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error wraps a provider failure with its classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Protocol(op string, err error) *Error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

func Permanent(op string, err error) *Error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// Violation builds the standard protocol-violation error for a batch whose
// response count disagrees with its request count.
func Violation(op string, want, got int) *Error {
	return Protocol(op, fmt.Errorf("response count mismatch: sent %d items, received %d", want, got))
}

// Classify returns the retry classification of err. Context deadlines and
// network timeouts count as transient; unclassified errors default to
// transient, since the attempt limit bounds them anyway.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTransient
	}
	return KindTransient
}

// KindFromStatus maps an HTTP status code to an error kind.
func KindFromStatus(status int) Kind {
	switch {
	case status == 429:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
