package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and propagation decisions
type Kind int

// Error kinds
const (
	// RateLimited means the provider throttled the call. Retried with backoff.
	RateLimited Kind = iota + 1
	// Transient covers network failures, timeouts and 5xx. Retried with backoff.
	Transient
	// Permanent covers 4xx other than throttling. Never retried.
	Permanent
	// AuthExpired means the credentials were rejected. Never retried.
	AuthExpired
	// Inconsistent means a rollover could not persist and the period stays CLOSING.
	Inconsistent
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case AuthExpired:
		return "auth_expired"
	case Inconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the endpoint or operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and operation name
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels, so errors.Is(err, ErrTransient) works on any
// wrapped *Error of that kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is
var (
	ErrRateLimited  = &Error{Kind: RateLimited}
	ErrTransient    = &Error{Kind: Transient}
	ErrPermanent    = &Error{Kind: Permanent}
	ErrAuthExpired  = &Error{Kind: AuthExpired}
	ErrInconsistent = &Error{Kind: Inconsistent}
)

// KindOf returns the kind of the outermost *Error in err's chain.
// Context errors and unclassified errors are Transient; nil has kind 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Transient
}

// Retryable reports whether the gateway retries errors of this kind
func (k Kind) Retryable() bool {
	return k == RateLimited || k == Transient
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
