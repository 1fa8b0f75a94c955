package executor

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry bookkeeping.
var (
	ErrDuplicateExecutor = errors.New("duplicate executor name")
	ErrExecutorNotFound  = errors.New("executor not found")
)

// ErrorKind classifies an executor failure (spec §7). The engine consults
// Kind, never the error message, to decide retry/terminate/surface-to-user
// behavior.
type ErrorKind string

// Recognized error kinds and their default retry semantics.
const (
	// KindValidation: the interpolated config itself is malformed. Never
	// retryable — retrying with the same config produces the same failure.
	KindValidation ErrorKind = "validation"

	// KindUserOutOfScope: the request is understood but outside what this
	// executor/flow can serve (e.g. address outside delivery zone). Never
	// retryable; it is surfaced to the user as a normal reply, not a fault.
	KindUserOutOfScope ErrorKind = "user_out_of_scope"

	// KindTransient: a timeout, connection reset, or other condition
	// expected to clear on its own. Retryable under the state's onError
	// policy.
	KindTransient ErrorKind = "transient"

	// KindUpstream: a downstream service returned a definite business
	// error (4xx with a body). Not retryable by default — retrying the
	// same request produces the same business rejection. The engine
	// retries it only if the reporter marked it with WithRetryable(true).
	KindUpstream ErrorKind = "upstream"

	// KindInternal: a bug or invariant violation in the engine or
	// executor itself. Never retried automatically; always logged at
	// error level.
	KindInternal ErrorKind = "internal"

	// KindCancelled: the run was cancelled (session cleared, new run
	// started) while the executor was in flight. Never retried.
	KindCancelled ErrorKind = "cancelled"
)

// DefaultRetryable reports whether a Kind is retryable in the absence of
// an explicit onError.retry override on the state (spec §7: only
// transient failures are retried by default).
func (k ErrorKind) DefaultRetryable() bool {
	return k == KindTransient
}

// Error is the classified failure an executor attaches to a Result. It
// implements the error interface so it can also be returned/wrapped
// through ordinary Go error-handling paths (e.g. by RPC clients).
type Error struct {
	Kind      ErrorKind
	Retryable bool
	Detail    string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified Error, defaulting Retryable from Kind
// unless overridden by the caller with WithRetryable.
func NewError(kind ErrorKind, detail string, cause error) *Error {
	return &Error{Kind: kind, Retryable: kind.DefaultRetryable(), Detail: detail, Err: cause}
}

// WithRetryable overrides the default retryability. The engine's retry
// loop reads only this flag; a state's onError policy never changes it.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}
