package engine

import (
	"context"
	"errors"
	"fmt"

	"dev.swarm.consensus/internal/store"
)

// Kind classifies a consensus failure. Retry policy is a pure function of
// the kind: only Transient failures are retried.
type Kind int

const (
	// KindValidation covers bad requests: unknown question, wrong status,
	// insufficient evidence. Never retried.
	KindValidation Kind = iota
	// KindTransient covers failures expected to heal: store deadlocks,
	// timeouts, exhausted job budget. Retried with backoff.
	KindTransient
	// KindLogic covers runs that completed but produced no usable outcome,
	// such as every answer scoring zero. Never retried.
	KindLogic
	// KindConflict covers commits rejected to protect invariants, such as a
	// status regression. Never retried.
	KindConflict
	// KindCancelled covers explicit cancellation and shutdown. Never retried.
	KindCancelled
)

// String returns the stable wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindLogic:
		return "logic"
	case KindConflict:
		return "conflict"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Stable reason strings surfaced through the status API and failure events.
const (
	ReasonNotFound             = "question_not_found"
	ReasonNotOpen              = "question_not_open"
	ReasonInsufficientEvidence = "insufficient_evidence"
	ReasonNoValidAnswers       = "no_valid_answers"
	ReasonStatusConflict       = "status_conflict"
	ReasonTimeout              = "timeout"
	ReasonCancelled            = "cancelled"
	ReasonStoreFailure         = "store_failure"
)

// Error is a classified consensus failure. Reason is stable per kind and
// opaque beyond that; Err carries the underlying cause when there is one.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("consensus %s (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("consensus %s (%s)", e.Kind, e.Reason)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// InsufficientEvidenceError reports how many answers exist versus required.
type InsufficientEvidenceError struct {
	Have int
	Need int
}

// Error implements error.
func (e *InsufficientEvidenceError) Error() string {
	return fmt.Sprintf("insufficient evidence: have %d answers, need %d", e.Have, e.Need)
}

// Classify maps an arbitrary error to a failure kind. Context cancellation
// maps to Cancelled, deadlines to Transient, store conflicts to Conflict;
// anything unrecognized is assumed Transient so it gets retried.
func Classify(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, store.ErrNotFound):
		return KindValidation
	case errors.Is(err, store.ErrStatusConflict):
		return KindConflict
	default:
		return KindTransient
	}
}

// Reason extracts the stable reason string from an error.
func Reason(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	switch Classify(err) {
	case KindCancelled:
		return ReasonCancelled
	case KindConflict:
		return ReasonStatusConflict
	case KindValidation:
		return ReasonNotFound
	default:
		return ReasonStoreFailure
	}
}

// Retryable reports whether the error should be retried.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}
