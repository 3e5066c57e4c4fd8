package corrective

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is against the error returned by Run.
var (
	ErrRetrievalFailure  = errors.New("retrieval failure")
	ErrGenerationFailure = errors.New("generation failure")
	ErrCriticFailure     = errors.New("critic failure")
	ErrCancelled         = errors.New("session cancelled")
)

// StepError carries the failing step and its cause.
type StepError struct {
	Kind FailureKind
	Step string
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *StepError) Unwrap() error { return e.Err }

// Is matches the sentinel of the failure kind.
func (e *StepError) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

func sentinelFor(kind FailureKind) error {
	switch kind {
	case FailureRetrieval:
		return ErrRetrievalFailure
	case FailureGeneration:
		return ErrGenerationFailure
	case FailureCritic:
		return ErrCriticFailure
	case FailureCancelled:
		return ErrCancelled
	default:
		return nil
	}
}

// KindOf extracts the failure kind from an error returned by Run.
func KindOf(err error) FailureKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return FailureNone
}

// malformedOutputError marks critic output that did not match the verdict schema.
type malformedOutputError struct {
	raw string
	err error
}

func (e *malformedOutputError) Error() string {
	return fmt.Sprintf("malformed verdict %q: %v", truncate(e.raw, 160), e.err)
}

func (e *malformedOutputError) Unwrap() error { return e.err }
