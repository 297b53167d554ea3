package orchestrator

import (
	"errors"
	"fmt"

	"retouch_backend/enhance"
	"retouch_backend/sdruntime"
)

// FailureKind tags a Failure with the stage that produced it.
type FailureKind string

const (
	FailureValidation   FailureKind = "validation_error"
	FailureConstruction FailureKind = "construction_error"
	FailureInference    FailureKind = "inference_error"
	FailureEnhancement  FailureKind = "enhancement_error"
)

// Failure is the only error type Process and Health return.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts the *Failure in err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == FailureValidation
}

func newFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Message: err.Error(), Err: err}
}

// classify maps err to a Failure. fallback is used when err carries no
// stage of its own, e.g. the caller stopped waiting.
func classify(err error, fallback FailureKind) *Failure {
	if f, ok := AsFailure(err); ok {
		return f
	}
	switch sdruntime.KindOf(err) {
	case sdruntime.KindValidation:
		return newFailure(FailureValidation, err)
	case sdruntime.KindConstruction:
		return newFailure(FailureConstruction, err)
	case sdruntime.KindInference:
		return newFailure(FailureInference, err)
	}
	if errors.Is(err, enhance.ErrEnhancementFailed) {
		return newFailure(FailureEnhancement, err)
	}
	return newFailure(fallback, err)
}
