package sdruntime

import (
	"errors"
	"fmt"
)

var (
	// Request errors
	ErrInvalidRequest   = errors.New("sdruntime: invalid generation request")
	ErrUnknownOperation = errors.New("sdruntime: unknown operation")

	// Construction errors
	ErrModelNotFound     = errors.New("sdruntime: model not found")
	ErrModelCorrupted    = errors.New("sdruntime: model file is corrupted or invalid")
	ErrUnsupportedDevice = errors.New("sdruntime: device not supported by provider")
	ErrModelLoadFailed   = errors.New("sdruntime: failed to load model")

	// Invocation errors
	ErrGenerationFailed = errors.New("sdruntime: image generation failed")
)

// Kind classifies a failure by the stage that produced it.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConstruction Kind = "construction"
	KindInference    Kind = "inference"
)

// Error tags an underlying error with its Kind and, when known, the family.
type Error struct {
	Kind   Kind
	Family Family
	Err    error
}

func (e *Error) Error() string {
	if e.Family != "" {
		return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Family, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(f Family, format string, args ...interface{}) *Error {
	return &Error{
		Kind:   KindValidation,
		Family: f,
		Err:    fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...)),
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
