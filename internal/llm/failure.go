package llm

import "fmt"

// FailureKind is a machine-readable classification of a generation failure
type FailureKind string

const (
	// FailureTimeout indicates the backend call exceeded its deadline
	FailureTimeout FailureKind = "timeout"
	// FailureInvalidOutput indicates the model returned output that could not
	// be parsed as a profile document
	FailureInvalidOutput FailureKind = "invalid_output"
	// FailureValidationFailed indicates the output parsed but fell below the
	// acceptance floor
	FailureValidationFailed FailureKind = "validation_failed"
	// FailureBackend indicates an error from the model backend itself
	FailureBackend FailureKind = "backend_error"
)

// GenerationFailure is the typed failure value returned by the adapter.
// All failure paths are represented as values; nothing panics past this
// boundary.
type GenerationFailure struct {
	Kind   FailureKind
	Detail string
	Cause  error
}

func (f *GenerationFailure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("generation failed (%s): %s: %v", f.Kind, f.Detail, f.Cause)
	}
	return fmt.Sprintf("generation failed (%s): %s", f.Kind, f.Detail)
}

func (f *GenerationFailure) Unwrap() error {
	return f.Cause
}
