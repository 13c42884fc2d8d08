package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery policy lookup. Kinds are assigned
// where the error is constructed, not guessed from type names downstream.
type Kind string

const (
	KindTransient  Kind = "transient"
	KindState      Kind = "state"
	KindResource   Kind = "resource"
	KindValidation Kind = "validation"
	KindAgent      Kind = "agent"
	KindSystem     Kind = "system"
	KindUnknown    Kind = "unknown"
)

// Error codes for programmatic handling.
const (
	CodeConfigInvalid     = "CONFIG_INVALID"
	CodeWorkflowNotFound  = "WORKFLOW_NOT_FOUND"
	CodeWorkflowCapacity  = "WORKFLOW_CAPACITY"
	CodeWorkflowCancelled = "WORKFLOW_CANCELLED"
	CodeWorkflowFailed    = "WORKFLOW_FAILED"
	CodeCyclicDependency  = "CYCLIC_DEPENDENCY"
	CodeUnknownDependency = "UNKNOWN_DEPENDENCY"
	CodeDuplicateTask     = "DUPLICATE_TASK"
	CodeCheckpointMissing = "CHECKPOINT_MISSING"
	CodeCheckpointExists  = "CHECKPOINT_EXISTS"
	CodeCheckpointInvalid = "CHECKPOINT_INVALID"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeExecutorFailed    = "EXECUTOR_FAILED"
	CodeTimeout           = "TIMEOUT"
	CodeNoConsensus       = "NO_CONSENSUS"
	CodeDebateStopped     = "DEBATE_STOPPED"
)

// Error is a structured error carrying a recovery kind, a machine-readable
// code, and an actionable suggestion.
type Error struct {
	Kind       Kind   // recovery category (e.g. validation)
	Code       string // machine-readable code (e.g. CYCLIC_DEPENDENCY)
	Message    string // human-readable description
	Suggestion string // actionable fix
	Err        error  // wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap supports errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given kind, code, and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an Error wrapping an existing error.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithSuggestion returns the error with the suggestion set.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// Is checks whether target matches this error's code.
func (e *Error) Is(target error) bool {
	var re *Error
	if errors.As(target, &re) {
		return e.Code == re.Code
	}
	return false
}

// KindOf extracts the kind from an error. Errors without a tag, including
// nil, report KindUnknown.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) && re.Kind != "" {
		return re.Kind
	}
	return KindUnknown
}

// AsCode extracts the code from an error, or "" if not a tagged Error.
func AsCode(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// Suggestion extracts the suggestion from an error, or "" if not a tagged Error.
func Suggestion(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Suggestion
	}
	return ""
}
