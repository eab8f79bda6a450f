// Package errors provides structured error types for triage.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for triage.
const (
	// Pipeline failures
	CodeRetrievalFailed     Code = "RETRIEVAL_FAILED"
	CodeMissingField        Code = "MISSING_FIELD"
	CodeImageAnalysisFailed Code = "IMAGE_ANALYSIS_FAILED"
	CodeValidationFailed    Code = "VALIDATION_FAILED"
	CodePersistenceFailed   Code = "PERSISTENCE_FAILED"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"
	CodeSourceUnknown Code = "SOURCE_UNKNOWN"
)

// Category groups error codes by how a run reacts to them.
type Category int

const (
	CategoryUnknown Category = iota
	// CategoryFatal terminates the run early.
	CategoryFatal
	// CategoryRecoverable is absorbed into the record's notes.
	CategoryRecoverable
	// CategoryUsage is a caller mistake (flags, config).
	CategoryUsage
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeRetrievalFailed:     CategoryFatal,
	CodeMissingField:        CategoryRecoverable,
	CodeImageAnalysisFailed: CategoryRecoverable,
	CodeValidationFailed:    CategoryFatal,
	CodePersistenceFailed:   CategoryFatal,
	CodeConfigInvalid:       CategoryUsage,
	CodeConfigMissing:       CategoryUsage,
	CodeSourceUnknown:       CategoryUsage,
}

// codeExitStatus maps fatal codes to distinct process exit codes.
var codeExitStatus = map[Code]int{
	CodeRetrievalFailed:   3,
	CodeValidationFailed:  4,
	CodePersistenceFailed: 5,
}

// ExitCode returns the process exit code for a category.
func (c Category) ExitCode() int {
	switch c {
	case CategoryUsage:
		return 2
	case CategoryRecoverable:
		return 0
	default:
		return 1
	}
}

// TriageError is the structured error type for triage.
type TriageError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *TriageError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *TriageError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *TriageError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString("\n\nCause: ")
		b.WriteString(e.Cause.Error())
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category.
func (e *TriageError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// Fatal reports whether the error terminates a run.
func (e *TriageError) Fatal() bool {
	return e.Category() == CategoryFatal
}

// ExitCode returns the process exit code for this error.
func (e *TriageError) ExitCode() int {
	if code, ok := codeExitStatus[e.Code]; ok {
		return code
	}
	return e.Category().ExitCode()
}

// MarshalJSON implements json.Marshaler.
func (e *TriageError) MarshalJSON() ([]byte, error) {
	type alias TriageError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a TriageError with the same code.
func (e *TriageError) Is(target error) bool {
	t, ok := target.(*TriageError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *TriageError) WithCause(err error) *TriageError {
	return &TriageError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrRetrievalFailed returns an error when neither fetch nor search produced the ticket.
func ErrRetrievalFailed(id string) *TriageError {
	return &TriageError{
		Code: CodeRetrievalFailed,
		What: fmt.Sprintf("ticket %s could not be retrieved", id),
		Why:  "Both the direct fetch and the fallback search failed",
		Fix:  "Check the ticket identifier, the source configuration, and the API token",
	}
}

// ErrMissingField returns an error for a field the extractor could not find.
func ErrMissingField(field string) *TriageError {
	return &TriageError{
		Code: CodeMissingField,
		What: fmt.Sprintf("%s not found", field),
	}
}

// ErrImageAnalysisFailed returns an error for a screenshot that could not be analyzed.
func ErrImageAnalysisFailed(uri string) *TriageError {
	return &TriageError{
		Code: CodeImageAnalysisFailed,
		What: fmt.Sprintf("screenshot %s unreachable", uri),
	}
}

// ErrValidationFailed returns an error for a record that failed the quality gate.
func ErrValidationFailed(rules []string) *TriageError {
	return &TriageError{
		Code: CodeValidationFailed,
		What: "bug record failed validation",
		Why:  fmt.Sprintf("violated rules: %s", strings.Join(rules, ", ")),
		Fix:  "Add the missing information to the ticket and run triage again",
	}
}

// ErrPersistenceFailed returns an error when the record cannot be written.
func ErrPersistenceFailed(path string) *TriageError {
	return &TriageError{
		Code: CodePersistenceFailed,
		What: fmt.Sprintf("cannot write bug record to %s", path),
		Why:  "The output location is not writable",
		Fix:  "Check permissions on the output directory or pass --output",
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *TriageError {
	return &TriageError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .triage/config.yaml and fix the invalid field",
	}
}

// ErrConfigMissing returns an error for missing configuration.
func ErrConfigMissing(field string) *TriageError {
	return &TriageError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", field),
		Why:  "This field is required but not set in configuration",
		Fix:  fmt.Sprintf("Add '%s' to .triage/config.yaml or set the matching TRIAGE_ environment variable", field),
	}
}

// ErrSourceUnknown returns an error for an unregistered ticket source.
func ErrSourceUnknown(kind string, registered []string) *TriageError {
	return &TriageError{
		Code: CodeSourceUnknown,
		What: fmt.Sprintf("unknown ticket source %q", kind),
		Why:  fmt.Sprintf("registered sources: %s", strings.Join(registered, ", ")),
		Fix:  "Set source.type to one of the registered sources",
	}
}

// AsTriageError attempts to convert an error to a TriageError.
// Returns nil if the error is not a TriageError.
func AsTriageError(err error) *TriageError {
	var tErr *TriageError
	if As(err, &tErr) {
		return tErr
	}
	return nil
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return asError(err, target)
}

// asError implements errors.As behavior for TriageError targets.
func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if tErr, ok := err.(*TriageError); ok {
		if t, ok := target.(**TriageError); ok {
			*t = tErr
			return true
		}
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if asError(e, target) {
				return true
			}
		}
	}
	return false
}

// Wrap wraps a generic error into a TriageError with unknown code.
func Wrap(err error, what string) *TriageError {
	return &TriageError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
