// Package errors defines the tagged error variants used across the
// reconciliation engine.
//
// Every failure surfaced by the engine is an *EngineError carrying a
// category, a specific code, optional context values and an optional
// remediation suggestion. Categories map to CLI exit codes so that
// operators can script around specific failure classes.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Category groups related error codes.
type Category string

const (
	CategoryBlob           Category = "blob"
	CategoryFile           Category = "file"
	CategoryValidation     Category = "validation"
	CategoryConfiguration  Category = "configuration"
	CategoryReconciliation Category = "reconciliation"
	CategoryDatabase       Category = "database"
)

// Code identifies a specific error condition within a category.
type Code string

const (
	// Blob store errors
	CodeInvalidPath Code = "invalid_path"
	CodeNotFound    Code = "not_found"

	// File errors
	CodeReadError        Code = "read_error"
	CodeUnsupportedType  Code = "unsupported_filetype"
	CodeColumnValidation Code = "column_validation"

	// Configuration errors
	CodeMissingConfig Code = "missing_config"
	CodeInvalidConfig Code = "invalid_config"

	// Reconciliation errors
	CodeMissingFile   Code = "missing_paired_file"
	CodeDuplicateKeys Code = "duplicate_reconcilable_keys"
	CodeRunInProgress Code = "run_in_progress"
	CodeRunFailed     Code = "run_failed"

	// Database errors
	CodeDbUniqueViolation Code = "db_unique_violation"
	CodeDbOperation       Code = "db_operation_error"
)

// Context carries structured detail about an error.
type Context map[string]interface{}

// EngineError is the error type for every failure the engine surfaces.
type EngineError struct {
	Category   Category          `json:"category"`
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// ExitCode maps the category to a CLI exit code.
func (e *EngineError) ExitCode() int {
	switch e.Category {
	case CategoryBlob, CategoryFile:
		return 2
	case CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation:
		return 5
	case CategoryDatabase:
		return 6
	default:
		return 1
	}
}

// WithContext attaches a context value to the error.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion attaches a remediation hint to the error.
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates an EngineError with a captured stack trace.
func New(category Category, code Code, message string) *EngineError {
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error, preserving it as the cause.
func Wrap(err error, category Category, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// InvalidPath reports a blob path component that violates the safety rules.
func InvalidPath(component, value string) *EngineError {
	return New(CategoryBlob, CodeInvalidPath,
		fmt.Sprintf("invalid path component %s: %q", component, value)).
		WithSuggestion("path components must match ^[A-Za-z0-9][A-Za-z0-9._-]*$ and must not contain '..', '/' or '\\'").
		WithContext("component", component).
		WithContext("value", value)
}

// NotFound reports an absent blob or database row.
func NotFound(what, key string, err error) *EngineError {
	msg := fmt.Sprintf("%s not found: %s", what, key)
	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryBlob, CodeNotFound, msg)
	} else {
		result = New(CategoryBlob, CodeNotFound, msg)
	}
	return result.WithContext("key", key)
}

// ReadError reports an unparseable upload file.
func ReadError(filename string, err error) *EngineError {
	return Wrap(err, CategoryFile, CodeReadError,
		fmt.Sprintf("failed to read file %s", filename)).
		WithSuggestion("verify the file is a valid xlsx, xls or csv export").
		WithContext("filename", filename)
}

// ColumnValidation reports required columns missing after the header skip.
func ColumnValidation(filename string, missing []string) *EngineError {
	return New(CategoryFile, CodeColumnValidation,
		fmt.Sprintf("file %s is missing required columns: %s", filename, strings.Join(missing, ", "))).
		WithSuggestion("check the gateway file layout configuration against the export").
		WithContext("filename", filename).
		WithContext("missing_columns", missing)
}

// ConfigurationError reports a missing or invalid gateway configuration.
func ConfigurationError(code Code, setting string, err error) *EngineError {
	msg := fmt.Sprintf("configuration error for %s", setting)
	if code == CodeMissingConfig {
		msg = fmt.Sprintf("missing required configuration: %s", setting)
	}
	var result *EngineError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, msg)
	} else {
		result = New(CategoryConfiguration, code, msg)
	}
	return result.WithContext("setting", setting)
}

// ReconciliationError reports a fatal condition inside a run.
func ReconciliationError(code Code, message string, err error) *EngineError {
	if err != nil {
		return Wrap(err, CategoryReconciliation, code, message)
	}
	return New(CategoryReconciliation, code, message)
}

// DatabaseError reports a database failure other than a duplicate key.
func DatabaseError(operation string, err error) *EngineError {
	return Wrap(err, CategoryDatabase, CodeDbOperation,
		fmt.Sprintf("database error during %s", operation)).
		WithContext("operation", operation)
}

// DuplicateKeyError reports a unique constraint violation on
// (reconciliation_key, gateway). Callers normally recover from this by
// rolling back a savepoint and counting the row as skipped.
func DuplicateKeyError(key, gateway string, err error) *EngineError {
	return Wrap(err, CategoryDatabase, CodeDbUniqueViolation,
		fmt.Sprintf("duplicate reconciliation key %q for gateway %s", key, gateway)).
		WithContext("reconciliation_key", key).
		WithContext("gateway", gateway)
}

// IsEngineError checks whether err is an *EngineError.
func IsEngineError(err error) bool {
	_, ok := err.(*EngineError)
	return ok
}

// AsEngineError extracts an *EngineError from an error chain.
func AsEngineError(err error) (*EngineError, bool) {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	if engineErr, ok := AsEngineError(err); ok {
		return engineErr.Code == code
	}
	return false
}

// WrapIfNeeded wraps err unless it is already an *EngineError.
func WrapIfNeeded(err error, category Category, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}
	if engineErr, ok := AsEngineError(err); ok {
		return engineErr
	}
	return Wrap(err, category, code, message)
}
