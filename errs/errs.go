// Package errs defines the error taxonomy shared by the store, the persist
// coordinator and the derived data cache.
//
// Every error is a go-errors *Error (or *RetryableError) so callers can branch
// on category instead of matching strings. Corruption errors carry critical
// severity and are never retryable. Failures that left nothing written, such as
// pool or lock timeouts, are.
package errs

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Categories specific to the versioned store. NotFound, Conflict and Validation
// reuse the go-errors built-ins.
const (
	CategoryFormatVersion goerrors.Category = "format_version_mismatch"
	CategoryConstraint    goerrors.Category = "constraint_violation"
	CategoryCorruption    goerrors.Category = "consistency_corruption"
	CategoryCompute       goerrors.Category = "compute_failure"
	CategoryConnection    goerrors.Category = "connection_exhausted"
	CategoryBusy          goerrors.Category = "database_busy"
	CategoryConfig        goerrors.Category = "configuration"
)

// Text codes attached to the errors, stable across releases.
const (
	TextCodeFormatVersion = "FORMAT_VERSION_MISMATCH"
	TextCodeConstraint    = "CONSTRAINT_VIOLATION"
	TextCodeNotFound      = "NOT_FOUND"
	TextCodeCorruption    = "CONSISTENCY_CORRUPTION"
	TextCodeCompute       = "COMPUTE_FAILURE"
	TextCodeConnection    = "CONNECTION_EXHAUSTED"
	TextCodeBusy          = "DATABASE_BUSY"
	TextCodeLocked        = "INFRA_LOCKED"
)

// FormatVersionMismatch is returned when a document declares a format version
// other than the supported one. Nothing has been written when it is returned.
func FormatVersionMismatch(got, want string) *goerrors.Error {
	return goerrors.New("unsupported document format version", CategoryFormatVersion).
		WithTextCode(TextCodeFormatVersion).
		WithCode(400).
		WithMetadata(map[string]any{"got": got, "want": want})
}

// ConstraintViolation wraps a store level uniqueness or foreign key failure.
func ConstraintViolation(source error, message string) *goerrors.Error {
	return wrap(source, CategoryConstraint, message).
		WithTextCode(TextCodeConstraint).
		WithCode(409)
}

// NotFound reports a missing row of the given kind.
func NotFound(kind string, id int64) *goerrors.Error {
	return goerrors.New(kind+" not found", goerrors.CategoryNotFound).
		WithTextCode(TextCodeNotFound).
		WithCode(404).
		WithMetadata(map[string]any{"kind": kind, "id": id})
}

// Corruption reports a violated invariant. It is critical and must not be
// retried or silently recovered.
func Corruption(source error, message string) *goerrors.Error {
	return wrap(source, CategoryCorruption, message).WithTextCode(TextCodeCorruption).
		WithCode(500).
		WithSeverity(goerrors.SeverityCritical).
		WithStackTrace()
}

// ComputeFailure wraps an error returned by the derived data collaborator.
func ComputeFailure(source error, infraID int64) *goerrors.RetryableError {
	return wrapRetryable(source, CategoryCompute, "derived data computation failed").
		WithTextCode(TextCodeCompute).
		WithMetadata(map[string]any{"infra_id": infraID})
}

// ConnectionExhausted reports that the pool could not hand out a connection
// within its acquire bound.
func ConnectionExhausted(source error, wait time.Duration) *goerrors.RetryableError {
	return wrapRetryable(source, CategoryConnection, "no database connection available").
		WithTextCode(TextCodeConnection).
		WithCode(503).
		WithRetryDelay(wait).
		WithMetadata(map[string]any{"acquire_timeout": wait.String()})
}

// Busy reports a statement the database refused because another connection
// held its lock past the busy timeout. Nothing was written.
func Busy(source error, message string) *goerrors.RetryableError {
	return wrapRetryable(source, CategoryBusy, message).
		WithTextCode(TextCodeBusy).
		WithCode(503)
}

// Locked reports a content change attempted on a locked infrastructure.
func Locked(infraID int64) *goerrors.Error {
	return goerrors.New("infrastructure is locked", goerrors.CategoryConflict).
		WithTextCode(TextCodeLocked).
		WithCode(409).
		WithMetadata(map[string]any{"infra_id": infraID})
}

// Config reports an invalid configuration value detected at run time.
func Config(field, message string) *goerrors.Error {
	return goerrors.New("invalid configuration: "+field+" "+message, CategoryConfig).
		WithMetadata(map[string]any{"field": field})
}

// IsFormatVersionMismatch reports a rejected document format version.
func IsFormatVersionMismatch(err error) bool {
	return hasCategory(err, CategoryFormatVersion)
}

// IsConstraintViolation reports a uniqueness, foreign key or check failure.
func IsConstraintViolation(err error) bool {
	return hasCategory(err, CategoryConstraint)
}

// IsNotFound reports a missing row.
func IsNotFound(err error) bool {
	return hasCategory(err, goerrors.CategoryNotFound)
}

// IsCorruption reports a violated invariant in stored data.
func IsCorruption(err error) bool {
	return hasCategory(err, CategoryCorruption)
}

// IsComputeFailure reports a failed derived data computation.
func IsComputeFailure(err error) bool {
	return hasCategory(err, CategoryCompute)
}

// IsConnectionExhausted reports a pool acquire timeout.
func IsConnectionExhausted(err error) bool {
	return hasCategory(err, CategoryConnection)
}

// IsBusy reports a statement refused on a locked database.
func IsBusy(err error) bool {
	return hasCategory(err, CategoryBusy)
}

// IsLocked reports a change refused on a locked infrastructure.
func IsLocked(err error) bool {
	var e *goerrors.Error
	if goerrors.As(err, &e) {
		return e.TextCode == TextCodeLocked
	}
	return false
}

// IsConfig reports an invalid configuration value.
func IsConfig(err error) bool {
	return hasCategory(err, CategoryConfig)
}

// IsRetryable reports whether nothing changed and the caller may try again.
// Corruption is never retryable.
func IsRetryable(err error) bool {
	if err == nil || IsCorruption(err) {
		return false
	}
	var r *goerrors.RetryableError
	if goerrors.As(err, &r) {
		return r.IsRetryable()
	}
	return IsConstraintViolation(err)
}

// wrap keeps the given category even when source is already a go-errors
// value; goerrors.Wrap would inherit the source category instead.
func wrap(source error, category goerrors.Category, message string) *goerrors.Error {
	err := goerrors.New(message, category)
	err.Source = source
	return err
}

func wrapRetryable(source error, category goerrors.Category, message string) *goerrors.RetryableError {
	err := goerrors.NewRetryable(message, category)
	err.BaseError.Source = source
	return err
}

// hasCategory checks retryable wrappers first: their Unwrap skips the base
// error and would expose the source category instead.
func hasCategory(err error, category goerrors.Category) bool {
	var r *goerrors.RetryableError
	if goerrors.As(err, &r) && r.BaseError != nil && r.BaseError.Category == category {
		return true
	}
	return goerrors.HasCategory(err, category)
}
