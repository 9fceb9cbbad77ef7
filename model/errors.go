package model

import (
	"context"
	"errors"
	"fmt"
)

// Stable error codes surfaced to API callers.
const (
	CodeCatalogUnavailable = "CATALOG_UNAVAILABLE"
	CodeValidation         = "VALIDATION_ERROR"
	CodeTransaction        = "TRANSACTION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeTimeout            = "TIMEOUT"
	CodeCancelled          = "CANCELLED"
)

// Sentinel errors for the failure classes of the engine. Wrap with %w so
// callers can classify with errors.Is.
var (
	// ErrCatalogUnavailable means the external catalog is unreachable or
	// corrupt. Analyses degrade (no enrichment) instead of aborting.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	// ErrNotFound is returned, never panicked, for unknown run or track ids.
	ErrNotFound = errors.New("not found")
	// ErrValidation rejects malformed inputs before any side effect.
	ErrValidation = errors.New("invalid input")
	// ErrTransaction marks a persistence write that failed and rolled back.
	ErrTransaction = errors.New("transaction failed")
	// ErrRunActive rejects starting a run id that is already executing.
	ErrRunActive = errors.New("run already active")
)

// AppError is the error body surfaced to API callers: a stable code, a
// human-readable message and advice flags derived from the failure class.
type AppError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	PartialOK bool   `json:"partialResults,omitempty"`
	cause     error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// AsAppError normalizes any engine error into its API form. Catalog trouble,
// timeouts and rolled-back writes are worth retrying; a degraded catalog
// still leaves usable partial results.
func AsAppError(err error) *AppError {
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	code := CodeFor(err)
	return &AppError{
		Code:      code,
		Message:   err.Error(),
		Retryable: code == CodeCatalogUnavailable || code == CodeTimeout || code == CodeTransaction,
		PartialOK: code == CodeCatalogUnavailable,
		cause:     err,
	}
}

// CodeFor maps an engine error to its stable API code.
func CodeFor(err error) string {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	switch {
	case errors.Is(err, ErrCatalogUnavailable):
		return CodeCatalogUnavailable
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrRunActive):
		return CodeValidation
	case errors.Is(err, ErrTransaction):
		return CodeTransaction
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	default:
		return "INTERNAL"
	}
}
