/*
errors.go - Centralized error types for the ETL pipeline

ERROR CATEGORIES:
  1. Validation errors - missing or malformed caller input (4xx)
  2. Extraction errors - remote export protocol failures (aborts refresh)
  3. Storage errors    - query or write failures

  Formula evaluation errors live in the scoring package; they never leave
  the scoring engine.

USAGE:
  if errors.Is(err, etl.ErrExtraction) {
      // remote side failed, already-loaded tables are kept
  }

  var ve *etl.ValidationError
  if errors.As(err, &ve) {
      // report ve.Field to the caller
  }
*/
package etl

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every caller-input failure.
	ErrValidation = errors.New("validation failed")

	// ErrExtraction is the root of every remote export protocol failure.
	ErrExtraction = errors.New("extraction failed")

	// ErrStorage is the root of every query or write failure.
	ErrStorage = errors.New("storage failure")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a missing or malformed request parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Extraction failure reasons.
const (
	ReasonNoTaskID       = "no_task_id"
	ReasonNoURL          = "no_url"
	ReasonDownloadFailed = "download_failed"
	ReasonRequestFailed  = "request_failed"
	ReasonBadResponse    = "bad_response"
)

// Extraction protocol steps.
const (
	StepSubmit   = "submit"
	StepRetrieve = "retrieve"
	StepDownload = "download"
)

// ExtractionError reports a failure in one step of the export protocol.
type ExtractionError struct {
	Step   string
	Reason string
	Status int // HTTP status when the failure was a non-success response
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extraction %s: %s", e.Step, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExtraction}
	}
	return []error{ErrExtraction, e.Err}
}

// StorageError reports a failed query or write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsExtraction returns true if the remote export protocol failed.
func IsExtraction(err error) bool {
	return errors.Is(err, ErrExtraction)
}
