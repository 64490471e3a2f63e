package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrScanNotFound is returned when no scan record matches the given identifier.
	ErrScanNotFound = errors.New("scan not found")
	// ErrExamNotFound indicates the referenced exam does not exist.
	ErrExamNotFound = errors.New("exam not found")
	// ErrClassNotFound indicates the referenced class does not exist.
	ErrClassNotFound = errors.New("class not found")
	// ErrSectionNotFound indicates the referenced section does not exist.
	ErrSectionNotFound = errors.New("section not found")
	// ErrStudentNotFound indicates the referenced student does not exist.
	ErrStudentNotFound = errors.New("student not found")
	// ErrAnswerKeyNotFound indicates no answer key is stored for the exam.
	ErrAnswerKeyNotFound = errors.New("answer key not found")
	// ErrNoDetections is returned when an operation requires detection facts the scan does not have yet.
	ErrNoDetections = errors.New("scan has no detection facts")
	// ErrScanNotReviewable is returned when a review action targets a superseded or failed scan.
	ErrScanNotReviewable = errors.New("scan cannot be reviewed in its current status")
)

// ValidationError reports an invalid request parameter. Transports map it to a
// 4xx response, distinct from not-found sentinels.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
