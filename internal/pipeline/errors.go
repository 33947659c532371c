package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a publish failure for retry decisions and reporting.
type ErrorKind string

// Failure classes. The worker retries transient kinds and terminally fails
// the job on the rest.
const (
	ErrKindValidation               ErrorKind = "validation"
	ErrKindUnauthorized             ErrorKind = "unauthorized"
	ErrKindCredentialsNotConfigured ErrorKind = "credentials_not_configured"
	ErrKindAuthentication           ErrorKind = "authentication"
	ErrKindElementNotFound          ErrorKind = "element_not_found"
	ErrKindEditorDetection          ErrorKind = "editor_detection"
	ErrKindPublishConfirmation      ErrorKind = "publish_confirmation"
	ErrKindContentGeneration        ErrorKind = "content_generation"
	ErrKindUnknown                  ErrorKind = "unknown"
)

// ClassifiedError tags an underlying error with a failure class.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify wraps err with the given kind. A nil err yields nil.
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &ClassifiedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure class of err, or ErrKindUnknown.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrKindUnknown
}

// IsRetryable reports whether another attempt could plausibly succeed.
// Configuration and authorization problems do not change mid-run; everything
// UI- or network-shaped might be transient load and is worth a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case ErrKindValidation, ErrKindUnauthorized, ErrKindCredentialsNotConfigured:
			return false
		default:
			// Step timeouts surface as wrapped deadline errors but the cause
			// may be transient load rather than permanent UI drift.
			return true
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
