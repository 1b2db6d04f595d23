// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Index errors.
	ErrIndexBuild   = errors.New("index build failed")
	ErrEmptyCatalog = errors.New("catalog is empty")

	// Extraction rejections, returned by the extraction collaborator.
	ErrNotAReceipt       = errors.New("document is not a receipt")
	ErrUnreadable        = errors.New("document is unreadable")
	ErrPartialExtraction = errors.New("extraction produced a partial record")

	// Adjudication errors.
	ErrMalformedAdjudication = errors.New("adjudicator output failed contract validation")
	ErrStepBudgetExceeded    = errors.New("adjudication exceeded step budget")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRejection reports whether the error is a typed extraction rejection
// rather than an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNotAReceipt) ||
		errors.Is(err, ErrUnreadable) ||
		errors.Is(err, ErrPartialExtraction)
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
