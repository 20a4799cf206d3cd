package errors

import (
	"context"
	"errors"
	"strings"
)

// Class is the retry disposition of an execution error.
type Class string

const (
	// ClassRetryable means the attempt may be repeated.
	ClassRetryable Class = "retryable"
	// ClassNonRetryable means the failure is final.
	ClassNonRetryable Class = "non_retryable"
	// ClassTimeout means the attempt deadline expired; retried only when
	// the caller opts into retry-on-timeout.
	ClassTimeout Class = "timeout"
)

// nonRetryableFragments is the legacy substring match kept for dispatchers
// that return plain errors instead of coded ones.
var nonRetryableFragments = []string{"not found", "invalid", "unauthorized"}

// Classify maps an execution error to its retry class. Coded errors are
// authoritative; uncoded errors fall back to substring matching so that
// plain "user not found" style failures are still treated as final.
func Classify(err error) Class {
	if err == nil {
		return ClassRetryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}

	switch GetCode(err) {
	case ErrCodeTimeout:
		return ClassTimeout
	case ErrCodeNonRetryable, ErrCodeNotFound, ErrCodeValidation, ErrCodeState, ErrCodeCanceled:
		return ClassNonRetryable
	case ErrCodeExecution, ErrCodeRepository, ErrCodeInternal, ErrCodeNotReady, ErrCodeConflict:
		return ClassRetryable
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range nonRetryableFragments {
		if strings.Contains(msg, fragment) {
			return ClassNonRetryable
		}
	}

	return ClassRetryable
}
