package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the parent of every missing-entity error.
	ErrNotFound = errors.New("not found")
	// ErrChallengeNotFound is returned when a challenge id does not resolve.
	ErrChallengeNotFound = fmt.Errorf("challenge %w", ErrNotFound)
	// ErrEventNotFound is returned when an event id does not resolve.
	ErrEventNotFound = fmt.Errorf("event %w", ErrNotFound)
	// ErrUserNotFound is returned when a user id does not resolve.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)

	// ErrInactiveChallenge rejects submissions to disabled challenges before any ledger write.
	ErrInactiveChallenge = errors.New("challenge is not active")
	// ErrChallengeNotInEvent rejects event-scoped attempts on challenges of another scope.
	ErrChallengeNotInEvent = errors.New("challenge does not belong to event")

	// ErrStorageUnavailable wraps failures of the backing store. Retryable.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSubmissionFailed is returned when recording a submission failed. Retryable.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrAlreadyCredited signals credit is already held for the target.
	ErrAlreadyCredited = errors.New("already credited")
	// ErrNoPracticeCredit rejects event claims for challenges never solved in practice.
	ErrNoPracticeCredit = errors.New("no practice credit to claim")

	// ErrInvalidChallenge rejects malformed catalog entries.
	ErrInvalidChallenge = errors.New("invalid challenge")
	// ErrDuplicateSecret rejects multi-question challenges whose sub-questions share a flag.
	ErrDuplicateSecret = fmt.Errorf("%w: duplicate sub-question flag", ErrInvalidChallenge)

	// ErrUnauthenticated is returned when no identity accompanies a request.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Unavailable wraps a store error so callers can match ErrStorageUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
