package app

import (
	"context"

	"ctf-scoring-service/internal/domain"
)

// ChallengeRepository reads the challenge catalog (from cache/backing store).
type ChallengeRepository interface {
	GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error)
	ListChallenges(ctx context.Context, filter domain.ChallengeFilter) ([]domain.Challenge, error)
}

// CatalogWriter seeds challenges and events. Authoring UIs live elsewhere.
type CatalogWriter interface {
	PutChallenge(ctx context.Context, challenge domain.Challenge) error
	PutEvent(ctx context.Context, event domain.Event) error
}

// Ledger is the append-only submission log. There is no update or delete.
type Ledger interface {
	Append(ctx context.Context, submission domain.Submission) (string, error)
	Query(ctx context.Context, filter domain.SubmissionFilter) ([]domain.Submission, error)
}

// LedgerTx is the transactional view used while recording one submission.
// Implementations must perform every read before the first write.
type LedgerTx interface {
	HasCredit(ctx context.Context, key domain.CreditKey) (bool, error)
	// Append records the submission. A credited record whose key already holds
	// credit must fail with domain.ErrAlreadyCredited.
	Append(ctx context.Context, submission domain.Submission) (string, error)
	AddSolver(ctx context.Context, challengeID, userID string) error
	AddPoints(ctx context.Context, userID string, points int) error
}

// Store is a Ledger that can run the credit check and its writes atomically.
type Store interface {
	Ledger
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// Directory resolves events, their participants, and users.
type Directory interface {
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	AddParticipant(ctx context.Context, eventID, userID string) error
	GetUser(ctx context.Context, userID string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	// EnsureUser creates the user if absent and refreshes a non-empty display name.
	EnsureUser(ctx context.Context, identity domain.Identity) error
}

// Notifier fans out ledger changes per scope.
type Notifier interface {
	Publish(ctx context.Context, change domain.Change) error
	// Subscribe returns a channel of changes for scope. The caller must invoke
	// the returned cancel function to avoid leaks.
	Subscribe(ctx context.Context, scope domain.Scope) (<-chan domain.Change, func(), error)
}
