package app

import (
	"context"

	"ctf-scoring-service/internal/domain"
)

// AttributionResolver answers "does this user already hold credit" as a pure
// read over ledger history.
type AttributionResolver struct {
	ledger Ledger
}

func NewAttributionResolver(ledger Ledger) *AttributionResolver {
	return &AttributionResolver{ledger: ledger}
}

// HasCredit reports whether a correct record with points > 0 exists for key.
// Correct zero-point records are audit entries and never count.
func (r *AttributionResolver) HasCredit(ctx context.Context, key domain.CreditKey) (bool, error) {
	records, err := r.ledger.Query(ctx, key.Filter())
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.Credited() {
			return true, nil
		}
	}
	return false, nil
}

// Progress counts the targets of challenge that userID holds credit for in scope.
func (r *AttributionResolver) Progress(ctx context.Context, userID string, challenge domain.Challenge, scope domain.Scope) (domain.Progress, error) {
	correct := true
	records, err := r.ledger.Query(ctx, domain.SubmissionFilter{
		UserID:      userID,
		ChallengeID: challenge.ID,
		Scope:       &scope,
		IsCorrect:   &correct,
	})
	if err != nil {
		return domain.Progress{}, err
	}

	credited := make(map[string]bool)
	for _, rec := range records {
		if rec.Credited() {
			credited[rec.QuestionID] = true
		}
	}

	progress := domain.Progress{Total: challenge.Targets()}
	if !challenge.IsMultiQuestion() {
		if credited[""] {
			progress.Solved = 1
		}
		return progress, nil
	}
	for _, q := range challenge.Questions {
		if credited[q.ID] {
			progress.Solved++
		}
	}
	return progress, nil
}

// creditedTargets lists the target ids (empty for single-flag) credited in scope.
func (r *AttributionResolver) creditedTargets(ctx context.Context, userID string, challenge domain.Challenge, scope domain.Scope) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, qid := range targetIDs(challenge) {
		ok, err := r.HasCredit(ctx, domain.CreditKey{
			UserID:      userID,
			ChallengeID: challenge.ID,
			QuestionID:  qid,
			Scope:       scope,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			out[qid] = true
		}
	}
	return out, nil
}

func targetIDs(challenge domain.Challenge) []string {
	if !challenge.IsMultiQuestion() {
		return []string{""}
	}
	ids := make([]string, 0, len(challenge.Questions))
	for _, q := range challenge.Questions {
		ids = append(ids, q.ID)
	}
	return ids
}

func flagFor(challenge domain.Challenge, questionID string) string {
	if questionID == "" {
		return challenge.Flag
	}
	for _, q := range challenge.Questions {
		if q.ID == questionID {
			return q.Flag
		}
	}
	return ""
}
