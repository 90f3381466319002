package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ctf-scoring-service/internal/domain"
	"ctf-scoring-service/internal/metrics"
)

// ScoringService contains the flag submission use cases.
type ScoringService struct {
	challenges  ChallengeRepository
	store       Store
	directory   Directory
	notifier    Notifier
	attribution *AttributionResolver
	logger      *slog.Logger
	now         func() time.Time
}

func NewScoringService(challenges ChallengeRepository, store Store, directory Directory, notifier Notifier, logger *slog.Logger) *ScoringService {
	return NewScoringServiceWithClock(challenges, store, directory, notifier, logger, time.Now)
}

// NewScoringServiceWithClock allows deterministic timestamps in tests.
func NewScoringServiceWithClock(challenges ChallengeRepository, store Store, directory Directory, notifier Notifier, logger *slog.Logger, now func() time.Time) *ScoringService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoringService{
		challenges:  challenges,
		store:       store,
		directory:   directory,
		notifier:    notifier,
		attribution: NewAttributionResolver(store),
		logger:      logger.With("component", "scoring"),
		now:         now,
	}
}

// Submit validates a flag for a challenge within scope and records the attempt.
// A duplicate correct answer is recorded with zero points and AlreadyCredited set.
func (s *ScoringService) Submit(ctx context.Context, identity domain.Identity, challengeID, value string, scope domain.Scope) (domain.SubmissionResult, error) {
	if identity.UserID == "" {
		return domain.SubmissionResult{}, domain.ErrUnauthenticated
	}
	challenge, err := s.loadForScope(ctx, challengeID, scope)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	correct, questionID := challenge.Match(value)
	return s.record(ctx, identity, challenge, value, correct, questionID, scope)
}

// ClaimForEvent replays the stored flags of every target the user solved in
// practice into the event scope. The stored answer key is trusted; no proof of
// an independent solve is required.
func (s *ScoringService) ClaimForEvent(ctx context.Context, identity domain.Identity, challengeID, eventID string) (domain.SubmissionResult, error) {
	if identity.UserID == "" {
		return domain.SubmissionResult{}, domain.ErrUnauthenticated
	}
	scope := domain.EventScope(eventID)
	challenge, err := s.loadForScope(ctx, challengeID, scope)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	practiced, err := s.attribution.creditedTargets(ctx, identity.UserID, challenge, domain.GlobalScope)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if len(practiced) == 0 {
		return domain.SubmissionResult{}, domain.ErrNoPracticeCredit
	}
	held, err := s.attribution.creditedTargets(ctx, identity.UserID, challenge, scope)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	var (
		claimed int
		result  = domain.SubmissionResult{ChallengeID: challenge.ID, IsCorrect: true}
	)
	for _, qid := range targetIDs(challenge) {
		if !practiced[qid] || held[qid] {
			continue
		}
		res, err := s.record(ctx, identity, challenge, flagFor(challenge, qid), true, qid, scope)
		if err != nil {
			return domain.SubmissionResult{}, err
		}
		if res.AlreadyCredited {
			continue
		}
		claimed++
		result.SubmissionID = res.SubmissionID
		result.QuestionID = res.QuestionID
		result.PointsAwarded += res.PointsAwarded
		result.Progress = res.Progress
	}
	if claimed == 0 {
		return domain.SubmissionResult{}, domain.ErrAlreadyCredited
	}

	metrics.EventClaims.Inc()
	s.logger.WarnContext(ctx, "event credit claimed from practice solve",
		"user_id", identity.UserID,
		"challenge_id", challenge.ID,
		"event_id", eventID,
		"targets", claimed,
		"points", result.PointsAwarded,
	)
	return result, nil
}

// RegisterForEvent adds the caller to the event's participant set.
func (s *ScoringService) RegisterForEvent(ctx context.Context, identity domain.Identity, eventID string) error {
	if identity.UserID == "" {
		return domain.ErrUnauthenticated
	}
	event, err := s.directory.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.HasParticipant(identity.UserID) {
		return nil
	}
	if err := s.directory.EnsureUser(ctx, identity); err != nil {
		return err
	}
	if err := s.directory.AddParticipant(ctx, eventID, identity.UserID); err != nil {
		return err
	}
	s.publish(ctx, domain.Change{Scope: domain.EventScope(eventID), UserID: identity.UserID, At: s.now()})
	return nil
}

// Progress reports how many targets of a challenge the user holds credit for.
func (s *ScoringService) Progress(ctx context.Context, userID, challengeID string, scope domain.Scope) (domain.Progress, error) {
	challenge, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.Progress{}, err
	}
	return s.attribution.Progress(ctx, userID, challenge, scope)
}

// History returns a user's submissions newest first.
func (s *ScoringService) History(ctx context.Context, userID string, filter domain.SubmissionFilter) ([]domain.Submission, error) {
	filter.UserID = userID
	filter.NewestFirst = true
	return s.store.Query(ctx, filter)
}

func (s *ScoringService) loadForScope(ctx context.Context, challengeID string, scope domain.Scope) (domain.Challenge, error) {
	challenge, err := s.challenges.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.Challenge{}, err
	}
	if !challenge.Active {
		return domain.Challenge{}, domain.ErrInactiveChallenge
	}
	if scope.IsGlobal() {
		return challenge, nil
	}
	if _, err := s.directory.GetEvent(ctx, scope.EventID); err != nil {
		return domain.Challenge{}, err
	}
	if challenge.EventID != scope.EventID {
		return domain.Challenge{}, domain.ErrChallengeNotInEvent
	}
	return challenge, nil
}

// record runs the credit check and every write of one attempt in a single
// store transaction keyed on the credit key.
func (s *ScoringService) record(ctx context.Context, identity domain.Identity, challenge domain.Challenge, value string, correct bool, questionID string, scope domain.Scope) (domain.SubmissionResult, error) {
	if err := s.directory.EnsureUser(ctx, identity); err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err)
	}

	key := domain.CreditKey{
		UserID:      identity.UserID,
		ChallengeID: challenge.ID,
		QuestionID:  questionID,
		Scope:       scope,
	}

	var result domain.SubmissionResult
	attempt := func() error {
		return s.store.RunInTx(ctx, func(ctx context.Context, tx LedgerTx) error {
			result = domain.SubmissionResult{
				ChallengeID: challenge.ID,
				QuestionID:  questionID,
				IsCorrect:   correct,
			}

			points := 0
			if correct {
				credited, err := tx.HasCredit(ctx, key)
				if err != nil {
					return err
				}
				if credited {
					result.AlreadyCredited = true
				} else {
					points = challenge.PointsFor(questionID)
				}
			}

			id, err := tx.Append(ctx, domain.Submission{
				ChallengeID:    challenge.ID,
				UserID:         identity.UserID,
				SubmittedValue: value,
				IsCorrect:      correct,
				PointsAwarded:  points,
				ScopeEventID:   scope.EventID,
				QuestionID:     questionID,
				SubmittedAt:    s.now(),
			})
			if err != nil {
				return err
			}
			result.SubmissionID = id
			result.PointsAwarded = points

			if correct {
				if err := tx.AddSolver(ctx, challenge.ID, identity.UserID); err != nil {
					return err
				}
			}
			if points > 0 {
				if err := tx.AddPoints(ctx, identity.UserID, points); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := attempt()
	if errors.Is(err, domain.ErrAlreadyCredited) {
		// Lost a race on the store's credit backstop; the re-run sees the credit.
		s.logger.InfoContext(ctx, "credit race lost, re-recording", "credit_key", key.String())
		err = attempt()
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "record submission", "credit_key", key.String(), "error", err)
		return domain.SubmissionResult{}, fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err)
	}

	progress, err := s.attribution.Progress(ctx, identity.UserID, challenge, scope)
	if err != nil {
		s.logger.WarnContext(ctx, "load progress", "credit_key", key.String(), "error", err)
	}
	result.Progress = progress

	s.observe(scope, result)
	s.publish(ctx, domain.Change{
		Scope:        scope,
		ChallengeID:  challenge.ID,
		UserID:       identity.UserID,
		SubmissionID: result.SubmissionID,
		At:           s.now(),
	})
	return result, nil
}

func (s *ScoringService) observe(scope domain.Scope, result domain.SubmissionResult) {
	label := metrics.ScopeLabel(scope.IsGlobal())
	outcome := "wrong"
	switch {
	case result.AlreadyCredited:
		outcome = "duplicate"
	case result.IsCorrect:
		outcome = "credited"
	}
	metrics.Submissions.WithLabelValues(label, outcome).Inc()
	if result.PointsAwarded > 0 {
		metrics.PointsAwarded.WithLabelValues(label).Add(float64(result.PointsAwarded))
	}
}

func (s *ScoringService) publish(ctx context.Context, change domain.Change) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, change); err != nil {
		s.logger.WarnContext(ctx, "publish change", "scope", change.Scope.String(), "error", err)
	}
}
