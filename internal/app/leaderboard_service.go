package app

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"ctf-scoring-service/internal/domain"
	"ctf-scoring-service/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const defaultLeaderboardConcurrency = 8

// LeaderboardService recomputes ranked scores of a scope from the ledger.
type LeaderboardService struct {
	challenges  ChallengeRepository
	ledger      Ledger
	directory   Directory
	notifier    Notifier
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

func NewLeaderboardService(challenges ChallengeRepository, ledger Ledger, directory Directory, notifier Notifier, concurrency int, logger *slog.Logger) *LeaderboardService {
	if concurrency <= 0 {
		concurrency = defaultLeaderboardConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardService{
		challenges:  challenges,
		ledger:      ledger,
		directory:   directory,
		notifier:    notifier,
		concurrency: concurrency,
		logger:      logger.With("component", "leaderboard"),
		now:         time.Now,
	}
}

type participant struct {
	userID   string
	username string
}

type target struct {
	challengeID string
	questionID  string
}

// Compute ranks every participant of scope by the sum of their deduplicated
// credited submissions on the scope's challenge set.
func (s *LeaderboardService) Compute(ctx context.Context, scope domain.Scope) (domain.Leaderboard, error) {
	defer metrics.ObserveLeaderboard(scope.IsGlobal(), time.Now())

	participants, err := s.participants(ctx, scope)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	filter := domain.ChallengeFilter{EventID: scope.EventID, ActiveOnly: scope.IsGlobal()}
	challenges, err := s.challenges.ListChallenges(ctx, filter)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	byID := make(map[string]domain.Challenge, len(challenges))
	for _, c := range challenges {
		byID[c.ID] = c
	}

	entries := make([]domain.LeaderboardEntry, len(participants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range participants {
		i, p := i, p
		g.Go(func() error {
			entry, err := s.tally(gctx, p, scope, byID)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Leaderboard{}, err
	}

	rankEntries(entries)
	return domain.Leaderboard{
		Scope:     scope,
		Entries:   entries,
		UpdatedAt: s.now(),
	}, nil
}

func (s *LeaderboardService) participants(ctx context.Context, scope domain.Scope) ([]participant, error) {
	users, err := s.directory.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if scope.IsGlobal() {
		out := make([]participant, 0, len(users))
		for _, u := range users {
			out = append(out, participant{userID: u.ID, username: u.Username})
		}
		return out, nil
	}

	event, err := s.directory.GetEvent(ctx, scope.EventID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}
	out := make([]participant, 0, len(event.Participants))
	seen := make(map[string]struct{}, len(event.Participants))
	for _, id := range event.Participants {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		name := names[id]
		if name == "" {
			name = id
		}
		out = append(out, participant{userID: id, username: name})
	}
	return out, nil
}

func (s *LeaderboardService) tally(ctx context.Context, p participant, scope domain.Scope, challenges map[string]domain.Challenge) (domain.LeaderboardEntry, error) {
	correct := true
	records, err := s.ledger.Query(ctx, domain.SubmissionFilter{
		UserID:    p.userID,
		Scope:     &scope,
		IsCorrect: &correct,
	})
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SubmittedAt.Before(records[j].SubmittedAt)
	})

	best := make(map[target]int)
	reached := make(map[target]time.Time)
	for _, rec := range records {
		c, ok := challenges[rec.ChallengeID]
		if !ok {
			continue
		}
		points := rec.PointsAwarded
		if points == domain.PointsUnrecorded {
			points = c.PointsFor(rec.QuestionID)
		}
		t := target{challengeID: rec.ChallengeID, questionID: rec.QuestionID}
		if prev, seen := best[t]; seen && prev >= points {
			continue
		}
		best[t] = points
		reached[t] = rec.SubmittedAt
	}

	entry := domain.LeaderboardEntry{
		UserID:      p.userID,
		Username:    p.username,
		SolvedCount: len(best),
	}
	for t, points := range best {
		entry.Score += points
		if points > 0 && reached[t].After(entry.LastSolvedAt) {
			entry.LastSolvedAt = reached[t]
		}
	}
	return entry, nil
}

// rankEntries sorts by score descending; ties go to whoever reached the score
// first, then username, then user id. Users who never scored sort last.
func rankEntries(entries []domain.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.LastSolvedAt.Equal(b.LastSolvedAt) {
			if a.LastSolvedAt.IsZero() {
				return false
			}
			if b.LastSolvedAt.IsZero() {
				return true
			}
			return a.LastSolvedAt.Before(b.LastSolvedAt)
		}
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.UserID < b.UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// Watch returns a channel that receives the scope's leaderboard: an initial
// snapshot, then a recomputation after every change notification. Slow
// receivers only ever see the freshest snapshot.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *LeaderboardService) Watch(ctx context.Context, scope domain.Scope) (<-chan domain.Leaderboard, func(), error) {
	initial, err := s.Compute(ctx, scope)
	if err != nil {
		return nil, nil, err
	}
	changes, unsubscribe, err := s.notifier.Subscribe(ctx, scope)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan domain.Leaderboard, 1)
	out <- initial

	watchCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	metrics.LeaderboardWatchers.Inc()

	go func() {
		defer close(done)
		defer close(out)
		defer metrics.LeaderboardWatchers.Dec()
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				lb, err := s.Compute(watchCtx, scope)
				if err != nil {
					if watchCtx.Err() == nil {
						s.logger.WarnContext(watchCtx, "recompute leaderboard", "scope", scope.String(), "error", err)
					}
					continue
				}
				pushLatest(out, lb)
			}
		}
	}()

	cancel := func() {
		stop()
		unsubscribe()
		<-done
	}
	return out, cancel, nil
}

// pushLatest replaces a pending snapshot instead of blocking on slow receivers.
// out must have a single producer.
func pushLatest(out chan domain.Leaderboard, lb domain.Leaderboard) {
	select {
	case out <- lb:
	default:
		select {
		case <-out:
		default:
		}
		out <- lb
	}
}
