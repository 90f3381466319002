package memory

import (
	"context"
	"sort"
	"sync"

	"ctf-scoring-service/internal/app"
	"ctf-scoring-service/internal/domain"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of app.Store, app.Directory and
// ChallengeLoader. Transactions are serialized by a single mutex and staged
// writes are applied only when the transaction function succeeds.
type Store struct {
	mu sync.Mutex

	challenges     map[string]domain.Challenge
	challengeOrder []string
	solvers        map[string][]string

	events map[string]*domain.Event

	users     map[string]*domain.User
	userOrder []string

	submissions []domain.Submission
}

func NewStore() *Store {
	return &Store{
		challenges: make(map[string]domain.Challenge),
		solvers:    make(map[string][]string),
		events:     make(map[string]*domain.Event),
		users:      make(map[string]*domain.User),
	}
}

// NewStoreFromCatalog seeds a store; the catalog is validated first.
func NewStoreFromCatalog(catalog domain.Catalog) (*Store, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	s := NewStore()
	ctx := context.Background()
	for _, c := range catalog.Challenges {
		if err := s.PutChallenge(ctx, c); err != nil {
			return nil, err
		}
	}
	for _, e := range catalog.Events {
		if err := s.PutEvent(ctx, e); err != nil {
			return nil, err
		}
	}
	for _, u := range catalog.Users {
		user := u
		s.mu.Lock()
		s.putUserLocked(&user)
		s.mu.Unlock()
	}
	return s, nil
}

// PutChallenge inserts or replaces a challenge.
func (s *Store) PutChallenge(_ context.Context, challenge domain.Challenge) error {
	if err := challenge.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[challenge.ID]; !ok {
		s.challengeOrder = append(s.challengeOrder, challenge.ID)
	}
	for _, uid := range challenge.SolvedBy {
		s.addSolverLocked(challenge.ID, uid)
	}
	challenge.SolvedBy = nil
	s.challenges[challenge.ID] = challenge
	return nil
}

// PutEvent inserts or replaces an event.
func (s *Store) PutEvent(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Participants = append([]string(nil), event.Participants...)
	s.events[event.ID] = &event
	return nil
}

func (s *Store) LoadChallenge(_ context.Context, challengeID string) (domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challengeID]
	if !ok {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	return s.withSolversLocked(c), nil
}

func (s *Store) ListChallenges(_ context.Context, filter domain.ChallengeFilter) ([]domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Challenge, 0, len(s.challengeOrder))
	for _, id := range s.challengeOrder {
		c := s.challenges[id]
		if filter.Matches(c) {
			out = append(out, s.withSolversLocked(c))
		}
	}
	return out, nil
}

func (s *Store) withSolversLocked(c domain.Challenge) domain.Challenge {
	c.Questions = append([]domain.Question(nil), c.Questions...)
	c.SolvedBy = append([]string(nil), s.solvers[c.ID]...)
	return c
}

func (s *Store) Append(_ context.Context, submission domain.Submission) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if submission.Credited() && s.hasCreditLocked(creditKeyOf(submission)) {
		return "", domain.ErrAlreadyCredited
	}
	return s.appendLocked(submission), nil
}

func (s *Store) appendLocked(submission domain.Submission) string {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	s.submissions = append(s.submissions, submission)
	return submission.ID
}

// Query returns matching records in insertion order, or newest first when asked.
func (s *Store) Query(_ context.Context, filter domain.SubmissionFilter) ([]domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(filter), nil
}

func (s *Store) queryLocked(filter domain.SubmissionFilter) []domain.Submission {
	var out []domain.Submission
	for _, rec := range s.submissions {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	if filter.NewestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		})
	}
	return out
}

func (s *Store) hasCreditLocked(key domain.CreditKey) bool {
	for _, rec := range s.queryLocked(key.Filter()) {
		if rec.Credited() {
			return true
		}
	}
	return false
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &storeTx{store: s, points: make(map[string]int)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, sub := range tx.submissions {
		s.appendLocked(sub)
	}
	for _, sv := range tx.solvers {
		s.addSolverLocked(sv[0], sv[1])
	}
	for uid, pts := range tx.points {
		s.userLocked(uid).Points += pts
	}
	return nil
}

type storeTx struct {
	store       *Store
	submissions []domain.Submission
	solvers     [][2]string
	points      map[string]int
}

func (t *storeTx) HasCredit(_ context.Context, key domain.CreditKey) (bool, error) {
	if t.store.hasCreditLocked(key) {
		return true, nil
	}
	for _, rec := range t.submissions {
		if key.Filter().Matches(rec) && rec.Credited() {
			return true, nil
		}
	}
	return false, nil
}

func (t *storeTx) Append(ctx context.Context, submission domain.Submission) (string, error) {
	if submission.Credited() {
		credited, _ := t.HasCredit(ctx, creditKeyOf(submission))
		if credited {
			return "", domain.ErrAlreadyCredited
		}
	}
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	t.submissions = append(t.submissions, submission)
	return submission.ID, nil
}

func (t *storeTx) AddSolver(_ context.Context, challengeID, userID string) error {
	t.solvers = append(t.solvers, [2]string{challengeID, userID})
	return nil
}

func (t *storeTx) AddPoints(_ context.Context, userID string, points int) error {
	t.points[userID] += points
	return nil
}

func creditKeyOf(s domain.Submission) domain.CreditKey {
	return domain.CreditKey{
		UserID:      s.UserID,
		ChallengeID: s.ChallengeID,
		QuestionID:  s.QuestionID,
		Scope:       s.Scope(),
	}
}

func (s *Store) addSolverLocked(challengeID, userID string) {
	for _, id := range s.solvers[challengeID] {
		if id == userID {
			return
		}
	}
	s.solvers[challengeID] = append(s.solvers[challengeID], userID)

	u := s.userLocked(userID)
	for _, id := range u.SolvedChallenges {
		if id == challengeID {
			return
		}
	}
	u.SolvedChallenges = append(u.SolvedChallenges, challengeID)
}

func (s *Store) userLocked(userID string) *domain.User {
	if u, ok := s.users[userID]; ok {
		return u
	}
	u := &domain.User{ID: userID, Username: userID}
	s.putUserLocked(u)
	return u
}

func (s *Store) putUserLocked(u *domain.User) {
	if _, ok := s.users[u.ID]; !ok {
		s.userOrder = append(s.userOrder, u.ID)
	}
	s.users[u.ID] = u
}

func (s *Store) GetEvent(_ context.Context, eventID string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	out := *e
	out.Participants = append([]string(nil), e.Participants...)
	return out, nil
}

func (s *Store) AddParticipant(_ context.Context, eventID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return domain.ErrEventNotFound
	}
	if e.HasParticipant(userID) {
		return nil
	}
	e.Participants = append(e.Participants, userID)
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	out := *u
	out.SolvedChallenges = append([]string(nil), u.SolvedChallenges...)
	return out, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		u := *s.users[id]
		u.SolvedChallenges = append([]string(nil), u.SolvedChallenges...)
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) EnsureUser(_ context.Context, identity domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(identity.UserID)
	if identity.DisplayName != "" {
		u.Username = identity.DisplayName
	}
	return nil
}
