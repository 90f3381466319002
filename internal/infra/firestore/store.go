package firestore

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"ctf-scoring-service/internal/app"
	"ctf-scoring-service/internal/domain"
)

// Store implements app.Store, app.Directory, app.CatalogWriter and the challenge
// loader on Firestore. Every credited submission also creates a marker document
// in the credits collection keyed by its credit key; a second create of the
// same marker fails the transaction with AlreadyExists.
type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

func (s *Store) submissions() *firestore.CollectionRef {
	return s.client.Collection(submissionsCollection)
}

func (s *Store) Append(ctx context.Context, submission domain.Submission) (string, error) {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	_, err := s.submissions().Doc(submission.ID).Create(ctx, toSubmissionDoc(submission))
	if err != nil {
		return "", domain.Unavailable("append submission", err)
	}
	return submission.ID, nil
}

// Query filters on the server and orders in process; ordering server-side
// would need a composite index per filter combination.
func (s *Store) Query(ctx context.Context, filter domain.SubmissionFilter) ([]domain.Submission, error) {
	docs, err := s.submissionQuery(filter).Documents(ctx).GetAll()
	if err != nil {
		return nil, domain.Unavailable("query submissions", err)
	}
	return decodeSubmissions(docs, filter)
}

func (s *Store) submissionQuery(f domain.SubmissionFilter) firestore.Query {
	q := s.submissions().Query
	if f.UserID != "" {
		q = q.Where("userId", "==", f.UserID)
	}
	if f.ChallengeID != "" {
		q = q.Where("challengeId", "==", f.ChallengeID)
	}
	if f.QuestionID != nil {
		q = q.Where("questionId", "==", *f.QuestionID)
	}
	if f.Scope != nil {
		q = q.Where("scopeEventId", "==", f.Scope.EventID)
	}
	if f.IsCorrect != nil {
		q = q.Where("isCorrect", "==", *f.IsCorrect)
	}
	return q
}

func decodeSubmissions(docs []*firestore.DocumentSnapshot, filter domain.SubmissionFilter) ([]domain.Submission, error) {
	out := make([]domain.Submission, 0, len(docs))
	for _, doc := range docs {
		var d submissionDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, domain.Unavailable("decode submission", err)
		}
		out = append(out, d.toDomain(doc.Ref.ID))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if filter.NewestFirst {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.LedgerTx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &storeTx{store: s, tx: tx})
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrStorageUnavailable),
		errors.Is(err, domain.ErrAlreadyCredited),
		errors.Is(err, domain.ErrNotFound):
		return err
	case isAlreadyExists(err):
		// The credit marker was created by a concurrent transaction.
		return domain.ErrAlreadyCredited
	default:
		return domain.Unavailable("run transaction", err)
	}
}

type storeTx struct {
	store *Store
	tx    *firestore.Transaction
}

func (t *storeTx) HasCredit(_ context.Context, key domain.CreditKey) (bool, error) {
	marker, err := t.tx.Get(t.store.client.Collection(creditsCollection).Doc(creditDocID(key)))
	if err != nil && !isNotFound(err) {
		return false, domain.Unavailable("check credit", err)
	}
	if err == nil && marker.Exists() {
		return true, nil
	}

	// Records written before markers existed.
	docs, err := t.tx.Documents(t.store.submissionQuery(key.Filter())).GetAll()
	if err != nil {
		return false, domain.Unavailable("check credit", err)
	}
	records, err := decodeSubmissions(docs, domain.SubmissionFilter{})
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

func (t *storeTx) Append(_ context.Context, submission domain.Submission) (string, error) {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	if submission.Credited() {
		key := domain.CreditKey{
			UserID:      submission.UserID,
			ChallengeID: submission.ChallengeID,
			QuestionID:  submission.QuestionID,
			Scope:       submission.Scope(),
		}
		marker := t.store.client.Collection(creditsCollection).Doc(creditDocID(key))
		if err := t.tx.Create(marker, map[string]interface{}{
			"key":          key.String(),
			"submissionId": submission.ID,
		}); err != nil {
			return "", domain.Unavailable("create credit marker", err)
		}
	}
	if err := t.tx.Create(t.store.submissions().Doc(submission.ID), toSubmissionDoc(submission)); err != nil {
		return "", domain.Unavailable("append submission", err)
	}
	return submission.ID, nil
}

func (t *storeTx) AddSolver(_ context.Context, challengeID, userID string) error {
	challenge := t.store.client.Collection(challengesCollection).Doc(challengeID)
	if err := t.tx.Update(challenge, []firestore.Update{
		{Path: "solvedBy", Value: firestore.ArrayUnion(userID)},
	}); err != nil {
		return domain.Unavailable("add solver", err)
	}
	user := t.store.client.Collection(usersCollection).Doc(userID)
	if err := t.tx.Set(user, map[string]interface{}{
		"solvedChallenges": firestore.ArrayUnion(challengeID),
	}, firestore.MergeAll); err != nil {
		return domain.Unavailable("add solved challenge", err)
	}
	return nil
}

func (t *storeTx) AddPoints(_ context.Context, userID string, points int) error {
	user := t.store.client.Collection(usersCollection).Doc(userID)
	if err := t.tx.Set(user, map[string]interface{}{
		"points": firestore.Increment(points),
	}, firestore.MergeAll); err != nil {
		return domain.Unavailable("add points", err)
	}
	return nil
}

func (s *Store) LoadChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	snap, err := s.client.Collection(challengesCollection).Doc(challengeID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return domain.Challenge{}, domain.ErrChallengeNotFound
		}
		return domain.Challenge{}, domain.Unavailable("load challenge", err)
	}
	var d challengeDoc
	if err := snap.DataTo(&d); err != nil {
		return domain.Challenge{}, domain.Unavailable("decode challenge", err)
	}
	return d.toDomain(snap.Ref.ID), nil
}

func (s *Store) ListChallenges(ctx context.Context, filter domain.ChallengeFilter) ([]domain.Challenge, error) {
	q := s.client.Collection(challengesCollection).Query
	if filter.EventID != "" {
		q = q.Where("eventId", "==", filter.EventID)
	}
	if filter.ActiveOnly {
		q = q.Where("active", "==", true)
	}
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, domain.Unavailable("list challenges", err)
	}
	out := make([]domain.Challenge, 0, len(docs))
	for _, doc := range docs {
		var d challengeDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, domain.Unavailable("decode challenge", err)
		}
		out = append(out, d.toDomain(doc.Ref.ID))
	}
	return out, nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	snap, err := s.client.Collection(eventsCollection).Doc(eventID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, domain.Unavailable("get event", err)
	}
	var d eventDoc
	if err := snap.DataTo(&d); err != nil {
		return domain.Event{}, domain.Unavailable("decode event", err)
	}
	return d.toDomain(snap.Ref.ID), nil
}

func (s *Store) AddParticipant(ctx context.Context, eventID, userID string) error {
	_, err := s.client.Collection(eventsCollection).Doc(eventID).Update(ctx, []firestore.Update{
		{Path: "participants", Value: firestore.ArrayUnion(userID)},
	})
	if err != nil {
		if isNotFound(err) {
			return domain.ErrEventNotFound
		}
		return domain.Unavailable("add participant", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	snap, err := s.client.Collection(usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, domain.Unavailable("get user", err)
	}
	var d userDoc
	if err := snap.DataTo(&d); err != nil {
		return domain.User{}, domain.Unavailable("decode user", err)
	}
	return domain.User{ID: userID, Username: d.Username, Points: d.Points, SolvedChallenges: d.SolvedChallenges}, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	docs, err := s.client.Collection(usersCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, domain.Unavailable("list users", err)
	}
	out := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		var d userDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, domain.Unavailable("decode user", err)
		}
		out = append(out, domain.User{ID: doc.Ref.ID, Username: d.Username, Points: d.Points, SolvedChallenges: d.SolvedChallenges})
	}
	return out, nil
}

func (s *Store) EnsureUser(ctx context.Context, identity domain.Identity) error {
	ref := s.client.Collection(usersCollection).Doc(identity.UserID)
	if identity.DisplayName != "" {
		_, err := ref.Set(ctx, map[string]interface{}{"username": identity.DisplayName}, firestore.MergeAll)
		return domain.Unavailable("ensure user", err)
	}
	_, err := ref.Create(ctx, map[string]interface{}{"username": identity.UserID, "points": 0})
	if err != nil && !isAlreadyExists(err) {
		return domain.Unavailable("ensure user", err)
	}
	return nil
}

func (s *Store) PutChallenge(ctx context.Context, challenge domain.Challenge) error {
	if err := challenge.Validate(); err != nil {
		return err
	}
	ref := s.client.Collection(challengesCollection).Doc(challenge.ID)
	if _, err := ref.Set(ctx, challengeFields(challenge), firestore.MergeAll); err != nil {
		return domain.Unavailable("put challenge", err)
	}
	if len(challenge.SolvedBy) == 0 {
		return nil
	}
	solvers := make([]interface{}, 0, len(challenge.SolvedBy))
	for _, uid := range challenge.SolvedBy {
		solvers = append(solvers, uid)
	}
	_, err := ref.Update(ctx, []firestore.Update{{Path: "solvedBy", Value: firestore.ArrayUnion(solvers...)}})
	return domain.Unavailable("put challenge solvers", err)
}

func (s *Store) PutEvent(ctx context.Context, event domain.Event) error {
	ref := s.client.Collection(eventsCollection).Doc(event.ID)
	participants := make([]interface{}, 0, len(event.Participants))
	for _, uid := range event.Participants {
		participants = append(participants, uid)
	}
	_, err := ref.Set(ctx, map[string]interface{}{
		"name":         event.Name,
		"status":       string(event.Status),
		"startsAt":     event.StartsAt,
		"endsAt":       event.EndsAt,
		"participants": firestore.ArrayUnion(participants...),
	}, firestore.MergeAll)
	return domain.Unavailable("put event", err)
}
