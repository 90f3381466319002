package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ctf-scoring-service/internal/app"
	"ctf-scoring-service/internal/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Store is the Postgres implementation of app.Store, app.Directory and
// app.CatalogWriter. The credit check of a submission runs under a
// transaction-scoped advisory lock on the credit key; the partial unique index
// uq_submissions_credit rejects anything that slips past it.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, submission domain.Submission) (string, error) {
	return appendSubmission(ctx, s.db, submission)
}

func appendSubmission(ctx context.Context, db bun.IDB, submission domain.Submission) (string, error) {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	model := toSubmissionModel(submission)
	if _, err := db.NewInsert().Model(&model).Exec(ctx); err != nil {
		return "", mapErr("append submission", err)
	}
	return submission.ID, nil
}

func (s *Store) Query(ctx context.Context, filter domain.SubmissionFilter) ([]domain.Submission, error) {
	var rows []submissionModel
	q := s.db.NewSelect().Model(&rows)
	applySubmissionFilter(q, filter)
	if filter.NewestFirst {
		q.OrderExpr("s.submitted_at DESC, s.seq DESC")
	} else {
		q.OrderExpr("s.seq ASC")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, mapErr("query submissions", err)
	}
	out := make([]domain.Submission, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func applySubmissionFilter(q *bun.SelectQuery, f domain.SubmissionFilter) *bun.SelectQuery {
	if f.UserID != "" {
		q.Where("s.user_id = ?", f.UserID)
	}
	if f.ChallengeID != "" {
		q.Where("s.challenge_id = ?", f.ChallengeID)
	}
	if f.QuestionID != nil {
		q.Where("s.question_id = ?", *f.QuestionID)
	}
	if f.Scope != nil {
		q.Where("s.scope_event_id = ?", f.Scope.EventID)
	}
	if f.IsCorrect != nil {
		q.Where("s.is_correct = ?", *f.IsCorrect)
	}
	return q
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.LedgerTx) error) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &storeTx{tx: tx, locked: make(map[string]struct{})})
	})
	return mapErr("run transaction", err)
}

type storeTx struct {
	tx     bun.Tx
	locked map[string]struct{}
}

func (t *storeTx) lock(ctx context.Context, key domain.CreditKey) error {
	k := key.String()
	if _, ok := t.locked[k]; ok {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", k); err != nil {
		return mapErr("lock credit key", err)
	}
	t.locked[k] = struct{}{}
	return nil
}

func (t *storeTx) HasCredit(ctx context.Context, key domain.CreditKey) (bool, error) {
	if err := t.lock(ctx, key); err != nil {
		return false, err
	}
	exists, err := t.tx.NewSelect().
		Model((*submissionModel)(nil)).
		Where("s.user_id = ?", key.UserID).
		Where("s.challenge_id = ?", key.ChallengeID).
		Where("s.question_id = ?", key.QuestionID).
		Where("s.scope_event_id = ?", key.Scope.EventID).
		Where("s.is_correct").
		Where("s.points_awarded > 0").
		Exists(ctx)
	if err != nil {
		return false, mapErr("check credit", err)
	}
	return exists, nil
}

func (t *storeTx) Append(ctx context.Context, submission domain.Submission) (string, error) {
	if submission.Credited() {
		key := domain.CreditKey{
			UserID:      submission.UserID,
			ChallengeID: submission.ChallengeID,
			QuestionID:  submission.QuestionID,
			Scope:       submission.Scope(),
		}
		if err := t.lock(ctx, key); err != nil {
			return "", err
		}
	}
	return appendSubmission(ctx, t.tx, submission)
}

func (t *storeTx) AddSolver(ctx context.Context, challengeID, userID string) error {
	_, err := t.tx.NewInsert().
		Model(&challengeSolverModel{ChallengeID: challengeID, UserID: userID}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return mapErr("add solver", err)
}

func (t *storeTx) AddPoints(ctx context.Context, userID string, points int) error {
	res, err := t.tx.NewUpdate().
		Model((*userModel)(nil)).
		Set("points = points + ?", points).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return mapErr("add points", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	var event eventModel
	err := s.db.NewSelect().Model(&event).Where("e.id = ?", eventID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, mapErr("get event", err)
	}

	var participants []string
	err = s.db.NewSelect().
		Model((*participantModel)(nil)).
		Column("user_id").
		Where("ep.event_id = ?", eventID).
		OrderExpr("ep.joined_at ASC, ep.user_id ASC").
		Scan(ctx, &participants)
	if err != nil {
		return domain.Event{}, mapErr("list participants", err)
	}
	return event.toDomain(participants), nil
}

func (s *Store) AddParticipant(ctx context.Context, eventID, userID string) error {
	exists, err := s.db.NewSelect().Model((*eventModel)(nil)).Where("e.id = ?", eventID).Exists(ctx)
	if err != nil {
		return mapErr("get event", err)
	}
	if !exists {
		return domain.ErrEventNotFound
	}
	_, err = s.db.NewInsert().
		Model(&participantModel{EventID: eventID, UserID: userID}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return mapErr("add participant", err)
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var user userModel
	if err := s.db.NewSelect().Model(&user).Where("u.id = ?", userID).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, mapErr("get user", err)
	}

	var solved []string
	err := s.db.NewSelect().
		Model((*challengeSolverModel)(nil)).
		Column("challenge_id").
		Where("cs.user_id = ?", userID).
		OrderExpr("cs.solved_at ASC").
		Scan(ctx, &solved)
	if err != nil {
		return domain.User{}, mapErr("list solved challenges", err)
	}
	return domain.User{ID: user.ID, Username: user.Username, Points: user.Points, SolvedChallenges: solved}, nil
}

// ListUsers returns every user without their solved challenge lists.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	var rows []userModel
	if err := s.db.NewSelect().Model(&rows).OrderExpr("u.created_at ASC, u.id ASC").Scan(ctx); err != nil {
		return nil, mapErr("list users", err)
	}
	out := make([]domain.User, 0, len(rows))
	for _, u := range rows {
		out = append(out, domain.User{ID: u.ID, Username: u.Username, Points: u.Points})
	}
	return out, nil
}

func (s *Store) EnsureUser(ctx context.Context, identity domain.Identity) error {
	return ensureUser(ctx, s.db, identity)
}

func ensureUser(ctx context.Context, db bun.IDB, identity domain.Identity) error {
	name := identity.DisplayName
	if name == "" {
		name = identity.UserID
	}
	q := db.NewInsert().Model(&userModel{ID: identity.UserID, Username: name})
	if identity.DisplayName != "" {
		q.On("CONFLICT (id) DO UPDATE").Set("username = EXCLUDED.username")
	} else {
		q.On("CONFLICT (id) DO NOTHING")
	}
	_, err := q.Exec(ctx)
	return mapErr("ensure user", err)
}

// PutChallenge upserts a challenge; its answer key is kept as JSONB.
func (s *Store) PutChallenge(ctx context.Context, challenge domain.Challenge) error {
	if err := challenge.Validate(); err != nil {
		return err
	}
	solvers := challenge.SolvedBy
	challenge.SolvedBy = nil
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("encode challenge %s: %w", challenge.ID, err)
	}
	model := challengeModel{ID: challenge.ID, Active: challenge.Active, Data: data}
	if challenge.EventID != "" {
		model.EventID = &challenge.EventID
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&model).
			On("CONFLICT (id) DO UPDATE").
			Set("event_id = EXCLUDED.event_id").
			Set("active = EXCLUDED.active").
			Set("data = EXCLUDED.data").
			Set("updated_at = now()").
			Exec(ctx)
		if err != nil {
			return err
		}
		for _, uid := range solvers {
			if err := ensureUser(ctx, tx, domain.Identity{UserID: uid}); err != nil {
				return err
			}
			if _, err := tx.NewInsert().
				Model(&challengeSolverModel{ChallengeID: challenge.ID, UserID: uid}).
				On("CONFLICT DO NOTHING").
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	return mapErr("put challenge", err)
}

func (s *Store) PutEvent(ctx context.Context, event domain.Event) error {
	model := toEventModel(event)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&model).
			On("CONFLICT (id) DO UPDATE").
			Set("name = EXCLUDED.name").
			Set("status = EXCLUDED.status").
			Set("starts_at = EXCLUDED.starts_at").
			Set("ends_at = EXCLUDED.ends_at").
			Exec(ctx)
		if err != nil {
			return err
		}
		for _, uid := range event.Participants {
			if _, err := tx.NewInsert().
				Model(&participantModel{EventID: event.ID, UserID: uid}).
				On("CONFLICT DO NOTHING").
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	return mapErr("put event", err)
}
