package postgres

import (
	"encoding/json"
	"time"

	"ctf-scoring-service/internal/domain"
	"github.com/uptrace/bun"
)

type challengeModel struct {
	bun.BaseModel `bun:"table:challenges,alias:c"`

	ID        string          `bun:"id,pk"`
	EventID   *string         `bun:"event_id,nullzero"`
	Active    bool            `bun:"active,notnull"`
	Data      json.RawMessage `bun:"data,type:jsonb,notnull"`
	UpdatedAt time.Time       `bun:"updated_at,notnull,default:current_timestamp"`
}

type challengeSolverModel struct {
	bun.BaseModel `bun:"table:challenge_solvers,alias:cs"`

	ChallengeID string    `bun:"challenge_id,pk"`
	UserID      string    `bun:"user_id,pk"`
	SolvedAt    time.Time `bun:"solved_at,notnull,default:current_timestamp"`
}

type eventModel struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID       string     `bun:"id,pk"`
	Name     string     `bun:"name,notnull"`
	Status   string     `bun:"status,notnull"`
	StartsAt *time.Time `bun:"starts_at,nullzero"`
	EndsAt   *time.Time `bun:"ends_at,nullzero"`
}

type participantModel struct {
	bun.BaseModel `bun:"table:event_participants,alias:ep"`

	EventID  string    `bun:"event_id,pk"`
	UserID   string    `bun:"user_id,pk"`
	JoinedAt time.Time `bun:"joined_at,notnull,default:current_timestamp"`
}

type userModel struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID       string `bun:"id,pk"`
	Username string `bun:"username,notnull"`
	Points   int    `bun:"points,notnull"`
}

// submissionModel stores points_awarded as NULL for legacy rows that were
// recorded before points were tracked.
type submissionModel struct {
	bun.BaseModel `bun:"table:submissions,alias:s"`

	ID             string    `bun:"id,pk"`
	ChallengeID    string    `bun:"challenge_id,notnull"`
	UserID         string    `bun:"user_id,notnull"`
	SubmittedValue string    `bun:"submitted_value,notnull"`
	IsCorrect      bool      `bun:"is_correct,notnull"`
	PointsAwarded  *int      `bun:"points_awarded"`
	ScopeEventID   string    `bun:"scope_event_id,notnull"`
	QuestionID     string    `bun:"question_id,notnull"`
	SubmittedAt    time.Time `bun:"submitted_at,notnull"`
}

func toSubmissionModel(s domain.Submission) submissionModel {
	m := submissionModel{
		ID:             s.ID,
		ChallengeID:    s.ChallengeID,
		UserID:         s.UserID,
		SubmittedValue: s.SubmittedValue,
		IsCorrect:      s.IsCorrect,
		ScopeEventID:   s.ScopeEventID,
		QuestionID:     s.QuestionID,
		SubmittedAt:    s.SubmittedAt,
	}
	if s.PointsAwarded != domain.PointsUnrecorded {
		points := s.PointsAwarded
		m.PointsAwarded = &points
	}
	return m
}

func (m submissionModel) toDomain() domain.Submission {
	s := domain.Submission{
		ID:             m.ID,
		ChallengeID:    m.ChallengeID,
		UserID:         m.UserID,
		SubmittedValue: m.SubmittedValue,
		IsCorrect:      m.IsCorrect,
		PointsAwarded:  domain.PointsUnrecorded,
		ScopeEventID:   m.ScopeEventID,
		QuestionID:     m.QuestionID,
		SubmittedAt:    m.SubmittedAt,
	}
	if m.PointsAwarded != nil {
		s.PointsAwarded = *m.PointsAwarded
	}
	return s
}

func toEventModel(e domain.Event) eventModel {
	m := eventModel{ID: e.ID, Name: e.Name, Status: string(e.Status)}
	if !e.StartsAt.IsZero() {
		m.StartsAt = &e.StartsAt
	}
	if !e.EndsAt.IsZero() {
		m.EndsAt = &e.EndsAt
	}
	return m
}

func (m eventModel) toDomain(participants []string) domain.Event {
	e := domain.Event{
		ID:           m.ID,
		Name:         m.Name,
		Status:       domain.EventStatus(m.Status),
		Participants: participants,
	}
	if m.StartsAt != nil {
		e.StartsAt = *m.StartsAt
	}
	if m.EndsAt != nil {
		e.EndsAt = *m.EndsAt
	}
	return e
}
