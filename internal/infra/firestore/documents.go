package firestore

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"ctf-scoring-service/internal/domain"
)

type questionDoc struct {
	ID     string `firestore:"id"`
	Flag   string `firestore:"flag"`
	Points int    `firestore:"points"`
}

type challengeDoc struct {
	Title      string        `firestore:"title"`
	Category   string        `firestore:"category"`
	EventID    string        `firestore:"eventId"`
	Flag       string        `firestore:"flag"`
	BasePoints int           `firestore:"basePoints"`
	Questions  []questionDoc `firestore:"questions"`
	Active     bool          `firestore:"active"`
	SolvedBy   []string      `firestore:"solvedBy"`
}

func (d challengeDoc) toDomain(id string) domain.Challenge {
	c := domain.Challenge{
		ID:         id,
		Title:      d.Title,
		Category:   domain.Category(d.Category),
		EventID:    d.EventID,
		Flag:       d.Flag,
		BasePoints: d.BasePoints,
		Active:     d.Active,
		SolvedBy:   d.SolvedBy,
	}
	for _, q := range d.Questions {
		c.Questions = append(c.Questions, domain.Question{ID: q.ID, Flag: q.Flag, Points: q.Points})
	}
	return c
}

// challengeFields is the merge payload of a challenge; solvedBy is left alone.
func challengeFields(c domain.Challenge) map[string]interface{} {
	questions := make([]interface{}, 0, len(c.Questions))
	for _, q := range c.Questions {
		questions = append(questions, map[string]interface{}{"id": q.ID, "flag": q.Flag, "points": q.Points})
	}
	return map[string]interface{}{
		"title":      c.Title,
		"category":   string(c.Category),
		"eventId":    c.EventID,
		"flag":       c.Flag,
		"basePoints": c.BasePoints,
		"questions":  questions,
		"active":     c.Active,
	}
}

type eventDoc struct {
	Name         string    `firestore:"name"`
	Status       string    `firestore:"status"`
	StartsAt     time.Time `firestore:"startsAt"`
	EndsAt       time.Time `firestore:"endsAt"`
	Participants []string  `firestore:"participants"`
}

func (d eventDoc) toDomain(id string) domain.Event {
	return domain.Event{
		ID:           id,
		Name:         d.Name,
		Status:       domain.EventStatus(d.Status),
		StartsAt:     d.StartsAt,
		EndsAt:       d.EndsAt,
		Participants: d.Participants,
	}
}

type userDoc struct {
	Username         string   `firestore:"username"`
	Points           int      `firestore:"points"`
	SolvedChallenges []string `firestore:"solvedChallenges"`
}

// submissionDoc keeps pointsAwarded null for legacy records.
type submissionDoc struct {
	ChallengeID    string    `firestore:"challengeId"`
	UserID         string    `firestore:"userId"`
	SubmittedValue string    `firestore:"submittedValue"`
	IsCorrect      bool      `firestore:"isCorrect"`
	PointsAwarded  *int64    `firestore:"pointsAwarded"`
	ScopeEventID   string    `firestore:"scopeEventId"`
	QuestionID     string    `firestore:"questionId"`
	SubmittedAt    time.Time `firestore:"submittedAt"`
}

func toSubmissionDoc(s domain.Submission) submissionDoc {
	d := submissionDoc{
		ChallengeID:    s.ChallengeID,
		UserID:         s.UserID,
		SubmittedValue: s.SubmittedValue,
		IsCorrect:      s.IsCorrect,
		ScopeEventID:   s.ScopeEventID,
		QuestionID:     s.QuestionID,
		SubmittedAt:    s.SubmittedAt,
	}
	if s.PointsAwarded != domain.PointsUnrecorded {
		points := int64(s.PointsAwarded)
		d.PointsAwarded = &points
	}
	return d
}

func (d submissionDoc) toDomain(id string) domain.Submission {
	s := domain.Submission{
		ID:             id,
		ChallengeID:    d.ChallengeID,
		UserID:         d.UserID,
		SubmittedValue: d.SubmittedValue,
		IsCorrect:      d.IsCorrect,
		PointsAwarded:  domain.PointsUnrecorded,
		ScopeEventID:   d.ScopeEventID,
		QuestionID:     d.QuestionID,
		SubmittedAt:    d.SubmittedAt,
	}
	if d.PointsAwarded != nil {
		s.PointsAwarded = int(*d.PointsAwarded)
	}
	return s
}

// creditDocID derives a document id from a credit key; raw keys may contain '/'.
func creditDocID(key domain.CreditKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}
