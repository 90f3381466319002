package domain

import (
	"strings"
	"time"
)

// Category classifies where a challenge is offered.
type Category string

const (
	CategoryPractice  Category = "practice"
	CategoryLive      Category = "live"
	CategoryPastEvent Category = "past_event"
	CategoryUpcoming  Category = "upcoming"
)

// PointsUnrecorded marks a legacy submission stored without a points value.
const PointsUnrecorded = -1

// Scope is the context credit is tracked under: global practice, or one event.
type Scope struct {
	EventID string `json:"eventId,omitempty"`
}

// GlobalScope is the practice scope.
var GlobalScope = Scope{}

// EventScope returns the scope of a single event.
func EventScope(eventID string) Scope {
	return Scope{EventID: eventID}
}

func (s Scope) IsGlobal() bool { return s.EventID == "" }

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "event:" + s.EventID
}

// Question is one sub-question of a multi-question challenge.
type Question struct {
	ID     string `json:"id" yaml:"id"`
	Flag   string `json:"flag" yaml:"flag"`
	Points int    `json:"points" yaml:"points"`
}

// Challenge carries either a single Flag with BasePoints or an ordered list of Questions.
type Challenge struct {
	ID         string     `json:"id" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	Category   Category   `json:"category" yaml:"category"`
	EventID    string     `json:"eventId,omitempty" yaml:"eventId,omitempty"`
	Flag       string     `json:"flag,omitempty" yaml:"flag,omitempty"`
	BasePoints int        `json:"basePoints,omitempty" yaml:"basePoints,omitempty"`
	Questions  []Question `json:"questions,omitempty" yaml:"questions,omitempty"`
	Active     bool       `json:"active" yaml:"active"`
	SolvedBy   []string   `json:"solvedBy,omitempty" yaml:"solvedBy,omitempty"`
}

// IsMultiQuestion reports whether the challenge is scored per sub-question.
func (c Challenge) IsMultiQuestion() bool { return len(c.Questions) > 0 }

// Targets returns the number of independently creditable targets.
func (c Challenge) Targets() int {
	if c.IsMultiQuestion() {
		return len(c.Questions)
	}
	return 1
}

// PointsFor returns the current points of a target. An empty questionID
// addresses the single-flag form.
func (c Challenge) PointsFor(questionID string) int {
	if questionID == "" {
		return c.BasePoints
	}
	for _, q := range c.Questions {
		if q.ID == questionID {
			return q.Points
		}
	}
	return 0
}

// Match tests a submitted value against the answer key. Comparison is exact
// after trimming surrounding whitespace on both sides.
func (c Challenge) Match(value string) (correct bool, questionID string) {
	value = strings.TrimSpace(value)
	if !c.IsMultiQuestion() {
		return value == strings.TrimSpace(c.Flag), ""
	}
	for _, q := range c.Questions {
		if value == strings.TrimSpace(q.Flag) {
			return true, q.ID
		}
	}
	return false, ""
}

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventLive     EventStatus = "live"
	EventUpcoming EventStatus = "upcoming"
	EventPast     EventStatus = "past"
)

// Event owns a set of participants; its leaderboard is restricted to them.
type Event struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Status       EventStatus `json:"status" yaml:"status"`
	StartsAt     time.Time   `json:"startsAt" yaml:"startsAt"`
	EndsAt       time.Time   `json:"endsAt" yaml:"endsAt"`
	Participants []string    `json:"participants" yaml:"participants"`
}

// HasParticipant reports whether userID is registered for the event.
func (e Event) HasParticipant(userID string) bool {
	for _, p := range e.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// User is a player known to the directory.
type User struct {
	ID               string   `json:"id" yaml:"id"`
	Username         string   `json:"username" yaml:"username"`
	Points           int      `json:"points" yaml:"points"`
	SolvedChallenges []string `json:"solvedChallenges,omitempty" yaml:"solvedChallenges,omitempty"`
}

// Identity is the already-authenticated caller.
type Identity struct {
	UserID      string
	DisplayName string
}

// Submission is one immutable ledger record.
type Submission struct {
	ID             string    `json:"id"`
	ChallengeID    string    `json:"challengeId"`
	UserID         string    `json:"userId"`
	SubmittedValue string    `json:"submittedValue"`
	IsCorrect      bool      `json:"isCorrect"`
	PointsAwarded  int       `json:"pointsAwarded"`
	ScopeEventID   string    `json:"scopeEventId,omitempty"`
	QuestionID     string    `json:"questionId,omitempty"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// Scope returns the scope the record was submitted under.
func (s Submission) Scope() Scope { return Scope{EventID: s.ScopeEventID} }

// Credited reports whether the record carries credit.
func (s Submission) Credited() bool { return s.IsCorrect && s.PointsAwarded > 0 }

// CreditKey identifies one independently creditable line.
type CreditKey struct {
	UserID      string
	ChallengeID string
	QuestionID  string
	Scope       Scope
}

// String is a stable encoding of the key, used for locks and marker documents.
func (k CreditKey) String() string {
	return k.UserID + "|" + k.ChallengeID + "|" + k.QuestionID + "|" + k.Scope.EventID
}

// Filter returns the ledger filter that finds credit-bearing records for the key.
func (k CreditKey) Filter() SubmissionFilter {
	correct := true
	return SubmissionFilter{
		UserID:      k.UserID,
		ChallengeID: k.ChallengeID,
		QuestionID:  &k.QuestionID,
		Scope:       &k.Scope,
		IsCorrect:   &correct,
	}
}

// SubmissionFilter is a conjunction; nil/empty fields are unconstrained.
type SubmissionFilter struct {
	ChallengeID string
	UserID      string
	QuestionID  *string
	Scope       *Scope
	IsCorrect   *bool
	NewestFirst bool
}

// Matches applies the filter to a single record.
func (f SubmissionFilter) Matches(s Submission) bool {
	if f.ChallengeID != "" && s.ChallengeID != f.ChallengeID {
		return false
	}
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if f.QuestionID != nil && s.QuestionID != *f.QuestionID {
		return false
	}
	if f.Scope != nil && s.ScopeEventID != f.Scope.EventID {
		return false
	}
	if f.IsCorrect != nil && s.IsCorrect != *f.IsCorrect {
		return false
	}
	return true
}

// Progress counts credited targets of a challenge within a scope.
type Progress struct {
	Solved int `json:"solved"`
	Total  int `json:"total"`
}

// Complete reports whether every target holds credit.
func (p Progress) Complete() bool { return p.Total > 0 && p.Solved >= p.Total }

// SubmissionResult is the outcome of a flag submission.
type SubmissionResult struct {
	SubmissionID    string   `json:"submissionId"`
	ChallengeID     string   `json:"challengeId"`
	QuestionID      string   `json:"questionId,omitempty"`
	IsCorrect       bool     `json:"isCorrect"`
	PointsAwarded   int      `json:"pointsAwarded"`
	AlreadyCredited bool     `json:"alreadyCredited"`
	Progress        Progress `json:"progress"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank         int       `json:"rank"`
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	Score        int       `json:"score"`
	SolvedCount  int       `json:"solvedCount"`
	LastSolvedAt time.Time `json:"lastSolvedAt,omitempty"`
}

// Leaderboard captures the ordered scoreboard of a scope.
type Leaderboard struct {
	Scope     Scope              `json:"scope"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// ChallengeFilter narrows catalog listings.
type ChallengeFilter struct {
	EventID    string
	ActiveOnly bool
}

// Matches applies the filter to a single challenge.
func (f ChallengeFilter) Matches(c Challenge) bool {
	if f.EventID != "" && c.EventID != f.EventID {
		return false
	}
	if f.ActiveOnly && !c.Active {
		return false
	}
	return true
}

// Change notifies that the ledger of a scope changed.
type Change struct {
	Scope        Scope     `json:"scope"`
	ChallengeID  string    `json:"challengeId"`
	UserID       string    `json:"userId"`
	SubmissionID string    `json:"submissionId"`
	At           time.Time `json:"at"`
}
