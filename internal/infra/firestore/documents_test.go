package firestore

import (
	"testing"
	"time"

	"ctf-scoring-service/internal/domain"
	"github.com/google/go-cmp/cmp"
)

func TestSubmissionDocRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	cases := []domain.Submission{
		{ChallengeID: "c1", UserID: "u1", SubmittedValue: "FLAG{x}", IsCorrect: true, PointsAwarded: 100, SubmittedAt: at},
		{ChallengeID: "m1", UserID: "u1", SubmittedValue: "beta", IsCorrect: true, PointsAwarded: 0, QuestionID: "q2", ScopeEventID: "e1", SubmittedAt: at},
		{ChallengeID: "c1", UserID: "u2", SubmittedValue: "FLAG{x}", IsCorrect: true, PointsAwarded: domain.PointsUnrecorded, SubmittedAt: at},
	}
	for _, want := range cases {
		want.ID = "s1"
		doc := toSubmissionDoc(want)
		if want.PointsAwarded == domain.PointsUnrecorded && doc.PointsAwarded != nil {
			t.Fatalf("legacy points must be null")
		}
		if diff := cmp.Diff(want, doc.toDomain("s1")); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestChallengeDocKeepsAnswerKey(t *testing.T) {
	doc := challengeDoc{
		Title:  "Forensics",
		Active: true,
		Questions: []questionDoc{
			{ID: "q1", Flag: "alpha", Points: 10},
			{ID: "q2", Flag: "beta", Points: 20},
		},
	}
	c := doc.toDomain("m1")
	if ok, qid := c.Match("beta"); !ok || qid != "q2" {
		t.Fatalf("expected q2 to match, got %v %q", ok, qid)
	}
	fields := challengeFields(c)
	if _, ok := fields["solvedBy"]; ok {
		t.Fatalf("merge payload must not overwrite solvedBy")
	}
	if len(fields["questions"].([]interface{})) != 2 {
		t.Fatalf("expected both questions in payload")
	}
}

func TestCreditDocIDIsStableAndPathSafe(t *testing.T) {
	key := domain.CreditKey{UserID: "team/1", ChallengeID: "c1", Scope: domain.EventScope("e1")}
	a, b := creditDocID(key), creditDocID(key)
	if a != b {
		t.Fatalf("expected stable id")
	}
	for _, r := range a {
		if r == '/' {
			t.Fatalf("doc id must not contain '/': %s", a)
		}
	}
	other := key
	other.Scope = domain.GlobalScope
	if creditDocID(other) == a {
		t.Fatalf("scopes must map to distinct markers")
	}
}
