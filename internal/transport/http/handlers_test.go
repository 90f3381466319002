package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ctf-scoring-service/internal/app"
	"ctf-scoring-service/internal/domain"
	"ctf-scoring-service/internal/infra/memory"
	"github.com/google/go-cmp/cmp"
)

func TestSubmitEndpointScenario(t *testing.T) {
	routes := newTestHandler(t, "").Routes()

	steps := []struct {
		flag       string
		wantPoints int
		wantDup    bool
	}{
		{"wrong", 0, false},
		{"FLAG{x}", 100, false},
		{"FLAG{x}", 0, true},
	}
	for _, step := range steps {
		rec := do(t, routes, http.MethodPost, "/api/challenges/c1/submissions", submitRequest{Flag: step.flag}, "u1")
		if rec.Code != http.StatusOK {
			t.Fatalf("submit %q: status %d body %s", step.flag, rec.Code, rec.Body)
		}
		var res domain.SubmissionResult
		decode(t, rec, &res)
		if res.PointsAwarded != step.wantPoints || res.AlreadyCredited != step.wantDup {
			t.Fatalf("submit %q: got %+v", step.flag, res)
		}
	}

	rec := do(t, routes, http.MethodGet, "/api/leaderboard", nil, "")
	var lb domain.Leaderboard
	decode(t, rec, &lb)
	if lb.Entries[0].UserID != "u1" || lb.Entries[0].Score != 100 {
		t.Fatalf("unexpected leaderboard %+v", lb.Entries)
	}

	rec = do(t, routes, http.MethodGet, "/api/me/submissions?challengeId=c1", nil, "u1")
	var history []domain.Submission
	decode(t, rec, &history)
	if len(history) != 3 || history[2].SubmittedValue != "wrong" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	routes := newTestHandler(t, "").Routes()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		user   string
		want   int
	}{
		{"anonymous", http.MethodPost, "/api/challenges/c1/submissions", submitRequest{Flag: "x"}, "", http.StatusUnauthorized},
		{"unknown challenge", http.MethodPost, "/api/challenges/nope/submissions", submitRequest{Flag: "x"}, "u1", http.StatusNotFound},
		{"inactive", http.MethodPost, "/api/challenges/c3/submissions", submitRequest{Flag: "x"}, "u1", http.StatusConflict},
		{"not in event", http.MethodPost, "/api/challenges/c1/submissions", submitRequest{Flag: "x", EventID: "e1"}, "u1", http.StatusUnprocessableEntity},
		{"no practice credit", http.MethodPost, "/api/events/e1/challenges/c2/claim", nil, "u1", http.StatusUnprocessableEntity},
		{"unknown event board", http.MethodGet, "/api/events/nope/leaderboard", nil, "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, routes, tc.method, tc.path, tc.body, tc.user)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestClaimAndRegisterEndpoints(t *testing.T) {
	routes := newTestHandler(t, "").Routes()

	if rec := do(t, routes, http.MethodPost, "/api/events/e1/participants", nil, "u2"); rec.Code != http.StatusNoContent {
		t.Fatalf("register: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, routes, http.MethodPost, "/api/challenges/c2/submissions", submitRequest{Flag: "FLAG{e}"}, "u2"); rec.Code != http.StatusOK {
		t.Fatalf("practice submit: %d %s", rec.Code, rec.Body)
	}
	rec := do(t, routes, http.MethodPost, "/api/events/e1/challenges/c2/claim", nil, "u2")
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, routes, http.MethodPost, "/api/events/e1/challenges/c2/claim", nil, "u2"); rec.Code != http.StatusConflict {
		t.Fatalf("second claim: expected 409, got %d", rec.Code)
	}

	rec = do(t, routes, http.MethodGet, "/api/events/e1/leaderboard", nil, "")
	var lb domain.Leaderboard
	decode(t, rec, &lb)
	var got []string
	for _, e := range lb.Entries {
		got = append(got, e.UserID)
	}
	if diff := cmp.Diff([]string{"u2", "u1"}, got); diff != "" {
		t.Fatalf("event leaderboard order (-want +got):\n%s", diff)
	}

	rec = do(t, routes, http.MethodGet, "/api/challenges/c2/progress?eventId=e1", nil, "u2")
	var progress domain.Progress
	decode(t, rec, &progress)
	if !progress.Complete() {
		t.Fatalf("expected complete progress, got %+v", progress)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	routes := newTestHandler(t, "").Routes()
	if rec := do(t, routes, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body)
	}
	if rec := do(t, routes, http.MethodGet, "/metrics", nil, ""); rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("ctfscore_")) {
		t.Fatalf("metrics endpoint missing ctfscore series")
	}
}

func newTestHandler(t *testing.T, secret string) *Handler {
	t.Helper()
	return newTestHandlerWithStore(t, secret, func(s *memory.Store) app.Store { return s })
}

// newTestHandlerWithStore lets a test wrap the ledger, e.g. to inject failures.
func newTestHandlerWithStore(t *testing.T, secret string, wrap func(*memory.Store) app.Store) *Handler {
	t.Helper()
	store, err := memory.NewStoreFromCatalog(domain.Catalog{
		Challenges: []domain.Challenge{
			{ID: "c1", Category: domain.CategoryPractice, Flag: "FLAG{x}", BasePoints: 100, Active: true},
			{ID: "c2", Category: domain.CategoryLive, EventID: "e1", Flag: "FLAG{e}", BasePoints: 50, Active: true},
			{ID: "c3", Category: domain.CategoryPractice, Flag: "FLAG{h}", BasePoints: 10, Active: false},
		},
		Events: []domain.Event{{ID: "e1", Name: "Spring CTF", Status: domain.EventLive, Participants: []string{"u1"}}},
		Users:  []domain.User{{ID: "u1", Username: "alice"}},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	notifier := memory.NewNotifier()
	repo := memory.NewChallengeRepository(store, time.Minute)
	scoring := app.NewScoringService(repo, wrap(store), store, notifier, nil)
	board := app.NewLeaderboardService(repo, store, store, notifier, 2, nil)
	return NewHandler(scoring, board, NewAuthenticator(secret), nil)
}

func do(t *testing.T, h http.Handler, method, path string, body any, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body)
	}
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestLeaderboardXLSXDownload(t *testing.T) {
	routes := newTestHandler(t, "").Routes()
	rec := do(t, routes, http.MethodGet, "/api/events/e1/leaderboard?format=xlsx", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil || disposition != "attachment" || params["filename"] != "leaderboard-e1.xlsx" {
		t.Fatalf("unexpected disposition %q (%v)", rec.Header().Get("Content-Disposition"), err)
	}
	// xlsx files are zip archives
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected a zip payload")
	}
}

func TestAttachmentEscapesFilename(t *testing.T) {
	for _, name := range []string{"leaderboard-e1.xlsx", `leaderboard-a"b.xlsx`, "leaderboard-x; y=z.xlsx", "leaderboard-é.xlsx"} {
		disposition, params, err := mime.ParseMediaType(attachment(name))
		if err != nil {
			t.Fatalf("%q: parse disposition: %v", name, err)
		}
		if disposition != "attachment" || params["filename"] != name {
			t.Fatalf("%q: got %s %v", name, disposition, params)
		}
	}
}

func TestStorageFailureIsMaskedAndRetryable(t *testing.T) {
	routes := newTestHandlerWithStore(t, "", func(s *memory.Store) app.Store {
		return &unavailableStore{Store: s}
	}).Routes()

	rec := do(t, routes, http.MethodPost, "/api/challenges/c1/submissions", submitRequest{Flag: "FLAG{x}"}, "u1")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Retryable || bytes.Contains([]byte(resp.Error), []byte(storageDetail)) {
		t.Fatalf("storage details leaked or not retryable: %+v", resp)
	}
}

const storageDetail = "dial tcp 10.0.0.5:5432: connection refused"

type unavailableStore struct {
	*memory.Store
}

func (s *unavailableStore) RunInTx(context.Context, func(context.Context, app.LedgerTx) error) error {
	return domain.Unavailable("run tx", errors.New(storageDetail))
}
