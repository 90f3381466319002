package http

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ctf-scoring-service/internal/app"
	"ctf-scoring-service/internal/infra/memory"
	"github.com/gorilla/websocket"
)

func TestWebSocketSubmitFlow(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "").Routes())
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws/leaderboard?eventId=e1&userId=u1&name=alice"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect the initial leaderboard first.
	_, payload := readNext(conn, t, "leaderboard")
	if entries, _ := payload["entries"].([]any); len(entries) != 1 {
		t.Fatalf("expected one participant in initial leaderboard, got %v", payload["entries"])
	}

	submit := map[string]any{
		"type": "submit",
		"payload": map[string]any{
			"challengeId": "c2",
			"flag":        "FLAG{e}",
		},
	}
	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("write submit: %v", err)
	}

	// Expect submissionResult and a leaderboard carrying the new score.
	resultSeen := false
	scoreSeen := false
	for i := 0; i < 4 && !(resultSeen && scoreSeen); i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "submissionResult":
			resultSeen = payload["pointsAwarded"] == float64(50)
		case "leaderboard":
			entries, _ := payload["entries"].([]any)
			if len(entries) == 1 && entries[0].(map[string]any)["score"] == float64(50) {
				scoreSeen = true
			}
		}
	}
	if !resultSeen || !scoreSeen {
		t.Fatalf("expected submissionResult and updated leaderboard, got result=%v score=%v", resultSeen, scoreSeen)
	}
}

func TestWebSocketRejectsAnonymousSubmit(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "").Routes())
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws/leaderboard"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readNext(conn, t, "leaderboard")
	if err := conn.WriteJSON(map[string]any{"type": "submit", "payload": map[string]any{"challengeId": "c1", "flag": "FLAG{x}"}}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	readNext(conn, t, "error")
}

func TestWebSocketMasksStorageFailures(t *testing.T) {
	handler := newTestHandlerWithStore(t, "", func(s *memory.Store) app.Store {
		return &unavailableStore{Store: s}
	})
	server := httptest.NewServer(handler.Routes())
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws/leaderboard?userId=u1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readNext(conn, t, "leaderboard")
	if err := conn.WriteJSON(map[string]any{"type": "submit", "payload": map[string]any{"challengeId": "c1", "flag": "FLAG{x}"}}); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	_, payload := readNext(conn, t, "error")
	msg, _ := payload["message"].(string)
	if strings.Contains(msg, storageDetail) || payload["retryable"] != true {
		t.Fatalf("expected masked retryable error, got %v", payload)
	}
}

func TestWebSocketUnknownEvent(t *testing.T) {
	server := httptest.NewServer(newTestHandler(t, "").Routes())
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws/leaderboard?eventId=missing"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}
