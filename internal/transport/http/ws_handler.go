package http

import (
	"encoding/json"
	"net/http"

	"ctf-scoring-service/internal/domain"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitPayload struct {
	ChallengeID string `json:"challengeId"`
	Flag        string `json:"flag"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ServeWS upgrades to a websocket that streams the leaderboard of the scope
// named by ?eventId= (global when empty). Authenticated callers may also send
// "submit" messages; results come back as "submissionResult".
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	scope := domain.EventScope(r.URL.Query().Get("eventId"))

	updates, cancel, err := h.leaderboard.Watch(r.Context(), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	identity, authenticated := IdentityFrom(r.Context())

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Single writer: gorilla connections allow one concurrent writer.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.DebugContext(r.Context(), "ws write error", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "leaderboard", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "submit":
			if !authenticated {
				reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: domain.ErrUnauthenticated.Error()}})
				continue
			}
			var payload submitPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid submit payload"}})
				continue
			}
			result, err := h.scoring.Submit(r.Context(), identity, payload.ChallengeID, payload.Flag, scope)
			if err != nil {
				_, resp := h.publicError(r, err)
				reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: resp.Error, Retryable: resp.Retryable}})
				continue
			}
			reply(outboundMessage[any]{Type: "submissionResult", Payload: result})
		default:
			reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
