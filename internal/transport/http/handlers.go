package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"ctf-scoring-service/internal/app"
	"ctf-scoring-service/internal/domain"
	"ctf-scoring-service/internal/export"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the REST and WebSocket surface of the scoring services.
type Handler struct {
	scoring     *app.ScoringService
	leaderboard *app.LeaderboardService
	auth        *Authenticator
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

func NewHandler(scoring *app.ScoringService, leaderboard *app.LeaderboardService, auth *Authenticator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		scoring:     scoring,
		leaderboard: leaderboard,
		auth:        auth,
		logger:      logger.With("component", "http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(observeRequests(h.logger), h.auth.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/challenges/{challengeID}/submissions", h.submit)
		r.Get("/challenges/{challengeID}/progress", h.progress)
		r.Post("/events/{eventID}/challenges/{challengeID}/claim", h.claim)
		r.Post("/events/{eventID}/participants", h.register)
		r.Get("/events/{eventID}/leaderboard", h.eventLeaderboard)
		r.Get("/leaderboard", h.globalLeaderboard)
		r.Get("/me/submissions", h.history)
	})
	r.Get("/ws/leaderboard", h.ServeWS)
	return r
}

type submitRequest struct {
	Flag    string `json:"flag"`
	EventID string `json:"eventId,omitempty"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, r, domain.ErrUnauthenticated)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.scoring.Submit(r.Context(), identity, chi.URLParam(r, "challengeID"), req.Flag, domain.EventScope(req.EventID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, r, domain.ErrUnauthenticated)
		return
	}
	result, err := h.scoring.ClaimForEvent(r.Context(), identity, chi.URLParam(r, "challengeID"), chi.URLParam(r, "eventID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, r, domain.ErrUnauthenticated)
		return
	}
	if err := h.scoring.RegisterForEvent(r.Context(), identity, chi.URLParam(r, "eventID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, r, domain.ErrUnauthenticated)
		return
	}
	scope := domain.EventScope(r.URL.Query().Get("eventId"))
	progress, err := h.scoring.Progress(r.Context(), identity.UserID, chi.URLParam(r, "challengeID"), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, r, domain.ErrUnauthenticated)
		return
	}
	filter := domain.SubmissionFilter{ChallengeID: r.URL.Query().Get("challengeId")}
	if r.URL.Query().Has("eventId") {
		scope := domain.EventScope(r.URL.Query().Get("eventId"))
		filter.Scope = &scope
	}
	submissions, err := h.scoring.History(r.Context(), identity.UserID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if submissions == nil {
		submissions = []domain.Submission{}
	}
	writeJSON(w, http.StatusOK, submissions)
}

func (h *Handler) globalLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.writeLeaderboard(w, r, domain.GlobalScope)
}

func (h *Handler) eventLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.writeLeaderboard(w, r, domain.EventScope(chi.URLParam(r, "eventID")))
}

func (h *Handler) writeLeaderboard(w http.ResponseWriter, r *http.Request, scope domain.Scope) {
	lb, err := h.leaderboard.Compute(r.Context(), scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "xlsx" {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", attachment(export.Filename(scope)))
		if err := export.WriteLeaderboardXLSX(w, lb); err != nil {
			h.logger.ErrorContext(r.Context(), "export leaderboard", "scope", scope.String(), "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInactiveChallenge), errors.Is(err, domain.ErrAlreadyCredited):
		return http.StatusConflict
	case errors.Is(err, domain.ErrChallengeNotInEvent), errors.Is(err, domain.ErrNoPracticeCredit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidChallenge):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSubmissionFailed), errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := h.publicError(r, err)
	writeJSON(w, status, resp)
}

// publicError maps err to a status and the body a client may see. 5xx
// failures are logged and their storage details stay in the log.
func (h *Handler) publicError(r *http.Request, err error) (int, errorResponse) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), Retryable: status == http.StatusServiceUnavailable}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		resp.Error = "submission could not be processed, please retry"
	}
	return status, resp
}

// attachment builds a Content-Disposition value; it falls back to a bare
// "attachment" when filename cannot be encoded.
func attachment(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
