package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parrotalk/parrotalk/internal/auth"
	"github.com/parrotalk/parrotalk/internal/conversation"
	"github.com/parrotalk/parrotalk/internal/health"
	"github.com/parrotalk/parrotalk/internal/observe"
	"github.com/parrotalk/parrotalk/internal/relay"
	"github.com/parrotalk/parrotalk/internal/scenario"
	"github.com/parrotalk/parrotalk/pkg/history"
)

// routes assembles the HTTP surface: the REST API, the WebSocket entry point,
// and the operational endpoints, all behind the tracing middleware.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	var checkers []health.Checker
	if pinger, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "database", Check: pinger.Ping})
	}
	health.New(checkers, health.WithInfo(func() map[string]any {
		return map[string]any{"active_sessions": a.sessions.Count()}
	})).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/signup", a.handleSignup)
	mux.HandleFunc("POST /api/login", a.handleLogin)
	mux.HandleFunc("GET /api/sessions/recent", a.requireAuth(a.handleRecentSession))
	mux.HandleFunc("GET /api/sessions/{id}", a.requireAuth(a.handleSessionByID))

	mux.HandleFunc("GET /ws", a.handleWS)

	return observe.Middleware(a.metrics)(mux)
}

// credentialsRequest is the body of signup and login requests.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *App) handleSignup(w http.ResponseWriter, r *http.Request) {
	if a.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "accounts are not enabled")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := a.auth.Signup(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, history.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email already registered")
		return
	case err != nil:
		// Signup validates email and password length before touching the
		// store; those failures are client errors.
		a.log.Warn("signup rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid email or password")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if a.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "accounts are not enabled")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, user, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		a.log.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		"user_id": user.ID,
		"email":   user.Email,
	})
}

func (a *App) handleRecentSession(w http.ResponseWriter, r *http.Request, userID int64) {
	log, err := a.store.RecentSessionByUser(r.Context(), userID)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no sessions recorded")
		return
	}
	if err != nil {
		a.log.Error("recent session lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, log)
}

func (a *App) handleSessionByID(w http.ResponseWriter, r *http.Request, userID int64) {
	log, err := a.store.SessionByID(r.Context(), r.PathValue("id"), userID)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		a.log.Error("session lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// requireAuth wraps a handler that needs an authenticated user. The session
// endpoints also need the store; without one they are simply absent.
func (a *App) requireAuth(next func(http.ResponseWriter, *http.Request, int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.auth == nil || a.store == nil {
			writeError(w, http.StatusServiceUnavailable, "accounts are not enabled")
			return
		}
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		userID, err := a.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, userID)
	}
}

// handleWS upgrades the connection and runs one relay session over it. The
// handler returns when the session ends; persistence happens on the way out
// with a detached context so a client disconnect cannot cancel the save.
func (a *App) handleWS(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if token := bearerToken(r); token != "" && a.auth != nil {
		id, err := a.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		userID = id
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		a.log.Warn("websocket accept failed", "error", err)
		return
	}

	prev := a.loadPreviousSession(r.Context(), userID)
	settings := a.currentSettings()

	tracker := conversation.NewTracker(
		conversation.WithTitle(settings.title),
		conversation.WithTrackerLogger(a.log),
	)

	release, err := a.sessions.Register(SessionInfo{
		SessionID:  tracker.SessionID(),
		UserID:     userID,
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		conn.Close(websocket.StatusTryAgainLater, "server is full")
		return
	}
	defer release()

	manager := conversation.NewManager(nil, settings.instructions, a.log)

	handler, pipeline, err := a.buildSession(conn, manager, tracker, prev, settings)
	if err != nil {
		a.log.Error("session setup failed", "error", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	log := a.log.With("session_id", tracker.SessionID(), "user_id", userID)
	log.Info("session started")

	report, runErr := handler.Run(r.Context())
	if runErr != nil {
		log.Warn("session ended with error", "error", runErr)
	}

	a.saveReport(context.WithoutCancel(r.Context()), userID, report, pipeline)

	log.Info("session ended",
		"duration_sec", report.TotalDurationSec,
		"messages", len(report.Messages),
	)
	conn.Close(websocket.StatusNormalClosure, "session complete")
}

// buildSession assembles the relay handler and, when scenario mode is on, the
// slot-filling pipeline speaking through it.
func (a *App) buildSession(conn *websocket.Conn, manager *conversation.Manager, tracker *conversation.Tracker, prev *history.SessionLog, settings sessionSettings) (*relay.Handler, *scenario.Pipeline, error) {
	sessCtx := &conversation.Context{Title: settings.title}
	var msgs []conversation.Message
	if prev != nil {
		msgs = historyMessages(prev)
		sessCtx.Place = prev.ScenarioPlace
		sessCtx.Partner = prev.ScenarioPartner
		sessCtx.Goal = prev.ScenarioGoal
	}

	var overrides *conversation.SettingsUpdate
	if settings.voice != "" {
		overrides = &conversation.SettingsUpdate{Voice: settings.voice}
	}

	// The pipeline speaks through the handler, which replaces its upstream on
	// voice changes; the late binding keeps questions flowing to whichever
	// connection is current.
	var handler *relay.Handler
	var pipeline *scenario.Pipeline
	if settings.scenario.Enabled && a.llm != nil {
		client := scenario.NewClient(a.llm)
		builder := scenario.NewBuilder(client.ExtractFields,
			scenario.WithQuestionGenerator(client.GenerateQuestion),
			scenario.WithFinalGenerator(client.GenerateFinal),
			scenario.WithFallbackGenerator(client.GenerateFallback),
			scenario.WithMaxAttempts(settings.scenario.MaxAttempts),
			scenario.WithLogger(a.log),
		)
		maxAttempts := settings.scenario.MaxAttempts
		send := func(ctx context.Context, text string) error {
			return handler.SpeakText(ctx, text)
		}
		onComplete := func(ctx context.Context, b *scenario.Builder) error {
			mode := "complete"
			if s := b.State(); s.Attempts >= maxAttempts && !s.IsComplete() {
				mode = "fallback"
			}
			a.metrics.RecordScenarioCompletion(ctx, mode)
			return handler.NotifyScenarioComplete(ctx)
		}
		pipeline = scenario.NewPipeline(builder, send, onComplete)
	}

	handler, err := relay.NewHandler(relay.Config{
		ClientConn:     conn,
		Upstream:       a.upstream,
		Manager:        manager,
		Tracker:        tracker,
		Pipeline:       pipeline,
		SessionContext: sessCtx,
		Overrides:      overrides,
		History:        msgs,
		Logger:         a.log,
		Metrics:        a.metrics,
	})
	if err != nil {
		return nil, nil, err
	}
	return handler, pipeline, nil
}

// loadPreviousSession returns the user's most recent session log for history
// replay, or nil when there is none or the user is anonymous.
func (a *App) loadPreviousSession(ctx context.Context, userID int64) *history.SessionLog {
	if a.store == nil || userID == 0 {
		return nil
	}
	prev, err := a.store.RecentSessionByUser(ctx, userID)
	if errors.Is(err, history.ErrNotFound) {
		return nil
	}
	if err != nil {
		a.log.Warn("history replay unavailable", "user_id", userID, "error", err)
		return nil
	}
	return prev
}

// saveReport persists the finished session. Saving is best effort: a lost log
// is logged, never surfaced to the client.
func (a *App) saveReport(ctx context.Context, userID int64, report conversation.Report, pipeline *scenario.Pipeline) {
	if a.store == nil {
		return
	}

	log := history.SessionLog{
		SessionID:             report.SessionID,
		UserID:                userID,
		Title:                 report.Title,
		StartedAt:             report.StartedAt,
		EndedAt:               report.EndedAt,
		TotalDurationSec:      report.TotalDurationSec,
		UserSpeechDurationSec: report.UserSpeechDurationSec,
		Messages:              storedMessages(report.Messages),
	}

	if pipeline != nil {
		state := pipeline.Builder().State()
		log.ScenarioPlace = state.Place
		log.ScenarioPartner = state.Partner
		log.ScenarioGoal = state.Goal
		if data, err := json.Marshal(state); err == nil {
			log.ScenarioState = string(data)
		}
		if state.Completed {
			now := time.Now()
			log.ScenarioCompletedAt = &now
		}
	}

	saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.store.SaveSessionLog(saveCtx, log); err != nil {
		a.log.Error("session log not saved", "session_id", report.SessionID, "error", err)
	}
}

// historyMessages converts persisted messages into replayable ones.
func historyMessages(log *history.SessionLog) []conversation.Message {
	out := make([]conversation.Message, 0, len(log.Messages))
	for _, m := range log.Messages {
		out = append(out, conversation.Message{
			Role:        m.Role,
			Content:     m.Content,
			Timestamp:   m.Timestamp,
			DurationSec: m.DurationSec,
		})
	}
	return out
}

// storedMessages converts tracked messages into their persisted form.
func storedMessages(msgs []conversation.Message) []history.StoredMessage {
	out := make([]history.StoredMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, history.StoredMessage{
			Role:        m.Role,
			Content:     m.Content,
			Timestamp:   m.Timestamp,
			DurationSec: m.DurationSec,
		})
	}
	return out
}

// bearerToken extracts the access token from the Authorization header or,
// for WebSocket upgrades where custom headers are awkward, the token query
// parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
