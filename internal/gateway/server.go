package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ehrlich-b/shellgate/internal/audit"
	"github.com/ehrlich-b/shellgate/internal/authn"
	"github.com/ehrlich-b/shellgate/internal/engine"
	"github.com/ehrlich-b/shellgate/internal/logger"
	"github.com/ehrlich-b/shellgate/internal/ptyadapter"
	"github.com/ehrlich-b/shellgate/internal/ratelimit"
	"github.com/ehrlich-b/shellgate/internal/session"
)

// Server is the gateway's HTTP/WebSocket front end over a Session
// Store, mirroring the teacher's relay.Server shape: a mux plus
// injected collaborators.
type Server struct {
	Store     *session.Store
	Authn     *authn.Authenticator
	RateLimit *ratelimit.Limiter
	Audit     *audit.Log

	DefaultTimeout time.Duration

	// DebugCapturePath, if non-empty, is passed through to every Session
	// this server creates, per SPEC_FULL.md §11's debug raw-PTY capture
	// supplement (config key session.debug_capture_path).
	DebugCapturePath string

	// MaxCommandBytes overrides the Execution Engine's command-size cap
	// (config key session.max_command_bytes). Zero means "use the
	// engine's built-in default".
	MaxCommandBytes int

	mux *http.ServeMux
}

// New builds a Server and registers all routes.
func New(store *session.Store, auther *authn.Authenticator, rl *ratelimit.Limiter, auditLog *audit.Log, defaultTimeout time.Duration) *Server {
	s := &Server{
		Store:          store,
		Authn:          auther,
		RateLimit:      rl,
		Audit:          auditLog,
		DefaultTimeout: defaultTimeout,
		mux:            http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /api/v1/sessions/{id}/execute", s.handleExecute)
	s.mux.HandleFunc("POST /api/v1/execute", s.handleOneShot)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}/ws", s.handleSessionWS)
	s.mux.HandleFunc("GET /api/v1/ws", s.handleOneShotWS)

	return s
}

// Handler returns the composed handler: auth -> rate limit -> mux, per
// spec.md §6's middleware ordering (authenticate before counting
// against the client's rate bucket, so unauthenticated floods aren't
// free but also don't exhaust a legitimate client's budget).
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.RateLimit != nil {
		h = s.RateLimit.Middleware(h)
	}
	if s.Authn != nil {
		h = s.Authn.Middleware(h)
	}
	return withHealthBypass(h, s.mux)
}

// withHealthBypass serves /health directly, unauthenticated and
// unthrottled, so external load balancers can probe liveness.
func withHealthBypass(protected http.Handler, mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			mux.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.Store.Len()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	opts := session.CreateOptions{
		Shell:            ptyadapter.ShellKind(req.Shell),
		Size:             ptyadapter.Size{Cols: req.Cols, Rows: req.Rows},
		Env:              req.Env,
		Cwd:              req.Cwd,
		DebugCapturePath: s.DebugCapturePath,
	}
	sess, err := s.Store.Create(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, statusJSON(sess.Status()))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.Store.List()
	out := make([]map[string]any, 0, len(list))
	for _, st := range list {
		out = append(out, statusJSON(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookupSession(w, r)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, statusJSON(sess.Status()))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseSessionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := s.Store.Delete(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookupSession(w, r)
	if err != nil {
		return
	}
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.runAndRespond(w, r.Context(), sess, req)
}

func (s *Server) handleOneShot(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts := session.CreateOptions{
		Shell:            ptyadapter.ShellKind(req.Shell),
		Cwd:              req.Cwd,
		Env:              req.Env,
		DebugCapturePath: s.DebugCapturePath,
	}
	sess, err := s.Store.Create(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer s.Store.Delete(sess.ID)
	s.runAndRespond(w, r.Context(), sess, req)
}

func (s *Server) runAndRespond(w http.ResponseWriter, ctx context.Context, sess *session.Session, req ExecuteRequest) {
	timeout := s.DefaultTimeout
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}
	result, err := engine.Execute(ctx, sess, req.Command, engine.Options{Timeout: timeout, Sandboxed: req.Sandboxed, MaxCommandBytes: s.MaxCommandBytes})
	s.recordAudit(sess, req.Command, result, err)
	if err != nil && !errors.Is(err, engine.ErrTimeout) {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, engine.ErrBusy):
			status = http.StatusConflict
		case errors.Is(err, engine.ErrCommandTooLarge), errors.Is(err, engine.ErrEmbeddedNUL), errors.Is(err, engine.ErrDangerousCommand):
			status = http.StatusBadRequest
		case errors.Is(err, engine.ErrSessionGone):
			status = http.StatusGone
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{
		Success:    result.Success(),
		Output:     result.Output,
		ExitCode:   result.ExitCode,
		Cwd:        result.Cwd,
		TimedOut:   result.TimedOut,
		DurationMs: result.DurationMs,
	})
}

func (s *Server) recordAudit(sess *session.Session, command string, result engine.Result, execErr error) {
	if s.Audit == nil {
		return
	}
	if execErr != nil && !errors.Is(execErr, engine.ErrTimeout) {
		return
	}
	if err := s.Audit.Record(audit.Entry{
		SessionID:  sess.ID.String(),
		Command:    command,
		ExitCode:   result.ExitCode,
		Cwd:        result.Cwd,
		TimedOut:   result.TimedOut,
		DurationMs: result.DurationMs,
		StartedAt:  time.Now().Add(-time.Duration(result.DurationMs) * time.Millisecond),
	}); err != nil {
		logger.Warn("audit record failed", "session", sess.ID.String(), "err", err)
	}
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	id, err := parseSessionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, err
	}
	sess, err := s.Store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, err
	}
	return sess, nil
}

func parseSessionID(raw string) (session.ID, error) {
	return session.ParseID(raw)
}

func statusJSON(st session.Status) map[string]any {
	return map[string]any{
		"id":             st.ID.String(),
		"shell":          string(st.Shell),
		"state":          st.State.String(),
		"created_at":     st.CreatedAt,
		"cwd":            st.Context.Cwd,
		"last_command":   st.Context.LastCommand,
		"last_exit_code": st.Context.LastExitCode,
		"idle":           st.Context.Idle,
		"subscribers":    st.Subscribers,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
