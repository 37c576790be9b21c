package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/shellgate/internal/broker"
	"github.com/ehrlich-b/shellgate/internal/engine"
	"github.com/ehrlich-b/shellgate/internal/logger"
	"github.com/ehrlich-b/shellgate/internal/ptyadapter"
	"github.com/ehrlich-b/shellgate/internal/session"
)

// rawMode reports whether the client opted into raw-byte frames instead
// of sanitized-text frames, per spec.md §6: a `?raw=true` query param on
// the attach URL. Default is sanitized text.
func rawMode(r *http.Request) bool {
	return r.URL.Query().Get("raw") == "true"
}

// handleSessionWS is the streaming attach route: output/raw frames flow
// to the client as the broker publishes them; input/resize/signal/
// execute frames flow from the client into the session, per spec.md
// §6's WebSocket protocol.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sess, err := s.lookupSession(w, r)
	if err != nil {
		return
	}
	raw := rawMode(r)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("ws accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sub := sess.Broker.Subscribe()
	defer sess.Broker.Unsubscribe(sub)

	// Snapshot first, so a reconnecting client sees the current screen
	// before any new frames, per spec.md §4.6's reconnect semantics.
	// The snapshot is the emulator's rendered screen, escape sequences
	// included (it does not pass through the sanitizer); it is sent as an
	// output frame in raw mode too, since the emulator doesn't retain the
	// raw bytes behind its screen grid.
	if snap := sess.Emu.Snapshot(); len(snap) > 0 {
		writeOutput(ctx, conn, OutputMsg{Type: TypeOutput, Text: string(snap)})
	}

	done := make(chan struct{})
	go s.wsReadLoop(ctx, conn, sess, done)
	s.wsWriteLoop(ctx, conn, sess, sub, done, raw)
}

// handleOneShotWS is the one-shot WebSocket route (spec.md §6's bare
// WS /api/v1/ws): it stands up an ephemeral Session + Broker exactly
// like handleOneShot's HTTP counterpart, bridges it with the same
// read/write loops handleSessionWS uses, and deletes the session once
// the client disconnects — there is no lingering session to list or
// re-attach to afterward.
func (s *Server) handleOneShotWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := session.CreateOptions{
		Shell:            ptyadapter.ShellKind(q.Get("shell")),
		Cwd:              q.Get("cwd"),
		DebugCapturePath: s.DebugCapturePath,
	}
	sess, err := s.Store.Create(r.Context(), opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer s.Store.Delete(sess.ID)

	raw := rawMode(r)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("ws accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sub := sess.Broker.Subscribe()
	defer sess.Broker.Unsubscribe(sub)

	done := make(chan struct{})
	go s.wsReadLoop(ctx, conn, sess, done)
	s.wsWriteLoop(ctx, conn, sess, sub, done, raw)
}

func (s *Server) wsWriteLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, sub *broker.Subscription, done chan struct{}, raw bool) {
	for {
		select {
		case <-done:
			return
		case <-sess.Broker.Done():
			writeJSONFrame(ctx, conn, ExitMsg{Type: TypeExit, ExitCode: firstExitCode(sess)})
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			if sub.Lagged() {
				writeJSONFrame(ctx, conn, LaggedMsg{Type: TypeLagged})
			}
			if raw {
				writeJSONFrame(ctx, conn, RawMsg{Type: TypeRaw, Seq: frame.Seq, Data: base64.StdEncoding.EncodeToString(frame.Raw)})
				continue
			}
			writeOutput(ctx, conn, OutputMsg{Type: TypeOutput, Seq: frame.Seq, Text: frame.Text})
		}
	}
}

func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case TypeInput:
			var in InputMsg
			if json.Unmarshal(data, &in) == nil {
				sess.Broker.SendInput([]byte(in.Data))
			}
		case TypeResize:
			var rs ResizeMsg
			if json.Unmarshal(data, &rs) == nil && rs.Cols > 0 && rs.Rows > 0 {
				sess.PTY.Resize(rs.Cols, rs.Rows)
				sess.Emu.Resize(int(rs.Cols), int(rs.Rows))
			}
		case TypeSignal:
			var sig SignalMsg
			if json.Unmarshal(data, &sig) == nil && sig.Signal == "SIGINT" {
				sess.Broker.SendInput([]byte{0x03})
			}
		case TypeExecute:
			var ex ExecuteMsg
			if json.Unmarshal(data, &ex) != nil {
				continue
			}
			s.handleWSExecute(ctx, conn, sess, ex)
		case TypeDetach:
			return
		}
	}
}

func (s *Server) handleWSExecute(ctx context.Context, conn *websocket.Conn, sess *session.Session, ex ExecuteMsg) {
	timeout := s.DefaultTimeout
	if ex.TimeoutSec > 0 {
		timeout = time.Duration(ex.TimeoutSec) * time.Second
	}
	result, err := engine.Execute(ctx, sess, ex.Command, engine.Options{Timeout: timeout, MaxCommandBytes: s.MaxCommandBytes})
	s.recordAudit(sess, ex.Command, result, err)
	if err != nil && !errors.Is(err, engine.ErrTimeout) {
		writeJSONFrame(ctx, conn, ErrorMsgBody{Type: TypeErrorMsg, Message: err.Error()})
		return
	}
	writeJSONFrame(ctx, conn, ResultMsg{
		Type:       TypeResult,
		Success:    result.Success(),
		Output:     result.Output,
		ExitCode:   result.ExitCode,
		Cwd:        result.Cwd,
		TimedOut:   result.TimedOut,
		DurationMs: result.DurationMs,
	})
}

func firstExitCode(sess *session.Session) int32 {
	code, _ := sess.ExitCode()
	return code
}

func writeOutput(ctx context.Context, conn *websocket.Conn, msg OutputMsg) {
	writeJSONFrame(ctx, conn, msg)
}

func writeJSONFrame(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn.Write(wctx, websocket.MessageText, data)
}
