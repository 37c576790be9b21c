// Package session implements the Session Store and Session Context
// (spec.md §4.3, §4.5): a keyed registry of live sessions with monotonic
// identifier assignment, lifecycle operations, and background reaping.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ehrlich-b/shellgate/internal/ptyadapter"
)

var (
	ErrNotFound      = errors.New("session: not found")
	ErrExhaustedIDs  = errors.New("session: id space exhausted")
	ErrSessionClosed = errors.New("session: closed")
)

// CreateOptions configures Store.Create.
type CreateOptions struct {
	Shell ptyadapter.ShellKind
	Size  ptyadapter.Size
	Env   map[string]string
	Cwd   string

	// DebugCapturePath, if non-empty, is a directory the Session's raw
	// PTY bytes are teed into (one file per session), per
	// SPEC_FULL.md §11's debug raw-PTY capture supplement.
	DebugCapturePath string
}

// Store is a process-wide registry of live Sessions, protected by
// reader/writer discipline: reads (Get/List) proceed concurrently,
// writes (Create/Delete) are exclusive. It is meant to be constructed
// once per process and injected into the HTTP collaborator — see
// spec.md §9's "Global state" design note.
type Store struct {
	mu       sync.RWMutex
	sessions map[ID]*Session
	nextID   uint64

	idleTTL      time.Duration
	reaperPeriod time.Duration

	log *slog.Logger
}

// New creates an empty Store. idleTTL is the maximum time a session may
// sit idle before the reaper destroys it (spec.md §6
// session.idle_ttl_secs); reaperPeriod is the reaper sweep interval
// (spec.md §4.5: 30s).
func New(idleTTL, reaperPeriod time.Duration, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		sessions:     make(map[ID]*Session),
		idleTTL:      idleTTL,
		reaperPeriod: reaperPeriod,
		log:          log,
	}
}

// Create spawns a new PTY-backed Session and registers it. The Session
// transitions from Starting to Idle once the first PTY output is
// observed or after a 2s deadline, whichever is sooner, per spec.md
// §4.5.
func (st *Store) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	st.mu.Lock()
	if st.nextID == ^uint64(0) {
		st.mu.Unlock()
		return nil, ErrExhaustedIDs
	}
	st.nextID++
	id := ID(st.nextID)
	st.mu.Unlock()

	shell := opts.Shell
	if shell == "" {
		shell = ptyadapter.DefaultShell()
	}
	cwd, err := ptyadapter.ResolveCwd(opts.Cwd)
	if err != nil {
		return nil, fmt.Errorf("session: resolve cwd: %w", err)
	}

	handle, err := ptyadapter.Spawn(ctx, ptyadapter.SpawnOptions{
		Shell: shell,
		Size:  opts.Size,
		Env:   opts.Env,
		Cwd:   cwd,
	})
	if err != nil {
		return nil, err
	}

	sess := newSession(id, shell, handle, opts.Size, cwd)

	if opts.DebugCapturePath != "" {
		if f, err := openDebugCapture(opts.DebugCapturePath, id); err != nil {
			st.log.Warn("failed to open debug capture file", "session", id.String(), "err", err)
		} else {
			sess.debugFile = f
			sess.Broker.SetDebugSink(f)
		}
	}

	st.mu.Lock()
	st.sessions[id] = sess
	st.mu.Unlock()

	st.log.Info("session created", "session", id.String(), "shell", shell, "pid", handle.PID())

	go st.startupWatchdog(sess)
	st.awaitFirstOutput(sess)
	return sess, nil
}

// openDebugCapture creates (or truncates) the raw-capture file for a
// session under dir, named after its canonical id string.
func openDebugCapture(dir string, id ID) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(dir, id.String()+".raw"))
}

// startupWatchdogPeriod is how long a freshly spawned Session is given to
// produce its first byte of PTY output before the Store logs a
// diagnostic, per SPEC_FULL.md §11 (grounded on egg/server.go's
// startupWatchdog).
const startupWatchdogPeriod = 15 * time.Second

func (st *Store) startupWatchdog(sess *Session) {
	select {
	case <-time.After(startupWatchdogPeriod):
	case <-sess.Broker.Done():
		return
	}
	if !sess.Context.HasActivity() {
		st.log.Warn("session produced no PTY output within startup watchdog window",
			"session", sess.ID.String(), "shell", sess.Shell, "pid", sess.PTY.PID(),
			"since", startupWatchdogPeriod)
	}
}

// awaitFirstOutput transitions Starting -> Idle once the broker has
// delivered its first frame, or after a 2s deadline — whichever is
// sooner, per spec.md §4.5.
func (st *Store) awaitFirstOutput(sess *Session) {
	sub := sess.Broker.Subscribe()
	defer sess.Broker.Unsubscribe(sub)
	select {
	case <-sub.Frames():
	case <-time.After(2 * time.Second):
	case <-sess.Broker.Done():
	}
	sess.setState(Idle)
}

// Get looks up a Session by id.
func (st *Store) Get(id ID) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List returns all live Sessions' statuses, sorted by id ascending.
func (st *Store) List() []Status {
	st.mu.RLock()
	ids := make([]ID, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.RUnlock()

	sortIDs(ids)

	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		st.mu.RLock()
		sess, ok := st.sessions[id]
		st.mu.RUnlock()
		if ok {
			out = append(out, sess.Status())
		}
	}
	return out
}

func sortIDs(ids []ID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// Delete transitions the Session to Closing, invokes a graceful PTY
// kill, waits for exit, transitions to Closed, and removes it from the
// registry. Idempotent: deleting an already-Closed id returns NotFound.
func (st *Store) Delete(id ID) error {
	st.mu.Lock()
	sess, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return ErrNotFound
	}
	delete(st.sessions, id)
	st.mu.Unlock()

	st.destroy(sess, true)
	return nil
}

func (st *Store) destroy(sess *Session, graceful bool) {
	sess.setState(Closing)
	sess.Broker.Close()
	sess.PTY.Kill(graceful)
	<-sess.Broker.Done()
	sess.Emu.Close()
	sess.PTY.Close()
	if sess.debugFile != nil {
		sess.debugFile.Close()
	}
	sess.setState(Closed)
	st.log.Info("session destroyed", "session", sess.ID.String())
}

// RunReaper runs the periodic idle/exited-session sweep until ctx is
// done. Deletions performed by the reaper are not reported to any
// client, per spec.md §7.
func (st *Store) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(st.reaperPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.reapOnce()
		}
	}
}

func (st *Store) reapOnce() {
	st.mu.RLock()
	var toReap []*Session
	for _, sess := range st.sessions {
		if sess.State() == Closed {
			continue
		}
		idleFor := time.Since(sess.Context.LastActivity())
		exited := sess.exited.Load()
		if exited || idleFor > st.idleTTL {
			toReap = append(toReap, sess)
		}
	}
	st.mu.RUnlock()

	for _, sess := range toReap {
		st.mu.Lock()
		if _, ok := st.sessions[sess.ID]; !ok {
			st.mu.Unlock()
			continue
		}
		delete(st.sessions, sess.ID)
		st.mu.Unlock()

		st.log.Info("reaping session", "session", sess.ID.String(), "idle_for", humanize.RelTime(sess.Context.LastActivity(), time.Now(), "ago", ""))
		st.destroy(sess, !sess.exited.Load())
	}
}

// Shutdown signals every live session to Closing and kills them
// gracefully, per spec.md §5's shutdown sequence steps (b)-(d). It does
// not itself wait out the 5s in-flight-execution grace window — that is
// the gateway server's responsibility before calling Shutdown.
func (st *Store) Shutdown() {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		sessions = append(sessions, sess)
	}
	st.sessions = make(map[ID]*Session)
	st.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			st.destroy(s, true)
		}(sess)
	}
	wg.Wait()
}

// Len reports the number of live sessions (for health/metrics).
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
