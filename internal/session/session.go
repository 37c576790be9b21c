package session

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/shellgate/internal/broker"
	"github.com/ehrlich-b/shellgate/internal/ptyadapter"
	"github.com/ehrlich-b/shellgate/internal/vterm"
)

// Session is a live PTY-backed shell: id, shell kind, PTY handle,
// context, broker of subscribers, timestamps, and state, per spec.md §3.
// Every live Session has exactly one PtyHandle and one Store entry;
// destruction is atomic across both (enforced by Store.Delete).
type Session struct {
	ID        ID
	Shell     ptyadapter.ShellKind
	CreatedAt time.Time

	PTY     *ptyadapter.Handle
	Emu     *vterm.Emulator
	Broker  *broker.Broker
	Context *Context

	state    atomic.Int32 // State
	execBusy atomic.Bool

	exitCode atomic.Int32
	exited   atomic.Bool

	// debugFile is the optional raw-PTY capture sink opened by
	// Store.Create when CreateOptions.DebugCapturePath is set; nil
	// otherwise.
	debugFile *os.File
}

// newSession wires a freshly spawned PTY handle into a Session: virtual
// terminal, broker (with its read-fanout goroutine), and context.
func newSession(id ID, shell ptyadapter.ShellKind, pty *ptyadapter.Handle, size ptyadapter.Size, cwd string) *Session {
	s := &Session{
		ID:        id,
		Shell:     shell,
		CreatedAt: time.Now(),
		PTY:       pty,
		Context:   NewContext(cwd),
	}
	s.Emu = vterm.New(int(size.Cols), int(size.Rows))
	s.Broker = broker.New(pty, s.Emu, s.Context.Touch)
	s.state.Store(int32(Starting))
	go s.Broker.Run()
	go s.watchExit()
	return s
}

// watchExit blocks on PTY exit and records the code once the broker's
// read loop (and thus the child) has finished.
func (s *Session) watchExit() {
	<-s.Broker.Done()
	code, err := s.PTY.Wait()
	if err != nil {
		s.state.Store(int32(Failed))
		s.exitCode.Store(-1)
	} else {
		s.exitCode.Store(int32(code))
	}
	s.exited.Store(true)
	if State(s.state.Load()) != Failed {
		// Exiting transitions the session out of Idle/Executing; callers
		// observing the state via Status will see Closed once Store.Delete
		// runs the teardown, but mark Closing now so concurrent readers
		// know the child is gone.
		s.state.CompareAndSwap(int32(Idle), int32(Closing))
		s.state.CompareAndSwap(int32(Executing), int32(Closing))
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// setState sets the lifecycle state directly (monotone progression is
// the caller's responsibility).
func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// BeginExecuting transitions an Idle session to Executing. Returns
// false if the session was not Idle (e.g. already Executing, or
// past Idle in its lifecycle) — the caller should treat that as busy
// or gone rather than force the transition.
func (s *Session) BeginExecuting() bool {
	return s.state.CompareAndSwap(int32(Idle), int32(Executing))
}

// EndExecuting transitions an Executing session back to Idle. No-op if
// the session has since moved to Closing/Closed/Failed.
func (s *Session) EndExecuting() {
	s.state.CompareAndSwap(int32(Executing), int32(Idle))
}

// ExitCode returns the child's exit code once it has exited (ok=false
// until then).
func (s *Session) ExitCode() (code int32, ok bool) {
	if !s.exited.Load() {
		return 0, false
	}
	return s.exitCode.Load(), true
}

// TryLockExec attempts to acquire the per-session command lock
// non-blockingly, implementing the reject-don't-queue busy policy from
// spec.md §4.4.
func (s *Session) TryLockExec() bool {
	return s.execBusy.CompareAndSwap(false, true)
}

// UnlockExec releases the per-session command lock.
func (s *Session) UnlockExec() {
	s.execBusy.Store(false)
}

// Status is the externally visible view of a Session for status/list
// responses.
type Status struct {
	ID        ID
	Shell     ptyadapter.ShellKind
	State     State
	CreatedAt time.Time
	Context   Snapshot
	Subscribers int
}

func (s *Session) Status() Status {
	return Status{
		ID:          s.ID,
		Shell:       s.Shell,
		State:       s.State(),
		CreatedAt:   s.CreatedAt,
		Context:     s.Context.Snapshot(),
		Subscribers: s.Broker.SubscriberCount(),
	}
}
