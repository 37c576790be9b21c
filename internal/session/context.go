package session

import (
	"runtime"
	"strings"
	"sync"
	"time"
)

// Context is the per-session derived state from spec.md §4.3: working
// directory, environment overlay, last exit code, last command, idle
// flag. It is mutated only by the Execution Engine, and only between
// commands — callers elsewhere only read it.
type Context struct {
	mu sync.RWMutex

	cwd          string
	env          map[string]string
	lastExitCode *int32
	lastCommand  string
	idle         bool
	createdAt    time.Time
	lastActivity time.Time
	touchCount   int64
}

// NewContext creates a Context seeded with an initial working directory.
func NewContext(cwd string) *Context {
	now := time.Now()
	return &Context{
		cwd:          cwd,
		env:          make(map[string]string),
		idle:         true,
		createdAt:    now,
		lastActivity: now,
	}
}

// Snapshot is an immutable read of Context state for status responses.
type Snapshot struct {
	Cwd          string
	Env          map[string]string
	LastExitCode *int32
	LastCommand  string
	Idle         bool
	CreatedAt    time.Time
	LastActivity time.Time
}

func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	envCopy := make(map[string]string, len(c.env))
	for k, v := range c.env {
		envCopy[k] = v
	}
	var code *int32
	if c.lastExitCode != nil {
		v := *c.lastExitCode
		code = &v
	}
	return Snapshot{
		Cwd:          c.cwd,
		Env:          envCopy,
		LastExitCode: code,
		LastCommand:  c.lastCommand,
		Idle:         c.idle,
		CreatedAt:    c.createdAt,
		LastActivity: c.lastActivity,
	}
}

// ApplyResult updates cwd, exit code, last command, and idle flag after a
// command completes, per the probe protocol in spec.md §4.4. exitCode is
// nil when the command timed out or the sentinel was never observed.
func (c *Context) ApplyResult(command, cwd string, exitCode *int32, idle bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cwd != "" {
		c.cwd = cwd
	}
	c.lastCommand = command
	c.lastExitCode = exitCode
	c.idle = idle
	c.lastActivity = time.Now()
}

// Touch refreshes last-activity-at without mutating other fields — used
// on any PTY read or write, per spec.md §3's reaper invariant.
func (c *Context) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	c.touchCount++
}

// HasActivity reports whether the PTY has produced or received any
// bytes since the session was created — used by the Store's startup
// watchdog to tell "never produced output" apart from "produced output
// a while ago".
func (c *Context) HasActivity() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.touchCount > 0
}

// LastActivity returns the last-activity-at timestamp, the reaper's sole
// idle metric.
func (c *Context) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// SetIdle marks the session idle/busy without touching other fields.
func (c *Context) SetIdle(idle bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idle = idle
	c.lastActivity = time.Now()
}

// EnvKey normalizes an environment variable name for lookup: case
// -insensitive on Windows, case-sensitive elsewhere, per spec.md §3.
func EnvKey(name string) string {
	if runtime.GOOS == "windows" {
		return strings.ToUpper(name)
	}
	return name
}
