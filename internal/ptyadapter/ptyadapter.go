// Package ptyadapter abstracts pseudo-terminal spawning across hosts. On
// Linux and macOS it uses github.com/creack/pty (openpty/forkpty); it is
// structured so a ConPTY-backed Windows implementation can be dropped in
// behind the same Handle interface without touching callers.
package ptyadapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ShellKind identifies the shell flavor a session runs.
type ShellKind string

const (
	ShellBash       ShellKind = "bash"
	ShellZsh        ShellKind = "zsh"
	ShellSh         ShellKind = "sh"
	ShellPowerShell ShellKind = "powershell"
	ShellCmd        ShellKind = "cmd"
)

// DefaultShell picks the platform default per spec.md §4.1: Bash on
// Linux; Zsh on macOS if present else Bash; PowerShell on Windows if
// present else Cmd.
func DefaultShell() ShellKind {
	switch runtime.GOOS {
	case "windows":
		if _, err := exec.LookPath("pwsh"); err == nil {
			return ShellPowerShell
		}
		if _, err := exec.LookPath("powershell"); err == nil {
			return ShellPowerShell
		}
		return ShellCmd
	case "darwin":
		if _, err := exec.LookPath("zsh"); err == nil {
			return ShellZsh
		}
		return ShellBash
	default:
		return ShellBash
	}
}

// binaryAndArgs resolves the shell kind to an executable name and its
// interactive-mode arguments.
func binaryAndArgs(kind ShellKind) (string, []string, error) {
	switch kind {
	case ShellBash:
		return "bash", nil, nil
	case ShellZsh:
		return "zsh", nil, nil
	case ShellSh:
		return "sh", nil, nil
	case ShellPowerShell:
		if _, err := exec.LookPath("pwsh"); err == nil {
			return "pwsh", []string{"-NoLogo"}, nil
		}
		return "powershell", []string{"-NoLogo"}, nil
	case ShellCmd:
		return "cmd", nil, nil
	default:
		return "", nil, fmt.Errorf("%w: unknown shell kind %q", ErrShellNotFound, kind)
	}
}

// Size describes terminal dimensions in character cells.
type Size struct {
	Cols uint16
	Rows uint16
}

// DefaultSize is the PTY Adapter's default dimension, per spec.md §4.1.
var DefaultSize = Size{Cols: 80, Rows: 24}

var (
	// ErrInvalidCwd is returned when the requested working directory
	// does not exist or is not a directory.
	ErrInvalidCwd = errors.New("ptyadapter: invalid cwd")
	// ErrShellNotFound is returned when the resolved shell binary is
	// not on PATH.
	ErrShellNotFound = errors.New("ptyadapter: shell not found")
)

// SpawnOptions configures a new PTY-backed child process.
type SpawnOptions struct {
	Shell   ShellKind
	Size    Size
	Env     map[string]string // merged over the parent environment
	Cwd     string
}

// Handle is a live PTY-backed child process: a byte-oriented read half, a
// byte-oriented write half, resize, wait-for-exit, and kill.
type Handle struct {
	Shell ShellKind
	pid   int
	ptmx  *os.File
	cmd   *exec.Cmd
}

// Spawn starts shell kind against a fresh PTY pair. cwd, when set, is
// validated to exist and be a directory.
func Spawn(ctx context.Context, opts SpawnOptions) (*Handle, error) {
	kind := opts.Shell
	if kind == "" {
		kind = DefaultShell()
	}
	name, args, err := binaryAndArgs(kind)
	if err != nil {
		return nil, err
	}
	binPath, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrShellNotFound, name, err)
	}

	if opts.Cwd != "" {
		info, statErr := os.Stat(opts.Cwd)
		if statErr != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCwd, opts.Cwd)
		}
	}

	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Dir = opts.Cwd
	cmd.Env = mergeEnv(os.Environ(), opts.Env)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	size := opts.Size
	if size.Cols == 0 {
		size.Cols = DefaultSize.Cols
	}
	if size.Rows == 0 {
		size.Rows = DefaultSize.Rows
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: size.Cols, Rows: size.Rows})
	if err != nil {
		return nil, fmt.Errorf("ptyadapter: start pty: %w", err)
	}

	return &Handle{
		Shell: kind,
		pid:   cmd.Process.Pid,
		ptmx:  ptmx,
		cmd:   cmd,
	}, nil
}

func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	seen := make(map[string]int, len(base))
	out := make([]string, len(base))
	copy(out, base)
	for i, kv := range out {
		if eq := indexByte(kv, '='); eq >= 0 {
			seen[kv[:eq]] = i
		}
	}
	for k, v := range overlay {
		entry := k + "=" + v
		if i, ok := seen[k]; ok {
			out[i] = entry
		} else {
			out = append(out, entry)
			seen[k] = len(out) - 1
		}
	}
	return out
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// PID returns the child process id.
func (h *Handle) PID() int { return h.pid }

// Read reads raw PTY output. May return partial reads; returns io.EOF
// (wrapped) once the slave side closes.
func (h *Handle) Read(buf []byte) (int, error) {
	return h.ptmx.Read(buf)
}

// Write writes bytes to the PTY. The caller is responsible for enforcing
// single-writer discipline — the adapter accepts interleaved writes from
// at most one logical writer.
func (h *Handle) Write(p []byte) (int, error) {
	return h.ptmx.Write(p)
}

// Resize changes the terminal's declared dimensions.
func (h *Handle) Resize(cols, rows uint16) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Wait blocks until the child terminates and returns its exit code.
// Idempotent: once the child has been reaped, later calls return the
// exit code recorded by the first call.
func (h *Handle) Wait() (exitCode int, err error) {
	if ps := h.cmd.ProcessState; ps != nil {
		return ps.ExitCode(), nil
	}
	waitErr := h.cmd.Wait()
	if waitErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, waitErr
}

// exitSequence returns the shell-appropriate bytes to write to the PTY
// master to ask the shell to exit on its own, per spec.md §4.1's
// graceful shutdown step (a): POSIX shells treat Ctrl-D (EOF on stdin)
// as "exit now with no more input"; cmd.exe and PowerShell have no EOF
// keystroke and need an explicit exit command.
func exitSequence(kind ShellKind) []byte {
	switch kind {
	case ShellCmd, ShellPowerShell:
		return []byte("exit\r\n")
	default:
		return []byte{0x04}
	}
}

// Kill terminates the child. If graceful, it first writes the
// shell-appropriate exit sequence to the PTY and polls for exit up to
// 2s, then escalates to SIGTERM and polls a further 1s, then SIGKILL —
// spec.md §4.1's exact graceful shutdown sequence. Non-graceful kills
// immediately with SIGKILL. Kill never itself calls Wait — the caller is
// expected to be reaping the child's exit status in a separate goroutine
// (calling Wait concurrently from two places races on the same pid).
func (h *Handle) Kill(graceful bool) {
	if h.cmd.Process == nil {
		return
	}
	if !graceful {
		h.cmd.Process.Kill()
		return
	}
	h.ptmx.Write(exitSequence(h.Shell))
	if h.pollExited(2 * time.Second) {
		return
	}
	h.cmd.Process.Signal(syscall.SIGTERM)
	if !h.pollExited(1 * time.Second) {
		h.cmd.Process.Kill()
	}
}

// pollExited polls process liveness via a zero-signal probe until the
// deadline elapses or the process is gone.
func (h *Handle) pollExited(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := h.cmd.Process.Signal(syscall.Signal(0)); err != nil {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return h.cmd.Process.Signal(syscall.Signal(0)) != nil
}

// Close releases the PTY master file descriptor. Call after Wait/Kill.
func (h *Handle) Close() error {
	return h.ptmx.Close()
}

// ResolveCwd returns the absolute form of dir, defaulting to the current
// working directory when dir is empty.
func ResolveCwd(dir string) (string, error) {
	if dir == "" {
		return os.Getwd()
	}
	return filepath.Abs(dir)
}
