// Package vterm implements the Terminal Emulator: a sanitized plain-text
// transcript and a virtual screen grid, fed from the same byte stream.
package vterm

import (
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

const maxScrollbackLines = 10000

// Emulator parses a raw PTY byte stream into two views: Sanitizer's
// plain-text transcript, and a virtual screen grid with cursor tracking
// (via charmbracelet/x/vt). Both are updated from the same Write call so
// they never drift relative to each other. Total: never panics regardless
// of how malformed the input is.
type Emulator struct {
	mu sync.Mutex

	sanitizer *Sanitizer
	emu       *vt.Emulator

	scrollback []string
	sbHead     int
	sbLen      int
	altScreen  bool
	cursorOff  bool
	cols, rows int
}

// New creates an Emulator sized cols x rows.
func New(cols, rows int) *Emulator {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	e := &Emulator{
		sanitizer:  NewSanitizer(),
		emu:        vt.NewEmulator(cols, rows),
		scrollback: make([]string, maxScrollbackLines),
		cols:       cols,
		rows:       rows,
	}
	e.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if e.altScreen {
				return
			}
			for _, line := range lines {
				rendered := line.Render()
				if e.sbLen == len(e.scrollback) {
					e.scrollback[e.sbHead] = ""
				}
				e.scrollback[e.sbHead] = rendered
				e.sbHead = (e.sbHead + 1) % len(e.scrollback)
				if e.sbLen < len(e.scrollback) {
					e.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range e.scrollback {
				e.scrollback[i] = ""
			}
			e.sbLen, e.sbHead = 0, 0
		},
		AltScreen: func(on bool) { e.altScreen = on },
		CursorVisibility: func(visible bool) {
			e.cursorOff = !visible
		},
	})
	return e
}

// Write feeds raw PTY bytes to both the sanitizer and the screen grid.
// Never returns an error — parse failures degrade the view, never the
// caller.
func (e *Emulator) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sanitizer.Write(p)
	n, err := e.emu.Write(p)
	if err != nil {
		// Degrade silently: the sanitized view already has the bytes.
		return len(p), nil
	}
	return n, nil
}

// Feed writes raw bytes through both views and returns the sanitized
// text produced by this call alone, for incremental streaming. It
// satisfies internal/broker.Sanitizer.
func (e *Emulator) Feed(raw []byte) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sanitizer.Write(raw)
	e.emu.Write(raw) // parse failures degrade the screen grid only
	return e.sanitizer.Drain()
}

// SanitizedText returns the full sanitized transcript accumulated so far.
func (e *Emulator) SanitizedText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sanitizer.Text()
}

// ResetSanitized clears the accumulated sanitized transcript without
// touching the screen grid (used after a command boundary is consumed).
func (e *Emulator) ResetSanitized() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sanitizer.Reset()
}

// Resize changes the screen grid dimensions.
func (e *Emulator) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emu.Resize(cols, rows)
	e.cols, e.rows = cols, rows
}

// CursorPosition returns the 0-based (row, col) of the virtual cursor.
func (e *Emulator) CursorPosition() (row, col int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.emu.CursorPosition()
	return pos.Y, pos.X
}

// Snapshot renders scrollback + grid + cursor restore as a byte sequence
// any terminal emulator can consume directly, for reconnecting subscribers.
func (e *Emulator) Snapshot() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	var buf strings.Builder
	lines := e.scrollbackLocked()
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	if len(lines) > 0 {
		for range max(e.rows-1, 0) {
			buf.WriteByte('\n')
		}
	}
	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(e.emu.Render())
	pos := e.emu.CursorPosition()
	buf.WriteString(csiCUP(pos.Y+1, pos.X+1))
	if e.cursorOff {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}
	return []byte(buf.String())
}

func (e *Emulator) scrollbackLocked() []string {
	if e.sbLen == 0 {
		return nil
	}
	lines := make([]string, e.sbLen)
	start := (e.sbHead - e.sbLen + len(e.scrollback)) % len(e.scrollback)
	for i := range e.sbLen {
		lines[i] = e.scrollback[(start+i)%len(e.scrollback)]
	}
	return lines
}

// Close releases the underlying emulator resources.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emu.Close()
}

func csiCUP(row, col int) string {
	return "\x1b[" + itoa(row) + ";" + itoa(col) + "H"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
