// Package broker implements the Streaming Broker (spec.md §4.6): per
// -session fan-out of PTY output to zero or more live subscribers, plus a
// single-writer input channel. It owns the PTY-read task for its
// session.
package broker

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// Frame is an OutputFrame: monotonically numbered, raw bytes and
// sanitized text, with a timestamp implicit in delivery order.
type Frame struct {
	Seq  uint64
	Raw  []byte
	Text string // sanitized text produced by this read
}

// frameBufSize is the bounded subscriber buffer: 256 frames, per
// spec.md §4.6. On overflow the broker drops the oldest buffered frame
// and sets Lagged on the subscription.
const frameBufSize = 256

// Sanitizer is the minimal surface the broker needs from the Terminal
// Emulator: feed raw bytes in, get the incremental sanitized text back
// out. internal/vterm.Emulator satisfies this via a thin adapter (see
// TextEmulator).
type Sanitizer interface {
	// Feed writes raw bytes through the emulator (both the sanitized
	// transcript and the screen grid) and returns the sanitized text
	// produced by this call only (not the whole accumulated transcript).
	Feed(raw []byte) string
}

// Subscription is a live, ordered feed of Frames delivered to one
// consumer, per spec.md's Subscription glossary entry.
type Subscription struct {
	id     uint64
	ch     chan Frame
	lagged atomic.Bool
}

// Frames returns the channel to range/select over for delivered frames.
func (s *Subscription) Frames() <-chan Frame { return s.ch }

// Lagged reports whether frames were dropped for this subscription since
// the last call, and clears the flag.
func (s *Subscription) Lagged() bool { return s.lagged.Swap(false) }

// ErrClosed is returned by SendInput after the broker has been closed.
var ErrClosed = errors.New("broker: closed")

// Broker fans out one PTY's output to N subscribers and linearizes
// writes back into the PTY from possibly-concurrent callers.
type Broker struct {
	rw        io.ReadWriter
	sanitizer Sanitizer
	onActivity func()
	debugSink  io.Writer

	writeMu sync.Mutex // single-writer discipline for SendInput

	mu      sync.Mutex
	nextSeq uint64
	subs    map[uint64]*Subscription
	nextSub uint64
	closed  bool
	done    chan struct{}
}

// New creates a Broker over rw (the PTY's read/write halves), feeding raw
// bytes to sanitizer as they arrive. onActivity, if non-nil, is called on
// every read and every write (refreshes the session's last-activity-at).
func New(rw io.ReadWriter, sanitizer Sanitizer, onActivity func()) *Broker {
	return &Broker{
		rw:         rw,
		sanitizer:  sanitizer,
		onActivity: onActivity,
		subs:       make(map[uint64]*Subscription),
		done:       make(chan struct{}),
	}
}

// Run pulls bytes from the PTY until it returns an error (typically EOF
// on child exit) and fans each read out as a Frame. Intended to run in
// its own goroutine for the lifetime of the session.
func (b *Broker) Run() {
	defer close(b.done)
	buf := make([]byte, 4096)
	for {
		n, err := b.rw.Read(buf)
		if n > 0 {
			raw := make([]byte, n)
			copy(raw, buf[:n])
			text := b.sanitizer.Feed(raw)
			if b.onActivity != nil {
				b.onActivity()
			}
			b.mu.Lock()
			sink := b.debugSink
			b.mu.Unlock()
			if sink != nil {
				sink.Write(raw)
			}
			b.publish(Frame{Raw: raw, Text: text})
		}
		if err != nil {
			return
		}
	}
}

// Done is closed once Run's read loop has exited (PTY EOF/error).
func (b *Broker) Done() <-chan struct{} { return b.done }

// SetDebugSink tees every raw byte read from the PTY to w, best-effort
// (write errors are ignored), per SPEC_FULL.md §11's debug raw-PTY
// capture supplement. Call before Run starts consuming.
func (b *Broker) SetDebugSink(w io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.debugSink = w
}

func (b *Broker) publish(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f.Seq = b.nextSeq
	b.nextSeq++
	for _, sub := range b.subs {
		select {
		case sub.ch <- f:
		default:
			// Buffer full — drop the oldest to make room, per spec.md §4.6.
			select {
			case <-sub.ch:
			default:
			}
			sub.lagged.Store(true)
			select {
			case sub.ch <- f:
			default:
			}
		}
	}
}

// Subscribe delivers all Frames produced after subscription time.
func (b *Broker) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	sub := &Subscription{
		id: b.nextSub,
		ch: make(chan Frame, frameBufSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription. Idempotent.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub.id)
}

// SendInput writes bytes directly to the PTY. Concurrent callers are
// linearized with first-come ordering via writeMu.
func (b *Broker) SendInput(p []byte) (int, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	n, err := b.rw.Write(p)
	if b.onActivity != nil {
		b.onActivity()
	}
	return n, err
}

// Close marks the broker closed; further SendInput calls fail. It does
// not close the underlying PTY handle — the Session owns that lifecycle.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// SubscriberCount reports the number of live subscriptions (for status
// endpoints).
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
