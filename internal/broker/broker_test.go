package broker

import (
	"io"
	"testing"
	"time"
)

// pipeRW feeds a fixed sequence of reads then blocks until closed, so
// Run's loop can be driven deterministically from a test.
type pipeRW struct {
	r io.Reader
	w io.Writer
}

func (p *pipeRW) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeRW) Write(b []byte) (int, error) { return p.w.Write(b) }

type identitySanitizer struct{}

func (identitySanitizer) Feed(raw []byte) string { return string(raw) }

func newTestBroker(t *testing.T) (*Broker, *io.PipeWriter, func()) {
	t.Helper()
	pr, pw := io.Pipe()
	rw := &pipeRW{r: pr, w: io.Discard}
	activity := 0
	b := New(rw, identitySanitizer{}, func() { activity++ })
	go b.Run()
	return b, pw, func() { pw.Close() }
}

func TestSubscribeReceivesFrames(t *testing.T) {
	b, pw, cleanup := newTestBroker(t)
	defer cleanup()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	go pw.Write([]byte("hello"))

	select {
	case f := <-sub.Frames():
		if f.Text != "hello" {
			t.Errorf("Text = %q, want %q", f.Text, "hello")
		}
		if f.Seq != 0 {
			t.Errorf("Seq = %d, want 0", f.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b, pw, cleanup := newTestBroker(t)
	defer cleanup()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	go pw.Write([]byte("ignored"))
	time.Sleep(50 * time.Millisecond)

	select {
	case f, ok := <-sub.Frames():
		if ok {
			t.Fatalf("unexpected frame after unsubscribe: %+v", f)
		}
	default:
	}
}

func TestDoneClosesAfterReadError(t *testing.T) {
	b, pw, _ := newTestBroker(t)
	pw.Close()

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() never closed after read error")
	}
}

func TestSendInputFailsAfterClose(t *testing.T) {
	b, _, cleanup := newTestBroker(t)
	defer cleanup()

	b.Close()
	if _, err := b.SendInput([]byte("x")); err != ErrClosed {
		t.Errorf("SendInput after Close: err = %v, want ErrClosed", err)
	}
}

func TestSubscriberCount(t *testing.T) {
	b, _, cleanup := newTestBroker(t)
	defer cleanup()

	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", n)
	}
	sub := b.Subscribe()
	if n := b.SubscriberCount(); n != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", n)
	}
	b.Unsubscribe(sub)
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("SubscriberCount = %d, want 0 after unsubscribe", n)
	}
}

func TestLaggedOnBufferOverflow(t *testing.T) {
	pr, pw := io.Pipe()
	rw := &pipeRW{r: pr, w: io.Discard}
	b := New(rw, identitySanitizer{}, nil)
	go b.Run()
	defer pw.Close()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	// Publish more frames than the subscriber buffer holds without
	// draining, forcing the drop-oldest path.
	go func() {
		for i := 0; i < frameBufSize+10; i++ {
			pw.Write([]byte("x"))
		}
	}()

	time.Sleep(200 * time.Millisecond)
	if !sub.Lagged() {
		t.Error("expected Lagged() to report true after buffer overflow")
	}
}
