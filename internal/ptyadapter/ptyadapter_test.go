package ptyadapter

import (
	"context"
	"testing"
	"time"
)

func TestBinaryAndArgsKnownShells(t *testing.T) {
	cases := map[ShellKind]string{
		ShellBash: "bash",
		ShellZsh:  "zsh",
		ShellSh:   "sh",
		ShellCmd:  "cmd",
	}
	for kind, wantBin := range cases {
		bin, _, err := binaryAndArgs(kind)
		if err != nil {
			t.Fatalf("binaryAndArgs(%q): %v", kind, err)
		}
		if bin != wantBin {
			t.Errorf("binaryAndArgs(%q) = %q, want %q", kind, bin, wantBin)
		}
	}
}

func TestBinaryAndArgsUnknownShell(t *testing.T) {
	if _, _, err := binaryAndArgs(ShellKind("fish")); err == nil {
		t.Error("expected error for unknown shell kind")
	}
}

func TestDefaultSize(t *testing.T) {
	if DefaultSize.Cols != 80 || DefaultSize.Rows != 24 {
		t.Errorf("DefaultSize = %+v, want 80x24", DefaultSize)
	}
}

func TestDefaultShellIsNonEmpty(t *testing.T) {
	if DefaultShell() == "" {
		t.Error("DefaultShell() returned empty ShellKind")
	}
}

func TestExitSequencePOSIXShellsUseEOF(t *testing.T) {
	for _, kind := range []ShellKind{ShellBash, ShellZsh, ShellSh} {
		got := exitSequence(kind)
		if len(got) != 1 || got[0] != 0x04 {
			t.Errorf("exitSequence(%q) = %v, want Ctrl-D", kind, got)
		}
	}
}

func TestExitSequenceWindowsShellsUseExitCommand(t *testing.T) {
	for _, kind := range []ShellKind{ShellCmd, ShellPowerShell} {
		got := string(exitSequence(kind))
		if got != "exit\r\n" {
			t.Errorf("exitSequence(%q) = %q, want %q", kind, got, "exit\r\n")
		}
	}
}

func TestKillGracefulExitsViaEOF(t *testing.T) {
	h, err := Spawn(context.Background(), SpawnOptions{Shell: ShellSh})
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	defer h.Close()
	// Kill expects the caller to reap the child; without it the exited
	// shell stays a zombie and the liveness probe still sees it.
	go h.Wait()

	h.Kill(true)
	if !h.pollExited(2 * time.Second) {
		t.Fatal("shell did not exit within graceful deadline")
	}
}

func TestKillNonGracefulExitsImmediately(t *testing.T) {
	h, err := Spawn(context.Background(), SpawnOptions{Shell: ShellSh})
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	defer h.Close()
	go h.Wait()

	h.Kill(false)
	if !h.pollExited(1 * time.Second) {
		t.Fatal("shell did not exit after SIGKILL")
	}
}
