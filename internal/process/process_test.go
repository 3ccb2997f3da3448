package process

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"syscall"
	"testing"
	"time"
)

// waitOutput drains the output while waiting for the child, as the
// supervisor does.
func waitOutput(t *testing.T, h *Handle) (string, error) {
	t.Helper()
	out := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(h.Output())
		out <- string(b)
	}()
	waited := make(chan error, 1)
	go func() { waited <- h.Wait() }()
	var err error
	select {
	case err = <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
	select {
	case s := <-out:
		return s, err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out draining output")
		return "", err
	}
}

func TestSpawnCapturesStdoutAndStderr(t *testing.T) {
	requireUnixSpec(t)
	h, err := Spawn(Spec{Name: "echo", Command: "sh -c 'echo out; echo err 1>&2'"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("expected pid, got %d", h.PID())
	}
	out, err := waitOutput(t, h)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
		t.Fatalf("expected combined output, got %q", out)
	}
}

func TestWriteLineReachesChild(t *testing.T) {
	requireUnixSpec(t)
	h, err := Spawn(Spec{Command: "sh -c 'read l; echo got:$l'"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := h.WriteLine("stop"); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, _ := waitOutput(t, h)
	if strings.TrimSpace(out) != "got:stop" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestKillTerminatesProcessGroup(t *testing.T) {
	requireUnixSpec(t)
	h, err := Spawn(Spec{Command: "sh -c 'echo ready; sleep 30'"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	line, err := bufio.NewReader(h.Output()).ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "ready" {
		t.Fatalf("expected ready line, got %q err=%v", line, err)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if _, err := waitOutput(t, h); err == nil {
		t.Fatal("expected non-nil exit error after SIGKILL")
	}
	if err := h.WriteLine("x"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after exit, got %v", err)
	}
	if err := h.Kill(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning on second kill, got %v", err)
	}
}

func TestSpawnFailure(t *testing.T) {
	requireUnixSpec(t)
	if _, err := Spawn(Spec{Command: "/nonexistent/bedrock_server"}); err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
	if _, err := Spawn(Spec{Command: ""}); err == nil {
		t.Fatal("expected validation error for empty command")
	}
}

func TestSpawnComposesEnv(t *testing.T) {
	requireUnixSpec(t)
	h, err := Spawn(Spec{
		Command: "sh -c 'echo $BEDROCK_B'",
		Env:     []string{"BEDROCK_A=1", "BEDROCK_B=${BEDROCK_A}2"},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	out, _ := waitOutput(t, h)
	if strings.TrimSpace(out) != "12" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestWaitNotHeldByDescendantOutput(t *testing.T) {
	requireUnixSpec(t)
	h, err := Spawn(Spec{Command: "sh -c 'sleep 5 & echo bye'"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer func() { _ = killGroup(h.PID(), syscall.SIGKILL) }()

	start := time.Now()
	out, err := waitOutput(t, h)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > OutputDrainTimeout+2*time.Second {
		t.Fatalf("wait held open by background child for %v", elapsed)
	}
	if strings.TrimSpace(out) != "bye" {
		t.Fatalf("unexpected output %q", out)
	}
}
