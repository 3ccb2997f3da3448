package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/bedrockd/internal/env"
)

// ErrNotRunning is returned when writing to or signalling a handle whose
// process has already been reaped.
var ErrNotRunning = errors.New("process not running")

// OutputDrainTimeout bounds how long Wait keeps copying output after the
// child exits. A descendant that inherited the output pipe cannot hold Wait
// open past it.
var OutputDrainTimeout = time.Second

// Handle is a live child process. It owns the process, the write end of its
// stdin and a stream carrying its stdout and stderr.
//
// Output should be read concurrently with Wait; Wait must be called exactly
// once. The stream ends after Wait returns.
type Handle struct {
	pid       int
	startedAt time.Time

	mu     sync.Mutex // serializes stdin writes and guards exited
	stdin  io.WriteCloser
	output *io.PipeReader
	outW   *io.PipeWriter
	exited bool

	wait func() error
}

// Spawn starts the process described by spec with piped stdio.
// The child runs in its own process group so Kill reaches its descendants.
func Spawn(spec Spec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = env.ForProcess(spec.Env)
	}
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	r, w := io.Pipe()
	// same writer for both: os/exec shares one pipe and one copier
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.WaitDelay = OutputDrainTimeout

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = w.Close()
		return nil, err
	}

	return &Handle{
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		stdin:     stdin,
		output:    r,
		outW:      w,
		wait:      cmd.Wait,
	}, nil
}

// PID returns the process id of the child.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns when the process was spawned.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Output returns the combined stdout/stderr stream. It yields io.EOF once
// Wait has returned.
func (h *Handle) Output() io.Reader { return h.output }

// WriteLine writes line plus a newline terminator to the child's stdin.
func (h *Handle) WriteLine(line string) error {
	line = strings.TrimRight(line, "\r\n")
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return ErrNotRunning
	}
	if _, err := io.WriteString(h.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// Kill forcibly terminates the process group (SIGKILL).
func (h *Handle) Kill() error {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return ErrNotRunning
	}
	return killGroup(h.pid, syscall.SIGKILL)
}

// Wait blocks until the child exits and its output is copied, or until
// OutputDrainTimeout after the exit when a descendant keeps the pipe open.
// It returns the exit error reported by os/exec (nil on a zero exit status).
func (h *Handle) Wait() error {
	err := h.wait()
	h.mu.Lock()
	h.exited = true
	h.mu.Unlock()
	_ = h.outW.Close()
	if errors.Is(err, exec.ErrWaitDelay) {
		err = nil
	}
	return err
}
