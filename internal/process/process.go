package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/loykin/taskctl/internal/detector"
)

// Handle refers to a started task. The child is reaped in the background so
// it never lingers as a zombie while the launcher is still running.
type Handle struct {
	PID       int
	StartUnix int64 // OS start time of PID, 0 when unknown

	done     chan struct{}
	mu       sync.Mutex
	exitCode int
}

// Done is closed once the shell has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode returns the shell's exit status after Done is closed, -1 if it was
// killed by a signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Start spawns spec detached from the caller. stdin reads from /dev/null and
// both stdout and stderr are appended to spec.LogPath.
func Start(spec Spec) (*Handle, error) {
	cmd, err := spec.BuildCommand()
	if err != nil {
		return nil, err
	}
	if spec.LogPath == "" {
		return nil, errors.New("log path is required")
	}
	if spec.Env != nil {
		cmd.Env = spec.Env
	}

	logf, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	// the child holds its own descriptors after Start
	defer func() { _ = logf.Close() }()
	null, err := os.Open(os.DevNull)
	if err != nil {
		return nil, err
	}
	defer func() { _ = null.Close() }()

	cmd.Stdin = null
	cmd.Stdout = logf
	cmd.Stderr = logf
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h := &Handle{
		PID:       cmd.Process.Pid,
		StartUnix: detector.ProcStartUnix(cmd.Process.Pid),
		done:      make(chan struct{}),
		exitCode:  -1,
	}
	go h.wait(cmd)
	return h, nil
}

func (h *Handle) wait(cmd *exec.Cmd) {
	_ = cmd.Wait()
	h.mu.Lock()
	if cmd.ProcessState != nil {
		h.exitCode = cmd.ProcessState.ExitCode()
	}
	h.mu.Unlock()
	close(h.done)
}
