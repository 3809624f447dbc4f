package manager

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/taskctl/internal/history"
	"github.com/loykin/taskctl/internal/metrics"
	"github.com/loykin/taskctl/internal/process"
	"github.com/loykin/taskctl/internal/store"
)

// LaunchRequest names the command to start. An empty Name is generated.
type LaunchRequest struct {
	Command string
	Name    string
}

// LaunchResult describes a started task.
type LaunchResult struct {
	Record store.Record
	// Replaced is the finished or stale record that previously held the name.
	Replaced *store.Record
	// Exited is closed when the task's shell exits, as long as this process lives.
	Exited <-chan struct{}
}

// GenerateName derives a task name from the launch time and the command.
func GenerateName(at time.Time, command string) string {
	sum := md5.Sum([]byte(command))
	return at.Format("20060102150405") + "_" + hex.EncodeToString(sum[:])
}

// Launch starts req.Command detached and records it as RUNNING. The lock is
// held across spawn and write, so a task that exits at once cannot complete
// before its record exists.
func (m *Manager) Launch(ctx context.Context, req LaunchRequest) (LaunchResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return LaunchResult{}, ErrEmptyCommand
	}
	name := req.Name
	if name == "" {
		name = GenerateName(m.now(), req.Command)
	}
	if err := store.ValidateName(name); err != nil {
		return LaunchResult{}, err
	}

	var res LaunchResult
	err := m.locked(ctx, func() error {
		existing, err := m.st.Read(ctx, name)
		switch {
		case err == nil:
			if existing.Status == store.StatusRunning && m.alive(existing) {
				return fmt.Errorf("%w: %s (pid %d)", ErrDuplicateTask, name, existing.PID)
			}
			res.Replaced = &existing
		case errors.Is(err, store.ErrNotFound):
		case errors.Is(err, store.ErrInvalidRecord):
			m.log.Warn("replacing unreadable task record", "task", name, "error", err)
		default:
			return err
		}
		// stale record and log of the previous holder
		if err := m.st.Delete(ctx, name); err != nil {
			return err
		}

		started := m.now()
		spec := process.Spec{
			Name:     name,
			Command:  req.Command,
			Shell:    m.shell,
			LogPath:  m.st.LogPath(name),
			Callback: m.callback,
		}
		if m.envM != nil {
			spec.Env = m.envM.Merge(nil)
		}
		h, err := process.Start(spec)
		if err != nil {
			metrics.IncLaunchFailure()
			m.log.Error("launch failed", "task", name, "error", err)
			_ = m.st.Delete(ctx, name)
			return fmt.Errorf("%w: %s: %v", ErrLaunchFailed, name, err)
		}

		rec := store.Record{
			Version:   store.SchemaVersion,
			Name:      name,
			Command:   req.Command,
			PID:       h.PID,
			ProcStart: h.StartUnix,
			StartedAt: started,
			Status:    store.StatusRunning,
		}
		if err := m.st.Create(ctx, rec); err != nil {
			// nothing would track it; do not leave it running unrecorded
			_ = process.TerminateGroup(h.PID)
			return fmt.Errorf("record task %s: %w", name, err)
		}
		res.Record = rec
		res.Exited = h.Done()
		m.transitioned(ctx, "", rec, history.EventLaunched)
		return nil
	})
	return res, err
}
