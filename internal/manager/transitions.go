package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/taskctl/internal/history"
	"github.com/loykin/taskctl/internal/process"
	"github.com/loykin/taskctl/internal/store"
)

// Complete records that the task exited with exitCode. pid identifies the
// process when the record was renamed while it ran; pass 0 when unknown.
// A record that is no longer RUNNING is left unchanged and ErrNotRunning is
// returned, so a completion racing a stop cannot overwrite STOPPED.
func (m *Manager) Complete(ctx context.Context, name string, exitCode, pid int) (store.Record, error) {
	var out store.Record
	err := m.locked(ctx, func() error {
		rec, err := m.st.Read(ctx, name)
		switch {
		case err == nil && (pid <= 0 || rec.PID == pid):
		case err == nil, errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidName):
			if pid <= 0 {
				return fmt.Errorf("%w: %s", ErrRecordMissing, name)
			}
			if rec, err = m.findRunning(ctx, pid); err != nil {
				return fmt.Errorf("%w: %s (pid %d)", err, name, pid)
			}
		default:
			return err
		}
		if rec.Status != store.StatusRunning {
			out = rec
			return fmt.Errorf("%w: %s is %s", ErrNotRunning, rec.Name, rec.Status)
		}
		rec.Finish(store.StatusDone, m.now(), &exitCode)
		if err := m.st.Write(ctx, rec); err != nil {
			return err
		}
		out = rec
		m.transitioned(ctx, string(store.StatusRunning), rec, history.EventCompleted)
		return nil
	})
	if errors.Is(err, ErrRecordMissing) {
		m.log.Warn("completion for unknown task", "task", name, "pid", pid, "exit_code", exitCode)
	}
	return out, err
}

// findRunning returns the RUNNING record whose pid matches.
func (m *Manager) findRunning(ctx context.Context, pid int) (store.Record, error) {
	recs, err := m.records(ctx)
	if err != nil {
		return store.Record{}, err
	}
	for _, r := range recs {
		if r.Status == store.StatusRunning && r.PID == pid {
			return r, nil
		}
	}
	return store.Record{}, ErrRecordMissing
}

// Stop sends SIGTERM to the task's process group and records it as STOPPED
// without waiting for the group to exit. A task that is not RUNNING, or whose
// process is already gone, is left unchanged.
func (m *Manager) Stop(ctx context.Context, name string) (store.Record, error) {
	var out store.Record
	err := m.locked(ctx, func() error {
		rec, err := m.st.Read(ctx, name)
		if err != nil {
			return err
		}
		out = rec
		if rec.Status != store.StatusRunning {
			return fmt.Errorf("%w: %s is %s", ErrNotRunning, name, rec.Status)
		}
		if !m.alive(rec) {
			return fmt.Errorf("%w: %s process %s is gone", ErrNotRunning, name, detectorFor(rec).Describe())
		}
		if err := process.TerminateGroup(rec.PID); err != nil {
			return fmt.Errorf("stop %s: %w", name, err)
		}
		rec.Finish(store.StatusStopped, m.now(), nil)
		if err := m.st.Write(ctx, rec); err != nil {
			return err
		}
		out = rec
		m.transitioned(ctx, string(store.StatusRunning), rec, history.EventStopped)
		return nil
	})
	return out, err
}

// Repair persists a RUNNING record whose process is gone as STOPPED.
func (m *Manager) Repair(ctx context.Context, name string) (store.Record, error) {
	var out store.Record
	err := m.locked(ctx, func() error {
		rec, err := m.st.Read(ctx, name)
		if err != nil {
			return err
		}
		out = rec
		if !m.view(rec).Stale() {
			return fmt.Errorf("%w: %s is %s", ErrNotRunning, name, m.view(rec).Display())
		}
		out, err = m.repair(ctx, rec)
		return err
	})
	return out, err
}

// RepairAll repairs every stale record and returns the repaired records.
func (m *Manager) RepairAll(ctx context.Context) ([]store.Record, error) {
	var out []store.Record
	err := m.locked(ctx, func() error {
		recs, err := m.records(ctx)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if !m.view(rec).Stale() {
				continue
			}
			fixed, err := m.repair(ctx, rec)
			if err != nil {
				return err
			}
			out = append(out, fixed)
		}
		return nil
	})
	return out, err
}

func (m *Manager) repair(ctx context.Context, rec store.Record) (store.Record, error) {
	rec.Finish(store.StatusStopped, m.now(), nil)
	if err := m.st.Write(ctx, rec); err != nil {
		return store.Record{}, err
	}
	m.transitioned(ctx, string(store.StatusRunning), rec, history.EventRepaired)
	return rec, nil
}

// Rename moves a task, with its log, to a new name. A running task keeps
// writing to the renamed log and completes under the new name.
func (m *Manager) Rename(ctx context.Context, oldName, newName string) error {
	return m.locked(ctx, func() error {
		if err := m.st.Rename(ctx, oldName, newName); err != nil {
			return err
		}
		rec, err := m.st.Read(ctx, newName)
		if err != nil {
			return err
		}
		m.log.Info("task renamed", "task", newName, "from", oldName, "pid", rec.PID)
		m.emit(ctx, history.EventRenamed, rec)
		return nil
	})
}

// Clear deletes every task that is finished or whose process is gone, along
// with orphaned logs. Live tasks are untouched. It returns the cleared names.
func (m *Manager) Clear(ctx context.Context) ([]string, error) {
	var cleared []string
	err := m.locked(ctx, func() error {
		recs, err := m.records(ctx)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(recs))
		for _, rec := range recs {
			known[rec.Name] = true
			if m.view(rec).Active() {
				continue
			}
			if err := m.st.Delete(ctx, rec.Name); err != nil {
				return err
			}
			cleared = append(cleared, rec.Name)
			m.log.Info("task cleared", "task", rec.Name, "status", string(rec.Status))
			m.emit(ctx, history.EventCleared, rec)
		}
		logs, err := m.st.LogNames(ctx)
		if err != nil {
			return err
		}
		for _, name := range logs {
			if known[name] {
				continue
			}
			if _, err := m.st.Read(ctx, name); !errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err := m.st.Delete(ctx, name); err != nil {
				return err
			}
			cleared = append(cleared, name)
		}
		return nil
	})
	return cleared, err
}
