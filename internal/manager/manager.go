package manager

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/loykin/taskctl/internal/detector"
	"github.com/loykin/taskctl/internal/env"
	"github.com/loykin/taskctl/internal/history"
	"github.com/loykin/taskctl/internal/metrics"
	"github.com/loykin/taskctl/internal/process"
	"github.com/loykin/taskctl/internal/store"
)

var (
	ErrNotFound      = store.ErrNotFound
	ErrDuplicateTask = errors.New("task is already running")
	ErrNotRunning    = errors.New("task is not running")
	ErrLaunchFailed  = errors.New("failed to launch task")
	ErrRecordMissing = errors.New("no running record for finished task")
	ErrEmptyCommand  = process.ErrEmptyCommand
)

// Options configures a Manager. Zero values are usable.
type Options struct {
	Shell string // shell for launched tasks; empty picks bash, then sh
	// Callback is the argv prefix the task wrapper runs on exit; the wrapper
	// appends --pid <pid> -- <name> <exit code>. Nil launches tasks without an
	// exit hook, which leaves them RUNNING until stopped or repaired.
	Callback []string
	Env      []string // KEY=VALUE overrides for task environments, ${VAR} expanded
	Sinks    []history.Sink
	Logger   *slog.Logger
	Now      func() time.Time
	Alive    store.AliveFunc // defaults to Alive
}

// Manager drives the task lifecycle over a Store. Every mutation runs under
// the store lock; queries read without it.
type Manager struct {
	st       store.Store
	shell    string
	callback []string
	envM     *env.Env
	sinks    []history.Sink
	log      *slog.Logger
	now      func() time.Time
	alive    store.AliveFunc
}

func New(st store.Store, opts Options) *Manager {
	m := &Manager{
		st:       st,
		shell:    opts.Shell,
		callback: append([]string(nil), opts.Callback...),
		sinks:    append([]history.Sink(nil), opts.Sinks...),
		log:      opts.Logger,
		now:      opts.Now,
		alive:    opts.Alive,
	}
	if len(opts.Env) > 0 {
		m.envM = env.New()
		m.envM.SetPairs(opts.Env)
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.alive == nil {
		m.alive = Alive
	}
	return m
}

// Alive reports whether the process recorded in rec is still the one that
// was launched: it exists, is not a zombie, and has the recorded start time.
func Alive(rec store.Record) bool {
	ok, _ := detectorFor(rec).Alive()
	return ok
}

func detectorFor(rec store.Record) detector.Detector {
	return detector.ForProcess(rec.PID, rec.ProcStart)
}

// Task is a point-in-time view of a record together with its liveness.
type Task struct {
	store.Record
	Alive bool
}

// DisplayDead is shown for a RUNNING record whose process has gone away.
// It is never persisted.
const DisplayDead = "dead"

// Display returns the reconciled status.
func (t Task) Display() string {
	if t.Stale() {
		return DisplayDead
	}
	return string(t.Status)
}

// Active reports a RUNNING record whose process is alive.
func (t Task) Active() bool { return t.Status == store.StatusRunning && t.Alive }

// Stale reports a RUNNING record whose process is gone.
func (t Task) Stale() bool { return t.Status == store.StatusRunning && !t.Alive }

func (m *Manager) view(rec store.Record) Task {
	return Task{Record: rec, Alive: rec.Status == store.StatusRunning && m.alive(rec)}
}

// locked runs fn under the store's exclusive lock.
func (m *Manager) locked(ctx context.Context, fn func() error) error {
	unlock, err := m.st.Lock(ctx)
	if err != nil {
		return fmt.Errorf("lock state: %w", err)
	}
	defer unlock()
	return fn()
}

// records collects every decodable record. Unreadable records are logged and skipped.
func (m *Manager) records(ctx context.Context) ([]store.Record, error) {
	var out []store.Record
	for rec, err := range m.st.List(ctx) {
		if err != nil {
			if errors.Is(err, store.ErrInvalidRecord) || errors.Is(err, store.ErrInvalidName) {
				m.log.Warn("skipping unreadable task record", "error", err)
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// List returns every task, oldest first.
func (m *Manager) List(ctx context.Context) ([]Task, error) {
	recs, err := m.records(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(recs, func(a, b store.Record) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	out := make([]Task, 0, len(recs))
	for _, r := range recs {
		out = append(out, m.view(r))
	}
	return out, nil
}

// Running returns the tasks whose record is RUNNING and whose process is alive.
func (m *Manager) Running(ctx context.Context) ([]Task, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(t Task) bool { return !t.Active() }), nil
}

func (m *Manager) Info(ctx context.Context, name string) (Task, error) {
	rec, err := m.st.Read(ctx, name)
	if err != nil {
		return Task{}, err
	}
	return m.view(rec), nil
}

// LogNames lists every task that has a log file, sorted.
func (m *Manager) LogNames(ctx context.Context) ([]string, error) {
	names, err := m.st.LogNames(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

func (m *Manager) LogPath(name string) string { return m.st.LogPath(name) }

// Observe publishes the current task set, and the resource use of live
// tasks, to the metrics gauges.
func (m *Manager) Observe(ctx context.Context) error {
	tasks, err := m.List(ctx)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	durations := map[string]float64{}
	live := map[string]int{}
	for _, t := range tasks {
		counts[t.Display()]++
		if t.Duration != nil {
			durations[t.Name] = *t.Duration
		}
		if t.Active() {
			live[t.Name] = t.PID
		}
	}
	metrics.ObserveTasks(counts, durations)
	metrics.ObserveProcesses(live)
	return nil
}

// transitioned logs, counts and exports a state change. from is "" for a launch.
func (m *Manager) transitioned(ctx context.Context, from string, rec store.Record, evt history.EventType) {
	attrs := []any{"task", rec.Name, "pid", rec.PID, "status", string(rec.Status)}
	if rec.ExitCode != nil {
		attrs = append(attrs, "exit_code", *rec.ExitCode)
	}
	if rec.Duration != nil {
		attrs = append(attrs, "duration", *rec.Duration)
	}
	m.log.Info("task "+string(evt), attrs...)
	if from != string(rec.Status) {
		metrics.RecordTransition(from, string(rec.Status))
	}
	m.emit(ctx, evt, rec)
}

func (m *Manager) emit(ctx context.Context, evt history.EventType, rec store.Record) {
	if len(m.sinks) == 0 {
		return
	}
	e := history.Event{Type: evt, OccurredAt: m.now().UTC(), Record: rec}
	for _, s := range m.sinks {
		if err := s.Send(ctx, e); err != nil {
			m.log.Warn("history sink failed", "event", string(evt), "task", rec.Name, "error", err)
		}
	}
}
