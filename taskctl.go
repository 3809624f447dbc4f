package taskctl

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"

	cfg "github.com/loykin/taskctl/internal/config"
	"github.com/loykin/taskctl/internal/env"
	"github.com/loykin/taskctl/internal/history"
	"github.com/loykin/taskctl/internal/history/factory"
	"github.com/loykin/taskctl/internal/manager"
	"github.com/loykin/taskctl/internal/metrics"
	"github.com/loykin/taskctl/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = store.Record

type Status = store.Status

type Task = manager.Task

type LaunchRequest = manager.LaunchRequest

type LaunchResult = manager.LaunchResult

type HistorySink = history.Sink

type HistoryReader = history.Reader

type HistoryEvent = history.Event

type Config = cfg.Config

const (
	StatusRunning = store.StatusRunning
	StatusDone    = store.StatusDone
	StatusStopped = store.StatusStopped
	DisplayDead   = manager.DisplayDead
)

var (
	ErrNotFound      = store.ErrNotFound
	ErrAlreadyExists = store.ErrAlreadyExists
	ErrInvalidName   = store.ErrInvalidName
	ErrDuplicateTask = manager.ErrDuplicateTask
	ErrNotRunning    = manager.ErrNotRunning
	ErrLaunchFailed  = manager.ErrLaunchFailed
	ErrRecordMissing = manager.ErrRecordMissing
	ErrEmptyCommand  = manager.ErrEmptyCommand
)

// Options configures Open.
type Options struct {
	StateDir string
	Shell    string
	// Callback is the argv prefix run by a task's exit hook; see manager.Options.
	Callback []string
	Env      []string
	Sinks    []HistorySink
	Logger   *slog.Logger
}

// Manager is a thin facade over internal/manager bound to one state directory.
type Manager struct {
	inner *manager.Manager
	dir   string
}

// Open creates the state directory if needed and returns a Manager over it.
func Open(opts Options) (*Manager, error) {
	st, err := store.NewFileStore(opts.StateDir, manager.Alive)
	if err != nil {
		return nil, err
	}
	inner := manager.New(st, manager.Options{
		Shell:    opts.Shell,
		Callback: opts.Callback,
		Env:      opts.Env,
		Sinks:    opts.Sinks,
		Logger:   opts.Logger,
	})
	return &Manager{inner: inner, dir: st.Dir()}, nil
}

func (m *Manager) StateDir() string { return m.dir }

func (m *Manager) Launch(ctx context.Context, req LaunchRequest) (LaunchResult, error) {
	return m.inner.Launch(ctx, req)
}
func (m *Manager) Complete(ctx context.Context, name string, exitCode, pid int) (Record, error) {
	return m.inner.Complete(ctx, name, exitCode, pid)
}
func (m *Manager) Stop(ctx context.Context, name string) (Record, error) {
	return m.inner.Stop(ctx, name)
}
func (m *Manager) Repair(ctx context.Context, name string) (Record, error) {
	return m.inner.Repair(ctx, name)
}
func (m *Manager) RepairAll(ctx context.Context) ([]Record, error) { return m.inner.RepairAll(ctx) }
func (m *Manager) Rename(ctx context.Context, oldName, newName string) error {
	return m.inner.Rename(ctx, oldName, newName)
}
func (m *Manager) Info(ctx context.Context, name string) (Task, error) {
	return m.inner.Info(ctx, name)
}
func (m *Manager) Clear(ctx context.Context) ([]string, error)    { return m.inner.Clear(ctx) }
func (m *Manager) List(ctx context.Context) ([]Task, error)       { return m.inner.List(ctx) }
func (m *Manager) Running(ctx context.Context) ([]Task, error)    { return m.inner.Running(ctx) }
func (m *Manager) LogNames(ctx context.Context) ([]string, error) { return m.inner.LogNames(ctx) }
func (m *Manager) LogPath(name string) string                     { return m.inner.LogPath(name) }
func (m *Manager) Observe(ctx context.Context) error              { return m.inner.Observe(ctx) }

// LoadConfig reads the TOML config for stateDir; see config.Load.
func LoadConfig(stateDir, path string) (*Config, error) { return cfg.Load(stateDir, path) }

// LoadEnv reads a KEY=VALUE env file into pairs sorted by key.
func LoadEnv(path string) ([]string, error) {
	vars, err := env.LoadFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vars))
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		out = append(out, k+"="+vars[k])
	}
	return out, nil
}

// NewHistorySink creates a sink from a DSN (sqlite, postgres or clickhouse).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// WriteMetrics writes everything g gathers in the Prometheus text format.
func WriteMetrics(w io.Writer, g prometheus.Gatherer) error { return metrics.WriteText(w, g) }

// WriteMetricsTextfile writes g to path for the node exporter textfile collector.
func WriteMetricsTextfile(path string, g prometheus.Gatherer) error {
	return metrics.WriteTextfile(path, g)
}
