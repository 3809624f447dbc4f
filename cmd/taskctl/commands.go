package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/taskctl"
	"github.com/loykin/taskctl/internal/config"
	"github.com/loykin/taskctl/internal/logger"
	"github.com/loykin/taskctl/internal/prompt"
	"github.com/loykin/taskctl/internal/tail"
)

var errNoRunningTasks = errors.New("no running tasks")

// The collectors are process-wide, so one registry serves every invocation.
var (
	registry     = prometheus.NewRegistry()
	registryOnce sync.Once
	registryErr  error
)

func metricsRegistry() (*prometheus.Registry, error) {
	registryOnce.Do(func() { registryErr = taskctl.RegisterMetrics(registry) })
	return registry, registryErr
}

// command carries the I/O streams and, after open, the state shared by all
// subcommands of one invocation.
type command struct {
	global *GlobalFlags
	in     *os.File
	out    io.Writer
	errOut io.Writer
	prompt prompt.Prompter // nil prompts on in/out

	cfg     *taskctl.Config
	log     *slog.Logger
	mgr     *taskctl.Manager
	reader  taskctl.HistoryReader
	closers []io.Closer
}

// open loads the config and wires the logger, history sink, metrics and manager.
func (c *command) open() error {
	dir := c.global.StateDir
	if dir == "" {
		d, err := config.DefaultStateDir()
		if err != nil {
			return err
		}
		dir = d
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	cfgPath := c.global.ConfigPath
	if cfgPath != "" {
		if cfgPath, err = filepath.Abs(cfgPath); err != nil {
			return err
		}
	}
	conf, err := taskctl.LoadConfig(dir, cfgPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(conf.StateDir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	c.cfg = conf

	log, closer := logger.New(conf.Logger(c.errOut))
	c.log = log
	c.closers = append(c.closers, closer)

	if _, err := metricsRegistry(); err != nil {
		c.log.Warn("metrics registration failed", "error", err)
	}

	taskEnv, err := conf.TaskEnv()
	if err != nil {
		return err
	}

	var sinks []taskctl.HistorySink
	if dsn := conf.HistoryDSN(); dsn != "" {
		sink, err := taskctl.NewHistorySink(dsn)
		if err != nil {
			c.log.Warn("history disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
			if r, ok := sink.(taskctl.HistoryReader); ok {
				c.reader = r
			}
			if cl, ok := sink.(io.Closer); ok {
				c.closers = append(c.closers, cl)
			}
		}
	}

	callback, err := callbackArgv(conf)
	if err != nil {
		return err
	}
	mgr, err := taskctl.Open(taskctl.Options{
		StateDir: conf.StateDir,
		Shell:    conf.Shell,
		Callback: callback,
		Env:      taskEnv,
		Sinks:    sinks,
		Logger:   c.log,
	})
	if err != nil {
		return err
	}
	c.mgr = mgr
	return nil
}

// callbackArgv is the command the task wrapper runs on exit: this binary,
// pointed at the same state directory and config, running callback.
func callbackArgv(conf *taskctl.Config) ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	argv := []string{exe, "--state-dir", conf.StateDir}
	if conf.Path != "" {
		argv = append(argv, "--config", conf.Path)
	}
	return append(argv, "callback"), nil
}

func (c *command) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
	c.closers = nil
}

func (c *command) prompter() prompt.Prompter {
	if c.prompt != nil {
		return c.prompt
	}
	in := c.in
	if in == nil {
		in = os.Stdin
	}
	return prompt.NewTerminal(in, c.out)
}

// mutated refreshes the metrics textfile when one is configured.
func (c *command) mutated(ctx context.Context) {
	path := c.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := c.writeTextfile(ctx, path); err != nil {
		c.log.Warn("metrics textfile not written", "path", path, "error", err)
	}
}

func (c *command) writeTextfile(ctx context.Context, path string) error {
	reg, err := metricsRegistry()
	if err != nil {
		return err
	}
	if err := c.mgr.Observe(ctx); err != nil {
		return err
	}
	return taskctl.WriteMetricsTextfile(path, reg)
}

// Run launches a task and optionally follows its log until it exits.
func (c *command) Run(ctx context.Context, f RunFlags) error {
	res, err := c.mgr.Launch(ctx, taskctl.LaunchRequest{Command: f.Command, Name: f.Name})
	if err != nil {
		return err
	}
	c.mutated(ctx)
	if old := res.Replaced; old != nil {
		_, _ = fmt.Fprintf(c.out, "Replaced %s task %s\n", displayOf(*old), old.Name)
	}
	_, _ = fmt.Fprintf(c.out, "Started task %s (pid %d)\n", res.Record.Name, res.Record.PID)
	if !f.Watch {
		return nil
	}
	return tail.Follow(ctx, c.mgr.LogPath(res.Record.Name), c.out, tail.Options{
		Lines: c.cfg.WatchLines,
		Stop:  res.Exited,
	})
}

// Stop stops the named task, or the one the user picks among running tasks.
func (c *command) Stop(ctx context.Context, name string) error {
	if name == "" {
		running, err := c.mgr.Running(ctx)
		if err != nil {
			return err
		}
		names := taskNames(running)
		if name, err = c.pick("Select a task to stop:", names); err != nil {
			return err
		}
	}
	rec, err := c.mgr.Stop(ctx, name)
	if err != nil {
		return err
	}
	c.mutated(ctx)
	_, _ = fmt.Fprintf(c.out, "Stopped task %s (pid %d) after %s\n", rec.Name, rec.PID, formatDuration(rec.Duration))
	return nil
}

// Watch follows a task log until ctx is cancelled.
func (c *command) Watch(ctx context.Context, f WatchFlags) error {
	name := f.Name
	if name == "" {
		running, err := c.mgr.Running(ctx)
		if err != nil {
			return err
		}
		if len(running) == 1 {
			name = running[0].Name
		} else {
			names, err := c.mgr.LogNames(ctx)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				return errors.New("no task logs")
			}
			if name, err = c.pick("Select a task to watch:", names); err != nil {
				return err
			}
		}
	}
	lines := f.Lines
	if lines <= 0 {
		lines = c.cfg.WatchLines
	}
	return tail.Follow(ctx, c.mgr.LogPath(name), c.out, tail.Options{Lines: lines})
}

// pick returns the only name, or asks the user to choose one.
func (c *command) pick(title string, names []string) (string, error) {
	switch len(names) {
	case 0:
		return "", errNoRunningTasks
	case 1:
		return names[0], nil
	}
	i, err := c.prompter().Select(title, names)
	if err != nil {
		return "", err
	}
	return names[i], nil
}

func (c *command) List(ctx context.Context) error {
	tasks, err := c.mgr.List(ctx)
	if err != nil {
		return err
	}
	printTasks(c.out, tasks)
	return nil
}

func (c *command) Info(ctx context.Context, name string) error {
	task, err := c.mgr.Info(ctx, name)
	if err != nil {
		return err
	}
	printTask(c.out, task, c.mgr.LogPath(name))
	return nil
}

func (c *command) Rename(ctx context.Context, oldName, newName string) error {
	if err := c.mgr.Rename(ctx, oldName, newName); err != nil {
		return err
	}
	c.mutated(ctx)
	_, _ = fmt.Fprintf(c.out, "Renamed task %s to %s\n", oldName, newName)
	return nil
}

// Clear removes finished and dead tasks after confirmation.
func (c *command) Clear(ctx context.Context, f ClearFlags) error {
	if !f.Yes {
		ok, err := c.prompter().Confirm("Delete all finished and dead tasks and their logs?")
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(c.out, "Nothing cleared")
			return nil
		}
	}
	cleared, err := c.mgr.Clear(ctx)
	if err != nil {
		return err
	}
	c.mutated(ctx)
	_, _ = fmt.Fprintf(c.out, "Cleared %d task(s)\n", len(cleared))
	return nil
}

// Callback records a task exit. Its output lands in the task log.
func (c *command) Callback(ctx context.Context, f CallbackFlags) error {
	code, err := strconv.Atoi(f.ExitCode)
	if err != nil {
		return fmt.Errorf("invalid exit code %q", f.ExitCode)
	}
	rec, err := c.mgr.Complete(ctx, f.Name, code, f.PID)
	if errors.Is(err, taskctl.ErrNotRunning) {
		// already stopped or completed; the first transition wins
		return nil
	}
	if err != nil {
		return err
	}
	c.mutated(ctx)
	_, _ = fmt.Fprintf(c.out, "[taskctl] task %s finished with exit code %d after %s\n", rec.Name, code, formatDuration(rec.Duration))
	return nil
}

func (c *command) Repair(ctx context.Context, name string) error {
	var repaired []taskctl.Record
	if name != "" {
		rec, err := c.mgr.Repair(ctx, name)
		if err != nil {
			return err
		}
		repaired = append(repaired, rec)
	} else {
		recs, err := c.mgr.RepairAll(ctx)
		if err != nil {
			return err
		}
		repaired = recs
	}
	if len(repaired) > 0 {
		c.mutated(ctx)
	}
	for _, rec := range repaired {
		_, _ = fmt.Fprintf(c.out, "Repaired task %s (pid %d): stopped\n", rec.Name, rec.PID)
	}
	if len(repaired) == 0 {
		_, _ = fmt.Fprintln(c.out, "Nothing to repair")
	}
	return nil
}

func (c *command) History(ctx context.Context, f HistoryFlags) error {
	if c.reader == nil {
		return errors.New("history is disabled or its sink cannot be queried")
	}
	events, err := c.reader.Recent(ctx, f.Name, f.Limit)
	if err != nil {
		return err
	}
	printEvents(c.out, events)
	return nil
}

func (c *command) Metrics(ctx context.Context, f MetricsFlags) error {
	if f.Textfile != "" {
		return c.writeTextfile(ctx, f.Textfile)
	}
	reg, err := metricsRegistry()
	if err != nil {
		return err
	}
	if err := c.mgr.Observe(ctx); err != nil {
		return err
	}
	return taskctl.WriteMetrics(c.out, reg)
}

func taskNames(tasks []taskctl.Task) []string {
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.Name)
	}
	return names
}

// displayOf names the state of a replaced record, which is finished or dead.
func displayOf(rec taskctl.Record) string {
	if rec.Status != taskctl.StatusRunning {
		return string(rec.Status)
	}
	return taskctl.DisplayDead
}
