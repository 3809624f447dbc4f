package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	c := &command{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
	err := execute(ctx, c, os.Args[1:])
	stop()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "taskctl: %v\n", err)
		os.Exit(1)
	}
}

// execute runs one CLI invocation and releases what it opened.
func execute(ctx context.Context, c *command, args []string) error {
	root := buildRoot(c)
	root.SetArgs(args)
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	defer c.close()
	return root.ExecuteContext(ctx)
}

// buildRoot creates the root command and its subcommands bound to c.
func buildRoot(c *command) *cobra.Command {
	if c.global == nil {
		c.global = &GlobalFlags{}
	}
	root := createRootCommand(c)
	root.AddCommand(
		createRunCommand(c),
		createStopCommand(c),
		createWatchCommand(c),
		createListCommand(c),
		createInfoCommand(c),
		createRenameCommand(c),
		createClearCommand(c),
		createCallbackCommand(c),
		createRepairCommand(c),
		createHistoryCommand(c),
		createMetricsCommand(c),
	)
	return root
}

func createRootCommand(c *command) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskctl",
		Short: "Run shell commands in the background and keep track of them",
		Long: `taskctl launches shell commands as detached processes and records
their state (running, done, stopped) under a state directory, so they can be
listed, inspected, stopped, renamed and tailed from any later session.

Examples:
  taskctl run "make release" release
  taskctl list
  taskctl watch release
  taskctl stop release`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.open()
		},
	}
	root.PersistentFlags().StringVar(&c.global.StateDir, "state-dir", "", "state directory (default ~/.taskctl)")
	root.PersistentFlags().StringVar(&c.global.ConfigPath, "config", "", "path to TOML config file (default <state-dir>/config.toml)")
	return root
}

func createRunCommand(c *command) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run <command> [name]",
		Short: "Start a command in the background",
		Long: `Start a shell command detached from the terminal. Without a name one is
generated from the start time and the command. A finished task with the same
name is replaced.

Examples:
  taskctl run "sleep 60"
  taskctl run "./backup.sh" backup --watch`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Command = args[0]
			f.Name = ""
			if len(args) == 2 {
				f.Name = args[1]
			}
			return c.Run(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVarP(&f.Watch, "watch", "w", false, "follow the task log until the task exits")
	return cmd
}

func createStopCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [name]",
		Short: "Stop a running task",
		Long: `Send SIGTERM to the task's process group and mark it stopped. Without a
name the only running task is picked, or you are asked to choose.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), optionalArg(args))
		},
	}
}

func createWatchCommand(c *command) *cobra.Command {
	f := &WatchFlags{}
	cmd := &cobra.Command{
		Use:   "watch [name]",
		Short: "Follow a task log",
		Long: `Print the last lines of a task log and follow it until interrupted.
Without a name the only running task is picked, or you choose among all
tasks that have a log.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Name = optionalArg(args)
			return c.Watch(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVarP(&f.Lines, "num-lines", "n", 0, "number of lines to show first (default watch_lines from config)")
	return cmd
}

func createListCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.List(cmd.Context())
		},
	}
}

func createInfoCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show details of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Info(cmd.Context(), args[0])
		},
	}
}

func createRenameCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a task and its log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Rename(cmd.Context(), args[0], args[1])
		},
	}
}

func createClearCommand(c *command) *cobra.Command {
	f := &ClearFlags{}
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete finished and dead tasks with their logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Clear(cmd.Context(), *f)
		},
	}
	cmd.Flags().BoolVarP(&f.Yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// createCallbackCommand is run by the task wrapper when the command exits.
func createCallbackCommand(c *command) *cobra.Command {
	f := &CallbackFlags{}
	cmd := &cobra.Command{
		Use:    "callback <name> <exit_code>",
		Short:  "Record the exit of a task",
		Hidden: true,
		Args:   cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Name, f.ExitCode = args[0], args[1]
			return c.Callback(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.PID, "pid", 0, "pid of the exiting task shell")
	return cmd
}

func createRepairCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "repair [name]",
		Short: "Mark running tasks whose process is gone as stopped",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Repair(cmd.Context(), optionalArg(args))
		},
	}
}

func createHistoryCommand(c *command) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history [name]",
		Short: "Show recent lifecycle events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Name = optionalArg(args)
			return c.History(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum number of events")
	return cmd
}

func createMetricsCommand(c *command) *cobra.Command {
	f := &MetricsFlags{}
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print task metrics in the Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Metrics(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Textfile, "textfile", "", "write to this file for the node exporter instead of stdout")
	return cmd
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
