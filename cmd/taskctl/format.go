package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/loykin/taskctl"
)

const timeLayout = "2006-01-02 15:04:05.000"

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func formatDuration(d *float64) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprintf("%.2fs", *d)
}

func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

func printTasks(w io.Writer, tasks []taskctl.Task) {
	if len(tasks) == 0 {
		_, _ = fmt.Fprintln(w, "No tasks")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATUS\tPID\tSTARTED\tENDED\tDURATION\tEXIT")
	for _, t := range tasks {
		started := t.StartedAt
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			t.Name, t.Display(), t.PID, formatTime(&started), formatTime(t.EndedAt),
			formatDuration(t.Duration), formatExitCode(t.ExitCode))
	}
	_ = tw.Flush()
}

func printTask(w io.Writer, t taskctl.Task, logPath string) {
	started := t.StartedAt
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	rows := [][2]string{
		{"Name:", t.Name},
		{"Command:", t.Command},
		{"Status:", t.Display()},
		{"PID:", strconv.Itoa(t.PID)},
		{"Started:", formatTime(&started)},
		{"Ended:", formatTime(t.EndedAt)},
		{"Duration:", formatDuration(t.Duration)},
		{"Exit code:", formatExitCode(t.ExitCode)},
		{"Log:", logPath},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}
	_ = tw.Flush()
}

func printEvents(w io.Writer, events []taskctl.HistoryEvent) {
	if len(events) == 0 {
		_, _ = fmt.Fprintln(w, "No history")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tTASK\tSTATUS\tPID\tEXIT")
	for _, e := range events {
		at := e.OccurredAt
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			formatTime(&at), e.Type, e.Record.Name, e.Record.Status, e.Record.PID, formatExitCode(e.Record.ExitCode))
	}
	_ = tw.Flush()
}
