package main

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	StateDir   string
	ConfigPath string
}

// Flag structs to decouple cobra from logic for testing.

type RunFlags struct {
	Command string
	Name    string
	Watch   bool
}

type WatchFlags struct {
	Name  string
	Lines int // 0 uses watch_lines from config
}

type ClearFlags struct {
	Yes bool
}

type CallbackFlags struct {
	Name     string
	ExitCode string
	PID      int
}

type HistoryFlags struct {
	Name  string
	Limit int
}

type MetricsFlags struct {
	Textfile string
}
