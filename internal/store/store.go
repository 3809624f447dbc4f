package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
)

// SchemaVersion is written into every record. Records with a newer version are rejected.
const SchemaVersion = 1

// Status is the persisted lifecycle state of a task.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusStopped Status = "stopped"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusStopped }

func (s Status) String() string { return string(s) }

var (
	ErrNotFound      = errors.New("task not found")
	ErrAlreadyExists = errors.New("task already exists")
	ErrInvalidName   = errors.New("invalid task name")
	ErrInvalidRecord = errors.New("invalid task record")
)

// Record is the persisted state of one task.
// Name is unique across the state directory and doubles as the file key.
// EndedAt, Duration and ExitCode are nil while the task is running;
// ExitCode is only ever set for tasks that completed on their own.
type Record struct {
	Version   int        `json:"version"`
	Name      string     `json:"name"`
	Command   string     `json:"command"`
	PID       int        `json:"pid"`
	ProcStart int64      `json:"proc_start,omitempty"` // OS start time of PID (unix seconds), 0 when unknown
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Duration  *float64   `json:"duration,omitempty"` // seconds
	Status    Status     `json:"status"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// Finish moves the record into a terminal state at the given time.
// exitCode is kept only for StatusDone.
func (r *Record) Finish(status Status, at time.Time, exitCode *int) {
	end := at
	d := at.Sub(r.StartedAt).Seconds()
	if d < 0 {
		d = 0
	}
	r.EndedAt = &end
	r.Duration = &d
	r.Status = status
	r.ExitCode = nil
	if status == StatusDone && exitCode != nil {
		c := *exitCode
		r.ExitCode = &c
	}
}

// Elapsed returns the recorded duration, or zero while running.
func (r Record) Elapsed() time.Duration {
	if r.Duration == nil {
		return 0
	}
	return time.Duration(*r.Duration * float64(time.Second))
}

// Validate checks the record against the lifecycle invariants.
func (r Record) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if r.Version > SchemaVersion {
		return fmt.Errorf("%w: %s has schema version %d (supported %d)", ErrInvalidRecord, r.Name, r.Version, SchemaVersion)
	}
	if r.PID <= 0 {
		return fmt.Errorf("%w: %s has no pid", ErrInvalidRecord, r.Name)
	}
	switch r.Status {
	case StatusRunning:
		if r.EndedAt != nil || r.Duration != nil || r.ExitCode != nil {
			return fmt.Errorf("%w: running task %s carries end state", ErrInvalidRecord, r.Name)
		}
	case StatusDone, StatusStopped:
		if r.EndedAt == nil || r.Duration == nil {
			return fmt.Errorf("%w: %s task %s has no end time", ErrInvalidRecord, r.Status, r.Name)
		}
		if r.Status == StatusDone && r.ExitCode == nil {
			return fmt.Errorf("%w: done task %s has no exit code", ErrInvalidRecord, r.Name)
		}
		if r.Status == StatusStopped && r.ExitCode != nil {
			return fmt.Errorf("%w: stopped task %s carries an exit code", ErrInvalidRecord, r.Name)
		}
	default:
		return fmt.Errorf("%w: %s has unknown status %q", ErrInvalidRecord, r.Name, r.Status)
	}
	return nil
}

// ValidateName rejects names that cannot be used as a file key.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "-"), strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q must not start with %q", ErrInvalidName, name, name[:1])
	}
	return nil
}

// AliveFunc reports whether the process bound to a record is still running.
type AliveFunc func(Record) bool

// Store persists task records and owns their log sinks.
// Mutating callers are expected to hold Lock for read-modify-write sequences;
// Write itself only guarantees an atomic replace.
type Store interface {
	// Create writes rec unless a live running record already holds the name.
	Create(ctx context.Context, rec Record) error
	Read(ctx context.Context, name string) (Record, error)
	Write(ctx context.Context, rec Record) error
	// Delete removes the record and its log. Missing files are not an error.
	Delete(ctx context.Context, name string) error
	// List yields every record in directory order.
	List(ctx context.Context) iter.Seq2[Record, error]
	Rename(ctx context.Context, oldName, newName string) error
	// LogNames returns the names of all tasks that have a log file.
	LogNames(ctx context.Context) ([]string, error)
	LogPath(name string) string
	// Lock takes the exclusive mutation lock and returns its release func.
	Lock(ctx context.Context) (func(), error)
}
