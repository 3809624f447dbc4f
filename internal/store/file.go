package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

const (
	recordSuffix = ".info.json"
	logSuffix    = ".log"
	lockFileName = ".lock"
)

// FileStore keeps one JSON document and one log file per task in a single directory.
type FileStore struct {
	dir   string
	alive AliveFunc
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir (0700) if needed. alive is consulted by Create to
// decide whether an existing running record still owns its name; a nil alive
// treats every running record as live.
func NewFileStore(dir string, alive AliveFunc) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{dir: filepath.Clean(dir), alive: alive}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) RecordPath(name string) string {
	return filepath.Join(s.dir, name+recordSuffix)
}

func (s *FileStore) LogPath(name string) string {
	return filepath.Join(s.dir, name+logSuffix)
}

func (s *FileStore) Create(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	existing, err := s.Read(ctx, rec.Name)
	switch {
	case err == nil:
		if existing.Status == StatusRunning && (s.alive == nil || s.alive(existing)) {
			return fmt.Errorf("%w: %s is running (pid %d)", ErrAlreadyExists, rec.Name, existing.PID)
		}
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidRecord):
		// nothing live to protect
	default:
		return err
	}
	return s.Write(ctx, rec)
}

func (s *FileStore) Read(ctx context.Context, name string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := ValidateName(name); err != nil {
		return Record{}, err
	}
	b, err := os.ReadFile(s.RecordPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: decode %s: %v", ErrInvalidRecord, name, err)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *FileStore) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Version == 0 {
		rec.Version = SchemaVersion
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.RecordPath(rec.Name), append(data, '\n'), 0o600)
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	for _, p := range []string{s.RecordPath(name), s.LogPath(name)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		d, err := os.Open(s.dir)
		if err != nil {
			yield(Record{}, err)
			return
		}
		defer func() { _ = d.Close() }()
		for {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			entries, rerr := d.ReadDir(64)
			for _, e := range entries {
				name, ok := strings.CutSuffix(e.Name(), recordSuffix)
				if !ok || e.IsDir() || ValidateName(name) != nil {
					continue
				}
				rec, err := s.Read(ctx, name)
				if errors.Is(err, ErrNotFound) {
					// removed between ReadDir and Read
					continue
				}
				if !yield(rec, err) {
					return
				}
			}
			if errors.Is(rerr, io.EOF) {
				return
			}
			if rerr != nil {
				yield(Record{}, rerr)
				return
			}
		}
	}
}

func (s *FileStore) Rename(ctx context.Context, oldName, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}
	rec, err := s.Read(ctx, oldName)
	if err != nil {
		return err
	}
	if oldName == newName {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, newName)
	}
	for _, p := range []string{s.RecordPath(newName), s.LogPath(newName)} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, newName)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	rec.Name = newName
	if err := s.Write(ctx, rec); err != nil {
		return err
	}
	// the running process keeps its descriptor, so output follows the renamed file
	if err := os.Rename(s.LogPath(oldName), s.LogPath(newName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(s.RecordPath(newName))
		return err
	}
	return os.Remove(s.RecordPath(oldName))
}

func (s *FileStore) LogNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), logSuffix)
		if !ok || e.IsDir() || ValidateName(name) != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// writeFileAtomic replaces path with data via a synced temp file in the same directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Chmod(perm); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
