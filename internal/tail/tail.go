// Package tail prints the end of a task log and follows it as it grows.
package tail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrNoLog is returned when the log file does not exist.
var ErrNoLog = errors.New("log file not found")

const (
	chunkSize    = 4096
	pollInterval = 500 * time.Millisecond
)

// Last copies the last n lines of r to w and returns the offset it stopped at
// (the size of r). A trailing newline does not start an extra line.
func Last(r io.ReadSeeker, n int, w io.Writer) (int64, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if n <= 0 || size == 0 {
		return size, nil
	}
	start, err := lineStart(r, size, n)
	if err != nil {
		return 0, err
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return 0, err
	}
	if _, err := io.CopyN(w, r, size-start); err != nil {
		return 0, err
	}
	return size, nil
}

// lineStart scans backwards from size for the offset where the last n lines begin.
func lineStart(r io.ReadSeeker, size int64, n int) (int64, error) {
	buf := make([]byte, chunkSize)
	pos := size
	for pos > 0 {
		sz := min(int64(chunkSize), pos)
		pos -= sz
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return 0, err
		}
		if _, err := io.ReadFull(r, buf[:sz]); err != nil {
			return 0, err
		}
		for i := sz - 1; i >= 0; i-- {
			if buf[i] != '\n' || pos+i == size-1 {
				continue
			}
			n--
			if n == 0 {
				return pos + i + 1, nil
			}
		}
	}
	return 0, nil
}

// Options tunes Follow.
type Options struct {
	Lines int // initial lines to print
	// Stop ends the follow after a final drain once closed, e.g. when the task exits.
	Stop <-chan struct{}
}

// Follow prints the last opts.Lines lines of path to w, then streams appended
// output until ctx is done, opts.Stop is closed, or path no longer names the
// opened file (removed, renamed or replaced). It returns nil in all of those cases.
//
// The open descriptor keeps a removed file's inode alive, so on Linux the
// removal arrives as a Chmod event (link count change) rather than Remove.
// Chmod events and poll ticks therefore re-check path.
func Follow(ctx context.Context, path string, w io.Writer, opts Options) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoLog, path)
		}
		return err
	}
	defer func() { _ = f.Close() }()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(path); err != nil {
		return err
	}

	opened, err := f.Stat()
	if err != nil {
		return err
	}
	gone := func() bool {
		fi, err := os.Stat(path)
		if err != nil {
			return errors.Is(err, os.ErrNotExist)
		}
		return !os.SameFile(opened, fi)
	}

	offset, err := Last(f, opts.Lines, w)
	if err != nil {
		return err
	}
	drain := func() error {
		fi, err := f.Stat()
		if err != nil {
			return err
		}
		if fi.Size() < offset {
			// truncated; start over from the top
			if offset, err = f.Seek(0, io.SeekStart); err != nil {
				return err
			}
		}
		n, err := io.Copy(w, f)
		offset += n
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-opts.Stop:
			return drain()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if err := drain(); err != nil {
				return err
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && gone() {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		case <-ticker.C:
			if err := drain(); err != nil {
				return err
			}
			if gone() {
				return nil
			}
		}
	}
}
