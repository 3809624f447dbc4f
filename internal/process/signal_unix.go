//go:build !windows

package process

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrOwnGroup is returned instead of signalling the caller's own process group.
var ErrOwnGroup = errors.New("refusing to signal own process group")

// SignalGroup sends sig to every process in the group led by pid.
// A group that has already gone away is not an error.
func SignalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("getpgid %d: %w", pid, err)
	}
	if pgid == unix.Getpgrp() {
		return ErrOwnGroup
	}
	if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal group %d: %w", pgid, err)
	}
	return nil
}

// TerminateGroup sends SIGTERM to the group led by pid and does not wait.
func TerminateGroup(pid int) error { return SignalGroup(pid, unix.SIGTERM) }
