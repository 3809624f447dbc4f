package detector

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// startTolerance absorbs the one-second jitter /proc btime can show across reads.
const startTolerance = 1

// pidAlive returns true if a process with given pid exists (or EPERM) and has not
// already exited into a zombie.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	return !isZombie(pid)
}

// Alive probes pid with signal 0. A recycled pid reports true; use PIDDetector
// with a recorded start time to rule that out.
func Alive(pid int) bool { return pidAlive(pid) }

// PIDDetector detects a process by pid. When StartUnix is set, a process whose
// current start time differs is treated as an unrelated process that reused the pid.
type PIDDetector struct {
	PID       int
	StartUnix int64
}

func (d PIDDetector) Alive() (bool, error) {
	if !pidAlive(d.PID) {
		return false, nil
	}
	if d.StartUnix > 0 {
		cur := ProcStartUnix(d.PID)
		if cur > 0 && abs(cur-d.StartUnix) > startTolerance {
			return false, nil // PID reused; not our process
		}
	}
	return true, nil
}

func (d PIDDetector) Describe() string {
	if d.StartUnix > 0 {
		return fmt.Sprintf("pid:%d@%d", d.PID, d.StartUnix)
	}
	return fmt.Sprintf("pid:%d", d.PID)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
