package detector

import (
	"bytes"
	"os"
	"runtime"
	"strconv"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// isZombie reports whether pid has exited but not been reaped. Signal 0 still
// succeeds for such a process, so it must not count as alive.
func isZombie(pid int) bool {
	if runtime.GOOS == "linux" {
		b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
		if err != nil {
			return false
		}
		return bytes.Contains(b, []byte("State:\tZ"))
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil {
		return false
	}
	for _, s := range st {
		if s == gopsproc.Zombie {
			return true
		}
	}
	return false
}
