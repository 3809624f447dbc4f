// Package detector decides whether a recorded task process still exists.
package detector

// Detector probes one task process.
type Detector interface {
	Alive() (bool, error)
	// Describe names the probed process in diagnostics, e.g. "pid:42@1700000000".
	Describe() string
}

// ForProcess returns the detector for a launched task. startUnix is the start
// time captured at launch; zero skips the pid reuse check.
func ForProcess(pid int, startUnix int64) Detector {
	return PIDDetector{PID: pid, StartUnix: startUnix}
}
