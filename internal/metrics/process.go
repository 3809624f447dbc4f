package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Resource gauges for the shell of each running task. Only the group leader
// is sampled; children of the task shell are not summed in.
var (
	taskCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskctl",
			Subsystem: "task",
			Name:      "cpu_percent",
			Help:      "Average CPU usage of a running task shell since it started.",
		}, []string{"task"},
	)
	taskRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskctl",
			Subsystem: "task",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of a running task shell.",
		}, []string{"task"},
	)
	taskThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskctl",
			Subsystem: "task",
			Name:      "num_threads",
			Help:      "Number of threads of a running task shell.",
		}, []string{"task"},
	)
)

// ProcessSample is a point-in-time resource reading for one pid.
type ProcessSample struct {
	CPUPercent float64
	RSS        uint64
	NumThreads int32
}

// SampleProcess reads CPU, memory and thread counts for pid.
func SampleProcess(pid int) (ProcessSample, error) {
	if pid <= 0 {
		return ProcessSample{}, errors.New("invalid pid")
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessSample{}, err
	}
	var s ProcessSample
	if s.CPUPercent, err = proc.CPUPercent(); err != nil {
		return ProcessSample{}, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ProcessSample{}, err
	}
	s.RSS = mem.RSS
	if s.NumThreads, err = proc.NumThreads(); err != nil {
		return ProcessSample{}, err
	}
	return s, nil
}

// ObserveProcesses replaces the resource gauges with a sample of each pid,
// keyed by task name. Processes that vanish while sampling are skipped.
func ObserveProcesses(pids map[string]int) {
	if !regOK.Load() {
		return
	}
	taskCPU.Reset()
	taskRSS.Reset()
	taskThreads.Reset()
	for name, pid := range pids {
		s, err := SampleProcess(pid)
		if err != nil {
			continue
		}
		taskCPU.WithLabelValues(name).Set(s.CPUPercent)
		taskRSS.WithLabelValues(name).Set(float64(s.RSS))
		taskThreads.WithLabelValues(name).Set(float64(s.NumThreads))
	}
}
