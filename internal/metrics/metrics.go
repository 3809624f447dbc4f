package metrics

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	tasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskctl",
			Name:      "tasks",
			Help:      "Number of known tasks by displayed status (running, done, stopped, dead).",
		}, []string{"status"},
	)
	taskDuration = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskctl",
			Name:      "task_duration_seconds",
			Help:      "Recorded duration of finished tasks.",
		}, []string{"task"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskctl",
			Name:      "transitions_total",
			Help:      "Number of lifecycle transitions performed by this invocation.",
		}, []string{"from", "to"},
	)
	launchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskctl",
			Name:      "launch_failures_total",
			Help:      "Number of tasks that could not be spawned.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{tasks, taskDuration, transitions, launchFailures, taskCPU, taskRSS, taskThreads}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// RecordTransition counts one state change. from is "" for a launch.
func RecordTransition(from, to string) {
	if regOK.Load() {
		if from == "" {
			from = "none"
		}
		transitions.WithLabelValues(from, to).Inc()
	}
}

func IncLaunchFailure() {
	if regOK.Load() {
		launchFailures.Inc()
	}
}

// ObserveTasks replaces the task gauges with a snapshot: counts per displayed
// status and durations per finished task.
func ObserveTasks(counts map[string]int, durations map[string]float64) {
	if !regOK.Load() {
		return
	}
	tasks.Reset()
	for status, n := range counts {
		tasks.WithLabelValues(status).Set(float64(n))
	}
	taskDuration.Reset()
	for name, d := range durations {
		taskDuration.WithLabelValues(name).Set(d)
	}
}

// WriteText writes everything g gathers in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteTextfile atomically writes g to path for the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
