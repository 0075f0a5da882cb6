package metrics

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/status"
)

const namespace = "dayzlauncher"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "status_transitions_total",
			Help:      "Number of server status transitions.",
		}, []string{"from", "to"},
	)
	currentStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "current_status",
			Help:      "Current server status (1 = active status, 0 = inactive).",
		}, []string{"status"},
	)
	serverCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "crashes_total",
			Help:      "Number of unexpected server exits.",
		},
	)
	serverStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful server launches.",
		},
	)
	schedulerWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "warnings_total",
			Help:      "Number of restart warnings issued.",
		},
	)
	schedulerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "restarts_total",
			Help:      "Number of restarts initiated, by kind (scheduled or manual).",
		}, []string{"kind"},
	)
	serverCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the server process.",
		},
	)
	serverMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "memory_mb",
			Help:      "Resident memory of the server process in MB.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		statusTransitions, currentStatus, serverCrashes, serverStarts,
		schedulerWarnings, schedulerRestarts, serverCPU, serverMemory,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			// Already registered with this registerer: keep the existing one.
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func IncStart() {
	if regOK.Load() {
		serverStarts.Inc()
	}
}

func IncCrash() {
	if regOK.Load() {
		serverCrashes.Inc()
	}
}

func IncWarning() {
	if regOK.Load() {
		schedulerWarnings.Inc()
	}
}

// IncRestart counts an initiated restart; kind is "scheduled" or "manual".
func IncRestart(kind string) {
	if regOK.Load() {
		schedulerRestarts.WithLabelValues(kind).Inc()
	}
}

func RecordTransition(from, to status.ServerStatus) {
	if regOK.Load() {
		statusTransitions.WithLabelValues(from.String(), to.String()).Inc()
	}
}

// SetCurrentStatus marks s as the active status and every other status inactive.
func SetCurrentStatus(s status.ServerStatus) {
	if !regOK.Load() {
		return
	}
	for _, x := range status.All() {
		v := 0.0
		if x == s {
			v = 1
		}
		currentStatus.WithLabelValues(x.String()).Set(v)
	}
}

func SetResources(cpuPercent, memoryMB float64) {
	if regOK.Load() {
		serverCPU.Set(cpuPercent)
		serverMemory.Set(memoryMB)
	}
}

// StatusRecorder turns supervisor status events into metrics. It implements
// status.Observer.
type StatusRecorder struct {
	mu   sync.Mutex
	last status.ServerStatus
	seen bool
}

func NewStatusRecorder() *StatusRecorder { return &StatusRecorder{} }

func (r *StatusRecorder) OnStatus(e status.StatusEvent) {
	r.mu.Lock()
	from, seen := r.last, r.seen
	r.last, r.seen = e.Status, true
	r.mu.Unlock()

	if seen && from != e.Status {
		RecordTransition(from, e.Status)
	}
	SetCurrentStatus(e.Status)
	switch e.Status {
	case status.Running:
		IncStart()
	case status.Crashed:
		IncCrash()
	case status.Stopped:
		SetResources(0, 0)
	}
}
