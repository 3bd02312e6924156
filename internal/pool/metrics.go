package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	allocations        *prometheus.CounterVec
	allocationDuration prometheus.Histogram
	frees              *prometheus.CounterVec
	deletionTimeouts   prometheus.Counter
	persistFailures    prometheus.Counter
	allocated          prometheus.Gauge
	known              prometheus.Gauge
}

// newMetrics registers the pool's collectors with reg.
// A nil registerer leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		allocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simpool_allocations_total",
			Help: "Allocation attempts by how they were satisfied (reused, created) or failed (error kind)",
		}, []string{"result"}),
		allocationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "simpool_allocation_duration_seconds",
			Help:    "Time taken by successful allocations, including preparation",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		frees: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simpool_frees_total",
			Help: "Simulators returned to the pool by free-time policy (kept, erased, deleted, error)",
		}, []string{"result"}),
		deletionTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "simpool_deletion_timeouts_total",
			Help: "Deleted simulators still listed after the deletion timeout",
		}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "simpool_history_persist_failures_total",
			Help: "History writes that failed",
		}),
		allocated: f.NewGauge(prometheus.GaugeOpts{
			Name: "simpool_allocated_simulators",
			Help: "Simulators currently allocated",
		}),
		known: f.NewGauge(prometheus.GaugeOpts{
			Name: "simpool_known_simulators",
			Help: "Simulators in the pool cache after the last refresh",
		}),
	}
}

func kindLabel(err error) string {
	switch Kind(err) {
	case ErrUnsupportedConfiguration:
		return "unsupported"
	case ErrAllocationExhausted:
		return "exhausted"
	case ErrInflationMismatch:
		return "inflation_mismatch"
	case ErrListFailure:
		return "list_failure"
	case ErrCreateFailure:
		return "create_failure"
	case ErrKillFailure:
		return "kill_failure"
	case ErrEraseFailure:
		return "erase_failure"
	case ErrDeleteFailure:
		return "delete_failure"
	case ErrDeletionTimeout:
		return "deletion_timeout"
	case ErrSetupFailure:
		return "setup_failure"
	default:
		return "error"
	}
}
