package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics exposes counters for queue controller operations. All methods
// are nil-safe so callers can run without a registry wired in.
type QueueMetrics struct {
	operationsTotal *prometheus.CounterVec
	eventsTotal     prometheus.Counter
	lockRetries     prometheus.Counter
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Queue controller operations by outcome",
		}, []string{"operation", "outcome"}),
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "queue",
			Name:      "events_published_total",
			Help:      "Queue update events handed to the publisher",
		}),
		lockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "queue",
			Name:      "lock_retries_total",
			Help:      "Lock acquisition attempts that had to be repeated",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.eventsTotal, m.lockRetries)
	return m
}

func (m *QueueMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *QueueMetrics) ObserveEvent() {
	if m == nil {
		return
	}
	m.eventsTotal.Inc()
}

func (m *QueueMetrics) ObserveLockRetry() {
	if m == nil {
		return
	}
	m.lockRetries.Inc()
}
