package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"bazaar/core/events"
)

type eventMetrics struct {
	committed *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			committed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bazaar",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.committed)
	})
	return eventRegistry
}

// Record increments the committed-event counter for the supplied event type.
func (m *eventMetrics) Record(eventType string) {
	if m == nil || eventType == "" {
		return
	}
	m.committed.WithLabelValues(eventType).Inc()
}

// EventMetrics is an emitter adapter that counts every committed event. It is
// normally subscribed to the node's event log.
type EventMetrics struct{}

// Emit implements events.Emitter.
func (EventMetrics) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	Events().Record(evt.EventType())
}
