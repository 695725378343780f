// Package metrics exposes Prometheus collectors for the watch engine.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Reasons an event is dropped by the fold.
const (
	ReasonMalformed   = "malformed"
	ReasonIncomplete  = "incomplete"
	ReasonUnknownType = "unknown_type"
)

// Metrics records watch and list activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	watchesOpen   *prometheus.GaugeVec
	events        *prometheus.CounterVec
	droppedEvents *prometheus.CounterVec
	listRequests  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Collectors already
// registered by an earlier call are reused. A nil reg leaves the collectors
// unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		watchesOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kconsole",
			Name:      "watches_open",
			Help:      "Number of open watch connections.",
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kconsole",
			Name:      "watch_events_total",
			Help:      "Number of watch events received.",
		}, []string{"kind", "type"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kconsole",
			Name:      "watch_events_dropped_total",
			Help:      "Number of watch events ignored by the merge.",
		}, []string{"kind", "reason"}),
		listRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kconsole",
			Name:      "list_requests_total",
			Help:      "Number of list requests sent, by result.",
		}, []string{"kind", "result"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.watchesOpen, err = register(reg, m.watchesOpen); err != nil {
		return nil, err
	}
	if m.events, err = register(reg, m.events); err != nil {
		return nil, err
	}
	if m.droppedEvents, err = register(reg, m.droppedEvents); err != nil {
		return nil, err
	}
	if m.listRequests, err = register(reg, m.listRequests); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// WatchOpened increments the open watch gauge.
func (m *Metrics) WatchOpened(kind string) {
	if m == nil {
		return
	}
	m.watchesOpen.WithLabelValues(kind).Inc()
}

// WatchClosed decrements the open watch gauge.
func (m *Metrics) WatchClosed(kind string) {
	if m == nil {
		return
	}
	m.watchesOpen.WithLabelValues(kind).Dec()
}

// Event counts a received watch event.
func (m *Metrics) Event(kind, eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, eventType).Inc()
}

// Dropped counts an event the merge ignored.
func (m *Metrics) Dropped(kind, reason string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(kind, reason).Inc()
}

// ListRequest counts a list call and whether it succeeded.
func (m *Metrics) ListRequest(kind string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.listRequests.WithLabelValues(kind, result).Inc()
}
