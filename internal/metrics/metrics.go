// ABOUTME: Prometheus collectors for the discussion gateway
// ABOUTME: Counters for events, errors, retries and purges plus gauges sampled from live state

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "discuss"

// Sources are sampled on every scrape; nil sources are skipped.
type Sources struct {
	Connections func() int
	Rooms       func() int
}

// Metrics holds the gateway's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	inbound      *prometheus.CounterVec
	scopedErrors *prometheus.CounterVec
	storeRetries *prometheus.CounterVec
	messages     prometheus.Counter
	swept        prometheus.Counter
	slowClients  prometheus.Counter
	purged       prometheus.Counter
}

// New creates a registry with process and Go collectors and the gateway's own metrics.
func New(src Sources) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound WebSocket events by type.",
		}, []string{"type"}),
		scopedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoped_errors_total",
			Help:      "Errors reported to a single client, by kind.",
		}, []string{"kind"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Store operations retried after a transient failure.",
		}, []string{"op"}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages persisted.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_connections_closed_total",
			Help:      "Connections closed by the idle sweep.",
		}),
		slowClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_clients_closed_total",
			Help:      "Connections closed because their outbound queue was full.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_purged_messages_total",
			Help:      "Soft-deleted messages removed by retention.",
		}),
	}
	reg.MustRegister(m.inbound, m.scopedErrors, m.storeRetries, m.messages, m.swept, m.slowClients, m.purged)

	if src.Connections != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live WebSocket connections.",
		}, func() float64 { return float64(src.Connections()) }))
	}
	if src.Rooms != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Live rooms.",
		}, func() float64 { return float64(src.Rooms()) }))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InboundEvent counts one inbound frame.
func (m *Metrics) InboundEvent(eventType string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(eventType).Inc()
}

// ScopedError counts one error sent to a client.
func (m *Metrics) ScopedError(kind string) {
	if m == nil {
		return
	}
	m.scopedErrors.WithLabelValues(kind).Inc()
}

// StoreRetry counts a retried store operation.
func (m *Metrics) StoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(op).Inc()
}

// MessageAppended counts a persisted message.
func (m *Metrics) MessageAppended() {
	if m == nil {
		return
	}
	m.messages.Inc()
}

// IdleClosed counts a connection closed by the idle sweep.
func (m *Metrics) IdleClosed() {
	if m == nil {
		return
	}
	m.swept.Inc()
}

// SlowClientClosed counts a connection closed for falling behind.
func (m *Metrics) SlowClientClosed() {
	if m == nil {
		return
	}
	m.slowClients.Inc()
}

// Purged counts messages removed by retention.
func (m *Metrics) Purged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.Add(float64(n))
}
