// Package metrics contains the Prometheus collectors for the proxy. Log
// persistence failures are surfaced here and in the logs only; they are never
// reported to the client, whose response has typically already been sent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowscribe/flowscribe/pkg/record"
)

// Metrics holds the proxy's Prometheus collectors. Each Proxy instance owns
// its own registry so tests can run many proxies side by side.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	recordsStored  prometheus.Counter
	appendFailures prometheus.Counter
	recordsDropped prometheus.Counter
	chunksRelayed  prometheus.Counter
}

// New creates a Metrics instance backed by a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowscribe_requests_total",
				Help: "Total chat completion requests handled, by outcome",
			},
			[]string{"outcome"},
		),

		recordsStored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flowscribe_records_stored_total",
				Help: "Total log records successfully appended",
			},
		),

		appendFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flowscribe_record_append_failures_total",
				Help: "Total log record appends that failed",
			},
		),

		recordsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flowscribe_records_dropped_total",
				Help: "Total log records dropped because the append queue was full",
			},
		),

		chunksRelayed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flowscribe_stream_chunks_relayed_total",
				Help: "Total streamed response chunks relayed to clients",
			},
		),
	}
}

// ObserveRequest counts one finished request by outcome.
func (m *Metrics) ObserveRequest(outcome record.Outcome) {
	m.requestsTotal.WithLabelValues(string(outcome)).Inc()
}

// ObserveRecordStored counts one successful append.
func (m *Metrics) ObserveRecordStored() {
	m.recordsStored.Inc()
}

// ObserveAppendFailure counts one failed append.
func (m *Metrics) ObserveAppendFailure() {
	m.appendFailures.Inc()
}

// ObserveRecordDropped counts one record dropped at enqueue time.
func (m *Metrics) ObserveRecordDropped() {
	m.recordsDropped.Inc()
}

// ObserveChunks counts n relayed stream chunks.
func (m *Metrics) ObserveChunks(n int) {
	m.chunksRelayed.Add(float64(n))
}

// Handler returns the HTTP handler serving this registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry's gather function for tests.
func (m *Metrics) Gather() prometheus.Gatherer {
	return m.registry
}
