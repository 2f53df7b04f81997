/*
 * backend/telemetry/metrics.go
 *
 * Prometheus exposition. Each Exporter carries an independent registry to
 * avoid collector conflicts when tests build more than one.
 */

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GaugeSource reports live aggregate figures for gauge collection. The room
// manager paired with the subscription manager satisfies it.
type GaugeSource interface {
	RoomCount() int
	ProducerCount() int
	SubscriberCount() int
	EntryCount() int
	ActiveTraceCount() int
}

// Exporter registers the recorder's counters and the source's gauges on a
// private registry and serves the scrape endpoint.
type Exporter struct {
	registry *prometheus.Registry
}

// NewExporter wires recorder totals and live gauges into a fresh registry.
func NewExporter(recorder *Recorder, source GaugeSource) *Exporter {
	registry := prometheus.NewRegistry()

	counter := func(name, help string, value func() uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "spyglass",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value()) })
	}
	registry.MustRegister(
		counter("entries_received_total", "Log and process-flow entries ingested.", recorder.totalEntries.Load),
		counter("watches_received_total", "Watch samples ingested.", recorder.totalWatches.Load),
		counter("streams_received_total", "Stream samples ingested.", recorder.totalStreams.Load),
		counter("entries_broadcast_total", "Entries delivered to subscribers.", recorder.totalEntriesBroadcast.Load),
		counter("watches_broadcast_total", "Watch frames delivered to subscribers.", recorder.totalWatchesBroadcast.Load),
	)

	if source != nil {
		gauge := func(name, help string, value func() int) prometheus.GaugeFunc {
			return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "spyglass",
				Name:      name,
				Help:      help,
			}, func() float64 { return float64(value()) })
		}
		registry.MustRegister(
			gauge("rooms", "Rooms currently held in memory.", source.RoomCount),
			gauge("producers", "Connected producers across all rooms.", source.ProducerCount),
			gauge("subscribers", "Connected websocket subscribers.", source.SubscriberCount),
			gauge("entries", "Log entries currently buffered across all rooms.", source.EntryCount),
			gauge("active_traces", "Traces still receiving spans.", source.ActiveTraceCount),
		)
	}

	return &Exporter{registry: registry}
}

// Handler serves the /metrics scrape endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
