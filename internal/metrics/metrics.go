// Package metrics holds the Prometheus collectors shared by the server and
// the collector. All methods are nil-safe so components can run without
// instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracon_scope"

// Poll results.
const (
	PollOK      = "ok"
	PollError   = "error"
	PollSkipped = "skipped"
)

// Metrics is a set of collectors bound to one registry.
type Metrics struct {
	registry *prometheus.Registry

	polls           *prometheus.CounterVec
	pollDuration    prometheus.Histogram
	trackedAircraft prometheus.Gauge
	coastingTracks  prometheus.Gauge
	alerts          *prometheus.GaugeVec
	ingest          *prometheus.CounterVec
	wxFetches       *prometheus.CounterVec
	streamClients   prometheus.Gauge
	archiveWrites   *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_polls_total",
			Help:      "Aircraft feed poll cycles by result.",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_poll_duration_seconds",
			Help:      "Duration of completed aircraft feed polls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
		trackedAircraft: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_aircraft",
			Help:      "Airborne aircraft in the latest feed.",
		}),
		coastingTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "coasting_tracks",
			Help:      "Tracks in the latest feed shown at a dead-reckoned position.",
		}),
		alerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Alerts in the latest evaluation by kind.",
		}, []string{"kind"}),
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_requests_total",
			Help:      "Ingest POSTs by stream and HTTP status.",
		}, []string{"stream", "status"}),
		wxFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wx_sampler_fetches_total",
			Help:      "Weather query path fetches by result.",
		}, []string{"result"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected SSE and websocket clients.",
		}),
		archiveWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_writes_total",
			Help:      "Database archive writes by table and result.",
		}, []string{"table", "result"}),
	}

	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.polls,
		m.pollDuration,
		m.trackedAircraft,
		m.coastingTracks,
		m.alerts,
		m.ingest,
		m.wxFetches,
		m.streamClients,
		m.archiveWrites,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObservePoll counts a poll cycle. Duration is only recorded for polls
// that ran.
func (m *Metrics) ObservePoll(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	if result != PollSkipped {
		m.pollDuration.Observe(d.Seconds())
	}
}

// SetTracks records the size of the latest feed.
func (m *Metrics) SetTracks(total, coasting int) {
	if m == nil {
		return
	}
	m.trackedAircraft.Set(float64(total))
	m.coastingTracks.Set(float64(coasting))
}

// SetAlerts records the number of alerts of one kind ("la" or "ca").
func (m *Metrics) SetAlerts(kind string, n int) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind).Set(float64(n))
}

// ObserveIngest counts an ingest request.
func (m *Metrics) ObserveIngest(stream string, status int) {
	if m == nil {
		return
	}
	m.ingest.WithLabelValues(stream, http.StatusText(status)).Inc()
}

// ObserveWxFetch counts a sampler fetch.
func (m *Metrics) ObserveWxFetch(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.wxFetches.WithLabelValues(result).Inc()
}

// StreamClientAdded and StreamClientRemoved track live push connections.
func (m *Metrics) StreamClientAdded() {
	if m != nil {
		m.streamClients.Inc()
	}
}

func (m *Metrics) StreamClientRemoved() {
	if m != nil {
		m.streamClients.Dec()
	}
}

// ObserveArchiveWrite counts a database write.
func (m *Metrics) ObserveArchiveWrite(table string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.archiveWrites.WithLabelValues(table, result).Inc()
}
