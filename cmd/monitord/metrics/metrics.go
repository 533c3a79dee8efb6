// Package metrics provides Prometheus metrics instrumentation for monitord.
//
// It exposes operational metrics about the monitoring session: fetch
// round-trip durations and outcomes, stale completions dropped by the
// scheduler, the feed connectivity state, the latest traffic reading, and
// whether a congestion alert is active. All metrics are exposed via the
// /metrics HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - sigap_fetch_seconds: Histogram of fetch duration by outcome
//     (success, network_error, decode_error)
//   - sigap_stale_completions_total: Counter of discarded late fetch results
//   - sigap_actions_total: Counter of operator decisions by kind
//   - sigap_ws_clients: Gauge of connected websocket clients
//   - sigap_feed_connectivity: Gauge per connectivity state (1 = current)
//   - sigap_traffic_volume: Gauge of the latest observed volume
//   - sigap_predicted_volume: Gauge of the latest predicted volume
//   - sigap_risk_level: Gauge of the latest congestion risk (0-100)
//   - sigap_alert_active: Gauge, 1 while a congestion alert is showing
//
// All metrics include the intersection label for multi-intersection
// deployments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sigap-ai/sigapd/pkg/traffic"
)

// connectivityStates are the values the session reports; the gauge vector
// is pre-populated so absent states read 0 rather than being missing.
var connectivityStates = []string{"connecting", "live", "degraded"}

// Metrics holds all Prometheus metrics for monitord.
type Metrics struct {
	FetchSeconds          *prometheus.HistogramVec
	StaleCompletionsTotal prometheus.Counter
	ActionsTotal          *prometheus.CounterVec
	WSClients             prometheus.Gauge
	FeedConnectivity      *prometheus.GaugeVec
	TrafficVolume         prometheus.Gauge
	PredictedVolume       prometheus.Gauge
	RiskLevel             prometheus.Gauge
	AlertActive           prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(intersection string) *Metrics {
	m := &Metrics{
		FetchSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "sigap_fetch_seconds",
			Help: "Round-trip time of live feed fetches",
			ConstLabels: prometheus.Labels{
				"intersection": intersection,
			},
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),

		StaleCompletionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sigap_stale_completions_total",
			Help: "Fetch completions discarded because a newer reading already landed",
			ConstLabels: prometheus.Labels{
				"intersection": intersection,
			},
		}),

		ActionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sigap_actions_total",
			Help: "Operator decisions by kind (apply, reject, override, save)",
			ConstLabels: prometheus.Labels{
				"intersection": intersection,
			},
		}, []string{"kind"}),

		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sigap_ws_clients",
			Help: "Websocket clients currently connected",
			ConstLabels: prometheus.Labels{
				"intersection": intersection,
			},
		}),

		FeedConnectivity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigap_feed_connectivity",
			Help: "Feed connectivity state, 1 for the current state and 0 otherwise",
			ConstLabels: prometheus.Labels{
				"intersection": intersection,
			},
		}, []string{"state"}),

		TrafficVolume: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sigap_traffic_volume",
			Help: "Latest observed traffic volume (vehicles)",
			ConstLabels: prometheus.Labels{
				"intersection": intersection,
			},
		}),

		PredictedVolume: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sigap_predicted_volume",
			Help: "Latest predicted traffic volume (vehicles)",
			ConstLabels: prometheus.Labels{
				"intersection": intersection,
			},
		}),

		RiskLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sigap_risk_level",
			Help: "Latest congestion risk level (0-100)",
			ConstLabels: prometheus.Labels{
				"intersection": intersection,
			},
		}),

		AlertActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sigap_alert_active",
			Help: "1 while a congestion alert is showing, 0 otherwise",
			ConstLabels: prometheus.Labels{
				"intersection": intersection,
			},
		}),
	}

	for _, state := range connectivityStates {
		m.FeedConnectivity.WithLabelValues(state).Set(0)
	}
	m.FeedConnectivity.WithLabelValues("connecting").Set(1)

	return m
}

// ObserveFetch records one fetch round-trip.
func (m *Metrics) ObserveFetch(outcome string, duration time.Duration) {
	m.FetchSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordStaleDrop counts a discarded out-of-order completion.
func (m *Metrics) RecordStaleDrop() {
	m.StaleCompletionsTotal.Inc()
}

// RecordAction counts a completed operator decision.
func (m *Metrics) RecordAction(kind string) {
	m.ActionsTotal.WithLabelValues(kind).Inc()
}

// ClientConnected counts a websocket client attaching.
func (m *Metrics) ClientConnected() {
	m.WSClients.Inc()
}

// ClientDisconnected counts a websocket client detaching.
func (m *Metrics) ClientDisconnected() {
	m.WSClients.Dec()
}

// SetConnectivity marks the current connectivity state.
func (m *Metrics) SetConnectivity(state string) {
	for _, s := range connectivityStates {
		if s == state {
			m.FeedConnectivity.WithLabelValues(s).Set(1)
		} else {
			m.FeedConnectivity.WithLabelValues(s).Set(0)
		}
	}
}

// ObserveReading publishes the gauges derived from one traffic reading.
func (m *Metrics) ObserveReading(snap traffic.Snapshot) {
	m.TrafficVolume.Set(float64(snap.Volume))
	m.PredictedVolume.Set(float64(snap.PredictedVolume))
	m.RiskLevel.Set(float64(snap.RiskLevel))
}

// SetAlertActive publishes the alert gauge.
func (m *Metrics) SetAlertActive(active bool) {
	if active {
		m.AlertActive.Set(1)
	} else {
		m.AlertActive.Set(0)
	}
}
