package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/session"
)

const namespace = "drowseguard"

// CountSource reports registry totals at scrape time.
type CountSource interface {
	Counts() (streams, active, alerting int)
}

// Metrics holds the collectors registered for one process.
type Metrics struct {
	frames          *prometheus.CounterVec
	alertsRaised    *prometheus.CounterVec
	openness        prometheus.Histogram
	sessionDuration prometheus.Histogram
	sessionAlerts   prometheus.Histogram
	historyDropped  prometheus.Counter
	gatherer        prometheus.Gatherer
}

// New creates the collectors and registers them with reg. src may be nil, in
// which case the stream gauges are not registered.
func New(reg *prometheus.Registry, src CountSource) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames processed, by ocular confidence.",
		}, []string{"confidence"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Drowsiness alert rising edges, by stream.",
		}, []string{"stream"}),
		openness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eye_openness",
			Help:      "Reported eye openness per frame.",
			Buckets:   prometheus.LinearBuckets(0.05, 0.05, 10),
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of finished monitoring sessions.",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
		}),
		sessionAlerts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_alert_transitions",
			Help:      "Alert transitions per finished session.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		historyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_dropped_total",
			Help:      "History records dropped because the write queue was full.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.frames, m.alertsRaised, m.openness, m.sessionDuration, m.sessionAlerts, m.historyDropped)

	if src != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "streams",
				Help:      "Registered streams.",
			}, func() float64 { s, _, _ := src.Counts(); return float64(s) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Streams with a running monitoring session.",
			}, func() float64 { _, a, _ := src.Counts(); return float64(a) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "alerting_streams",
				Help:      "Streams currently in the alert state.",
			}, func() float64 { _, _, al := src.Counts(); return float64(al) }),
		)
	}
	return m
}

// FrameProcessed records one engine result.
func (m *Metrics) FrameProcessed(streamID string, res engine.FrameResult) {
	m.frames.WithLabelValues(res.Confidence.String()).Inc()
	m.openness.Observe(res.Openness)
	if res.AlertStarted && res.Stats.Active {
		m.alertsRaised.WithLabelValues(streamID).Inc()
	}
}

// SessionStopped records a finished session.
func (m *Metrics) SessionStopped(_ string, final session.Stats) {
	m.sessionDuration.Observe(final.Elapsed.Seconds())
	m.sessionAlerts.Observe(float64(final.AlertTransitions))
}

// HistoryDropped counts one dropped history record.
func (m *Metrics) HistoryDropped() { m.historyDropped.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
