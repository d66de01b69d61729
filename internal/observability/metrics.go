package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSurfaces      prometheus.Gauge
	SurfaceEvents       *prometheus.CounterVec
	Cycles              *prometheus.CounterVec
	DetectLatency       *prometheus.HistogramVec
	DetectorFallbacks   *prometheus.CounterVec
	Redactions          *prometheus.CounterVec
	Undos               *prometheus.CounterVec
	BridgeNotifications *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec

	cycleStages *cycleStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSurfaces: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_surfaces",
			Help:      "Number of attached editable surfaces.",
		}),
		SurfaceEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surface_events_total",
			Help:      "Surface lifecycle events by type.",
		}, []string{"event"}),
		Cycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_cycles_total",
			Help:      "Detection cycles by outcome.",
		}, []string{"outcome"}),
		DetectLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_latency_ms",
			Help:      "Detector latency in milliseconds by source.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"source"}),
		DetectorFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_fallbacks_total",
			Help:      "Remote detector failures absorbed by the local matcher, by reason.",
		}, []string{"reason"}),
		Redactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redactions_total",
			Help:      "Applied redactions by kind.",
		}, []string{"kind"}),
		Undos: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undos_total",
			Help:      "Undone redactions by kind.",
		}, []string{"kind"}),
		BridgeNotifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_notifications_total",
			Help:      "Bridge notifications by topic and result.",
		}, []string{"topic", "result"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		cycleStages: newCycleStageWindow(512),
	}
}

func (m *Metrics) ObserveDetect(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.DetectLatency.WithLabelValues(source).Observe(float64(d.Microseconds()) / 1000)
	m.cycleStages.Observe("detect_"+source, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
	m.cycleStages.CountOutcome(outcome)
	if outcome == "redacted" || outcome == "clean" {
		m.cycleStages.Observe("cycle_total", float64(d.Microseconds())/1000)
	}
}

// ObserveStage records one stage of a detection cycle.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleStages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) SnapshotCycleStages() CycleStageSnapshot {
	if m == nil {
		return newCycleStageWindow(1).Snapshot()
	}
	return m.cycleStages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
