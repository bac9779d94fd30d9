package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exports registry activity as Prometheus metrics. It implements extension.Recorder.
type Recorder struct {
	pointBuilds   *prometheus.CounterVec
	pointSize     *prometheus.GaugeVec
	buildDuration *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	pluginLoads   *prometheus.CounterVec
}

// NewRecorder creates the collectors; call Register to expose them.
func NewRecorder() *Recorder {
	return &Recorder{
		pointBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extensions_point_builds_total",
				Help: "Number of extension point lists built",
			},
			[]string{"point"},
		),
		pointSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "extensions_point_extensions",
				Help: "Number of extensions in the last built list of a point",
			},
			[]string{"point"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extensions_point_build_duration_seconds",
				Help:    "Time spent building extension point lists",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"point"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extensions_failures_total",
				Help: "Extensions dropped while building a point",
			},
			[]string{"point", "plugin"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extensions_registrations_rejected_total",
				Help: "Extension point and extension registrations that were rejected",
			},
			[]string{"point", "plugin"},
		),
		pluginLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extensions_plugin_loads_total",
				Help: "Plugin loads by runtime and outcome",
			},
			[]string{"runtime", "outcome"},
		),
	}
}

// Register registers all collectors with r.
func (m *Recorder) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.pointBuilds,
		m.pointSize,
		m.buildDuration,
		m.failures,
		m.rejections,
		m.pluginLoads,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ExtensionPointBuilt records a successful build.
func (m *Recorder) ExtensionPointBuilt(point string, extensions int, took time.Duration) {
	m.pointBuilds.WithLabelValues(point).Inc()
	m.pointSize.WithLabelValues(point).Set(float64(extensions))
	m.buildDuration.WithLabelValues(point).Observe(took.Seconds())
}

// ExtensionFailed records an extension dropped from a build.
func (m *Recorder) ExtensionFailed(point, plugin string) {
	m.failures.WithLabelValues(point, plugin).Inc()
}

// RegistrationRejected records a rejected declaration.
func (m *Recorder) RegistrationRejected(point, plugin string) {
	m.rejections.WithLabelValues(point, plugin).Inc()
}

// PluginLoaded records a plugin load attempt.
func (m *Recorder) PluginLoaded(runtime string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.pluginLoads.WithLabelValues(runtime, outcome).Inc()
}
