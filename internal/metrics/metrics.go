// Package metrics exposes Prometheus collectors for the capture daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/i474232898/webcam-capture/internal/pipeline"
	"github.com/i474232898/webcam-capture/internal/scheduler"
	"github.com/i474232898/webcam-capture/internal/upload"
)

const (
	// Namespace is the namespace for all daemon metrics.
	Namespace = "webcam"

	// Subsystem is the subsystem for capture metrics.
	Subsystem = "capture"
)

// Metrics holds all collectors.
type Metrics struct {
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	StageOutcomes   *prometheus.CounterVec
	UploadAttempts  *prometheus.CounterVec
	WeatherRequests *prometheus.CounterVec
	CaptureInterval prometheus.Gauge
	Daytime         prometheus.Gauge
	Rearms          prometheus.Counter
	LastSuccess     prometheus.Gauge
	LastImageBytes  prometheus.Gauge
}

// New creates and registers the collectors on reg (the default registerer if nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "cycles_total",
			Help:      "Capture cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of completed capture cycles",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		StageOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "stage_results_total",
			Help:      "Capture cycle stage results by stage and status",
		}, []string{"stage", "status"}),
		UploadAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "upload",
			Name:      "attempts_total",
			Help:      "Upload attempts by sink and outcome",
		}, []string{"sink", "outcome"}),
		WeatherRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "weather",
			Name:      "requests_total",
			Help:      "METAR lookups by outcome",
		}, []string{"outcome"}),
		CaptureInterval: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "interval_seconds",
			Help:      "Active capture interval",
		}),
		Daytime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "daytime",
			Help:      "1 while the scheduler is armed for day, 0 for night",
		}),
		Rearms: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "rearms_total",
			Help:      "Capture timer re-arms on day/night transitions",
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successfully uploaded capture",
		}),
		LastImageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "last_image_bytes",
			Help:      "Size of the last uploaded image",
		}),
	}
}

// Record implements pipeline.Recorder.
func (m *Metrics) Record(r pipeline.Report) {
	m.CyclesTotal.WithLabelValues(string(r.Outcome)).Inc()
	if r.Skipped() {
		return
	}
	m.CycleDuration.Observe(r.Duration.Seconds())
	for _, st := range r.Stages {
		m.StageOutcomes.WithLabelValues(string(st.Stage), st.Status).Inc()
	}
	if r.Outcome == pipeline.OutcomeSuccess || r.Outcome == pipeline.OutcomeDegraded {
		m.LastSuccess.Set(float64(r.Trigger.Unix()))
		m.LastImageBytes.Set(float64(r.Bytes))
	}
}

// ObserveAttempt is an upload.WithObserver callback.
func (m *Metrics) ObserveAttempt(sink string, a upload.Attempt) {
	m.UploadAttempts.WithLabelValues(sink, string(a.Outcome)).Inc()
}

// ObserveWeather is a weather.Options.Observer callback.
func (m *Metrics) ObserveWeather(outcome string) {
	m.WeatherRequests.WithLabelValues(outcome).Inc()
}

// ObserveArm is a scheduler.WithStateHook callback.
func (m *Metrics) ObserveArm(st scheduler.State, interval time.Duration, rearm bool) {
	m.CaptureInterval.Set(interval.Seconds())
	if st == scheduler.ArmedDay {
		m.Daytime.Set(1)
	} else {
		m.Daytime.Set(0)
	}
	if rearm {
		m.Rearms.Inc()
	}
}
