package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch outcomes
const (
	OutcomeSubmitted   = "submitted"
	OutcomeBypass      = "bypass"
	OutcomeNonFinite   = "non_finite"
	OutcomePreFilter   = "prefilter_error"
	OutcomeBuildFailed = "build_error"
)

// Metrics holds the pipeline's Prometheus collectors. All methods are safe
// on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	framesRead         *prometheus.CounterVec
	dispatches         *prometheus.CounterVec
	queueDrops         *prometheus.CounterVec
	results            *prometheus.CounterVec
	classifierLatency  prometheus.Histogram
	classifierErrors   prometheus.Counter
	alertState         *prometheus.GaugeVec
	recordings         *prometheus.CounterVec
	recordingBytes     prometheus.Counter
	subscribers        *prometheus.GaugeVec
	orchestratorErrors prometheus.Counter
	hostCPU            prometheus.Gauge
	hostMemory         *prometheus.GaugeVec
	diskUsage          prometheus.Gauge
	workersRunning     prometheus.Gauge
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_frames_read_total",
			Help: "Frames read from camera sources",
		}, []string{"camera_id"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_dispatch_decisions_total",
			Help: "Stride dispatch decisions by outcome",
		}, []string{"camera_id", "outcome"}),
		queueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_queue_drops_total",
			Help: "Messages dropped by bounded queues",
		}, []string{"queue"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_results_total",
			Help: "Classification results handled by the orchestrator",
		}, []string{"camera_id"}),
		classifierLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analytics_classifier_latency_seconds",
			Help:    "Classifier request latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		classifierErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_classifier_errors_total",
			Help: "Failed classifier requests",
		}),
		alertState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "analytics_recording_active",
			Help: "Recording state per camera (0=idle, 1=recording)",
		}, []string{"camera_id"}),
		recordings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_recordings_total",
			Help: "Finished recordings",
		}, []string{"camera_id"}),
		recordingBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_recording_bytes_total",
			Help: "Bytes written to finished recordings",
		}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "analytics_subscribers",
			Help: "Connected alert subscribers per camera",
		}, []string{"camera_id"}),
		orchestratorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_orchestrator_errors_total",
			Help: "Orchestrator iterations that failed",
		}),
		hostCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_host_cpu_percent",
			Help: "Host CPU usage sampled by the telemetry collector",
		}),
		hostMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "analytics_host_memory_bytes",
			Help: "Host memory by kind (used, total)",
		}, []string{"kind"}),
		diskUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_recording_disk_usage_percent",
			Help: "Usage of the filesystem holding recordings",
		}),
		workersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_workers_running",
			Help: "Camera workers currently running",
		}),
	}

	m.registry.MustRegister(
		m.framesRead,
		m.dispatches,
		m.queueDrops,
		m.results,
		m.classifierLatency,
		m.classifierErrors,
		m.alertState,
		m.recordings,
		m.recordingBytes,
		m.subscribers,
		m.orchestratorErrors,
		m.hostCPU,
		m.hostMemory,
		m.diskUsage,
		m.workersRunning,
	)
	return m
}

// RegisterQueueDepths exposes the current queue depths reported by fn.
func (m *Metrics) RegisterQueueDepths(fn func() map[string]int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(&depthCollector{
		desc: prometheus.NewDesc("analytics_queue_depth", "Messages waiting in each queue", []string{"queue"}, nil),
		fn:   fn,
	})
}

// FrameRead counts a frame read by a camera worker.
func (m *Metrics) FrameRead(cameraID string) {
	if m == nil {
		return
	}
	m.framesRead.WithLabelValues(cameraID).Inc()
}

// Dispatch counts a stride dispatch decision.
func (m *Metrics) Dispatch(cameraID, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(cameraID, outcome).Inc()
}

// QueueDrop counts a message dropped by queue.
func (m *Metrics) QueueDrop(queue string) {
	if m == nil {
		return
	}
	m.queueDrops.WithLabelValues(queue).Inc()
}

// Result counts a result handled by the orchestrator.
func (m *Metrics) Result(cameraID string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(cameraID).Inc()
}

// ObserveClassifier records one classifier call.
func (m *Metrics) ObserveClassifier(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.classifierLatency.Observe(d.Seconds())
	if err != nil {
		m.classifierErrors.Inc()
	}
}

// SetRecording records whether cameraID is recording.
func (m *Metrics) SetRecording(cameraID string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.alertState.WithLabelValues(cameraID).Set(v)
}

// RecordingFinished counts a closed recording.
func (m *Metrics) RecordingFinished(cameraID string, sizeBytes int64) {
	if m == nil {
		return
	}
	m.recordings.WithLabelValues(cameraID).Inc()
	if sizeBytes > 0 {
		m.recordingBytes.Add(float64(sizeBytes))
	}
}

// SetSubscribers records the subscriber count of cameraID.
func (m *Metrics) SetSubscribers(cameraID string, n int) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(cameraID).Set(float64(n))
}

// OrchestratorError counts a failed orchestrator iteration.
func (m *Metrics) OrchestratorError() {
	if m == nil {
		return
	}
	m.orchestratorErrors.Inc()
}

// SetHostUsage records a host resource sample.
func (m *Metrics) SetHostUsage(cpuPercent float64, memUsed, memTotal uint64) {
	if m == nil {
		return
	}
	m.hostCPU.Set(cpuPercent)
	m.hostMemory.WithLabelValues("used").Set(float64(memUsed))
	m.hostMemory.WithLabelValues("total").Set(float64(memTotal))
}

// SetDiskUsage records the usage of the recordings filesystem.
func (m *Metrics) SetDiskUsage(percent float64) {
	if m == nil {
		return
	}
	m.diskUsage.Set(percent)
}

// SetWorkersRunning records how many camera workers are running.
func (m *Metrics) SetWorkersRunning(n int) {
	if m == nil {
		return
	}
	m.workersRunning.Set(float64(n))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type depthCollector struct {
	desc *prometheus.Desc
	fn   func() map[string]int
}

func (c *depthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *depthCollector) Collect(ch chan<- prometheus.Metric) {
	for name, depth := range c.fn() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(depth), name)
	}
}
