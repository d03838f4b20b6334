package metrics

import (
	"net/http"
	"time"

	"github.com/garyjia/trip-approval/internal/application/lock"
	"github.com/garyjia/trip-approval/internal/application/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trip_approval"

// Recorder exports workflow and lock metrics to Prometheus
type Recorder struct {
	registry             *prometheus.Registry
	transitions          *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	uploadFailures       prometheus.Counter
	lockWait             *prometheus.HistogramVec
	lockTimeouts         *prometheus.CounterVec
}

var (
	_ service.Metrics = (*Recorder)(nil)
	_ lock.Observer   = (*Recorder)(nil)
)

// NewRecorder registers the collectors on a fresh registry together with
// the Go runtime and process collectors
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State machine transitions by record kind.",
		}, []string{"kind", "from", "to"}),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered.",
		}, []string{"kind"}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_upload_failures_total",
			Help:      "Receipt files that failed to upload.",
		}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a write lock.",
			Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 10, 30},
		}, []string{"scope"}),
		lockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Lock acquisitions that gave up waiting.",
		}, []string{"scope"}),
	}

	r.registry.MustRegister(
		r.transitions,
		r.notificationFailures,
		r.uploadFailures,
		r.lockWait,
		r.lockTimeouts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) IncTransition(kind, from, to string) {
	r.transitions.WithLabelValues(kind, from, to).Inc()
}

func (r *Recorder) IncNotificationFailure(kind string) {
	r.notificationFailures.WithLabelValues(kind).Inc()
}

func (r *Recorder) IncUploadFailure() {
	r.uploadFailures.Inc()
}

func (r *Recorder) ObserveLockWait(scope string, wait time.Duration) {
	r.lockWait.WithLabelValues(scope).Observe(wait.Seconds())
}

func (r *Recorder) IncLockTimeout(scope string) {
	r.lockTimeouts.WithLabelValues(scope).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
