package metrics

import (
	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// PrometheusObserver turns dispatcher executions into Prometheus metrics.
// Registration errors are logged and never returned.
type PrometheusObserver struct {
	logger *logrus.Logger

	firingsTotal    *prometheus.CounterVec
	executionsTotal *prometheus.CounterVec
	skippedTotal    *prometheus.CounterVec
	inFlight        prometheus.Gauge
	duration        *prometheus.HistogramVec
}

func NewPrometheusObserver(reg prometheus.Registerer, logger *logrus.Logger) *PrometheusObserver {
	o := &PrometheusObserver{logger: logger}

	o.firingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_trigger_firings_total",
		Help: "Total number of trigger firings, skipped ones included.",
	}, []string{"trigger"})

	o.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_job_executions_total",
		Help: "Total number of finished job executions by outcome.",
	}, []string{"job", "outcome"})

	o.skippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_firings_skipped_total",
		Help: "Total number of skipped firings by reason.",
	}, []string{"trigger", "reason"})

	o.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatcher_executions_in_flight",
		Help: "Number of job executions currently running.",
	})

	o.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatcher_job_duration_seconds",
		Help:    "Job execution duration in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"job"})

	o.register(reg, o.firingsTotal, "dispatcher_trigger_firings_total")
	o.register(reg, o.executionsTotal, "dispatcher_job_executions_total")
	o.register(reg, o.skippedTotal, "dispatcher_firings_skipped_total")
	o.register(reg, o.inFlight, "dispatcher_executions_in_flight")
	o.register(reg, o.duration, "dispatcher_job_duration_seconds")

	return o
}

func (o *PrometheusObserver) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		o.logger.WithFields(logrus.Fields{
			"metric": name,
			"error":  err.Error(),
		}).Warn("Failed to register metric")
	}
}

func (o *PrometheusObserver) ExecutionStarted(exec types.Execution) {
	o.firingsTotal.WithLabelValues(exec.Trigger.String()).Inc()
	o.inFlight.Inc()
}

func (o *PrometheusObserver) ExecutionFinished(exec types.Execution) {
	if exec.Outcome == types.OutcomeSkipped {
		// Skipped firings never reach ExecutionStarted.
		o.firingsTotal.WithLabelValues(exec.Trigger.String()).Inc()
		o.skippedTotal.WithLabelValues(exec.Trigger.String(), exec.SkipReason).Inc()
		return
	}

	o.inFlight.Dec()
	o.executionsTotal.WithLabelValues(exec.JobName, string(exec.Outcome)).Inc()
	o.duration.WithLabelValues(exec.JobName).Observe(exec.Duration.Seconds())
}
