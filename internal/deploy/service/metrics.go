package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 部署相关指标
type Metrics struct {
	deployments   *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	rollbacks     *prometheus.CounterVec
	probeFailures *prometheus.CounterVec
}

// NewMetrics 指标注册到 reg，传 nil 时使用默认 registry
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		deployments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quizops_deployments_total",
				Help: "Total number of finished deploy and rollback operations by final status.",
			},
			[]string{"kind", "status"},
		),
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quizops_step_duration_seconds",
				Help:    "Duration of successful deployment steps in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"step"},
		),
		rollbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quizops_rollbacks_total",
				Help: "Total number of rollbacks by trigger and result.",
			},
			[]string{"trigger", "result"},
		),
		probeFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quizops_probe_failures_total",
				Help: "Total number of failed verification probes.",
			},
			[]string{"probe"},
		),
	}
}

func (m *Metrics) stepDone(step string, d time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) finished(kind, status string) {
	m.deployments.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) rolledBack(trigger string, ok bool) {
	result := "succeeded"
	if !ok {
		result = "failed"
	}
	m.rollbacks.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) probeFailed(probe string) {
	m.probeFailures.WithLabelValues(probe).Inc()
}
