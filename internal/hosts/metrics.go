package hosts

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts deployment steps. A nil *Metrics records nothing.
type Metrics struct {
	steps    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the deployment metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quick_deploy_steps_total",
				Help: "Deployment steps attempted, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quick_deploy_duration_seconds",
				Help:    "Duration of certificate deployments in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
	}
}

func (m *Metrics) observeStep(result StepResult) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(string(result.Step.Kind), string(result.Outcome)).Inc()
}

func (m *Metrics) observeDeployment(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}
