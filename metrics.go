package hpo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "hpo"

// MetricsObserver exports optimization progress as Prometheus metrics.
type MetricsObserver struct {
	// ProposalsTotal counts dispatched configurations.
	ProposalsTotal prometheus.Counter

	// TrialsTotal counts completed trials.
	// Labels: status (succeeded, failed, timed_out)
	TrialsTotal *prometheus.CounterVec

	// TrialDurationSeconds measures trial wall time.
	// Labels: status
	TrialDurationSeconds *prometheus.HistogramVec

	// IncumbentChangesTotal counts incumbent changes.
	IncumbentChangesTotal prometheus.Counter

	// IncumbentCost is the aggregated cost of the current incumbent.
	IncumbentCost prometheus.Gauge

	// Running is the number of trials in flight at the last dispatch.
	Running prometheus.Gauge
}

// NewMetricsObserver creates and registers the metrics with reg. Registering
// twice with the same registry panics.
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	factory := promauto.With(reg)

	return &MetricsObserver{
		ProposalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "proposals_total",
			Help:      "Configurations dispatched to the trial executor.",
		}),
		TrialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trials_total",
			Help:      "Completed trials by terminal status.",
		}, []string{"status"}),
		TrialDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "trial_duration_seconds",
			Help:      "Trial wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~43min
		}, []string{"status"}),
		IncumbentChangesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "incumbent_changes_total",
			Help:      "Times the incumbent configuration changed.",
		}),
		IncumbentCost: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "incumbent_cost",
			Help:      "Aggregated cost of the incumbent.",
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "running_trials",
			Help:      "Trials in flight.",
		}),
	}
}

func (m *MetricsObserver) OnProposal(e ProposalEvent) {
	m.ProposalsTotal.Inc()
	m.Running.Set(float64(e.Running))
}

func (m *MetricsObserver) OnTrialComplete(t Trial) {
	status := t.Status.String()
	m.TrialsTotal.WithLabelValues(status).Inc()
	m.TrialDurationSeconds.WithLabelValues(status).Observe(t.Duration.Seconds())
	m.Running.Dec()
}

func (m *MetricsObserver) OnIncumbentChanged(e IncumbentEvent) {
	m.IncumbentChangesTotal.Inc()
	m.IncumbentCost.Set(e.Cost)
}
