// Package metrics exposes experiment progress as Prometheus series.
package metrics

import (
	"errors"
	"math"
	"time"

	"github.com/danielpatrickdp/abtest/internal/engine"
	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/danielpatrickdp/abtest/internal/ledger"
	"github.com/danielpatrickdp/abtest/internal/mcmc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Update results, used as the "result" label.
const (
	ResultOK          = "ok"
	ResultInvalid     = "invalid_observation"
	ResultDivergence  = "sampling_divergence"
	ResultOtherFailed = "error"
)

// #region metrics
// Metrics holds the series for one engine.
type Metrics struct {
	updates        *prometheus.CounterVec
	updateDuration *prometheus.HistogramVec
	decisions      *prometheus.CounterVec
	probBBetter    prometheus.Gauge
	meanUplift     prometheus.Gauge
	periods        prometheus.Gauge
	maxRhat        prometheus.Gauge
	resets         prometheus.Counter
}

// New registers the series with reg. Pass prometheus.DefaultRegisterer to
// serve them from promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		updates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "abtest_updates_total",
			Help: "Engine updates by model and result",
		}, []string{"model", "result"}),

		updateDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "abtest_update_duration_seconds",
			Help:    "Engine update duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"model"}),

		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "abtest_decisions_total",
			Help: "Decision queries by verdict",
		}, []string{"winner"}),

		probBBetter: f.NewGauge(prometheus.GaugeOpts{
			Name: "abtest_prob_b_better",
			Help: "P(B > A) in the latest snapshot",
		}),

		meanUplift: f.NewGauge(prometheus.GaugeOpts{
			Name: "abtest_mean_uplift",
			Help: "Mean relative uplift of B over A in the latest snapshot",
		}),

		periods: f.NewGauge(prometheus.GaugeOpts{
			Name: "abtest_periods",
			Help: "Observation periods in the active ledger",
		}),

		maxRhat: f.NewGauge(prometheus.GaugeOpts{
			Name: "abtest_mcmc_max_rhat",
			Help: "Largest split R-hat of the latest simulation",
		}),

		resets: f.NewCounter(prometheus.CounterOpts{
			Name: "abtest_resets_total",
			Help: "Experiment resets",
		}),
	}
}

// #endregion metrics

// #region observe
// ObserveUpdate counts one update attempt and its duration.
func (m *Metrics) ObserveUpdate(model engine.Model, took time.Duration, err error) {
	m.updates.WithLabelValues(string(model), Classify(err)).Inc()
	m.updateDuration.WithLabelValues(string(model)).Observe(took.Seconds())
}

// ObserveSnapshot sets the gauges from the newest snapshot.
func (m *Metrics) ObserveSnapshot(s ledger.Snapshot) {
	m.periods.Set(float64(s.Index))
	if s.Comparison.Empty() {
		m.probBBetter.Set(math.NaN())
		m.meanUplift.Set(math.NaN())
		return
	}
	m.probBBetter.Set(s.Comparison.ProbBBetter)
	m.meanUplift.Set(s.Comparison.MeanUplift)
	if s.Diagnostics != nil {
		m.maxRhat.Set(s.Diagnostics.MaxRhat())
	}
}

// ObserveDecision counts one verdict.
func (m *Metrics) ObserveDecision(d gate.Decision) {
	m.decisions.WithLabelValues(string(d.Winner)).Inc()
}

// ObserveReset counts a reset and clears the snapshot gauges.
func (m *Metrics) ObserveReset(prior ledger.Snapshot) {
	m.resets.Inc()
	m.ObserveSnapshot(prior)
}

// Classify maps an update error onto a result label.
func Classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, engine.ErrInvalidObservation):
		return ResultInvalid
	case errors.Is(err, mcmc.ErrSamplingDivergence):
		return ResultDivergence
	}
	return ResultOtherFailed
}

// #endregion observe
