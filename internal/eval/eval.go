package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/abtest/internal/ledger"
)

// #region eval-harness
// EvalHarness runs convergence checks on a simulation before its draws are
// allowed into the ledger.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks chain and draw counts, then each parameter's R-hat, acceptance
// and effective sample size.
func (h *EvalHarness) Run(d *ledger.Diagnostics) EvalResult {
	var metrics []EvalMetric
	var failReasons []string
	var failed []EvalMetric

	check := func(m EvalMetric, reason string) {
		metrics = append(metrics, m)
		if !m.Pass {
			failReasons = append(failReasons, reason)
			failed = append(failed, m)
		}
	}

	// 1. Structure: enough chains and draws for the statistics to mean anything
	check(EvalMetric{
		Name:  "chains",
		Value: float64(d.Chains),
		Pass:  d.Chains >= h.config.MinChains,
	}, fmt.Sprintf("%d chains, need at least %d", d.Chains, h.config.MinChains))

	check(EvalMetric{
		Name:  "draws",
		Value: float64(d.Draws),
		Pass:  d.Draws >= h.config.MinDraws,
	}, fmt.Sprintf("%d draws per chain, need at least %d", d.Draws, h.config.MinDraws))

	// 2. Per-parameter mixing
	for _, p := range d.Params {
		rhatPass := !math.IsNaN(p.Rhat) && p.Rhat <= h.config.MaxRhat
		check(EvalMetric{
			Name:  fmt.Sprintf("rhat_%s", p.Name),
			Value: p.Rhat,
			Pass:  rhatPass,
		}, fmt.Sprintf("%s R-hat %.4f exceeds %.4f", p.Name, p.Rhat, h.config.MaxRhat))

		accPass := !math.IsNaN(p.AcceptRate) && p.AcceptRate >= h.config.MinAcceptRate
		check(EvalMetric{
			Name:  fmt.Sprintf("accept_%s", p.Name),
			Value: p.AcceptRate,
			Pass:  accPass,
		}, fmt.Sprintf("%s acceptance %.4f below %.4f", p.Name, p.AcceptRate, h.config.MinAcceptRate))

		essPass := !math.IsNaN(p.ESS) && p.ESS >= h.config.MinESS
		check(EvalMetric{
			Name:  fmt.Sprintf("ess_%s", p.Name),
			Value: p.ESS,
			Pass:  essPass,
		}, fmt.Sprintf("%s ESS %.0f below %.0f", p.Name, p.ESS, h.config.MinESS))
	}

	if len(failReasons) == 0 {
		return EvalResult{Passed: true, Metrics: metrics, Reason: "all checks passed"}
	}
	reason := fmt.Sprintf("eval failed: %s", failReasons[0])
	if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}
	return EvalResult{Passed: false, Metrics: metrics, Reason: reason, Failed: failed[0]}
}

// #endregion eval-harness
