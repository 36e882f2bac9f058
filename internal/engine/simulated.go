package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/danielpatrickdp/abtest/internal/eval"
	"github.com/danielpatrickdp/abtest/internal/ledger"
	"github.com/danielpatrickdp/abtest/internal/mcmc"
	"github.com/danielpatrickdp/abtest/internal/posterior"
)

const (
	paramLogRateA = "log_rate_a"
	paramLogRateB = "log_rate_b"
)

// SimulatedCountEngine fits Gamma-Poisson posteriors by MCMC on the
// cumulative sufficient statistics, re-running the simulation every update.
type SimulatedCountEngine struct {
	*core
	harness *eval.EvalHarness
}

// NewSimulatedCountEngine creates an engine for count-per-exposure data.
func NewSimulatedCountEngine(config Config) (*SimulatedCountEngine, error) {
	c, err := newCore(ModelCounts, config)
	if err != nil {
		return nil, err
	}
	return &SimulatedCountEngine{core: c, harness: eval.NewEvalHarness(config.Eval)}, nil
}

// #region update
// Update adds counts to alpha and exposure to beta, then samples the rates.
// A simulation that fails its convergence checks is reported as
// mcmc.ErrSamplingDivergence and nothing is appended.
func (e *SimulatedCountEngine) Update(ctx context.Context, b Batch) (ledger.Snapshot, error) {
	if err := validateCounts(b); err != nil {
		return ledger.Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.Ledger()
	prev := l.Latest()
	label, err := e.label(b, prev)
	if err != nil {
		return ledger.Snapshot{}, err
	}

	a := gammaStep(prev.A, b.A)
	bv := gammaStep(prev.B, b.B)

	cfg := e.config.MCMC
	seed, stream := e.seeds(prev.Index + 1)
	cfg.Seed = seed ^ (stream * 0x9e3779b97f4a7c15)
	// once started, an update is not cancellable
	trace, err := mcmc.NewSampler(cfg).Sample(context.WithoutCancel(ctx), logRateTarget(a.Params, bv.Params))
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("update %q: %w", label, err)
	}
	diag := trace.Diagnostics()
	if res := e.harness.Run(diag); !res.Passed {
		return ledger.Snapshot{}, fmt.Errorf("update %q: %w", label, &mcmc.DivergenceError{
			Param:  res.Failed.Name,
			Value:  res.Failed.Value,
			Reason: res.Reason,
		})
	}

	samples := &ledger.Samples{
		A: expAll(trace.Param(trace.Index(paramLogRateA))),
		B: expAll(trace.Param(trace.Index(paramLogRateB))),
	}
	cmp, err := posterior.Compare(samples, e.config.CredibleLevel)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("update %q: %w", label, err)
	}
	cmp.ProbBBetterExact = posterior.ProbBBetterExact(ledger.FamilyGamma, a.Params, bv.Params)
	a.CI = posterior.CredibleInterval(samples.A, e.config.CredibleLevel)
	bv.CI = posterior.CredibleInterval(samples.B, e.config.CredibleLevel)

	return l.Append(ledger.Snapshot{
		Label:       label,
		Family:      ledger.FamilyGamma,
		A:           a,
		B:           bv,
		Comparison:  cmp,
		Samples:     samples,
		Diagnostics: diag,
	})
}

// #endregion update

// gammaStep is the Gamma-Poisson conjugate update.
func gammaStep(prev ledger.Variant, obs Observation) ledger.Variant {
	p := ledger.Params{
		Alpha: prev.Params.Alpha + float64(obs.Events),
		Beta:  prev.Params.Beta + float64(obs.Exposure),
	}
	return ledger.Variant{
		Params:   p,
		Mean:     p.Mean(ledger.FamilyGamma),
		Events:   prev.Events + obs.Events,
		Exposure: prev.Exposure + obs.Exposure,
	}
}

// #region target
// logRateTarget is the joint Gamma(alpha, beta) density of both rates,
// reparameterised to theta = log(rate) so the sampler works on the real line:
// log p(theta) = alpha*theta - beta*exp(theta).
func logRateTarget(a, b ledger.Params) mcmc.Target {
	params := [2]ledger.Params{a, b}
	var mode, sd [2]float64
	for i, p := range params {
		mode[i] = math.Log(p.Alpha / p.Beta)
		sd[i] = 1 / math.Sqrt(p.Alpha)
	}
	return mcmc.Target{
		Names: []string{paramLogRateA, paramLogRateB},
		LogDensity: func(x []float64) float64 {
			var lp float64
			for i, p := range params {
				lp += p.Alpha*x[i] - p.Beta*math.Exp(x[i])
			}
			return lp
		},
		Init: func(_ int, rng *rand.Rand) []float64 {
			x := make([]float64, 2)
			for i := range x {
				x[i] = mode[i] + 2*sd[i]*rng.NormFloat64()
			}
			return x
		},
		Scale: []float64{2.4 * sd[0], 2.4 * sd[1]},
	}
}

// #endregion target

func expAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Exp(x)
	}
	return out
}
