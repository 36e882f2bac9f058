package engine

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/danielpatrickdp/abtest/internal/ledger"
	"github.com/danielpatrickdp/abtest/internal/posterior"
)

// ConjugateRateEngine updates Beta posteriors in closed form and summarises
// the comparison from Monte-Carlo draws.
type ConjugateRateEngine struct {
	*core
}

// NewConjugateRateEngine creates an engine for 0/1 conversion data.
func NewConjugateRateEngine(config Config) (*ConjugateRateEngine, error) {
	c, err := newCore(ModelConversions, config)
	if err != nil {
		return nil, err
	}
	return &ConjugateRateEngine{core: c}, nil
}

// #region update
// Update adds successes to alpha and failures to beta for each variant.
func (e *ConjugateRateEngine) Update(_ context.Context, b Batch) (ledger.Snapshot, error) {
	if err := validateBounded(b); err != nil {
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

	a := betaStep(prev.A, b.A)
	bv := betaStep(prev.B, b.B)

	seed, stream := e.seeds(prev.Index + 1)
	samples := &ledger.Samples{
		A: posterior.Draw(ledger.FamilyBeta, a.Params, e.config.Samples, rand.NewPCG(seed, 2*stream)),
		B: posterior.Draw(ledger.FamilyBeta, bv.Params, e.config.Samples, rand.NewPCG(seed, 2*stream+1)),
	}
	cmp, err := posterior.Compare(samples, e.config.CredibleLevel)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("update %q: %w", label, err)
	}
	cmp.ProbBBetterExact = posterior.ProbBBetterExact(ledger.FamilyBeta, a.Params, bv.Params)
	a.CI = posterior.CredibleInterval(samples.A, e.config.CredibleLevel)
	bv.CI = posterior.CredibleInterval(samples.B, e.config.CredibleLevel)

	return l.Append(ledger.Snapshot{
		Label:      label,
		Family:     ledger.FamilyBeta,
		A:          a,
		B:          bv,
		Comparison: cmp,
		Samples:    samples,
	})
}

// #endregion update

// betaStep is the Beta-Binomial conjugate update.
func betaStep(prev ledger.Variant, obs Observation) ledger.Variant {
	p := ledger.Params{
		Alpha: prev.Params.Alpha + float64(obs.Events),
		Beta:  prev.Params.Beta + float64(obs.Exposure-obs.Events),
	}
	return ledger.Variant{
		Params:   p,
		Mean:     p.Mean(ledger.FamilyBeta),
		Events:   prev.Events + obs.Events,
		Exposure: prev.Exposure + obs.Exposure,
	}
}
