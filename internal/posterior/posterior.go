// Package posterior draws from conjugate posteriors and summarises paired
// draws into a ledger.Comparison.
package posterior

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/abtest/internal/ledger"
)

// ErrNoSamples is returned when a summary is requested over zero draws.
var ErrNoSamples = errors.New("no posterior samples")

// integration nodes for ProbBBetterExact
const quadNodes = 512

// #region distributions
type density interface {
	Prob(x float64) float64
	CDF(x float64) float64
	Quantile(p float64) float64
	Rand() float64
}

// dist returns the gonum distribution behind params for family f.
func dist(f ledger.Family, p ledger.Params, src rand.Source) density {
	if f == ledger.FamilyGamma {
		return distuv.Gamma{Alpha: p.Alpha, Beta: p.Beta, Src: src}
	}
	return distuv.Beta{Alpha: p.Alpha, Beta: p.Beta, Src: src}
}

// Draw returns n independent draws from the posterior described by p.
func Draw(f ledger.Family, p ledger.Params, n int, src rand.Source) []float64 {
	d := dist(f, p, src)
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}

// Interval returns the central credible interval of the analytic posterior.
func Interval(f ledger.Family, p ledger.Params, level float64) ledger.Interval {
	d := dist(f, p, nil)
	tail := (1 - level) / 2
	return ledger.Interval{Low: d.Quantile(tail), High: d.Quantile(1 - tail)}
}

// #endregion distributions

// #region credible-interval
// CredibleInterval returns the central empirical-percentile interval of
// samples. NaN draws are ignored; an empty input yields a NaN interval.
func CredibleInterval(samples []float64, level float64) ledger.Interval {
	sorted := make([]float64, 0, len(samples))
	for _, v := range samples {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return ledger.Interval{Low: math.NaN(), High: math.NaN()}
	}
	slices.Sort(sorted)
	tail := (1 - level) / 2
	return ledger.Interval{
		Low:  stat.Quantile(tail, stat.LinInterp, sorted, nil),
		High: stat.Quantile(1-tail, stat.LinInterp, sorted, nil),
	}
}

// #endregion credible-interval

// #region compare
// Compare summarises paired draws of the two variant rates. The result is a
// pure function of s, so it can be recomputed from a snapshot's samples.
// ProbBBetterExact is left zero; see ProbBBetterExact.
func Compare(s *ledger.Samples, level float64) (ledger.Comparison, error) {
	if s == nil {
		return ledger.Comparison{}, ErrNoSamples
	}
	n := min(len(s.A), len(s.B))
	if n == 0 {
		return ledger.Comparison{}, ErrNoSamples
	}
	a, b := s.A[:n], s.B[:n]

	diff := make([]float64, n)
	uplift := make([]float64, 0, n)
	wins := 0
	for i := 0; i < n; i++ {
		diff[i] = b[i] - a[i]
		if diff[i] > 0 {
			wins++
		}
		if a[i] != 0 {
			uplift = append(uplift, diff[i]/a[i])
		}
	}

	meanA := stat.Mean(a, nil)
	meanDiff := stat.Mean(diff, nil)

	c := ledger.Comparison{
		Draws:       n,
		ProbBBetter: float64(wins) / float64(n),
		MeanDiff:    meanDiff,
		DiffCI:      CredibleInterval(diff, level),
		UpliftCI:    CredibleInterval(uplift, level),
	}
	if meanA == 0 {
		c.MeanUplift = math.NaN()
	} else {
		c.MeanUplift = meanDiff / meanA
		c.UpliftDefined = true
	}
	return c, nil
}

// #endregion compare

// #region exact
// ProbBBetterExact integrates f_B(x)·F_A(x) over the bulk of B's posterior,
// giving P(rate_B > rate_A) for independent posteriors without sampling noise.
func ProbBBetterExact(f ledger.Family, a, b ledger.Params) float64 {
	da := dist(f, a, nil)
	db := dist(f, b, nil)
	lo := db.Quantile(1e-9)
	hi := db.Quantile(1 - 1e-9)
	if !(hi > lo) || math.IsNaN(lo) || math.IsNaN(hi) {
		return math.NaN()
	}
	p := quad.Fixed(func(x float64) float64 {
		return db.Prob(x) * da.CDF(x)
	}, lo, hi, quadNodes, nil, 0)
	return math.Min(1, math.Max(0, p))
}

// #endregion exact
