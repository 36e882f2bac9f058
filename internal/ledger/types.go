package ledger

import (
	"math"
	"time"
)

// PriorLabel is the reserved label of the synthetic first snapshot.
const PriorLabel = "A priori"

// #region family
// Family names the conjugate pair a snapshot's parameters belong to.
type Family string

const (
	FamilyBeta  Family = "beta"  // Beta posterior over a conversion rate
	FamilyGamma Family = "gamma" // Gamma posterior (shape, rate) over an event rate
)

// #endregion family

// #region params
// Params holds the two shape parameters of one variant's posterior.
// For FamilyGamma, Beta is the rate parameter.
type Params struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean returns the posterior mean for the given family.
func (p Params) Mean(f Family) float64 {
	if f == FamilyGamma {
		if p.Beta == 0 {
			return math.NaN()
		}
		return p.Alpha / p.Beta
	}
	return p.Alpha / (p.Alpha + p.Beta)
}

// #endregion params

// #region interval
// Interval is a closed credible interval.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains reports whether v lies inside the interval.
func (i Interval) Contains(v float64) bool {
	return v >= i.Low && v <= i.High
}

// Width returns High - Low.
func (i Interval) Width() float64 {
	return i.High - i.Low
}

// #endregion interval

// #region variant
// Variant captures one arm of the experiment at a point in time.
type Variant struct {
	Params   Params   // posterior parameters
	Mean     float64  // posterior mean rate
	CI       Interval // credible interval for the rate
	Events   int64    // cumulative successes / counts
	Exposure int64    // cumulative trials / exposure
}

// #endregion variant

// #region comparison
// Comparison summarises how the two posteriors differ. Every field except
// ProbBBetterExact is derived from the snapshot's Samples.
type Comparison struct {
	Draws            int      // number of paired draws the summary was computed from
	ProbBBetter      float64  // share of draws with B > A
	ProbBBetterExact float64  // numeric integration of P(B > A), informational
	MeanUplift       float64  // mean(diff) / mean(A); NaN when UpliftDefined is false
	UpliftDefined    bool     // false when the baseline mean is zero
	UpliftCI         Interval // percentile interval of per-draw (B-A)/A
	MeanDiff         float64  // mean(B - A)
	DiffCI           Interval // percentile interval of B - A
}

// Empty reports whether the comparison carries no evidence (the prior snapshot).
func (c Comparison) Empty() bool {
	return c.Draws == 0
}

// #endregion comparison

// #region samples
// Samples retains the posterior draws behind a snapshot. Draws are paired:
// A[i] and B[i] come from the same joint draw.
type Samples struct {
	A []float64
	B []float64
}

// Diff returns B - A per draw.
func (s *Samples) Diff() []float64 {
	n := min(len(s.A), len(s.B))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = s.B[i] - s.A[i]
	}
	return out
}

// #endregion samples

// #region diagnostics
// ParamDiagnostic reports convergence for one sampled parameter.
type ParamDiagnostic struct {
	Name       string  `json:"name"`
	Rhat       float64 `json:"rhat"`
	AcceptRate float64 `json:"accept_rate"`
	ESS        float64 `json:"ess"` // effective sample size across chains
}

// Diagnostics describes the simulation that produced a snapshot's samples.
type Diagnostics struct {
	Chains int               `json:"chains"`
	Draws  int               `json:"draws"`  // kept draws per chain
	Warmup int               `json:"warmup"` // discarded draws per chain
	Params []ParamDiagnostic `json:"params"`
}

// MaxRhat returns the largest R-hat across parameters.
func (d *Diagnostics) MaxRhat() float64 {
	worst := math.Inf(-1)
	for _, p := range d.Params {
		if math.IsNaN(p.Rhat) {
			return math.NaN()
		}
		worst = math.Max(worst, p.Rhat)
	}
	return worst
}

// MinESS returns the smallest effective sample size across parameters.
func (d *Diagnostics) MinESS() float64 {
	least := math.Inf(1)
	for _, p := range d.Params {
		if math.IsNaN(p.ESS) {
			return math.NaN()
		}
		least = math.Min(least, p.ESS)
	}
	return least
}

// #endregion diagnostics

// #region snapshot
// Snapshot is an immutable record of the posterior state after one
// observation batch. Slices inside Samples and Diagnostics are shared
// between copies and must be treated as read-only.
type Snapshot struct {
	ID          string
	ParentID    string
	Index       int
	Label       string
	Family      Family
	A           Variant
	B           Variant
	Comparison  Comparison
	Samples     *Samples     // nil for the prior snapshot
	Diagnostics *Diagnostics // set only by simulated engines
	CreatedAt   time.Time
}

// IsPrior reports whether s is the synthetic prior-only snapshot.
func (s Snapshot) IsPrior() bool {
	return s.Index == 0 && s.Label == PriorLabel
}

// #endregion snapshot

// #region evolution-point
// EvolutionPoint is one period of the rate-evolution series.
type EvolutionPoint struct {
	Label       string
	MeanA       float64
	MeanB       float64
	ProbBBetter float64
}

// #endregion evolution-point
