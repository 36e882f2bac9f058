// Package report renders ledger history as plain text.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/danielpatrickdp/abtest/internal/ledger"
)

// #region history
// Render writes every snapshot in order: parameters, means and credible
// intervals per variant, then the comparison for non-prior entries.
func Render(w io.Writer, snaps []ledger.Snapshot) error {
	ew := &errWriter{w: w}
	for i, s := range snaps {
		if i > 0 {
			ew.printf("\n")
		}
		ew.printf("=== %s (#%d, %s) ===\n", s.Label, s.Index, s.Family)
		for _, v := range []struct {
			name string
			v    ledger.Variant
		}{{"A", s.A}, {"B", s.B}} {
			ew.printf("  %s: alpha=%g beta=%g mean=%s CI=%s", v.name, v.v.Params.Alpha, v.v.Params.Beta,
				num(v.v.Mean), interval(v.v.CI, num))
			if !s.IsPrior() {
				ew.printf(" (%d/%d)", v.v.Events, v.v.Exposure)
			}
			ew.printf("\n")
		}
		if s.IsPrior() || s.Comparison.Empty() {
			continue
		}
		c := s.Comparison
		ew.printf("  P(B>A)=%s (exact %s) over %d draws\n", pct(c.ProbBBetter), pct(c.ProbBBetterExact), c.Draws)
		if c.UpliftDefined {
			ew.printf("  uplift=%s CI=%s\n", pct(c.MeanUplift), interval(c.UpliftCI, pct))
		} else {
			ew.printf("  uplift=undefined (zero baseline)\n")
		}
		ew.printf("  diff=%s CI=%s\n", num(c.MeanDiff), interval(c.DiffCI, num))
		if d := s.Diagnostics; d != nil {
			ew.printf("  mcmc: %d chains x %d draws, max R-hat %.4f\n", d.Chains, d.Draws, d.MaxRhat())
		}
	}
	return ew.err
}

// #endregion history

// #region evolution
// RenderEvolution writes one row per period with both means and P(B>A).
func RenderEvolution(w io.Writer, points []ledger.EvolutionPoint) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Period\tMean A\tMean B\tP(B>A)")
	for _, p := range points {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Label, num(p.MeanA), num(p.MeanB), pct(p.ProbBBetter))
	}
	return tw.Flush()
}

// #endregion evolution

// #region decision
// RenderDecision writes a verdict block.
func RenderDecision(w io.Writer, d gate.Decision) error {
	ew := &errWriter{w: w}
	ew.printf("Verdict: %s\n", d.Winner)
	ew.printf("  %s\n", d.Rationale)
	ew.printf("  P(B>A)=%s uplift=%s thresholds: probability>=%s uplift>=%s\n",
		pct(d.ProbBBetter), pct(d.MeanUplift), pct(d.Thresholds.Probability), pct(d.Thresholds.MinUplift))
	if d.LowConfidence {
		ew.printf("  warning: only %d periods observed, fewer than %d\n", d.Periods, gate.MinConfidentPeriods)
	}
	return ew.err
}

// #endregion decision

// #region format
func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

func pct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", 100*v)
}

func interval(i ledger.Interval, f func(float64) string) string {
	return "[" + f(i.Low) + ", " + f(i.High) + "]"
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// #endregion format
