package gate

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/abtest/internal/ledger"
)

const keepCollecting = "insufficient evidence yet; keep collecting data"

// #region decide
// Decide applies the threshold table to a comparison. It is pure: the same
// comparison and thresholds always give the same decision.
//
//	P(B>A) >= p      and uplift >= m   -> B wins
//	P(B>A) <= 1 - p  and uplift <= -m  -> A wins
//	otherwise                          -> inconclusive
//
// If both rows hold (only possible at p = 0.5, m = 0) the result is inconclusive.
func Decide(c ledger.Comparison, t Thresholds) (Decision, error) {
	if err := t.Validate(); err != nil {
		return Decision{}, err
	}

	d := Decision{
		Winner:      WinnerNone,
		ProbBBetter: c.ProbBBetter,
		MeanUplift:  c.MeanUplift,
		Thresholds:  t,
	}

	if c.Empty() {
		d.ProbBBetter, d.MeanUplift = math.NaN(), math.NaN()
		d.Rationale = "no observations yet; keep collecting data"
		return d, nil
	}
	if !c.UpliftDefined {
		d.MeanUplift = math.NaN()
		d.Rationale = "relative uplift is undefined because the baseline rate is zero; keep collecting data"
		return d, nil
	}

	bWins := c.ProbBBetter >= t.Probability && c.MeanUplift >= t.MinUplift
	aWins := c.ProbBBetter <= 1-t.Probability && c.MeanUplift <= -t.MinUplift

	switch {
	case bWins && aWins:
		d.Rationale = "evidence meets both winning conditions at these thresholds; " + keepCollecting
	case bWins:
		d.Winner = WinnerB
		d.Rationale = fmt.Sprintf(
			"sufficient probability and uplift: P(B>A)=%.2f%% >= %.2f%%, uplift %.2f%% >= %.2f%%",
			100*c.ProbBBetter, 100*t.Probability, 100*c.MeanUplift, 100*t.MinUplift,
		)
	case aWins:
		d.Winner = WinnerA
		d.Rationale = fmt.Sprintf(
			"sufficient probability and uplift: P(A>B)=%.2f%% >= %.2f%%, uplift %.2f%% <= -%.2f%%",
			100*(1-c.ProbBBetter), 100*t.Probability, 100*c.MeanUplift, 100*t.MinUplift,
		)
	default:
		d.Rationale = keepCollecting
	}
	return d, nil
}

// #endregion decide

// #region evaluate
// Evaluate decides on a snapshot and annotates the decision with the number
// of observation periods behind it.
func Evaluate(s ledger.Snapshot, periods int, t Thresholds) (Decision, error) {
	d, err := Decide(s.Comparison, t)
	if err != nil {
		return Decision{}, err
	}
	d.SnapshotID = s.ID
	d.Label = s.Label
	d.Periods = periods
	d.LowConfidence = periods < MinConfidentPeriods
	return d, nil
}

// #endregion evaluate
