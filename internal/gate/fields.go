package gate

import "math"

// Fields renders the decision as JSON-compatible values. An undefined uplift
// becomes nil.
func (d Decision) Fields() map[string]any {
	return map[string]any{
		"winner":         string(d.Winner),
		"rationale":      d.Rationale,
		"prob_b_better":  finite(d.ProbBBetter),
		"mean_uplift":    finite(d.MeanUplift),
		"probability":    d.Thresholds.Probability,
		"min_uplift":     d.Thresholds.MinUplift,
		"snapshot_id":    d.SnapshotID,
		"label":          d.Label,
		"periods":        d.Periods,
		"low_confidence": d.LowConfidence,
	}
}

func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
