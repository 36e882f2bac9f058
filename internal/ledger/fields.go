package ledger

import (
	"math"
	"time"
)

// #region fields
// Fields renders the snapshot as a map of JSON-compatible values for
// transports. Raw samples are omitted; non-finite numbers become nil.
func (s Snapshot) Fields() map[string]any {
	m := map[string]any{
		"id":         s.ID,
		"parent_id":  s.ParentID,
		"index":      s.Index,
		"label":      s.Label,
		"family":     string(s.Family),
		"a":          s.A.fields(),
		"b":          s.B.fields(),
		"comparison": s.Comparison.fields(),
		"created_at": s.CreatedAt.Format(time.RFC3339Nano),
	}
	if s.Diagnostics != nil {
		params := make([]any, 0, len(s.Diagnostics.Params))
		for _, p := range s.Diagnostics.Params {
			params = append(params, map[string]any{
				"name":        p.Name,
				"rhat":        finite(p.Rhat),
				"accept_rate": finite(p.AcceptRate),
				"ess":         finite(p.ESS),
			})
		}
		m["diagnostics"] = map[string]any{
			"chains": s.Diagnostics.Chains,
			"draws":  s.Diagnostics.Draws,
			"warmup": s.Diagnostics.Warmup,
			"params": params,
		}
	}
	return m
}

func (v Variant) fields() map[string]any {
	return map[string]any{
		"alpha":    finite(v.Params.Alpha),
		"beta":     finite(v.Params.Beta),
		"mean":     finite(v.Mean),
		"ci":       v.CI.fields(),
		"events":   v.Events,
		"exposure": v.Exposure,
	}
}

func (c Comparison) fields() map[string]any {
	return map[string]any{
		"draws":               c.Draws,
		"prob_b_better":       finite(c.ProbBBetter),
		"prob_b_better_exact": finite(c.ProbBBetterExact),
		"mean_uplift":         finite(c.MeanUplift),
		"uplift_defined":      c.UpliftDefined,
		"uplift_ci":           c.UpliftCI.fields(),
		"mean_diff":           finite(c.MeanDiff),
		"diff_ci":             c.DiffCI.fields(),
	}
}

func (i Interval) fields() []any {
	return []any{finite(i.Low), finite(i.High)}
}

func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// #endregion fields
