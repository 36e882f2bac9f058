package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/abtest/internal/engine"
	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/danielpatrickdp/abtest/internal/ledger"
)

// #region types

// Updater is the part of an engine, or of a session wrapping one, that a
// replay drives.
type Updater interface {
	Update(ctx context.Context, b engine.Batch) (ledger.Snapshot, error)
	Decide(t gate.Thresholds) (gate.Decision, error)
}

// ReplayResult captures the outcome of replaying one period.
type ReplayResult struct {
	Label    string
	Action   string // "applied" | "rejected"
	Reason   string
	Snapshot ledger.Snapshot // zero when rejected
	Decision gate.Decision   // verdict after this period
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalPeriods  int
	Applied       int
	Rejected      int
	FirstDecisive string // label of the first period with a winner, if any
	Flips         int    // verdict changes between consecutive applied periods
	Final         gate.Decision
}

// #endregion types

// #region replay

// Replay feeds batches through u in order, deciding after each one. Invalid
// observations are recorded as rejected and skipped; any other error stops
// the run.
func Replay(ctx context.Context, u Updater, batches []engine.Batch, t gate.Thresholds) ([]ReplayResult, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	results := make([]ReplayResult, 0, len(batches))

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		snap, err := u.Update(ctx, b)
		if errors.Is(err, engine.ErrInvalidObservation) {
			d, derr := u.Decide(t)
			if derr != nil {
				return results, derr
			}
			results = append(results, ReplayResult{
				Label:    b.Label,
				Action:   "rejected",
				Reason:   err.Error(),
				Decision: d,
			})
			continue
		}
		if err != nil {
			return results, fmt.Errorf("replay %q: %w", b.Label, err)
		}

		d, err := u.Decide(t)
		if err != nil {
			return results, err
		}
		results = append(results, ReplayResult{
			Label:    snap.Label,
			Action:   "applied",
			Reason:   d.Rationale,
			Snapshot: snap,
			Decision: d,
		})
	}
	return results, nil
}

// #endregion replay

// #region summarize

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalPeriods: len(results)}
	var prev gate.Winner
	for _, r := range results {
		switch r.Action {
		case "applied":
			s.Applied++
			if prev != "" && r.Decision.Winner != prev {
				s.Flips++
			}
			prev = r.Decision.Winner
			if s.FirstDecisive == "" && r.Decision.Winner != gate.WinnerNone {
				s.FirstDecisive = r.Label
			}
		case "rejected":
			s.Rejected++
		}
	}
	if len(results) > 0 {
		s.Final = results[len(results)-1].Decision
	}
	return s
}

// #endregion summarize
