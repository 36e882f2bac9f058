package logging

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/abtest/internal/gate"
)

// #region entry-from-decision
// EntryFromDecision flattens a decision into a log row.
func EntryFromDecision(experimentID string, d gate.Decision) DecisionEntry {
	return DecisionEntry{
		ExperimentID:         experimentID,
		SnapshotID:           d.SnapshotID,
		Winner:               string(d.Winner),
		ProbabilityThreshold: d.Thresholds.Probability,
		MinUplift:            d.Thresholds.MinUplift,
		ProbBBetter:          d.ProbBBetter,
		MeanUplift:           d.MeanUplift,
		Periods:              d.Periods,
		LowConfidence:        d.LowConfidence,
		Rationale:            d.Rationale,
	}
}
// #endregion entry-from-decision

// #region log-decision
// LogDecision writes a decision to the decision_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO decision_log (experiment_id, snapshot_id, winner, probability_threshold, min_uplift,
			prob_b_better, mean_uplift, periods, low_confidence, rationale, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ExperimentID,
		entry.SnapshotID,
		entry.Winner,
		entry.ProbabilityThreshold,
		entry.MinUplift,
		nullIfNaN(entry.ProbBBetter),
		nullIfNaN(entry.MeanUplift),
		entry.Periods,
		entry.LowConfidence,
		nullIfEmpty(entry.Rationale),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}
// #endregion log-decision

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNaN(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
// #endregion helpers
