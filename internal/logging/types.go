package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	ExperimentID         string
	SnapshotID           string
	Winner               string // "A" | "B" | "inconclusive"
	ProbabilityThreshold float64
	MinUplift            float64
	ProbBBetter          float64
	MeanUplift           float64 // NaN when undefined
	Periods              int
	LowConfidence        bool
	Rationale            string
	CreatedAt            time.Time
}
// #endregion decision-entry
