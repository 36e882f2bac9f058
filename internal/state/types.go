package state

import "time"

// #region experiment-record
// ExperimentRecord is one audited experiment. A reset starts a new one.
type ExperimentRecord struct {
	ExperimentID string
	Model        string
	Family       string
	PriorAlpha   float64
	PriorBeta    float64
	CreatedAt    time.Time
}
// #endregion experiment-record

// #region snapshot-record
// SnapshotRecord is the persisted summary of a ledger snapshot. Raw draws are
// not stored; SummaryJSON carries the full comparison.
type SnapshotRecord struct {
	SnapshotID   string
	ExperimentID string
	ParentID     string
	Index        int
	Label        string
	Family       string
	AlphaA       float64
	BetaA        float64
	AlphaB       float64
	BetaB        float64
	EventsA      int64
	ExposureA    int64
	EventsB      int64
	ExposureB    int64
	ProbBBetter  float64
	MeanUplift   *float64 // nil when undefined
	SummaryJSON  string
	CreatedAt    time.Time
}
// #endregion snapshot-record

// #region snapshot-with-decision
// SnapshotWithDecision pairs a snapshot with the most recent decision logged
// against it, if any.
type SnapshotWithDecision struct {
	SnapshotRecord
	Winner    string
	Rationale string
}
// #endregion snapshot-with-decision
