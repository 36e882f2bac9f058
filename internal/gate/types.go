package gate

import (
	"errors"
	"fmt"
)

// MinConfidentPeriods is the number of observation periods below which a
// decision is flagged as low confidence.
const MinConfidentPeriods = 6

// ErrInvalidConfiguration is returned for out-of-range thresholds.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// #region config-error
// ConfigError names the offending threshold.
type ConfigError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%g: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

// #endregion config-error

// #region winner
// Winner is the ternary verdict of the decision rule.
type Winner string

const (
	WinnerA    Winner = "A"
	WinnerB    Winner = "B"
	WinnerNone Winner = "inconclusive"
)

// #endregion winner

// #region thresholds
// Thresholds parameterise the decision rule.
type Thresholds struct {
	Probability float64 `json:"probability" yaml:"probability"` // in [0.5, 1)
	MinUplift   float64 `json:"min_uplift" yaml:"min_uplift"`   // relative, >= 0
}

// DefaultThresholds returns 95% probability and 1% minimum relative uplift.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Probability: 0.95,
		MinUplift:   0.01,
	}
}

// Validate reports a *ConfigError for out-of-range values.
func (t Thresholds) Validate() error {
	if !(t.Probability >= 0.5 && t.Probability < 1) {
		return &ConfigError{Field: "probability", Value: t.Probability, Reason: "must be in [0.5, 1)"}
	}
	if !(t.MinUplift >= 0) {
		return &ConfigError{Field: "min_uplift", Value: t.MinUplift, Reason: "must be >= 0"}
	}
	return nil
}

// #endregion thresholds

// #region decision
// Decision is the output of the decision rule.
type Decision struct {
	Winner        Winner
	Rationale     string
	ProbBBetter   float64
	MeanUplift    float64
	Thresholds    Thresholds
	SnapshotID    string
	Label         string
	Periods       int  // observation periods behind the snapshot
	LowConfidence bool // Periods < MinConfidentPeriods
}

// #endregion decision
