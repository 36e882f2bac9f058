package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidObservation is returned for malformed or out-of-range counts.
// The engine is left untouched.
var ErrInvalidObservation = errors.New("invalid observation")

// #region observation-error
// ObservationError names the offending field and value.
type ObservationError struct {
	Field  string
	Value  int64
	Reason string
}

func (e *ObservationError) Error() string {
	return fmt.Sprintf("invalid observation: %s=%d: %s", e.Field, e.Value, e.Reason)
}

func (e *ObservationError) Unwrap() error { return ErrInvalidObservation }

// #endregion observation-error

// #region validation
// validateBounded checks conversions: 0 <= successes <= trials.
func validateBounded(b Batch) error {
	for _, side := range []struct {
		name string
		obs  Observation
	}{{"a", b.A}, {"b", b.B}} {
		if side.obs.Exposure < 0 {
			return &ObservationError{Field: "trials_" + side.name, Value: side.obs.Exposure, Reason: "must be >= 0"}
		}
		if side.obs.Events < 0 {
			return &ObservationError{Field: "successes_" + side.name, Value: side.obs.Events, Reason: "must be >= 0"}
		}
		if side.obs.Events > side.obs.Exposure {
			return &ObservationError{
				Field:  "successes_" + side.name,
				Value:  side.obs.Events,
				Reason: fmt.Sprintf("exceeds trials (%d)", side.obs.Exposure),
			}
		}
	}
	return nil
}

// validateCounts checks count data: events >= 0, exposure > 0.
func validateCounts(b Batch) error {
	for _, side := range []struct {
		name string
		obs  Observation
	}{{"a", b.A}, {"b", b.B}} {
		if side.obs.Exposure <= 0 {
			return &ObservationError{Field: "exposure_" + side.name, Value: side.obs.Exposure, Reason: "must be > 0"}
		}
		if side.obs.Events < 0 {
			return &ObservationError{Field: "counts_" + side.name, Value: side.obs.Events, Reason: "must be >= 0"}
		}
	}
	return nil
}

// #endregion validation
