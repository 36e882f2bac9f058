package mcmc

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrSamplingDivergence reports that a simulation produced draws that cannot
// be trusted: non-finite densities or failed convergence diagnostics.
var ErrSamplingDivergence = errors.New("sampling divergence")

// #region divergence-error
// DivergenceError names the parameter and statistic that failed.
type DivergenceError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *DivergenceError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("sampling divergence: %s", e.Reason)
	}
	return fmt.Sprintf("sampling divergence on %s (%.4f): %s", e.Param, e.Value, e.Reason)
}

func (e *DivergenceError) Unwrap() error { return ErrSamplingDivergence }

// #endregion divergence-error

// #region config
// Config controls the size of a simulation.
type Config struct {
	Chains       int     // independent chains, run in parallel
	Draws        int     // kept draws per chain
	Warmup       int     // discarded, step-adapting draws per chain
	TargetAccept float64 // acceptance rate the warm-up adaptation aims for
	StepScale    float64 // multiplies the target's initial steps; zero means 1
	Seed         uint64
}

// DefaultConfig returns four chains of 25000 draws after 1000 warm-up steps,
// enough for about 15000 effective draws of a log-rate.
func DefaultConfig() Config {
	return Config{
		Chains:       4,
		Draws:        25000,
		Warmup:       1000,
		TargetAccept: 0.44,
		Seed:         1,
	}
}

// Validate checks that the configuration can produce diagnostics.
func (c Config) Validate() error {
	if c.Chains < 1 {
		return fmt.Errorf("mcmc config: chains must be >= 1, got %d", c.Chains)
	}
	if c.Draws < 4 {
		return fmt.Errorf("mcmc config: draws must be >= 4, got %d", c.Draws)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("mcmc config: warmup must be >= 0, got %d", c.Warmup)
	}
	if c.StepScale < 0 {
		return fmt.Errorf("mcmc config: step scale must be >= 0, got %f", c.StepScale)
	}
	if c.TargetAccept <= 0 || c.TargetAccept >= 1 {
		return fmt.Errorf("mcmc config: target accept must be in (0,1), got %f", c.TargetAccept)
	}
	return nil
}

// #endregion config

// #region target
// Target is an unnormalised log density over named real parameters.
type Target struct {
	Names      []string
	LogDensity func(x []float64) float64
	// Init returns the starting point of a chain. Starts should be
	// over-dispersed relative to the posterior so R-hat is informative.
	Init func(chain int, rng *rand.Rand) []float64
	// Scale is the initial random-walk step per parameter.
	Scale []float64
}

// #endregion target
