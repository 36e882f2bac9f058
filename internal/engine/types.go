package engine

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/abtest/internal/eval"
	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/danielpatrickdp/abtest/internal/ledger"
	"github.com/danielpatrickdp/abtest/internal/mcmc"
)

// #region model
// Model selects the inference engine. It is fixed at construction.
type Model string

const (
	ModelConversions Model = "conversions" // bounded 0/1 outcomes, Beta-Binomial
	ModelCounts      Model = "counts"      // unbounded counts per exposure, Gamma-Poisson
)

// ParseModel maps user-facing model names onto a Model.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conversions", "beta-binomial", "beta_binomial", "0_1":
		return ModelConversions, nil
	case "counts", "clicks", "gamma-poisson", "gamma_poisson", "0_inf":
		return ModelCounts, nil
	}
	return "", fmt.Errorf("unknown model %q", s)
}

// Family returns the posterior family the model produces.
func (m Model) Family() ledger.Family {
	if m == ModelCounts {
		return ledger.FamilyGamma
	}
	return ledger.FamilyBeta
}

// #endregion model

// #region batch
// Observation is one variant's counts for a period: successes out of trials
// for conversions, events over exposure for counts.
type Observation struct {
	Events   int64 `json:"events"`
	Exposure int64 `json:"exposure"`
}

// Batch is one observation period for both variants.
type Batch struct {
	Label string      `json:"label"`
	A     Observation `json:"a"`
	B     Observation `json:"b"`
}

// #endregion batch

// #region state
// State is the cumulative evidence behind the current posterior.
type State struct {
	Family ledger.Family
	A      ledger.Params
	B      ledger.Params
	// raw totals, enough to refit the model from scratch
	EventsA, ExposureA int64
	EventsB, ExposureB int64
}

// #endregion state

// #region config
// Floors below which P(B>A) carries more than about 0.5% Monte-Carlo error.
const (
	MinSamples = 10000 // conjugate draws per variant
	MinESS     = 10000 // effective simulated draws per parameter
	MinChains  = 2     // R-hat is meaningless on one chain
)

// Config holds the sampling configuration shared by both engines.
type Config struct {
	Prior         ledger.Params   // prior for both variants
	Samples       int             // posterior draws per variant for the conjugate engine
	CredibleLevel float64         // central credible interval mass
	Seed          uint64          // base seed; each update derives its own stream
	MCMC          mcmc.Config     // simulated engine only
	Eval          eval.EvalConfig // simulated engine only
}

// DefaultConfig returns a flat prior and 20,000 draws per variant, which
// keeps the Monte-Carlo error of P(B>A) below 0.4%.
func DefaultConfig() Config {
	return Config{
		Prior:         ledger.Params{Alpha: 1, Beta: 1},
		Samples:       20000,
		CredibleLevel: 0.95,
		Seed:          42,
		MCMC:          mcmc.DefaultConfig(),
		Eval:          eval.DefaultEvalConfig(),
	}
}

// Validate reports a *gate.ConfigError for unusable settings.
func (c Config) Validate() error {
	if !(c.Prior.Alpha > 0) {
		return &gate.ConfigError{Field: "prior.alpha", Value: c.Prior.Alpha, Reason: "must be > 0"}
	}
	if !(c.Prior.Beta > 0) {
		return &gate.ConfigError{Field: "prior.beta", Value: c.Prior.Beta, Reason: "must be > 0"}
	}
	if c.Samples < MinSamples {
		return &gate.ConfigError{Field: "samples", Value: float64(c.Samples), Reason: fmt.Sprintf("must be >= %d", MinSamples)}
	}
	if !(c.CredibleLevel > 0 && c.CredibleLevel < 1) {
		return &gate.ConfigError{Field: "credible_level", Value: c.CredibleLevel, Reason: "must be in (0, 1)"}
	}
	if err := c.MCMC.Validate(); err != nil {
		return fmt.Errorf("%w: %w", gate.ErrInvalidConfiguration, err)
	}
	if c.MCMC.Chains < MinChains {
		return &gate.ConfigError{Field: "mcmc.chains", Value: float64(c.MCMC.Chains), Reason: fmt.Sprintf("must be >= %d", MinChains)}
	}
	if c.Eval.MinChains < MinChains {
		return &gate.ConfigError{Field: "mcmc.min_chains", Value: float64(c.Eval.MinChains), Reason: fmt.Sprintf("must be >= %d", MinChains)}
	}
	if !(c.Eval.MinESS >= MinESS) {
		return &gate.ConfigError{Field: "mcmc.min_ess", Value: c.Eval.MinESS, Reason: fmt.Sprintf("must be >= %d", MinESS)}
	}
	return nil
}

// #endregion config
