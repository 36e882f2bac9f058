// Package config loads service settings from defaults, an optional YAML
// file and ABTEST_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/danielpatrickdp/abtest/internal/engine"
	"github.com/danielpatrickdp/abtest/internal/eval"
	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/danielpatrickdp/abtest/internal/ledger"
	"github.com/danielpatrickdp/abtest/internal/mcmc"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ABTEST_"

var validate = validator.New()

// #region config
// Config is the full controller configuration. HTTPAddr may be empty to
// disable the metrics and feed listener.
type Config struct {
	Model         string  `yaml:"model" env:"MODEL" validate:"oneof=conversions counts clicks beta-binomial beta_binomial gamma-poisson gamma_poisson 0_1 0_inf"`
	Samples       int     `yaml:"samples" env:"SAMPLES" validate:"gte=10000"`
	CredibleLevel float64 `yaml:"credible_level" env:"CREDIBLE_LEVEL" validate:"gt=0,lt=1"`
	Seed          uint64  `yaml:"seed" env:"SEED"`
	PriorAlpha    float64 `yaml:"prior_alpha" env:"PRIOR_ALPHA" validate:"gt=0"`
	PriorBeta     float64 `yaml:"prior_beta" env:"PRIOR_BETA" validate:"gt=0"`

	Decision Decision `yaml:"decision" envPrefix:"DECISION_"`
	MCMC     MCMC     `yaml:"mcmc" envPrefix:"MCMC_"`

	GRPCAddr   string `yaml:"grpc_addr" env:"GRPC_ADDR" validate:"required"`
	HTTPAddr   string `yaml:"http_addr" env:"HTTP_ADDR"`
	MaxClients int    `yaml:"max_clients" env:"MAX_CLIENTS" validate:"gte=1"`
	AuditDB    string `yaml:"audit_db" env:"AUDIT_DB"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	NoColor    bool   `yaml:"no_color" env:"NO_COLOR"`
	Traces     string `yaml:"traces" env:"TRACES" validate:"oneof=none stdout"`
}

// Decision holds the default thresholds.
type Decision struct {
	Probability float64 `yaml:"probability" env:"PROBABILITY" validate:"gte=0.5,lt=1"`
	MinUplift   float64 `yaml:"min_uplift" env:"MIN_UPLIFT" validate:"gte=0"`
}

// MCMC sizes the simulation used by the counts model and its convergence gate.
type MCMC struct {
	Chains        int     `yaml:"chains" env:"CHAINS" validate:"gte=2"`
	Draws         int     `yaml:"draws" env:"DRAWS" validate:"gte=4"`
	Warmup        int     `yaml:"warmup" env:"WARMUP" validate:"gte=0"`
	TargetAccept  float64 `yaml:"target_accept" env:"TARGET_ACCEPT" validate:"gt=0,lt=1"`
	StepScale     float64 `yaml:"step_scale" env:"STEP_SCALE" validate:"gte=0"`
	MaxRhat       float64 `yaml:"max_rhat" env:"MAX_RHAT" validate:"gte=1"`
	MinAcceptRate float64 `yaml:"min_accept_rate" env:"MIN_ACCEPT_RATE" validate:"gte=0,lt=1"`
	MinDraws      int     `yaml:"min_draws" env:"MIN_DRAWS" validate:"gte=0"`
	MinChains     int     `yaml:"min_chains" env:"MIN_CHAINS" validate:"gte=2"`
	MinESS        float64 `yaml:"min_ess" env:"MIN_ESS" validate:"gte=10000"`
}

// #endregion config

// #region defaults
// Default returns the built-in settings.
func Default() Config {
	ec := engine.DefaultConfig()
	th := gate.DefaultThresholds()
	return Config{
		Model:         string(engine.ModelConversions),
		Samples:       ec.Samples,
		CredibleLevel: ec.CredibleLevel,
		Seed:          ec.Seed,
		PriorAlpha:    ec.Prior.Alpha,
		PriorBeta:     ec.Prior.Beta,
		Decision: Decision{
			Probability: th.Probability,
			MinUplift:   th.MinUplift,
		},
		MCMC: MCMC{
			Chains:        ec.MCMC.Chains,
			Draws:         ec.MCMC.Draws,
			Warmup:        ec.MCMC.Warmup,
			TargetAccept:  ec.MCMC.TargetAccept,
			MaxRhat:       ec.Eval.MaxRhat,
			MinAcceptRate: ec.Eval.MinAcceptRate,
			MinDraws:      ec.Eval.MinDraws,
			MinChains:     ec.Eval.MinChains,
		},
		GRPCAddr:   ":50051",
		HTTPAddr:   ":9090",
		MaxClients: 100,
		AuditDB:    ":memory:",
		LogLevel:   "info",
		Traces:     "none",
	}
}

// #endregion defaults

// #region load
// Load applies the YAML file at path (if non-empty) and then the environment
// over the defaults, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config %s: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// Validate checks field ranges and that the engine accepts the settings.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", gate.ErrInvalidConfiguration, err)
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	return c.EngineConfig().Validate()
}

// #endregion load

// #region conversion
// EngineModel parses Model; Validate guarantees it succeeds.
func (c Config) EngineModel() engine.Model {
	m, err := engine.ParseModel(c.Model)
	if err != nil {
		return engine.ModelConversions
	}
	return m
}

// EngineConfig converts to the engine's configuration.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		Prior:         ledger.Params{Alpha: c.PriorAlpha, Beta: c.PriorBeta},
		Samples:       c.Samples,
		CredibleLevel: c.CredibleLevel,
		Seed:          c.Seed,
		MCMC: mcmc.Config{
			Chains:       c.MCMC.Chains,
			Draws:        c.MCMC.Draws,
			Warmup:       c.MCMC.Warmup,
			TargetAccept: c.MCMC.TargetAccept,
			Seed:         c.Seed,
		},
		Eval: eval.EvalConfig{
			MaxRhat:       c.MCMC.MaxRhat,
			MinAcceptRate: c.MCMC.MinAcceptRate,
			MinDraws:      c.MCMC.MinDraws,
			MinChains:     c.MCMC.MinChains,
		},
	}
}

// Thresholds returns the default decision thresholds.
func (c Config) Thresholds() gate.Thresholds {
	return gate.Thresholds{Probability: c.Decision.Probability, MinUplift: c.Decision.MinUplift}
}

// #endregion conversion
