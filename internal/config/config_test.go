package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/abtest/internal/engine"
	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, engine.ModelConversions, cfg.EngineModel())
	assert.Equal(t, engine.DefaultConfig().Samples, cfg.EngineConfig().Samples)
	assert.Equal(t, gate.DefaultThresholds(), cfg.Thresholds())
	assert.Equal(t, ":memory:", cfg.AuditDB)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "abtest.yaml", `
model: counts
samples: 12000
seed: 7
decision:
  probability: 0.9
  min_uplift: 0.02
mcmc:
  chains: 2
  draws: 800
  step_scale: 0.5
  min_ess: 15000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, engine.ModelCounts, cfg.EngineModel())
	ec := cfg.EngineConfig()
	assert.Equal(t, 12000, ec.Samples)
	assert.Equal(t, uint64(7), ec.Seed)
	assert.Equal(t, uint64(7), ec.MCMC.Seed)
	assert.Equal(t, 2, ec.MCMC.Chains)
	assert.Equal(t, 800, ec.MCMC.Draws)
	assert.Equal(t, 0.5, ec.MCMC.StepScale)
	assert.Equal(t, 15000.0, ec.Eval.MinESS)
	assert.Equal(t, gate.Thresholds{Probability: 0.9, MinUplift: 0.02}, cfg.Thresholds())
	// untouched fields keep their defaults
	assert.Equal(t, 0.95, cfg.CredibleLevel)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "abtest.yaml", "samples: 12000\ndecision:\n  probability: 0.9\n")
	t.Setenv("ABTEST_SAMPLES", "30000")
	t.Setenv("ABTEST_DECISION_PROBABILITY", "0.99")
	t.Setenv("ABTEST_MCMC_CHAINS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.Samples)
	assert.Equal(t, 0.99, cfg.Decision.Probability)
	assert.Equal(t, 3, cfg.MCMC.Chains)
}

func TestLoad_UnknownYAMLField(t *testing.T) {
	path := writeFile(t, "abtest.yaml", "sampels: 5000\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"probability below half": func(c *Config) { c.Decision.Probability = 0.4 },
		"negative min uplift":    func(c *Config) { c.Decision.MinUplift = -0.1 },
		"few samples":            func(c *Config) { c.Samples = 10 },
		"level out of range":     func(c *Config) { c.CredibleLevel = 1 },
		"zero prior":             func(c *Config) { c.PriorAlpha = 0 },
		"unknown model":          func(c *Config) { c.Model = "poisson-ish" },
		"bad log level":          func(c *Config) { c.LogLevel = "loud" },
		"no chains":              func(c *Config) { c.MCMC.Chains = 0 },
		"samples below floor":    func(c *Config) { c.Samples = 5000 },
		"single chain":           func(c *Config) { c.MCMC.Chains = 1 },
		"single chain gate":      func(c *Config) { c.MCMC.MinChains = 1 },
		"ess gate below floor":   func(c *Config) { c.MCMC.MinESS = 400 },
		"negative step scale":    func(c *Config) { c.MCMC.StepScale = -1 },
		"empty grpc addr":        func(c *Config) { c.GRPCAddr = "" },
		"unknown trace exporter": func(c *Config) { c.Traces = "jaeger" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, gate.ErrInvalidConfiguration)
		})
	}
}

func TestValidate_ModelAliases(t *testing.T) {
	for _, alias := range []string{"0_1", "beta-binomial", "0_inf", "clicks"} {
		cfg := Default()
		cfg.Model = alias
		assert.NoError(t, cfg.Validate(), alias)
	}
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnv_SetsUnsetVariables(t *testing.T) {
	path := writeFile(t, ".env", "ABTEST_SEED=99\n")
	t.Setenv("ABTEST_SEED", "")
	require.NoError(t, os.Unsetenv("ABTEST_SEED"))

	require.NoError(t, LoadDotEnv(path))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint64(99), cfg.Seed)
}
