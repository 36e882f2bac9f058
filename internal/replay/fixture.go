package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/abtest/internal/engine"
	"github.com/danielpatrickdp/abtest/internal/gate"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Model           string                  `json:"model"`
	Config          FixtureConfig           `json:"config"`
	Periods         []FixturePeriod         `json:"periods"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig carries the engine and decision settings for a run. Zero
// values fall back to the defaults.
type FixtureConfig struct {
	Samples       int     `json:"samples"`
	CredibleLevel float64 `json:"credible_level"`
	Seed          uint64  `json:"seed"`
	Probability   float64 `json:"probability"`
	MinUplift     float64 `json:"min_uplift"`
}

// FixturePeriod is one observation period.
type FixturePeriod struct {
	Label     string `json:"label"`
	EventsA   int64  `json:"events_a"`
	ExposureA int64  `json:"exposure_a"`
	EventsB   int64  `json:"events_b"`
	ExposureB int64  `json:"exposure_b"`
}

// FixtureExpectedResult captures the expected verdict after a period.
type FixtureExpectedResult struct {
	Label  string `json:"label"`
	Winner string `json:"winner"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToBatch converts a FixturePeriod to an engine batch.
func (p *FixturePeriod) ToBatch() engine.Batch {
	return engine.Batch{
		Label: p.Label,
		A:     engine.Observation{Events: p.EventsA, Exposure: p.ExposureA},
		B:     engine.Observation{Events: p.EventsB, Exposure: p.ExposureB},
	}
}

// Batches converts every period.
func (f *Fixture) Batches() []engine.Batch {
	out := make([]engine.Batch, len(f.Periods))
	for i := range f.Periods {
		out[i] = f.Periods[i].ToBatch()
	}
	return out
}

// ToEngineConfig overlays the fixture settings on the engine defaults.
func (fc *FixtureConfig) ToEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	if fc.Samples > 0 {
		cfg.Samples = fc.Samples
	}
	if fc.CredibleLevel > 0 {
		cfg.CredibleLevel = fc.CredibleLevel
	}
	if fc.Seed != 0 {
		cfg.Seed = fc.Seed
	}
	return cfg
}

// ToThresholds overlays the fixture settings on the default thresholds.
func (fc *FixtureConfig) ToThresholds() gate.Thresholds {
	t := gate.DefaultThresholds()
	if fc.Probability > 0 {
		t.Probability = fc.Probability
	}
	if fc.MinUplift > 0 {
		t.MinUplift = fc.MinUplift
	}
	return t
}

// #endregion fixture-loader
