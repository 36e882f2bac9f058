package posterior

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/danielpatrickdp/abtest/internal/ledger"
)

func TestCredibleIntervalLinear(t *testing.T) {
	samples := make([]float64, 101)
	for i := range samples {
		samples[i] = float64(i)
	}
	ci := CredibleInterval(samples, 0.9)
	if math.Abs(ci.Low-5) > 1.01 || math.Abs(ci.High-95) > 1.01 {
		t.Fatalf("unexpected interval %+v", ci)
	}
}

func TestCredibleIntervalIgnoresNaN(t *testing.T) {
	ci := CredibleInterval([]float64{math.NaN(), 1, 1, 1}, 0.95)
	if ci.Low != 1 || ci.High != 1 {
		t.Fatalf("expected [1,1], got %+v", ci)
	}
	empty := CredibleInterval([]float64{math.NaN()}, 0.95)
	if !math.IsNaN(empty.Low) || !math.IsNaN(empty.High) {
		t.Fatalf("expected NaN interval, got %+v", empty)
	}
}

func TestCompareHandcrafted(t *testing.T) {
	s := &ledger.Samples{
		A: []float64{0.10, 0.10, 0.20, 0.20},
		B: []float64{0.20, 0.05, 0.30, 0.20},
	}
	c, err := Compare(s, 0.95)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if c.Draws != 4 {
		t.Fatalf("expected 4 draws, got %d", c.Draws)
	}
	// B > A in draws 0 and 2 only (draw 3 ties).
	if c.ProbBBetter != 0.5 {
		t.Fatalf("expected prob 0.5, got %f", c.ProbBBetter)
	}
	wantDiff := (0.10 - 0.05 + 0.10 + 0) / 4
	if math.Abs(c.MeanDiff-wantDiff) > 1e-12 {
		t.Fatalf("mean diff = %f, want %f", c.MeanDiff, wantDiff)
	}
	if !c.UpliftDefined {
		t.Fatal("uplift should be defined")
	}
	if math.Abs(c.MeanUplift-wantDiff/0.15) > 1e-12 {
		t.Fatalf("mean uplift = %f", c.MeanUplift)
	}
}

func TestCompareZeroBaseline(t *testing.T) {
	s := &ledger.Samples{A: []float64{0, 0, 0}, B: []float64{0.1, 0.2, 0.3}}
	c, err := Compare(s, 0.95)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if c.UpliftDefined {
		t.Fatal("uplift should be undefined for a zero baseline")
	}
	if !math.IsNaN(c.MeanUplift) {
		t.Fatalf("expected NaN uplift, got %f", c.MeanUplift)
	}
	if !math.IsNaN(c.UpliftCI.Low) {
		t.Fatalf("expected NaN uplift CI, got %+v", c.UpliftCI)
	}
	if c.ProbBBetter != 1 {
		t.Fatalf("expected prob 1, got %f", c.ProbBBetter)
	}
	if !c.DiffCI.Contains(0.2) {
		t.Fatalf("diff CI %+v should contain 0.2", c.DiffCI)
	}
}

func TestCompareEmpty(t *testing.T) {
	if _, err := Compare(&ledger.Samples{}, 0.95); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples, got %v", err)
	}
	if _, err := Compare(nil, 0.95); !errors.Is(err, ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples for nil, got %v", err)
	}
}

func TestDrawBetaMean(t *testing.T) {
	p := ledger.Params{Alpha: 14, Beta: 176}
	draws := Draw(ledger.FamilyBeta, p, 20000, rand.NewPCG(1, 2))
	var sum float64
	for _, d := range draws {
		if d < 0 || d > 1 {
			t.Fatalf("draw outside [0,1]: %f", d)
		}
		sum += d
	}
	mean := sum / float64(len(draws))
	if math.Abs(mean-p.Mean(ledger.FamilyBeta)) > 0.002 {
		t.Fatalf("mean %f too far from %f", mean, p.Mean(ledger.FamilyBeta))
	}
}

func TestDrawIsDeterministicForSeed(t *testing.T) {
	p := ledger.Params{Alpha: 5, Beta: 10}
	a := Draw(ledger.FamilyGamma, p, 50, rand.NewPCG(7, 7))
	b := Draw(ledger.FamilyGamma, p, 50, rand.NewPCG(7, 7))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("draw %d differs: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestIntervalFlatPrior(t *testing.T) {
	ci := Interval(ledger.FamilyBeta, ledger.Params{Alpha: 1, Beta: 1}, 0.95)
	if math.Abs(ci.Low-0.025) > 1e-9 || math.Abs(ci.High-0.975) > 1e-9 {
		t.Fatalf("unexpected flat-prior interval %+v", ci)
	}
}

func TestProbBBetterExactSymmetric(t *testing.T) {
	p := ledger.Params{Alpha: 30, Beta: 300}
	got := ProbBBetterExact(ledger.FamilyBeta, p, p)
	if math.Abs(got-0.5) > 1e-4 {
		t.Fatalf("expected 0.5, got %f", got)
	}
	g := ledger.Params{Alpha: 40, Beta: 100}
	if got := ProbBBetterExact(ledger.FamilyGamma, g, g); math.Abs(got-0.5) > 1e-4 {
		t.Fatalf("expected 0.5 for gamma, got %f", got)
	}
}

func TestProbBBetterExactMatchesSampling(t *testing.T) {
	a := ledger.Params{Alpha: 14, Beta: 176}
	b := ledger.Params{Alpha: 22, Beta: 161}
	exact := ProbBBetterExact(ledger.FamilyBeta, a, b)

	s := &ledger.Samples{
		A: Draw(ledger.FamilyBeta, a, 40000, rand.NewPCG(3, 1)),
		B: Draw(ledger.FamilyBeta, b, 40000, rand.NewPCG(3, 2)),
	}
	c, err := Compare(s, 0.95)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if math.Abs(exact-c.ProbBBetter) > 0.01 {
		t.Fatalf("exact %f vs sampled %f", exact, c.ProbBBetter)
	}
	if exact <= 0.5 || exact >= 0.95 {
		t.Fatalf("exact probability %f outside expected band", exact)
	}
}
