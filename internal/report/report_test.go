package report

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/danielpatrickdp/abtest/internal/ledger"
)

func sampleLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	flat := ledger.Variant{Params: ledger.Params{Alpha: 1, Beta: 1}, Mean: 0.5, CI: ledger.Interval{Low: 0.025, High: 0.975}}
	l := ledger.New(ledger.Snapshot{Family: ledger.FamilyBeta, A: flat, B: flat})
	_, err := l.Append(ledger.Snapshot{
		Label:  "Día 1",
		Family: ledger.FamilyBeta,
		A:      ledger.Variant{Params: ledger.Params{Alpha: 14, Beta: 176}, Mean: 14.0 / 190, Events: 13, Exposure: 188},
		B:      ledger.Variant{Params: ledger.Params{Alpha: 22, Beta: 161}, Mean: 22.0 / 183, Events: 21, Exposure: 181},
		Comparison: ledger.Comparison{
			Draws:            20000,
			ProbBBetter:      0.9388,
			ProbBBetterExact: 0.9390,
			MeanUplift:       0.63,
			UpliftDefined:    true,
			UpliftCI:         ledger.Interval{Low: -0.12, High: 1.9},
			MeanDiff:         0.046,
			DiffCI:           ledger.Interval{Low: -0.01, High: 0.1},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleLedger(t).All()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"=== A priori (#0, beta) ===",
		"=== Día 1 (#1, beta) ===",
		"A: alpha=14 beta=176 ",
		"(13/188)",
		"P(B>A)=93.88%",
		"uplift=63.00% CI=[-12.00%, 190.00%]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "P(B>A)") != 1 {
		t.Error("prior snapshot must not print a comparison")
	}
}

func TestRenderKeepsFractionalParams(t *testing.T) {
	v := ledger.Variant{Params: ledger.Params{Alpha: 0.25, Beta: 1234.5678}, Mean: 0.0002}
	var buf bytes.Buffer
	if err := Render(&buf, []ledger.Snapshot{{Family: ledger.FamilyGamma, A: v, B: v}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "A: alpha=0.25 beta=1234.5678 ") {
		t.Fatalf("parameters rounded:\n%s", buf.String())
	}
}

func TestRenderUndefinedUplift(t *testing.T) {
	s := ledger.Snapshot{
		Index:      1,
		Label:      "d",
		Comparison: ledger.Comparison{Draws: 10, ProbBBetter: 1, MeanUplift: math.NaN()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, []ledger.Snapshot{s}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "uplift=undefined") {
		t.Errorf("got %s", buf.String())
	}
}

func TestRenderEvolution(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderEvolution(&buf, sampleLedger(t).Evolution()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "Día 1") || !strings.Contains(lines[1], "93.88%") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestRenderDecision(t *testing.T) {
	d := gate.Decision{
		Winner:        gate.WinnerNone,
		Rationale:     "insufficient evidence yet; keep collecting data",
		ProbBBetter:   0.9388,
		MeanUplift:    0.63,
		Thresholds:    gate.DefaultThresholds(),
		Periods:       1,
		LowConfidence: true,
	}
	var buf bytes.Buffer
	if err := RenderDecision(&buf, d); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Verdict: inconclusive") || !strings.Contains(out, "warning: only 1 periods") {
		t.Errorf("got %s", out)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestRenderPropagatesWriteError(t *testing.T) {
	if err := Render(failWriter{}, sampleLedger(t).All()); err == nil {
		t.Fatal("expected write error")
	}
}
