package replay

import (
	"context"
	"testing"

	"github.com/danielpatrickdp/abtest/internal/engine"
	"github.com/danielpatrickdp/abtest/internal/gate"
)

// helper: conversions engine at the smallest allowed draw count.
func testEngine(t *testing.T) engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Samples = engine.MinSamples
	e, err := engine.New(engine.ModelConversions, cfg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e
}

func batch(label string, ea, na, eb, nb int64) engine.Batch {
	return engine.Batch{
		Label: label,
		A:     engine.Observation{Events: ea, Exposure: na},
		B:     engine.Observation{Events: eb, Exposure: nb},
	}
}

// 1. Invalid rows are rejected and skipped; the engine keeps going.
func TestReplay_RejectsInvalidPeriod(t *testing.T) {
	e := testEngine(t)
	batches := []engine.Batch{
		batch("d1", 10, 100, 12, 100),
		batch("bad", 20, 10, 1, 10),
		batch("d2", 10, 100, 12, 100),
	}
	results, err := Replay(context.Background(), e, batches, gate.DefaultThresholds())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[1].Action != "rejected" || results[1].Reason == "" {
		t.Errorf("bad row = %+v", results[1])
	}
	if results[2].Snapshot.Index != 2 {
		t.Errorf("expected the rejected row to leave no snapshot, got index %d", results[2].Snapshot.Index)
	}

	s := Summarize(results)
	if s.TotalPeriods != 3 || s.Applied != 2 || s.Rejected != 1 {
		t.Errorf("summary = %+v", s)
	}
}

// 2. Summary tracks the first decisive period.
func TestReplay_FirstDecisive(t *testing.T) {
	e := testEngine(t)
	var batches []engine.Batch
	for i := int64(1); i <= 4; i++ {
		batches = append(batches, batch("", 20*i, 200*i, 30*i, 200*i))
	}
	results, err := Replay(context.Background(), e, batches, gate.DefaultThresholds())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	s := Summarize(results)
	if s.FirstDecisive != "Día 2" {
		t.Errorf("first decisive = %q, want Día 2", s.FirstDecisive)
	}
	if s.Flips != 1 || s.Final.Winner != gate.WinnerB {
		t.Errorf("summary = %+v", s)
	}
}

// 3. Bad thresholds fail before touching the engine.
func TestReplay_InvalidThresholds(t *testing.T) {
	e := testEngine(t)
	_, err := Replay(context.Background(), e, []engine.Batch{batch("d1", 1, 10, 1, 10)}, gate.Thresholds{Probability: 0.2})
	if err == nil {
		t.Fatal("expected error")
	}
	if e.Ledger().Len() != 1 {
		t.Fatal("engine was updated")
	}
}

// 4. A cancelled context stops between periods.
func TestReplay_Cancelled(t *testing.T) {
	e := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := Replay(ctx, e, []engine.Batch{batch("d1", 1, 10, 1, 10)}, gate.DefaultThresholds())
	if err == nil || len(results) != 0 {
		t.Fatalf("results=%d err=%v", len(results), err)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	if s.TotalPeriods != 0 || s.Final.Winner != "" {
		t.Errorf("summary = %+v", s)
	}
}
