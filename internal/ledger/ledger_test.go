package ledger

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func prior() Snapshot {
	p := Params{Alpha: 1, Beta: 1}
	return Snapshot{
		Family: FamilyBeta,
		A:      Variant{Params: p, Mean: 0.5},
		B:      Variant{Params: p, Mean: 0.5},
	}
}

func observed(label string, probB float64) Snapshot {
	return Snapshot{
		Label:      label,
		Family:     FamilyBeta,
		A:          Variant{Params: Params{Alpha: 2, Beta: 9}, Mean: 2.0 / 11},
		B:          Variant{Params: Params{Alpha: 4, Beta: 7}, Mean: 4.0 / 11},
		Comparison: Comparison{Draws: 100, ProbBBetter: probB},
	}
}

func TestNewLedgerHasPriorOnly(t *testing.T) {
	l := New(prior())

	if l.Len() != 1 {
		t.Fatalf("expected 1 snapshot, got %d", l.Len())
	}
	if l.CountRealObservations() != 0 {
		t.Fatalf("expected 0 real observations, got %d", l.CountRealObservations())
	}
	initial := l.Initial()
	if initial.Label != PriorLabel {
		t.Fatalf("expected label %q, got %q", PriorLabel, initial.Label)
	}
	if !initial.IsPrior() {
		t.Fatal("initial snapshot should report IsPrior")
	}
	if !initial.Comparison.Empty() {
		t.Fatal("prior comparison should be empty")
	}
	if initial.ID == "" {
		t.Fatal("expected prior ID to be assigned")
	}
	if l.Latest().ID != initial.ID {
		t.Fatal("latest should be the prior before any append")
	}
}

func TestAppendAssignsChain(t *testing.T) {
	l := New(prior())
	first, err := l.Append(observed("Día 1", 0.6))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := l.Append(observed("Día 2", 0.7))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if first.Index != 1 || second.Index != 2 {
		t.Fatalf("unexpected indices %d, %d", first.Index, second.Index)
	}
	if first.ParentID != l.Initial().ID {
		t.Fatalf("first parent = %s, want prior %s", first.ParentID, l.Initial().ID)
	}
	if second.ParentID != first.ID {
		t.Fatalf("second parent = %s, want %s", second.ParentID, first.ID)
	}
	if l.CountRealObservations() != 2 {
		t.Fatalf("expected 2 real observations, got %d", l.CountRealObservations())
	}
	if l.Latest().Label != "Día 2" {
		t.Fatalf("latest label = %q", l.Latest().Label)
	}
}

func TestAppendRejectsReservedLabel(t *testing.T) {
	l := New(prior())
	_, err := l.Append(observed(PriorLabel, 0.5))
	if !errors.Is(err, ErrReservedLabel) {
		t.Fatalf("expected ErrReservedLabel, got %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("ledger grew on rejected append: %d", l.Len())
	}
}

func TestAppendRejectsFamilyMismatch(t *testing.T) {
	l := New(prior())
	s := observed("Día 1", 0.5)
	s.Family = FamilyGamma
	if _, err := l.Append(s); err == nil {
		t.Fatal("expected family mismatch error")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	l := New(prior())
	l.Append(observed("Día 1", 0.6))

	all := l.All()
	all[1].Label = "mutated"

	if got, _ := l.At(1); got.Label != "Día 1" {
		t.Fatalf("ledger mutated through All(): %q", got.Label)
	}
}

func TestAtOutOfRange(t *testing.T) {
	l := New(prior())
	if _, ok := l.At(5); ok {
		t.Fatal("expected miss for index 5")
	}
	if _, ok := l.At(-1); ok {
		t.Fatal("expected miss for index -1")
	}
}

func TestFindLabel(t *testing.T) {
	l := New(prior())
	l.Append(observed("Día 1", 0.6))
	l.Append(observed("Día 2", 0.7))

	s, ok := l.FindLabel("Día 2")
	if !ok {
		t.Fatal("expected to find Día 2")
	}
	if s.Index != 2 {
		t.Fatalf("expected index 2, got %d", s.Index)
	}
	if _, ok := l.FindLabel("Día 9"); ok {
		t.Fatal("unexpected hit for Día 9")
	}
}

func TestEvolutionSkipsPrior(t *testing.T) {
	l := New(prior())
	l.Append(observed("Día 1", 0.6))
	l.Append(observed("Día 2", 0.8))

	points := l.Evolution()
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].Label != "Día 1" || points[1].ProbBBetter != 0.8 {
		t.Fatalf("unexpected points: %+v", points)
	}
}

func TestConcurrentReadersDuringAppend(t *testing.T) {
	l := New(prior())
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s := l.Latest()
				if s.Index != 0 && s.Comparison.ProbBBetter != 0.6 {
					t.Errorf("torn read: %+v", s.Comparison)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		l.Append(observed("Día", 0.6))
	}
	wg.Wait()
	if l.CountRealObservations() != 50 {
		t.Fatalf("expected 50 observations, got %d", l.CountRealObservations())
	}
}

func TestParamsMean(t *testing.T) {
	p := Params{Alpha: 14, Beta: 176}
	if got := p.Mean(FamilyBeta); math.Abs(got-14.0/190) > 1e-12 {
		t.Fatalf("beta mean = %f", got)
	}
	g := Params{Alpha: 30, Beta: 60}
	if got := g.Mean(FamilyGamma); got != 0.5 {
		t.Fatalf("gamma mean = %f", got)
	}
	if !math.IsNaN((Params{Alpha: 1}).Mean(FamilyGamma)) {
		t.Fatal("expected NaN gamma mean for zero rate")
	}
}

func TestFieldsDropsNonFinite(t *testing.T) {
	s := observed("Día 1", 0.6)
	s.Comparison.MeanUplift = math.NaN()
	f := s.Fields()
	cmp := f["comparison"].(map[string]any)
	if cmp["mean_uplift"] != nil {
		t.Fatalf("expected nil uplift, got %v", cmp["mean_uplift"])
	}
	if cmp["prob_b_better"] != 0.6 {
		t.Fatalf("expected 0.6, got %v", cmp["prob_b_better"])
	}
	if _, ok := f["diagnostics"]; ok {
		t.Fatal("diagnostics should be omitted when nil")
	}
}

func TestSamplesDiff(t *testing.T) {
	s := &Samples{A: []float64{0.1, 0.2, 0.3}, B: []float64{0.2, 0.1}}
	d := s.Diff()
	if len(d) != 2 {
		t.Fatalf("expected 2 diffs, got %d", len(d))
	}
	if math.Abs(d[0]-0.1) > 1e-12 || math.Abs(d[1]+0.1) > 1e-12 {
		t.Fatalf("unexpected diffs %v", d)
	}
}
