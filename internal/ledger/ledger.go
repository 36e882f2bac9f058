package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrReservedLabel is returned when an appended snapshot uses PriorLabel.
var ErrReservedLabel = errors.New("label is reserved for the prior snapshot")

// #region ledger-struct
// Ledger is the append-only history of snapshots owned by one engine.
// Insertion order is chronological. There is no delete or reorder.
type Ledger struct {
	mu    sync.RWMutex
	snaps []Snapshot
}

// #endregion ledger-struct

// #region constructor
// New creates a ledger whose first entry is the given prior snapshot.
// The prior is relabelled PriorLabel and assigned index 0.
func New(prior Snapshot) *Ledger {
	if prior.ID == "" {
		prior.ID = uuid.New().String()
	}
	if prior.CreatedAt.IsZero() {
		prior.CreatedAt = time.Now().UTC()
	}
	prior.Index = 0
	prior.ParentID = ""
	prior.Label = PriorLabel
	prior.Comparison = Comparison{}
	prior.Samples = nil
	return &Ledger{snaps: []Snapshot{prior}}
}

// #endregion constructor

// #region append
// Append stores s as the newest entry, assigning its ID, parent pointer and
// index. The stored copy is returned.
func (l *Ledger) Append(s Snapshot) (Snapshot, error) {
	if s.Label == PriorLabel {
		return Snapshot{}, fmt.Errorf("append %q: %w", s.Label, ErrReservedLabel)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	last := l.snaps[len(l.snaps)-1]
	if s.Family != last.Family {
		return Snapshot{}, fmt.Errorf("append: family %s does not match ledger family %s", s.Family, last.Family)
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.ParentID = last.ID
	s.Index = len(l.snaps)

	l.snaps = append(l.snaps, s)
	return s, nil
}

// #endregion append

// #region readers
// Initial returns the prior snapshot.
func (l *Ledger) Initial() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snaps[0]
}

// Latest returns the newest snapshot, or the prior if nothing was appended.
func (l *Ledger) Latest() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snaps[len(l.snaps)-1]
}

// All returns every snapshot in chronological order.
func (l *Ledger) All() []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Snapshot, len(l.snaps))
	copy(out, l.snaps)
	return out
}

// At returns the snapshot at index i.
func (l *Ledger) At(i int) (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.snaps) {
		return Snapshot{}, false
	}
	return l.snaps[i], true
}

// FindLabel returns the first snapshot carrying label.
func (l *Ledger) FindLabel(label string) (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.snaps {
		if s.Label == label {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Len returns the number of snapshots including the prior.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.snaps)
}

// CountRealObservations returns the number of snapshots excluding the prior.
func (l *Ledger) CountRealObservations() int {
	return l.Len() - 1
}

// #endregion readers

// #region evolution
// Evolution returns the per-period rate series, excluding the prior.
func (l *Ledger) Evolution() []EvolutionPoint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	points := make([]EvolutionPoint, 0, len(l.snaps)-1)
	for _, s := range l.snaps[1:] {
		points = append(points, EvolutionPoint{
			Label:       s.Label,
			MeanA:       s.A.Mean,
			MeanB:       s.B.Mean,
			ProbBBetter: s.Comparison.ProbBBetter,
		})
	}
	return points
}

// #endregion evolution
