// Package engine turns batches of per-period observations into a ledger of
// posterior snapshots and answers decision queries against the latest one.
//
// Two engines exist: an exact conjugate engine for conversion data and a
// simulation engine for count data. Both serialise updates so the ledger
// grows one snapshot at a time, and both leave the ledger untouched when
// an update fails.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/danielpatrickdp/abtest/internal/ledger"
	"github.com/danielpatrickdp/abtest/internal/posterior"
)

// #region interface
// Engine is the contract shared by both inference engines.
type Engine interface {
	Model() Model
	// Update folds one batch into the posterior and appends a snapshot.
	// An in-flight update runs to completion once started.
	Update(ctx context.Context, b Batch) (ledger.Snapshot, error)
	// Decide applies the decision rule to the latest snapshot.
	Decide(t gate.Thresholds) (gate.Decision, error)
	Ledger() *ledger.Ledger
	State() State
	// Reset discards the history and starts a new ledger from the prior.
	Reset() *ledger.Ledger
}

// New constructs the engine for model.
func New(model Model, config Config) (Engine, error) {
	switch model {
	case ModelConversions:
		return NewConjugateRateEngine(config)
	case ModelCounts:
		return NewSimulatedCountEngine(config)
	}
	return nil, fmt.Errorf("unknown model %q", model)
}

// #endregion interface

// #region core
// core holds what both engines share: the active ledger and the update lock.
type core struct {
	model  Model
	config Config

	mu     sync.Mutex // serialises Update and Reset
	ledger atomic.Pointer[ledger.Ledger]
}

func newCore(model Model, config Config) (*core, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &core{model: model, config: config}
	c.ledger.Store(ledger.New(c.priorSnapshot()))
	return c, nil
}

func (c *core) priorSnapshot() ledger.Snapshot {
	f := c.model.Family()
	v := ledger.Variant{
		Params: c.config.Prior,
		Mean:   c.config.Prior.Mean(f),
		CI:     posterior.Interval(f, c.config.Prior, c.config.CredibleLevel),
	}
	return ledger.Snapshot{Family: f, A: v, B: v}
}

func (c *core) Model() Model { return c.model }

func (c *core) Ledger() *ledger.Ledger { return c.ledger.Load() }

// State reads the cumulative totals off the latest snapshot.
func (c *core) State() State {
	s := c.Ledger().Latest()
	return State{
		Family:    s.Family,
		A:         s.A.Params,
		B:         s.B.Params,
		EventsA:   s.A.Events,
		ExposureA: s.A.Exposure,
		EventsB:   s.B.Events,
		ExposureB: s.B.Exposure,
	}
}

// Decide evaluates the latest snapshot. It does not take the update lock, so
// it sees either the state before or after a concurrent update.
func (c *core) Decide(t gate.Thresholds) (gate.Decision, error) {
	latest := c.Ledger().Latest()
	return gate.Evaluate(latest, latest.Index, t)
}

func (c *core) Reset() *ledger.Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := ledger.New(c.priorSnapshot())
	c.ledger.Store(l)
	return l
}

// label resolves the snapshot label for the next period.
func (c *core) label(b Batch, prev ledger.Snapshot) (string, error) {
	if b.Label == ledger.PriorLabel {
		return "", &ObservationError{Field: "label", Value: int64(prev.Index + 1), Reason: "reserved for the prior snapshot"}
	}
	if b.Label == "" {
		return fmt.Sprintf("Día %d", prev.Index+1), nil
	}
	return b.Label, nil
}

// seeds derives two independent stream seeds for update number index.
func (c *core) seeds(index int) (uint64, uint64) {
	return c.config.Seed, uint64(index)
}

// #endregion core
