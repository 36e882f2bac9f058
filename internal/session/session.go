// Package session owns one running experiment: the engine plus everything
// that observes it (audit store, metrics, live feed, logs and traces).
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/abtest/internal/engine"
	"github.com/danielpatrickdp/abtest/internal/feed"
	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/danielpatrickdp/abtest/internal/ledger"
	"github.com/danielpatrickdp/abtest/internal/logging"
	"github.com/danielpatrickdp/abtest/internal/metrics"
	"github.com/danielpatrickdp/abtest/internal/report"
	"github.com/danielpatrickdp/abtest/internal/state"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danielpatrickdp/abtest/internal/session"

// #region options
// Options configure a session. Store, Metrics, Hub and Tracer are optional.
type Options struct {
	Model      engine.Model
	Engine     engine.Config
	Thresholds gate.Thresholds // defaults offered to callers; zero selects gate.DefaultThresholds

	Store   *state.Store
	Metrics *metrics.Metrics
	Hub     *feed.Hub
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

// #endregion options

// #region session
// Session serialises updates and resets so the audit trail follows the
// ledger exactly.
type Session struct {
	eng        engine.Engine
	thresholds gate.Thresholds

	store   *state.Store
	metrics *metrics.Metrics
	hub     *feed.Hub
	log     *slog.Logger
	tracer  trace.Tracer

	mu           sync.Mutex // orders Update, Reset and Decide with their audit writes
	experimentID atomic.Value
}

// New builds the engine and, when a store is configured, records the new
// experiment and its prior.
func New(opts Options) (*Session, error) {
	if opts.Thresholds == (gate.Thresholds{}) {
		opts.Thresholds = gate.DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	eng, err := engine.New(opts.Model, opts.Engine)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	s := &Session{
		eng:        eng,
		thresholds: opts.Thresholds,
		store:      opts.Store,
		metrics:    opts.Metrics,
		hub:        opts.Hub,
		log:        opts.Logger.With("model", string(opts.Model)),
		tracer:     opts.Tracer,
	}
	s.experimentID.Store("")
	if err := s.startExperiment(eng.Ledger().Initial()); err != nil {
		return nil, err
	}
	s.log.Info("session started", "experiment", s.ExperimentID())
	return s, nil
}

func (s *Session) startExperiment(prior ledger.Snapshot) error {
	if s.store == nil {
		return nil
	}
	rec, err := s.store.CreateExperiment(string(s.eng.Model()), prior)
	if err != nil {
		return fmt.Errorf("audit experiment: %w", err)
	}
	s.experimentID.Store(rec.ExperimentID)
	return nil
}

// #endregion session

// #region accessors
func (s *Session) Model() engine.Model { return s.eng.Model() }

func (s *Session) Ledger() *ledger.Ledger { return s.eng.Ledger() }

func (s *Session) State() engine.State { return s.eng.State() }

// History returns a copy of every snapshot, prior first.
func (s *Session) History() []ledger.Snapshot { return s.eng.Ledger().All() }

func (s *Session) DefaultThresholds() gate.Thresholds { return s.thresholds }

// ExperimentID is the audit ID of the active experiment, empty without a store.
func (s *Session) ExperimentID() string { return s.experimentID.Load().(string) }

// #endregion accessors

// #region update
// Update applies one batch. Audit failures are logged but do not fail the
// update: the ledger is the source of truth.
func (s *Session) Update(ctx context.Context, b engine.Batch) (ledger.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "session.Update", trace.WithAttributes(
		attribute.String("abtest.model", string(s.eng.Model())),
		attribute.String("abtest.label", b.Label),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	snap, err := s.eng.Update(ctx, b)
	took := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveUpdate(s.eng.Model(), took, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, metrics.Classify(err))
		s.log.Warn("update rejected", "label", b.Label, "err", err)
		s.publish(feed.EventRejected, map[string]any{"label": b.Label, "error": err.Error()})
		return ledger.Snapshot{}, err
	}

	span.SetAttributes(
		attribute.Int("abtest.index", snap.Index),
		attribute.Float64("abtest.prob_b_better", snap.Comparison.ProbBBetter),
	)
	if s.store != nil {
		if err := s.store.CommitSnapshot(s.ExperimentID(), snap); err != nil {
			span.RecordError(err)
			s.log.Error("audit snapshot", "label", snap.Label, "err", err)
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveSnapshot(snap)
	}
	s.publish(feed.EventSnapshot, snap.Fields())
	s.log.Info("snapshot appended",
		"label", snap.Label,
		"index", snap.Index,
		"prob_b_better", snap.Comparison.ProbBBetter,
		"mean_uplift", snap.Comparison.MeanUplift,
		"took", took,
	)
	return snap, nil
}

// #endregion update

// #region decide
// Decide evaluates the latest snapshot under t, used as given. The decision
// is audited under the experiment that owns the snapshot.
func (s *Session) Decide(t gate.Thresholds) (gate.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.eng.Decide(t)
	if err != nil {
		return gate.Decision{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveDecision(d)
	}
	if s.store != nil {
		if err := logging.LogDecision(s.store.DB(), logging.EntryFromDecision(s.ExperimentID(), d)); err != nil {
			s.log.Error("audit decision", "snapshot", d.SnapshotID, "err", err)
		}
	}
	s.publish(feed.EventDecision, d.Fields())
	s.log.Debug("decision", "winner", d.Winner, "label", d.Label, "low_confidence", d.LowConfidence)
	return d, nil
}

// #endregion decide

// #region reset
// Reset discards the history. With a store, a new experiment ID is issued
// and the old audit trail is kept.
func (s *Session) Reset() (*ledger.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.eng.Reset()
	if err := s.startExperiment(l.Initial()); err != nil {
		s.log.Error("audit reset", "err", err)
		return l, err
	}
	if s.metrics != nil {
		s.metrics.ObserveReset(l.Initial())
	}
	s.publish(feed.EventReset, map[string]any{"experiment_id": s.ExperimentID()})
	s.log.Info("session reset", "experiment", s.ExperimentID())
	return l, nil
}

// #endregion reset

// #region report
// Report renders the full history followed by the verdict under t. Both come
// from the same ledger even when an update lands meanwhile.
func (s *Session) Report(w io.Writer, t gate.Thresholds) error {
	s.mu.Lock()
	history := s.History()
	d, err := s.eng.Decide(t)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := report.Render(w, history); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	return report.RenderDecision(w, d)
}

// #endregion report

func (s *Session) publish(eventType string, data any) {
	if s.hub != nil {
		s.hub.Publish(eventType, data)
	}
}
