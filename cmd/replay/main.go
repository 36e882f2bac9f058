package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/danielpatrickdp/abtest/internal/config"
	"github.com/danielpatrickdp/abtest/internal/engine"
	"github.com/danielpatrickdp/abtest/internal/gate"
	"github.com/danielpatrickdp/abtest/internal/ledger"
	"github.com/danielpatrickdp/abtest/internal/logging"
	"github.com/danielpatrickdp/abtest/internal/replay"
	"github.com/danielpatrickdp/abtest/internal/report"
	"github.com/danielpatrickdp/abtest/internal/session"
	"github.com/danielpatrickdp/abtest/internal/state"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// #region main

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		var de *divergeError
		if errors.As(err, &de) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

type options struct {
	csvPath     string
	fixturePath string
	dbPath      string
	experiment  string
	configPath  string
	auditPath   string
	model       string
	probability float64
	minUplift   float64
	samples     int
	seed        uint64
	jsonOut     bool
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay observation periods through the engine and report the verdict",
		Long: `replay feeds periods one at a time through a fresh engine, deciding after each.

Sources:
  --csv      daily rows (Día, Visitantes A, Conversiones A, Visitantes B, Conversiones B)
  --fixture  JSON fixture; verdicts are compared against its expected results
  --db       an audit database; the recorded experiment is re-run and compared
             against the decisions logged for it`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.csvPath, "csv", "", "CSV file of observation periods")
	f.StringVar(&o.fixturePath, "fixture", "", "JSON fixture with expected verdicts")
	f.StringVar(&o.dbPath, "db", "", "audit database to re-run")
	f.StringVar(&o.experiment, "experiment", "", "experiment ID in --db (default: the active one)")
	f.StringVarP(&o.configPath, "config", "c", "", "YAML config file")
	f.StringVar(&o.auditPath, "audit", "", "record this run in an audit database")
	f.StringVarP(&o.model, "model", "m", "", "conversions | counts")
	f.Float64Var(&o.probability, "probability", 0, "decision probability threshold")
	f.Float64Var(&o.minUplift, "min-uplift", 0, "minimum relative uplift")
	f.IntVar(&o.samples, "samples", 0, "posterior draws per variant")
	f.Uint64Var(&o.seed, "seed", 0, "base random seed")
	f.BoolVar(&o.jsonOut, "json", false, "output as JSON instead of text")
	cmd.MarkFlagsMutuallyExclusive("csv", "fixture", "db")
	cmd.MarkFlagsOneRequired("csv", "fixture", "db")
	return cmd
}

func run(cmd *cobra.Command, o options) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), &cfg, o)
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logging.New(cmd.ErrOrStderr(), logging.ParseLevel(cfg.LogLevel), cfg.NoColor)

	switch {
	case o.fixturePath != "":
		return runFixtureMode(cmd, o, log)
	case o.dbPath != "":
		return runDBMode(cmd, o, cfg, log)
	default:
		return runCSVMode(cmd, o, cfg, log)
	}
}

// applyFlags overlays explicitly set flags on the loaded configuration.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config, o options) {
	if fs.Changed("model") {
		cfg.Model = o.model
	}
	if fs.Changed("probability") {
		cfg.Decision.Probability = o.probability
	}
	if fs.Changed("min-uplift") {
		cfg.Decision.MinUplift = o.minUplift
	}
	if fs.Changed("samples") {
		cfg.Samples = o.samples
	}
	if fs.Changed("seed") {
		cfg.Seed = o.seed
	}
}

// #endregion main

// #region csv-mode

func runCSVMode(cmd *cobra.Command, o options, cfg config.Config, log *slog.Logger) error {
	batches, err := replay.LoadCSVFile(o.csvPath)
	if err != nil {
		return err
	}
	sess, done, err := newSession(cfg.EngineModel(), cfg.EngineConfig(), cfg.Thresholds(), o.auditPath, log)
	if err != nil {
		return err
	}
	defer done()

	results, err := replay.Replay(cmd.Context(), sess, batches, cfg.Thresholds())
	if err != nil {
		return err
	}
	if o.jsonOut {
		return printJSON(cmd.OutOrStdout(), runOutput(sess, results))
	}
	return printRun(cmd.OutOrStdout(), sess, results, cfg.Thresholds())
}

// newSession builds a session, optionally backed by an audit database. The
// returned func closes the database.
func newSession(model engine.Model, ec engine.Config, t gate.Thresholds, auditPath string, log *slog.Logger) (*session.Session, func(), error) {
	opts := session.Options{Model: model, Engine: ec, Thresholds: t, Logger: log}
	done := func() {}
	if auditPath != "" {
		store, err := state.NewStore(auditPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit db: %w", err)
		}
		opts.Store = store
		done = func() { store.Close() }
	}
	sess, err := session.New(opts)
	if err != nil {
		done()
		return nil, nil, err
	}
	return sess, done, nil
}

// #endregion csv-mode

// #region fixture-mode

func runFixtureMode(cmd *cobra.Command, o options, log *slog.Logger) error {
	f, err := replay.LoadFixture(o.fixturePath)
	if err != nil {
		return err
	}
	model := engine.ModelConversions
	if f.Model != "" {
		if model, err = engine.ParseModel(f.Model); err != nil {
			return err
		}
	}
	t := f.Config.ToThresholds()
	sess, done, err := newSession(model, f.Config.ToEngineConfig(), t, o.auditPath, log)
	if err != nil {
		return err
	}
	defer done()

	results, err := replay.Replay(cmd.Context(), sess, f.Batches(), t)
	if err != nil {
		return err
	}
	table := cmd.OutOrStdout()
	if o.jsonOut {
		if err := printJSON(cmd.OutOrStdout(), runOutput(sess, results)); err != nil {
			return err
		}
		table = cmd.ErrOrStderr()
	}

	expected := make(map[string]string, len(f.ExpectedResults))
	for _, e := range f.ExpectedResults {
		expected[e.Label] = e.Winner
	}
	rows := make([]comparisonRow, len(results))
	for i, r := range results {
		rows[i] = comparisonRow{Label: r.Label, Expected: expected[r.Label], Replayed: string(r.Decision.Winner)}
	}
	return printComparison(table, rows)
}

// #endregion fixture-mode

// #region db-mode

// runDBMode reconstructs per-period batches from the cumulative totals of an
// audited experiment and re-runs them against the decisions logged for it.
func runDBMode(cmd *cobra.Command, o options, cfg config.Config, log *slog.Logger) error {
	store, err := state.NewStore(o.dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	var exp state.ExperimentRecord
	if o.experiment != "" {
		exp, err = store.GetExperiment(o.experiment)
	} else {
		exp, err = store.GetActive()
	}
	if err != nil {
		return err
	}
	snaps, err := store.ListSnapshots(exp.ExperimentID)
	if err != nil {
		return err
	}
	if len(snaps) < 2 {
		return fmt.Errorf("experiment %s has no observed periods", exp.ExperimentID)
	}

	model, err := engine.ParseModel(exp.Model)
	if err != nil {
		return err
	}
	ec := cfg.EngineConfig()
	ec.Prior = ledger.Params{Alpha: exp.PriorAlpha, Beta: exp.PriorBeta}

	batches := batchesFromSnapshots(snaps)
	sess, done, err := newSession(model, ec, cfg.Thresholds(), o.auditPath, log)
	if err != nil {
		return err
	}
	defer done()

	results, err := replay.Replay(cmd.Context(), sess, batches, cfg.Thresholds())
	if err != nil {
		return err
	}
	table := cmd.OutOrStdout()
	if o.jsonOut {
		if err := printJSON(cmd.OutOrStdout(), runOutput(sess, results)); err != nil {
			return err
		}
		table = cmd.ErrOrStderr()
	}

	rows := make([]comparisonRow, len(results))
	for i, r := range results {
		rows[i] = comparisonRow{Label: r.Label, Expected: snaps[i+1].Winner, Replayed: string(r.Decision.Winner)}
	}
	return printComparison(table, rows)
}

// batchesFromSnapshots differences consecutive cumulative totals. The first
// record is the prior and carries no observations.
func batchesFromSnapshots(snaps []state.SnapshotWithDecision) []engine.Batch {
	out := make([]engine.Batch, 0, len(snaps)-1)
	for i := 1; i < len(snaps); i++ {
		prev, cur := snaps[i-1], snaps[i]
		out = append(out, engine.Batch{
			Label: cur.Label,
			A: engine.Observation{
				Events:   cur.EventsA - prev.EventsA,
				Exposure: cur.ExposureA - prev.ExposureA,
			},
			B: engine.Observation{
				Events:   cur.EventsB - prev.EventsB,
				Exposure: cur.ExposureB - prev.ExposureB,
			},
		})
	}
	return out
}

// #endregion db-mode

// #region output

type periodOutput struct {
	Label    string         `json:"label"`
	Action   string         `json:"action"`
	Reason   string         `json:"reason,omitempty"`
	Decision map[string]any `json:"decision"`
}

type summaryOutput struct {
	ExperimentID  string         `json:"experiment_id,omitempty"`
	Model         string         `json:"model"`
	TotalPeriods  int            `json:"total_periods"`
	Applied       int            `json:"applied"`
	Rejected      int            `json:"rejected"`
	FirstDecisive string         `json:"first_decisive,omitempty"`
	Flips         int            `json:"flips"`
	Periods       []periodOutput `json:"periods"`
	Final         map[string]any `json:"final"`
}

func runOutput(sess *session.Session, results []replay.ReplayResult) summaryOutput {
	s := replay.Summarize(results)
	out := summaryOutput{
		ExperimentID:  sess.ExperimentID(),
		Model:         string(sess.Model()),
		TotalPeriods:  s.TotalPeriods,
		Applied:       s.Applied,
		Rejected:      s.Rejected,
		FirstDecisive: s.FirstDecisive,
		Flips:         s.Flips,
		Periods:       make([]periodOutput, len(results)),
		Final:         s.Final.Fields(),
	}
	for i, r := range results {
		out.Periods[i] = periodOutput{Label: r.Label, Action: r.Action, Decision: r.Decision.Fields()}
		if r.Action == "rejected" {
			out.Periods[i].Reason = r.Reason
		}
	}
	return out
}

// printRun writes rejected periods, the full history, the evolution table
// and the final verdict.
func printRun(w io.Writer, sess *session.Session, results []replay.ReplayResult, t gate.Thresholds) error {
	for _, r := range results {
		if r.Action == "rejected" {
			fmt.Fprintf(w, "rejected %s: %s\n", r.Label, r.Reason)
		}
	}
	if err := sess.Report(w, t); err != nil {
		return err
	}
	fmt.Fprintln(w)
	if err := report.RenderEvolution(w, sess.Ledger().Evolution()); err != nil {
		return err
	}

	s := replay.Summarize(results)
	first := s.FirstDecisive
	if first == "" {
		first = "-"
	}
	_, err := fmt.Fprintf(w, "\nSummary: %d periods, %d applied, %d rejected, first decisive %s, %d flips\n",
		s.TotalPeriods, s.Applied, s.Rejected, first, s.Flips)
	return err
}

type comparisonRow struct {
	Label    string
	Expected string // empty when nothing was recorded for the period
	Replayed string
}

// divergeError reports replayed verdicts that differ from the expected ones.
type divergeError struct {
	diverged, total int
}

func (e *divergeError) Error() string {
	return fmt.Sprintf("%d of %d periods diverge", e.diverged, e.total)
}

// printComparison outputs a comparison table and returns a *divergeError
// when any recorded verdict differs.
func printComparison(w io.Writer, rows []comparisonRow) error {
	fmt.Fprintf(w, "%-12s| %-15s| %-15s| %s\n", "Period", "Expected", "Replayed", "Match")
	fmt.Fprintf(w, "%-12s+%-15s+%-15s+%s\n",
		"------------", "----------------", "----------------", "------")

	compared, matches := 0, 0
	for _, r := range rows {
		exp, match := r.Expected, "-"
		if exp == "" {
			exp = "-"
		} else {
			compared++
			match = "DIFF"
			if strings.EqualFold(r.Expected, r.Replayed) {
				match = "OK"
				matches++
			}
		}
		fmt.Fprintf(w, "%-12s| %-15s| %-15s| %s\n", r.Label, exp, r.Replayed, match)
	}

	diverge := compared - matches
	fmt.Fprintf(w, "\nSummary: %d compared, %d match, %d diverge\n", compared, matches, diverge)
	if diverge > 0 {
		return &divergeError{diverged: diverge, total: compared}
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// #endregion output
