package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/danielpatrickdp/abtest/internal/state"
	"github.com/spf13/cobra"
)

// #region main

func main() {
	var (
		dbPath     string
		last       int
		experiment string
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect experiments and decisions recorded in an audit database",
		Long: `inspect lists the most recent experiments in an audit database, or with
--experiment prints every snapshot of one experiment together with the last
decision logged against it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := state.NewStore(dbPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer store.Close()

			if experiment != "" {
				return runDetailMode(cmd.OutOrStdout(), store, experiment, jsonOut)
			}
			return runListMode(cmd.OutOrStdout(), store, last, jsonOut)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "path to the audit database")
	cmd.Flags().IntVar(&last, "last", 20, "show N most recent experiments")
	cmd.Flags().StringVar(&experiment, "experiment", "", "show every snapshot of one experiment (\"active\" for the active one)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
	_ = cmd.MarkFlagRequired("db")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	ExperimentID string   `json:"experiment_id"`
	Model        string   `json:"model"`
	Family       string   `json:"family"`
	Prior        string   `json:"prior"`
	Periods      int      `json:"periods"`
	ProbBBetter  *float64 `json:"prob_b_better,omitempty"`
	Winner       string   `json:"winner,omitempty"`
	Active       bool     `json:"active"`
	CreatedAt    string   `json:"created_at"`
}

func runListMode(w io.Writer, store *state.Store, last int, jsonOut bool) error {
	exps, err := store.ListExperiments(last)
	if err != nil {
		return err
	}
	if len(exps) == 0 {
		fmt.Fprintln(os.Stderr, "no experiments found")
		return nil
	}
	var activeID string
	if active, err := store.GetActive(); err == nil {
		activeID = active.ExperimentID
	}

	// store returns DESC, reverse for chronological
	rows := make([]listRow, len(exps))
	for i, e := range exps {
		snaps, err := store.ListSnapshots(e.ExperimentID)
		if err != nil {
			return err
		}
		r := listRow{
			ExperimentID: e.ExperimentID,
			Model:        e.Model,
			Family:       e.Family,
			Prior:        fmt.Sprintf("(%g, %g)", e.PriorAlpha, e.PriorBeta),
			Periods:      len(snaps) - 1,
			Active:       e.ExperimentID == activeID,
			CreatedAt:    e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
		if n := len(snaps); n > 1 {
			r.ProbBBetter = finite(snaps[n-1].ProbBBetter)
			r.Winner = snaps[n-1].Winner
		}
		rows[len(exps)-1-i] = r
	}

	if jsonOut {
		return printJSON(w, rows)
	}

	fmt.Fprintf(w, "%-10s  %-12s  %-10s  %7s  %8s  %-13s  %s\n",
		"Experiment", "Model", "Prior", "Periods", "P(B>A)", "Verdict", "Time")
	fmt.Fprintf(w, "%-10s+-%-12s+-%-10s+-%7s+-%8s+-%-13s+-%s\n",
		"----------", "------------", "----------", "-------", "--------", "-------------", "--------------------")
	for _, r := range rows {
		id := shortID(r.ExperimentID)
		if r.Active {
			id += "*"
		}
		fmt.Fprintf(w, "%-10s  %-12s  %-10s  %7d  %8s  %-13s  %s\n",
			id, r.Model, r.Prior, r.Periods, pctPtr(r.ProbBBetter), dash(r.Winner), r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailRow struct {
	Index       int      `json:"index"`
	Label       string   `json:"label"`
	SnapshotID  string   `json:"snapshot_id"`
	AlphaA      float64  `json:"alpha_a"`
	BetaA       float64  `json:"beta_a"`
	AlphaB      float64  `json:"alpha_b"`
	BetaB       float64  `json:"beta_b"`
	EventsA     int64    `json:"events_a"`
	ExposureA   int64    `json:"exposure_a"`
	EventsB     int64    `json:"events_b"`
	ExposureB   int64    `json:"exposure_b"`
	ProbBBetter *float64 `json:"prob_b_better,omitempty"`
	MeanUplift  *float64 `json:"mean_uplift,omitempty"`
	Winner      string   `json:"winner,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
	Summary     any      `json:"summary,omitempty"`
}

type detailOutput struct {
	ExperimentID string      `json:"experiment_id"`
	Model        string      `json:"model"`
	Family       string      `json:"family"`
	PriorAlpha   float64     `json:"prior_alpha"`
	PriorBeta    float64     `json:"prior_beta"`
	CreatedAt    string      `json:"created_at"`
	Snapshots    []detailRow `json:"snapshots"`
}

func runDetailMode(w io.Writer, store *state.Store, id string, jsonOut bool) error {
	var (
		exp state.ExperimentRecord
		err error
	)
	if id == "active" {
		exp, err = store.GetActive()
	} else {
		exp, err = store.GetExperiment(id)
	}
	if err != nil {
		return err
	}
	snaps, err := store.ListSnapshots(exp.ExperimentID)
	if err != nil {
		return err
	}

	out := detailOutput{
		ExperimentID: exp.ExperimentID,
		Model:        exp.Model,
		Family:       exp.Family,
		PriorAlpha:   exp.PriorAlpha,
		PriorBeta:    exp.PriorBeta,
		CreatedAt:    exp.CreatedAt.Format("2006-01-02T15:04:05Z"),
		Snapshots:    make([]detailRow, len(snaps)),
	}
	for i, s := range snaps {
		r := detailRow{
			Index:      s.Index,
			Label:      s.Label,
			SnapshotID: s.SnapshotID,
			AlphaA:     s.AlphaA,
			BetaA:      s.BetaA,
			AlphaB:     s.AlphaB,
			BetaB:      s.BetaB,
			EventsA:    s.EventsA,
			ExposureA:  s.ExposureA,
			EventsB:    s.EventsB,
			ExposureB:  s.ExposureB,
			MeanUplift: s.MeanUplift,
			Winner:     s.Winner,
			Rationale:  s.Rationale,
		}
		r.ProbBBetter = finite(s.ProbBBetter)
		if s.SummaryJSON != "" {
			var summary map[string]any
			if err := json.Unmarshal([]byte(s.SummaryJSON), &summary); err == nil {
				r.Summary = summary
			}
		}
		out.Snapshots[i] = r
	}

	if jsonOut {
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "Experiment: %s\n", out.ExperimentID)
	fmt.Fprintf(w, "Model:      %s (%s)\n", out.Model, out.Family)
	fmt.Fprintf(w, "Prior:      (%g, %g)\n", out.PriorAlpha, out.PriorBeta)
	fmt.Fprintf(w, "Created:    %s\n\n", out.CreatedAt)

	fmt.Fprintf(w, "%3s  %-10s  %-17s  %-17s  %8s  %8s  %s\n",
		"#", "Label", "A (events/exp)", "B (events/exp)", "P(B>A)", "Uplift", "Verdict")
	fmt.Fprintf(w, "%3s+-%-10s+-%-17s+-%-17s+-%8s+-%8s+-%s\n",
		"---", "----------", "-----------------", "-----------------", "--------", "--------", "-------------")
	for _, r := range out.Snapshots {
		fmt.Fprintf(w, "%3d  %-10s  %-17s  %-17s  %8s  %8s  %s\n",
			r.Index, r.Label,
			fmt.Sprintf("%d/%d", r.EventsA, r.ExposureA),
			fmt.Sprintf("%d/%d", r.EventsB, r.ExposureB),
			pctPtr(r.ProbBBetter), pctPtr(r.MeanUplift), dash(r.Winner))
	}

	if n := len(out.Snapshots); n > 0 && out.Snapshots[n-1].Rationale != "" {
		fmt.Fprintf(w, "\nLatest rationale: %s\n", out.Snapshots[n-1].Rationale)
	}
	return nil
}

// #endregion detail-mode

// #region output

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func pctPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", 100 * *v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
