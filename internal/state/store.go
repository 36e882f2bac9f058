package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/abtest/internal/ledger"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	experiment_id TEXT PRIMARY KEY,
	model         TEXT NOT NULL,
	family        TEXT NOT NULL,
	prior_alpha   REAL NOT NULL,
	prior_beta    REAL NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id   TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL,
	parent_id     TEXT,
	idx           INTEGER NOT NULL,
	label         TEXT NOT NULL,
	family        TEXT NOT NULL,
	alpha_a       REAL NOT NULL,
	beta_a        REAL NOT NULL,
	alpha_b       REAL NOT NULL,
	beta_b        REAL NOT NULL,
	events_a      INTEGER NOT NULL,
	exposure_a    INTEGER NOT NULL,
	events_b      INTEGER NOT NULL,
	exposure_b    INTEGER NOT NULL,
	prob_b_better REAL,
	mean_uplift   REAL,
	summary_json  TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	UNIQUE (experiment_id, idx),
	FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id),
	FOREIGN KEY (parent_id) REFERENCES snapshots(snapshot_id)
);

CREATE TABLE IF NOT EXISTS decision_log (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	experiment_id         TEXT NOT NULL,
	snapshot_id           TEXT NOT NULL,
	winner                TEXT NOT NULL,
	probability_threshold REAL NOT NULL,
	min_uplift            REAL NOT NULL,
	prob_b_better         REAL,
	mean_uplift           REAL,
	periods               INTEGER NOT NULL,
	low_confidence        INTEGER NOT NULL,
	rationale             TEXT,
	created_at            TEXT NOT NULL,
	FOREIGN KEY (snapshot_id) REFERENCES snapshots(snapshot_id)
);

CREATE TABLE IF NOT EXISTS active_experiment (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	experiment_id TEXT NOT NULL,
	FOREIGN KEY (experiment_id) REFERENCES experiments(experiment_id)
);
`
// #endregion schema

// #region store-struct
// Store keeps an audit trail of experiments in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations. ":memory:" keeps the
// audit trail for the lifetime of the process only.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region create-experiment
// CreateExperiment records a new experiment with its prior snapshot and makes
// it the active one.
func (s *Store) CreateExperiment(model string, prior ledger.Snapshot) (ExperimentRecord, error) {
	now := time.Now().UTC()
	rec := ExperimentRecord{
		ExperimentID: uuid.New().String(),
		Model:        model,
		Family:       string(prior.Family),
		PriorAlpha:   prior.A.Params.Alpha,
		PriorBeta:    prior.A.Params.Beta,
		CreatedAt:    now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return ExperimentRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO experiments (experiment_id, model, family, prior_alpha, prior_beta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ExperimentID, rec.Model, rec.Family, rec.PriorAlpha, rec.PriorBeta, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return ExperimentRecord{}, fmt.Errorf("insert experiment: %w", err)
	}

	if err := insertSnapshot(tx, rec.ExperimentID, prior); err != nil {
		return ExperimentRecord{}, err
	}

	_, err = tx.Exec(
		`INSERT INTO active_experiment (id, experiment_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET experiment_id = excluded.experiment_id`,
		rec.ExperimentID,
	)
	if err != nil {
		return ExperimentRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ExperimentRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}
// #endregion create-experiment

// #region commit-snapshot
// CommitSnapshot appends a snapshot to an experiment's audit trail.
func (s *Store) CommitSnapshot(experimentID string, snap ledger.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertSnapshot(tx, experimentID, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSnapshot(tx *sql.Tx, experimentID string, snap ledger.Snapshot) error {
	summary, err := json.Marshal(snap.Fields())
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	var parentPtr interface{}
	if snap.ParentID != "" {
		parentPtr = snap.ParentID
	}

	_, err = tx.Exec(
		`INSERT INTO snapshots (snapshot_id, experiment_id, parent_id, idx, label, family,
			alpha_a, beta_a, alpha_b, beta_b, events_a, exposure_a, events_b, exposure_b,
			prob_b_better, mean_uplift, summary_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, experimentID, parentPtr, snap.Index, snap.Label, string(snap.Family),
		snap.A.Params.Alpha, snap.A.Params.Beta, snap.B.Params.Alpha, snap.B.Params.Beta,
		snap.A.Events, snap.A.Exposure, snap.B.Events, snap.B.Exposure,
		nullIfNaN(snap.Comparison.ProbBBetter, snap.Comparison.Empty()),
		nullIfNaN(snap.Comparison.MeanUplift, !snap.Comparison.UpliftDefined),
		string(summary), snap.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot %d: %w", snap.Index, err)
	}
	return nil
}
// #endregion commit-snapshot

// #region get-active
// GetActive reads the active experiment.
func (s *Store) GetActive() (ExperimentRecord, error) {
	var id string
	err := s.db.QueryRow(`SELECT experiment_id FROM active_experiment WHERE id = 1`).Scan(&id)
	if err != nil {
		return ExperimentRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetExperiment(id)
}
// #endregion get-active

// #region get-experiment
// GetExperiment retrieves an experiment by ID.
func (s *Store) GetExperiment(id string) (ExperimentRecord, error) {
	var rec ExperimentRecord
	var createdStr string
	err := s.db.QueryRow(
		`SELECT experiment_id, model, family, prior_alpha, prior_beta, created_at
		 FROM experiments WHERE experiment_id = ?`, id,
	).Scan(&rec.ExperimentID, &rec.Model, &rec.Family, &rec.PriorAlpha, &rec.PriorBeta, &createdStr)
	if err != nil {
		return ExperimentRecord{}, fmt.Errorf("get experiment %s: %w", id, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}
// #endregion get-experiment

// #region list-experiments
// ListExperiments returns the most recent experiments.
func (s *Store) ListExperiments(limit int) ([]ExperimentRecord, error) {
	rows, err := s.db.Query(
		`SELECT experiment_id, model, family, prior_alpha, prior_beta, created_at
		 FROM experiments ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var records []ExperimentRecord
	for rows.Next() {
		var rec ExperimentRecord
		var createdStr string
		if err := rows.Scan(&rec.ExperimentID, &rec.Model, &rec.Family, &rec.PriorAlpha, &rec.PriorBeta, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-experiments

// #region list-snapshots
// ListSnapshots returns an experiment's snapshots in ledger order, each with
// the latest decision logged against it.
func (s *Store) ListSnapshots(experimentID string) ([]SnapshotWithDecision, error) {
	rows, err := s.db.Query(
		`SELECT s.snapshot_id, s.experiment_id, s.parent_id, s.idx, s.label, s.family,
			s.alpha_a, s.beta_a, s.alpha_b, s.beta_b, s.events_a, s.exposure_a, s.events_b, s.exposure_b,
			s.prob_b_better, s.mean_uplift, s.summary_json, s.created_at,
			d.winner, d.rationale
		 FROM snapshots s
		 LEFT JOIN decision_log d ON d.id = (
			SELECT MAX(id) FROM decision_log WHERE snapshot_id = s.snapshot_id
		 )
		 WHERE s.experiment_id = ?
		 ORDER BY s.idx ASC`, experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var records []SnapshotWithDecision
	for rows.Next() {
		var rec SnapshotWithDecision
		var parentID, winner, rationale sql.NullString
		var prob, uplift sql.NullFloat64
		var createdStr string

		if err := rows.Scan(
			&rec.SnapshotID, &rec.ExperimentID, &parentID, &rec.Index, &rec.Label, &rec.Family,
			&rec.AlphaA, &rec.BetaA, &rec.AlphaB, &rec.BetaB,
			&rec.EventsA, &rec.ExposureA, &rec.EventsB, &rec.ExposureB,
			&prob, &uplift, &rec.SummaryJSON, &createdStr,
			&winner, &rationale,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if parentID.Valid {
			rec.ParentID = parentID.String
		}
		rec.ProbBBetter = math.NaN()
		if prob.Valid {
			rec.ProbBBetter = prob.Float64
		}
		if uplift.Valid {
			v := uplift.Float64
			rec.MeanUplift = &v
		}
		rec.Winner = winner.String
		rec.Rationale = rationale.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-snapshots

// #region helpers
func nullIfNaN(v float64, missing bool) interface{} {
	if missing || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
// #endregion helpers
