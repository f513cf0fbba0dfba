// Package history keeps a durable record of training runs and their epochs
// in SQLite.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tsawler/go-audio-detector/training"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id has no row in the runs table.
var ErrRunNotFound = errors.New("history: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	config_json   TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	finished_at   TEXT,
	best_epoch    INTEGER,
	best_val_loss REAL,
	auroc         REAL,
	stopped_early INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS epochs (
	run_id        TEXT NOT NULL,
	epoch         INTEGER NOT NULL,
	train_loss    REAL NOT NULL,
	val_loss      REAL NOT NULL,
	learning_rate REAL NOT NULL,
	improved      INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL,
	PRIMARY KEY (run_id, epoch),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// Run is one row of the runs table.
type Run struct {
	RunID        string
	Config       training.Config
	StartedAt    time.Time
	FinishedAt   time.Time // zero while the run is in progress
	BestEpoch    int
	BestValLoss  float64
	AUROC        float64
	StoppedEarly bool
}

// Store records runs and epochs in a SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens the database at dbPath and creates the tables if needed.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a run row. An empty runID is replaced by a new UUID;
// the id actually used is returned.
func (s *Store) StartRun(runID string, cfg training.Config) (string, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, config_json, started_at) VALUES (?, ?, ?)`,
		runID, string(cfgJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// RecordEpoch stores one epoch. Recording the same epoch twice replaces
// the earlier row.
func (s *Store) RecordEpoch(record training.EpochRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO epochs (run_id, epoch, train_loss, val_loss, learning_rate, improved, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, epoch) DO UPDATE SET
			train_loss = excluded.train_loss,
			val_loss = excluded.val_loss,
			learning_rate = excluded.learning_rate,
			improved = excluded.improved,
			duration_ms = excluded.duration_ms`,
		record.RunID, record.Epoch, record.TrainLoss, record.ValLoss,
		record.LearningRate, boolToInt(record.Improved), record.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert epoch %d: %w", record.Epoch, err)
	}
	return nil
}

// FinishRun stores the outcome of a completed run.
func (s *Store) FinishRun(result *training.TrainingResult, auroc float64) error {
	if result == nil {
		return fmt.Errorf("nil training result")
	}
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, best_epoch = ?, best_val_loss = ?, auroc = ?, stopped_early = ?
		 WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), result.BestEpoch, result.BestValLoss,
		auroc, boolToInt(result.StoppedEarly), result.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, result.RunID)
	}
	return nil
}

// GetRun loads a run row.
func (s *Store) GetRun(runID string) (Run, error) {
	var (
		cfgJSON, started string
		finished         sql.NullString
		bestEpoch        sql.NullInt64
		bestLoss, auroc  sql.NullFloat64
		stoppedEarly     int
	)
	err := s.db.QueryRow(
		`SELECT config_json, started_at, finished_at, best_epoch, best_val_loss, auroc, stopped_early
		 FROM runs WHERE run_id = ?`, runID,
	).Scan(&cfgJSON, &started, &finished, &bestEpoch, &bestLoss, &auroc, &stoppedEarly)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}

	run := Run{
		RunID:        runID,
		BestEpoch:    int(bestEpoch.Int64),
		BestValLoss:  bestLoss.Float64,
		AUROC:        auroc.Float64,
		StoppedEarly: stoppedEarly != 0,
	}
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return Run{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if finished.Valid {
		if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
			return Run{}, fmt.Errorf("parse finished_at: %w", err)
		}
	}
	return run, nil
}

// ListEpochs returns a run's epochs in order.
func (s *Store) ListEpochs(runID string) ([]training.EpochRecord, error) {
	rows, err := s.db.Query(
		`SELECT epoch, train_loss, val_loss, learning_rate, improved, duration_ms
		 FROM epochs WHERE run_id = ? ORDER BY epoch`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var records []training.EpochRecord
	for rows.Next() {
		r := training.EpochRecord{RunID: runID}
		var improved int
		var durationMS int64
		if err := rows.Scan(&r.Epoch, &r.TrainLoss, &r.ValLoss, &r.LearningRate, &improved, &durationMS); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		r.Improved = improved != 0
		r.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, r)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
