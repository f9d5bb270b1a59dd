// Package store persists scored consumption datasets and trained models in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/hed1ad/dace/pkg/consumption"
	"github.com/hed1ad/dace/pkg/engine"
)

// ErrNoModel is returned by LoadLatestModel when nothing has been saved.
var ErrNoModel = errors.New("no stored model")

// timeLayout is fixed width and always written in UTC, so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS consumption_data (
    id                        INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id                    TEXT NOT NULL,
    timestamp                 TEXT NOT NULL,
    consumption_kw            REAL NOT NULL,
    is_anomaly                INTEGER,
    anomaly_kind              TEXT NOT NULL DEFAULT '',
    kmeans_anomaly_score      REAL NOT NULL,
    isolation_forest_anomaly  INTEGER NOT NULL,
    final_anomaly             INTEGER NOT NULL,
    created_at                TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consumption_timestamp ON consumption_data(timestamp);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS models (
    id          TEXT PRIMARY KEY,
    created_at  TEXT NOT NULL,
    payload     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_models_created_at ON models(created_at DESC);
`,
	},
}

// SQLiteStore is the SQLite-backed store.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open opens or creates the database at path and applies pending migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.Get(&count, `SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type datasetRow struct {
	ID                     int64        `db:"id"`
	RunID                  string       `db:"run_id"`
	Timestamp              string       `db:"timestamp"`
	ConsumptionKW          float64      `db:"consumption_kw"`
	IsAnomaly              sql.NullBool `db:"is_anomaly"`
	AnomalyKind            string       `db:"anomaly_kind"`
	KMeansAnomalyScore     float64      `db:"kmeans_anomaly_score"`
	IsolationForestAnomaly bool         `db:"isolation_forest_anomaly"`
	FinalAnomaly           bool         `db:"final_anomaly"`
	CreatedAt              string       `db:"created_at"`
}

func toRow(runID, createdAt string, s consumption.ScoredReading) datasetRow {
	row := datasetRow{
		RunID:                  runID,
		Timestamp:              s.Timestamp.UTC().Format(timeLayout),
		ConsumptionKW:          s.ConsumptionKW,
		AnomalyKind:            string(s.Kind),
		KMeansAnomalyScore:     s.KMeansScore,
		IsolationForestAnomaly: s.IsolationAnomaly,
		FinalAnomaly:           s.FinalAnomaly,
		CreatedAt:              createdAt,
	}
	if s.Labeled() {
		row.IsAnomaly = sql.NullBool{Bool: s.Label(), Valid: true}
	}
	return row
}

func (r datasetRow) scored() (consumption.ScoredReading, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return consumption.ScoredReading{}, fmt.Errorf("row %d: parse timestamp: %w", r.ID, err)
	}
	reading := consumption.Reading{Timestamp: ts, ConsumptionKW: r.ConsumptionKW}
	if r.IsAnomaly.Valid {
		reading = reading.WithLabel(r.IsAnomaly.Bool)
	}
	return consumption.ScoredReading{
		Reading:          reading,
		Kind:             consumption.AnomalyKind(r.AnomalyKind),
		KMeansScore:      r.KMeansAnomalyScore,
		IsolationAnomaly: r.IsolationForestAnomaly,
		FinalAnomaly:     r.FinalAnomaly,
	}, nil
}

const insertRow = `
INSERT INTO consumption_data (run_id, timestamp, consumption_kw, is_anomaly, anomaly_kind,
    kmeans_anomaly_score, isolation_forest_anomaly, final_anomaly, created_at)
VALUES (:run_id, :timestamp, :consumption_kw, :is_anomaly, :anomaly_kind,
    :kmeans_anomaly_score, :isolation_forest_anomaly, :final_anomaly, :created_at)`

// ReplaceDataset swaps the stored dataset for rows in a single transaction.
func (s *SQLiteStore) ReplaceDataset(ctx context.Context, runID string, rows []consumption.ScoredReading) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM consumption_data`); err != nil {
		return fmt.Errorf("clear dataset: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, insertRow)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	createdAt := time.Now().UTC().Format(timeLayout)
	for i, r := range rows {
		if _, err := stmt.ExecContext(ctx, toRow(runID, createdAt, r)); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// LoadDataset returns the stored dataset ordered by timestamp.
func (s *SQLiteStore) LoadDataset(ctx context.Context) ([]consumption.ScoredReading, error) {
	var rows []datasetRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM consumption_data ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("select dataset: %w", err)
	}

	out := make([]consumption.ScoredReading, 0, len(rows))
	for _, r := range rows {
		sr, err := r.scored()
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, nil
}

// DatasetRunID returns the run that produced the stored dataset, or "" if empty.
func (s *SQLiteStore) DatasetRunID(ctx context.Context) (string, error) {
	var runID string
	err := s.db.GetContext(ctx, &runID, `SELECT run_id FROM consumption_data ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return runID, err
}

// SaveModel stores m. Saving the same model twice replaces the first copy.
func (s *SQLiteStore) SaveModel(ctx context.Context, m *engine.Model) error {
	payload, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO models (id, created_at, payload) VALUES (?, ?, ?)`,
		m.ID, m.TrainedAt.UTC().Format(timeLayout), payload,
	)
	if err != nil {
		return fmt.Errorf("insert model: %w", err)
	}
	return nil
}

// LoadLatestModel returns the most recently trained model, or ErrNoModel.
func (s *SQLiteStore) LoadLatestModel(ctx context.Context) (*engine.Model, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM models ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoModel
	}
	if err != nil {
		return nil, fmt.Errorf("select model: %w", err)
	}
	return engine.UnmarshalModel(payload)
}
