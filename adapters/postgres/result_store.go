// Package postgres stores run records and ablation reports in PostgreSQL.
// Full documents live in JSONB columns; the indexed columns are copies for listing.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"gofingerprint/domain/core"
	"gofingerprint/domain/robustness"
	"gofingerprint/domain/run"
	"gofingerprint/internal"
	"gofingerprint/internal/errors"
	"gofingerprint/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// JSONB adapts any JSON-serializable document to a JSONB column
type JSONB[T any] struct {
	V T
}

// Value implements driver.Valuer
func (j JSONB[T]) Value() (driver.Value, error) {
	return json.Marshal(j.V)
}

// Scan implements sql.Scanner
func (j *JSONB[T]) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(data, &j.V)
}

// ResultStore implements ports.ResultStore on PostgreSQL
type ResultStore struct {
	db     *sqlx.DB
	logger *internal.Logger
}

var _ ports.ResultStore = (*ResultStore)(nil)

// Open connects, pings and migrates
func Open(ctx context.Context, dsn string) (*ResultStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.WithCode(errors.CodeStorage, fmt.Errorf("connect: %w", err))
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := NewMigrator(db).Up(ctx); err != nil {
		db.Close()
		return nil, errors.WithCode(errors.CodeStorage, err)
	}
	return NewResultStore(db), nil
}

// NewResultStore wraps an existing, migrated connection
func NewResultStore(db *sqlx.DB) *ResultStore {
	return &ResultStore{db: db, logger: internal.DefaultLogger.With("PostgresStore")}
}

// SaveRun upserts the record
func (s *ResultStore) SaveRun(ctx context.Context, record *run.RunRecord) error {
	m := record.Manifest
	status := ""
	if record.Combined != nil {
		status = string(record.Combined.Status)
	}
	var completed interface{}
	if !record.CompletedAt.IsZero() {
		completed = record.CompletedAt.Time()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fp_runs (run_id, name, config_hash, seed, code_version, status, manifest, record, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			manifest = EXCLUDED.manifest,
			record = EXCLUDED.record,
			completed_at = EXCLUDED.completed_at
	`, m.RunID.String(), m.Name, m.ConfigHash.String(), m.Seed, m.CodeVersion, status,
		JSONB[run.RunManifest]{V: m}, JSONB[*run.RunRecord]{V: record}, m.CreatedAt.Time(), completed)
	if err != nil {
		return errors.WithCode(errors.CodeStorage, fmt.Errorf("save run %s: %w", m.RunID, err))
	}
	s.logger.Debug("Saved run %s (%s)", m.RunID, status)
	return nil
}

// GetRun loads a record by ID
func (s *ResultStore) GetRun(ctx context.Context, runID core.RunID) (*run.RunRecord, error) {
	var doc JSONB[run.RunRecord]
	err := s.db.GetContext(ctx, &doc, `SELECT record FROM fp_runs WHERE run_id = $1`, runID.String())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithCode(errors.CodeStorage, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID))
	}
	if err != nil {
		return nil, errors.WithCode(errors.CodeStorage, fmt.Errorf("get run %s: %w", runID, err))
	}
	return &doc.V, nil
}

// ListRuns returns manifests newest first. limit <= 0 returns all.
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]run.RunManifest, error) {
	query := `SELECT manifest FROM fp_runs ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	var docs []JSONB[run.RunManifest]
	if err := s.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, errors.WithCode(errors.CodeStorage, fmt.Errorf("list runs: %w", err))
	}
	out := make([]run.RunManifest, len(docs))
	for i, d := range docs {
		out[i] = d.V
	}
	return out, nil
}

// SaveAblation upserts a report by run and dataset
func (s *ResultStore) SaveAblation(ctx context.Context, report *robustness.Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fp_ablations (run_id, dataset, cancelled, report, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, dataset) DO UPDATE SET
			cancelled = EXCLUDED.cancelled,
			report = EXCLUDED.report
	`, report.RunID.String(), report.Dataset, report.Cancelled, JSONB[*robustness.Report]{V: report}, report.CreatedAt.Time())
	if err != nil {
		return errors.WithCode(errors.CodeStorage, fmt.Errorf("save ablation %s/%s: %w", report.RunID, report.Dataset, err))
	}
	return nil
}

// Close closes the pool
func (s *ResultStore) Close() error {
	return s.db.Close()
}
