package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"TopicPulse/internal/domain"
	"TopicPulse/internal/ports"
)

var identExpr = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresStore persists job snapshots into Postgres as JSONB rows.
type PostgresStore struct {
	db    *sql.DB
	table string
	psql  sq.StatementBuilderType
}

var _ ports.JobStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB, table string) (*PostgresStore, error) {
	if table == "" {
		table = "analysis_jobs"
	}
	if !identExpr.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{
		db:    db,
		table: table,
		psql:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// EnsureSchema creates the jobs table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		topic TEXT NOT NULL,
		entities TEXT[] NOT NULL,
		snapshot JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Put upserts the snapshot; the last write wins.
func (s *PostgresStore) Put(ctx context.Context, job domain.Job) error {
	snapshot, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	query, args, err := s.psql.
		Insert(s.table).
		Columns("id", "status", "topic", "entities", "snapshot", "created_at", "completed_at").
		Values(job.ID, string(job.Status), job.Request.Topic, pq.StringArray(job.Request.Entities), snapshot, job.CreatedAt, job.CompletedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE
			SET status = EXCLUDED.status,
			    snapshot = EXCLUDED.snapshot,
			    completed_at = EXCLUDED.completed_at,
			    updated_at = NOW()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// Get loads a snapshot by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	query, args, err := s.psql.Select("snapshot").From(s.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("build select: %w", err)
	}

	var raw []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("select job %s: %w", id, err)
	}

	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.Job{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, true, nil
}
