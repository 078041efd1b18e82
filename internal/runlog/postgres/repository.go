// Package postgres stores run log records in a Postgres database,
// which may be separate from the question target.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/runlog"
)

func Open(ctx context.Context, cfg config.RunLogConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("run log dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open run log db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping run log db: %w", err)
	}
	return db, nil
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, record runlog.Record) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO agent_run (session_id, question, answer, executed_query, terminal_state, steps, truncated, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		record.SessionID,
		record.Question,
		record.Answer,
		record.ExecutedQuery,
		record.TerminalState,
		record.Steps,
		record.Truncated,
		record.StartedAt,
		record.FinishedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]runlog.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, question, answer, executed_query, terminal_state, steps, truncated, started_at, finished_at
		FROM agent_run
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *Repository) BySession(ctx context.Context, sessionID string) ([]runlog.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, question, answer, executed_query, terminal_state, steps, truncated, started_at, finished_at
		FROM agent_run
		WHERE session_id = $1
		ORDER BY started_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list runs for session %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]runlog.Record, error) {
	var records []runlog.Record
	for rows.Next() {
		var record runlog.Record
		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.Question,
			&record.Answer,
			&record.ExecutedQuery,
			&record.TerminalState,
			&record.Steps,
			&record.Truncated,
			&record.StartedAt,
			&record.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}
