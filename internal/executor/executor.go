// Package executor runs validated read-only queries against the target
// database with a timeout, a row cap, and a rollback-only transaction.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/sqlcheck"
)

var (
	// ErrUnsafeQuery means the statement failed re-validation. The
	// executor never sends such a statement to the database.
	ErrUnsafeQuery      = errors.New("unsafe query rejected")
	ErrConnectionFailed = errors.New("database connection failed")
	ErrQueryTimeout     = errors.New("query timed out")
	ErrQueryError       = errors.New("query failed")
)

// Result holds one bounded query result. RowCount counts the returned
// rows after the cap; Truncated reports whether the database had more.
type Result struct {
	Query     string           `json:"query"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Elapsed   time.Duration    `json:"-"`
}

type Executor struct {
	db             *sql.DB
	logger         *slog.Logger
	allowedTables  []string
	rowLimit       int
	queryTimeout   time.Duration
	connectRetries int
	retryInterval  time.Duration
}

func New(db *sql.DB, logger *slog.Logger, cfg config.AgentConfig) *Executor {
	return &Executor{
		db:             db,
		logger:         logger,
		allowedTables:  cfg.AllowedTables,
		rowLimit:       cfg.RowLimit,
		queryTimeout:   cfg.QueryTimeout,
		connectRetries: cfg.ConnectRetries,
		retryInterval:  250 * time.Millisecond,
	}
}

// Execute re-validates the statement and runs it inside a transaction
// that is always rolled back. Validation here is independent of any
// earlier check the caller may have done; an unvalidated write can
// never reach the database through this path.
func (e *Executor) Execute(ctx context.Context, query string) (Result, error) {
	verdict := sqlcheck.Validate(query, e.allowedTables)
	if !verdict.Accepted {
		return Result{}, fmt.Errorf("%w: %s: %s", ErrUnsafeQuery, verdict.Reason, verdict.Detail)
	}

	if err := e.ping(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	start := time.Now()
	tx, err := e.beginReadOnly(queryCtx)
	if err != nil {
		return Result{}, e.classify(queryCtx, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(queryCtx, verdict.Normalized)
	if err != nil {
		return Result{}, e.classify(queryCtx, err)
	}
	defer rows.Close()

	result, err := e.collect(rows, verdict.Normalized)
	if err != nil {
		return Result{}, e.classify(queryCtx, err)
	}
	result.Elapsed = time.Since(start)

	observability.ObserveQueryExecution(result.RowCount, result.Truncated, result.Elapsed)
	e.logger.Debug("query executed",
		slog.Int("rows", result.RowCount),
		slog.Bool("truncated", result.Truncated),
		slog.String("elapsed", result.Elapsed.String()),
	)
	return result, nil
}

// beginReadOnly asks the database itself to enforce read-only mode, so
// the validator is not the last line of defense. Drivers that cannot
// open read-only transactions fall back to a plain one; the rollback in
// Execute still discards any side effect.
func (e *Executor) beginReadOnly(ctx context.Context) (*sql.Tx, error) {
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "read-only") {
		return e.db.BeginTx(ctx, nil)
	}
	return tx, err
}

func (e *Executor) ping(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryInterval
	return backoff.Retry(
		func() error { return e.db.PingContext(ctx) },
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.connectRetries)), ctx),
	)
}

func (e *Executor) collect(rows *sql.Rows, query string) (Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	result := Result{Query: query, Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		if result.RowCount >= e.rowLimit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if !result.Truncated {
		if err := rows.Err(); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

func (e *Executor) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrQueryTimeout, err)
	case isConnectionError(err):
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	default:
		return fmt.Errorf("%w: %v", ErrQueryError, err)
	}
}

// isConnectionError matches transport-level failures by message, the
// only signal database/sql exposes uniformly across drivers.
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"dial tcp",
		"unexpected eof",
	} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return value
	}
}
