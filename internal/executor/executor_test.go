package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/querypilot/querypilot/internal/config"
)

func testConfig() config.AgentConfig {
	return config.AgentConfig{
		RowLimit:       500,
		QueryTimeout:   5 * time.Second,
		ConnectRetries: 0,
	}
}

func newTestExecutor(t *testing.T, cfg config.AgentConfig) (*Executor, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	exec := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	exec.retryInterval = time.Millisecond
	return exec, mock, func() { _ = db.Close() }
}

func TestExecuteReturnsRows(t *testing.T) {
	exec, mock, closeDB := newTestExecutor(t, testConfig())
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, total FROM orders`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "total"}).
			AddRow(int64(1), []byte("12.50")).
			AddRow(int64(2), []byte("7.00")))
	mock.ExpectRollback()

	result, err := exec.Execute(context.Background(), "SELECT id, total FROM orders;")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if result.Query != "SELECT id, total FROM orders" {
		t.Fatalf("Query = %q, want normalized statement", result.Query)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 {
		t.Fatalf("RowCount = %d, rows = %d, want 2", result.RowCount, len(result.Rows))
	}
	if result.Truncated {
		t.Fatalf("Truncated = true, want false")
	}
	if result.Rows[0]["total"] != "12.50" {
		t.Fatalf("total = %v, want string 12.50", result.Rows[0]["total"])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExecuteCapsRowsAndFlagsTruncation(t *testing.T) {
	cfg := testConfig()
	cfg.RowLimit = 2
	exec, mock, closeDB := newTestExecutor(t, cfg)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM orders`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)))
	mock.ExpectRollback()

	result, err := exec.Execute(context.Background(), "SELECT id FROM orders")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", result.RowCount)
	}
	if !result.Truncated {
		t.Fatalf("Truncated = false, want true")
	}
}

func TestExecuteRejectsUnvalidatedWriteWithoutTouchingDB(t *testing.T) {
	exec, mock, closeDB := newTestExecutor(t, testConfig())
	defer closeDB()

	_, err := exec.Execute(context.Background(), "DELETE FROM orders")
	if !errors.Is(err, ErrUnsafeQuery) {
		t.Fatalf("Execute() error = %v, want ErrUnsafeQuery", err)
	}

	// No Begin/Query expectations were registered; any database call
	// would have failed the test through sqlmock.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("database was touched: %v", err)
	}
}

func TestExecuteEnforcesAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedTables = []string{"orders"}
	exec, _, closeDB := newTestExecutor(t, cfg)
	defer closeDB()

	_, err := exec.Execute(context.Background(), "SELECT * FROM payments")
	if !errors.Is(err, ErrUnsafeQuery) {
		t.Fatalf("Execute() error = %v, want ErrUnsafeQuery", err)
	}
}

func TestExecuteClassifiesTimeout(t *testing.T) {
	exec, mock, closeDB := newTestExecutor(t, testConfig())
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_sleep`).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	_, err := exec.Execute(context.Background(), "SELECT pg_sleep(600)")
	if !errors.Is(err, ErrQueryTimeout) {
		t.Fatalf("Execute() error = %v, want ErrQueryTimeout", err)
	}
}

func TestExecuteClassifiesConnectionFailure(t *testing.T) {
	exec, mock, closeDB := newTestExecutor(t, testConfig())
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1`).
		WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	mock.ExpectRollback()

	_, err := exec.Execute(context.Background(), "SELECT 1")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Execute() error = %v, want ErrConnectionFailed", err)
	}
}

func TestExecuteClassifiesQueryError(t *testing.T) {
	exec, mock, closeDB := newTestExecutor(t, testConfig())
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT nope`).
		WillReturnError(errors.New(`column "nope" does not exist`))
	mock.ExpectRollback()

	_, err := exec.Execute(context.Background(), "SELECT nope FROM orders")
	if !errors.Is(err, ErrQueryError) {
		t.Fatalf("Execute() error = %v, want ErrQueryError", err)
	}
}

// txOptionsDriver records the options passed to BeginTx; sqlmock does
// not expose them.
type txOptionsDriver struct{}

var lastTxOptions driver.TxOptions

func (txOptionsDriver) Open(string) (driver.Conn, error) { return &txOptionsConn{}, nil }

type txOptionsConn struct{}

func (*txOptionsConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("not implemented")
}
func (*txOptionsConn) Close() error              { return nil }
func (*txOptionsConn) Begin() (driver.Tx, error) { return noopTx{}, nil }

func (*txOptionsConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	lastTxOptions = opts
	return noopTx{}, nil
}

func (*txOptionsConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	return &singleRow{}, nil
}

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

type singleRow struct{ done bool }

func (*singleRow) Columns() []string { return []string{"n"} }
func (*singleRow) Close() error      { return nil }
func (r *singleRow) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = int64(1)
	return nil
}

func init() { sql.Register("txoptions-capture", txOptionsDriver{}) }

func TestExecuteOpensReadOnlyTransaction(t *testing.T) {
	db, err := sql.Open("txoptions-capture", "")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	exec := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)), testConfig())
	exec.retryInterval = time.Millisecond
	lastTxOptions = driver.TxOptions{}

	if _, err := exec.Execute(context.Background(), "SELECT 1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !lastTxOptions.ReadOnly {
		t.Fatal("transaction was not opened read-only")
	}
}

func TestExecuteRetriesPingBeforeGivingUp(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	cfg := testConfig()
	cfg.ConnectRetries = 2
	exec := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	exec.retryInterval = time.Millisecond

	for i := 0; i < 3; i++ {
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	}

	_, err = exec.Execute(context.Background(), "SELECT 1")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Execute() error = %v, want ErrConnectionFailed", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
