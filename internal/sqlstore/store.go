// Package sqlstore reads tables from a relational database for indexing and
// runs guarded read-only queries.
//
// Two drivers are supported: "pgx" for PostgreSQL and "sqlite" for SQLite
// files and in-memory databases.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

var tracer = otel.Tracer("ingestd.sqlstore")

// Supported drivers.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

var (
	// ErrNotSelect is returned by Query for statements other than SELECT.
	ErrNotSelect = errors.New("only SELECT queries are allowed")

	// ErrTableNotFound is returned when a table is not in Tables.
	ErrTableNotFound = errors.New("table not found")

	// ErrUnsupportedDriver is returned by Open for unknown drivers.
	ErrUnsupportedDriver = errors.New("unsupported sql driver")
)

// Row is one result row with its columns in select order.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column.
func (r Row) Get(name string) (any, bool) {
	for i, c := range r.Columns {
		if c == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Map returns the row as a column-to-value map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// Store wraps a database handle.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects with the given driver and DSN and pings the database.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return New(db, driver, logger), nil
}

// New wraps an open handle.
func New(db *sql.DB, driver string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, driver: driver, logger: logger}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the driver name.
func (s *Store) Driver() string { return s.driver }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Tables lists user tables sorted by name. PostgreSQL lists the public
// schema only.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	var q string
	switch s.driver {
	case DriverSQLite:
		q = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	default:
		q = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE' ORDER BY table_name`
	}

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	return tables, nil
}

// FetchRows returns up to limit rows of table; limit <= 0 returns all rows.
// The table must be one Tables reports.
func (s *Store) FetchRows(ctx context.Context, table string, limit int) ([]Row, error) {
	ctx, span := tracer.Start(ctx, "Store.FetchRows")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.Int("limit", limit))

	tables, err := s.Tables(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list tables failed")
		return nil, err
	}
	if !slices.Contains(tables, table) {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}

	q := "SELECT * FROM " + quoteIdent(table)
	var args []any
	if limit > 0 {
		q += " LIMIT " + s.placeholder(1)
		args = append(args, limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, fmt.Errorf("fetching rows from %s: %w", table, err)
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return rows, nil
}

// Query runs a read-only statement. Anything that does not start with
// SELECT, ignoring case and surrounding whitespace, returns ErrNotSelect.
// The statement runs in a read-only transaction, so a write smuggled in
// after the SELECT fails instead of committing.
func (s *Store) Query(ctx context.Context, statement string) ([]Row, error) {
	if !IsSelect(statement) {
		return nil, ErrNotSelect
	}
	s.logger.Debug("running query", zap.String("sql", statement))
	rows, err := s.readOnlyQuery(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	return rows, nil
}

// IsSelect reports whether statement starts with SELECT.
func IsSelect(statement string) bool {
	trimmed := strings.TrimSpace(statement)
	return len(trimmed) >= 6 && strings.EqualFold(trimmed[:6], "SELECT")
}

func (s *Store) readOnlyQuery(ctx context.Context, statement string) (_ []Row, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if s.driver == DriverSQLite {
		// The sqlite driver accepts TxOptions.ReadOnly without enforcing it.
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return nil, err
		}
		defer func() {
			_, resetErr := conn.ExecContext(context.WithoutCancel(ctx), "PRAGMA query_only = OFF")
			if err == nil {
				err = resetErr
			}
		}()
	}

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	return scanRows(tx.QueryContext(ctx, statement))
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Row, error) {
	return scanRows(s.db.QueryContext(ctx, q, args...))
}

func scanRows(rows *sql.Rows, err error) ([]Row, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, Row{Columns: columns, Values: values})
	}
	return out, rows.Err()
}

func (s *Store) placeholder(n int) string {
	if s.driver == DriverSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
