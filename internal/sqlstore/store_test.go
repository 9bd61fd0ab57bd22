package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.DB().Exec(`
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, email TEXT);
		CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER, total REAL);
		INSERT INTO users (id, name, email) VALUES (1, 'ada', 'ada@example.com'), (2, 'grace', NULL), (3, 'linus', 'l@example.com');
	`)
	require.NoError(t, err)
	return s
}

func TestTables(t *testing.T) {
	s := openTestStore(t)
	tables, err := s.Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, tables)
}

func TestFetchRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows, err := s.FetchRows(ctx, "users", 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "name", "email"}, rows[0].Columns)

	name, ok := rows[0].Get("name")
	require.True(t, ok)
	assert.Equal(t, "ada", name)

	email, ok := rows[1].Get("email")
	require.True(t, ok)
	assert.Nil(t, email)

	limited, err := s.FetchRows(ctx, "users", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	empty, err := s.FetchRows(ctx, "orders", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFetchRows_UnknownTable(t *testing.T) {
	s := openTestStore(t)
	_, err := s.FetchRows(context.Background(), "users; DROP TABLE users", 1)
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows, err := s.Query(ctx, "  select name from users where id = 3")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"name": "linus"}, rows[0].Map())

	for _, stmt := range []string{"DELETE FROM users", "  update users set name = 'x'", "", "WITH x AS (SELECT 1) SELECT * FROM x"} {
		_, err := s.Query(ctx, stmt)
		assert.ErrorIs(t, err, ErrNotSelect, stmt)
	}
}

func TestQuery_ReadOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, stmt := range []string{
		"SELECT 1; DELETE FROM users",
		"select id from users; insert into orders (id, user_id, total) values (9, 1, 2.5)",
	} {
		_, _ = s.Query(ctx, stmt)
	}

	users, err := s.FetchRows(ctx, "users", 0)
	require.NoError(t, err)
	assert.Len(t, users, 3, "writes after a SELECT never commit")
	orders, err := s.FetchRows(ctx, "orders", 0)
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = s.DB().ExecContext(ctx, `INSERT INTO orders (id, user_id, total) VALUES (1, 1, 9.99)`)
	require.NoError(t, err, "the connection is writable again after Query")
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn", nil)
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"users"`, quoteIdent("users"))
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
}
