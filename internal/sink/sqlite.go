package sink

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// SQLiteSink updates one row of a SQLite table per call, opening and
// closing the database each time.
type SQLiteSink struct {
	path  string
	table string
	key   string
}

// NewSQLite returns a sink updating table in the database at path. Rows
// are matched on the key column.
func NewSQLite(path, table, key string) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite sink: path is required")
	}

	if !ValidIdentifier(table) {
		return nil, fmt.Errorf("sqlite sink: invalid table name %q", table)
	}

	if !ValidIdentifier(key) {
		return nil, fmt.Errorf("sqlite sink: invalid key column %q", key)
	}

	return &SQLiteSink{path: path, table: table, key: key}, nil
}

// Persist sets data0 and data1 on the row whose key equals r.Identity. The
// database must already exist.
func (s *SQLiteSink) Persist(ctx context.Context, r Record) (err error) {
	conn, err := s.open(ctx, sqlite.OpenReadWrite)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeConn(conn)) }()

	query := "UPDATE " + quoteIdent(s.table) + " SET data0 = ?, data1 = ? WHERE " + quoteIdent(s.key) + " = ?"
	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{r.Data0, r.Data1, r.Identity},
	}); err != nil {
		return fmt.Errorf("sqlite sink: update %s: %w", s.table, err)
	}

	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s id=%d", ErrNoRecord, s.table, r.Identity)
	}

	return nil
}

// InitSchema creates the table if missing and seeds a zero row for identity.
func (s *SQLiteSink) InitSchema(ctx context.Context, identity int64) (err error) {
	conn, err := s.open(ctx, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeConn(conn)) }()

	table := quoteIdent(s.table)

	create := "CREATE TABLE IF NOT EXISTS " + table +
		" (" + quoteIdent(s.key) + " INTEGER PRIMARY KEY, data0 REAL NOT NULL DEFAULT 0, data1 REAL NOT NULL DEFAULT 0)"
	if err := sqlitex.ExecuteTransient(conn, create, nil); err != nil {
		return fmt.Errorf("sqlite sink: create %s: %w", s.table, err)
	}

	seed := "INSERT OR IGNORE INTO " + table + " (" + quoteIdent(s.key) + ", data0, data1) VALUES (?, 0, 0)"
	if err := sqlitex.Execute(conn, seed, &sqlitex.ExecOptions{Args: []any{identity}}); err != nil {
		return fmt.Errorf("sqlite sink: seed %s id=%d: %w", s.table, identity, err)
	}

	return nil
}

func (s *SQLiteSink) open(ctx context.Context, flags sqlite.OpenFlags) (*sqlite.Conn, error) {
	conn, err := sqlite.OpenConn(s.path, flags)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: open %s: %w", s.path, err)
	}

	if err := sqlitex.ExecuteTransient(conn, "PRAGMA busy_timeout=5000", nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite sink: busy_timeout: %w", err)
	}

	conn.SetInterrupt(ctx.Done())

	return conn, nil
}

func closeConn(conn *sqlite.Conn) error {
	if err := conn.Close(); err != nil {
		return fmt.Errorf("sqlite sink: close: %w", err)
	}

	return nil
}
