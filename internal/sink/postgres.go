package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSink updates one row of a PostgreSQL table per call. Each call
// opens its own database handle and closes it before returning.
type PostgresSink struct {
	dsn   string
	table string
	key   string
}

// NewPostgres returns a sink updating table through the lib/pq driver.
func NewPostgres(dsn, table, key string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres sink: dsn is required")
	}

	if !ValidIdentifier(table) {
		return nil, fmt.Errorf("postgres sink: invalid table name %q", table)
	}

	if !ValidIdentifier(key) {
		return nil, fmt.Errorf("postgres sink: invalid key column %q", key)
	}

	return &PostgresSink{dsn: dsn, table: table, key: key}, nil
}

// Persist sets data0 and data1 on the row whose key equals r.Identity.
func (s *PostgresSink) Persist(ctx context.Context, r Record) (err error) {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, db.Close()) }()

	query := "UPDATE " + quoteIdent(s.table) + " SET data0 = $1, data1 = $2 WHERE " + quoteIdent(s.key) + " = $3"

	res, err := db.ExecContext(ctx, query, r.Data0, r.Data1, r.Identity)
	if err != nil {
		return fmt.Errorf("postgres sink: update %s: %w", s.table, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres sink: rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s id=%d", ErrNoRecord, s.table, r.Identity)
	}

	return nil
}

// InitSchema creates the table if missing and seeds a zero row for identity.
func (s *PostgresSink) InitSchema(ctx context.Context, identity int64) (err error) {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, db.Close()) }()

	table := quoteIdent(s.table)

	create := "CREATE TABLE IF NOT EXISTS " + table +
		" (" + quoteIdent(s.key) + " BIGINT PRIMARY KEY, data0 DOUBLE PRECISION NOT NULL DEFAULT 0, data1 DOUBLE PRECISION NOT NULL DEFAULT 0)"
	if _, err := db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("postgres sink: create %s: %w", s.table, err)
	}

	seed := "INSERT INTO " + table + " (" + quoteIdent(s.key) + ", data0, data1) VALUES ($1, 0, 0) ON CONFLICT (" + quoteIdent(s.key) + ") DO NOTHING"
	if _, err := db.ExecContext(ctx, seed, identity); err != nil {
		return fmt.Errorf("postgres sink: seed %s id=%d: %w", s.table, identity, err)
	}

	return nil
}

func (s *PostgresSink) open() (*sql.DB, error) {
	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: open: %w", err)
	}

	db.SetMaxOpenConns(1)

	return db, nil
}
