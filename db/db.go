// Package db persists seen identities in SQLite so a restarted monitor does
// not notify the same events again.
package db

import (
	"context"
	"database/sql"
	"time"
)

const queryTimeout = 10 * time.Second

// DB implements dedup.Persister on top of the seen table
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the database. Migrate must have been run first.
func Open(database string) (*DB, error) {
	conn, err := connection(database)
	if err != nil {
		return nil, err
	}
	return &DB{db: conn, now: time.Now}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}
