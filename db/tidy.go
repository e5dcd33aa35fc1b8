package db

import (
	"context"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Tidy forgets identities first seen more than maxAge ago and returns how
// many rows were removed. A forgotten identity that is still listed upstream
// is notified again.
func (d *DB) Tidy(ctx context.Context, maxAge time.Duration) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cutoff := d.now().Add(-maxAge).Unix()
	del := sqlbuilder.SQLite.NewDeleteBuilder()
	del.DeleteFrom("seen").Where(del.LessThan("first_seen_at", cutoff))
	query, args := del.Build()

	log.WithFields(log.Fields{
		"sql":  query,
		"args": args,
	}).Info("Tidying database")

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete error: %w", err)
	}
	return res.RowsAffected()
}
