package db

import (
	"context"
	"fmt"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"dexwatch/models"
)

// SaveSeen stores identity for kind. Existing rows keep their first_seen_at.
func (d *DB) SaveSeen(ctx context.Context, kind models.FeedKind, identity string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("seen").
		Cols("kind", "identity", "first_seen_at").
		Values(kind.String(), identity, d.now().Unix())

	query, args := ib.Build()
	log.WithFields(log.Fields{
		"kind":     kind,
		"identity": identity,
	}).Trace("Persisting seen identity")

	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}
