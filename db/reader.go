package db

import (
	"context"
	"fmt"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"dexwatch/models"
)

// LoadSeen returns every stored identity grouped by kind, oldest first
func (d *DB) LoadSeen(ctx context.Context) (map[models.FeedKind][]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("kind", "identity").From("seen").OrderBy("first_seen_at").Asc()
	query, args := sb.Build()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	seen := make(map[models.FeedKind][]string)
	for rows.Next() {
		var kindName, identity string
		if err := rows.Scan(&kindName, &identity); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}

		kind, err := models.ParseFeedKind(kindName)
		if err != nil {
			log.WithField("kind", kindName).Warn("Ignoring stored identity of unknown kind")
			continue
		}
		seen[kind] = append(seen[kind], identity)
	}
	return seen, rows.Err()
}

// Count returns the number of stored identities per kind
func (d *DB) Count(ctx context.Context) (map[models.FeedKind]int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("kind", "count(*)").From("seen").GroupBy("kind")
	query, args := sb.Build()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.FeedKind]int)
	for rows.Next() {
		var kindName string
		var n int
		if err := rows.Scan(&kindName, &n); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		if kind, err := models.ParseFeedKind(kindName); err == nil {
			counts[kind] = n
		}
	}
	return counts, rows.Err()
}
