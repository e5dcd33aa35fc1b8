// Package redisstore keeps seen identities in Redis sets, one per feed kind.
// It is an alternative to the SQLite store for deployments that already run
// Redis.
package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dexwatch/dedup"
	"dexwatch/models"
)

const DefaultPrefix = "dexwatch:seen"

// Store implements dedup.Persister
type Store struct {
	client *redis.Client
	prefix string
}

var _ dedup.Persister = (*Store)(nil)

// New connects using a redis:// URL and checks the connection
func New(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.WithFields(log.Fields{
		"addr":   opts.Addr,
		"prefix": prefix,
	}).Info("Connected to Redis")
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) key(kind models.FeedKind) string {
	return fmt.Sprintf("%s:%s", s.prefix, kind)
}

func (s *Store) LoadSeen(ctx context.Context) (map[models.FeedKind][]string, error) {
	seen := make(map[models.FeedKind][]string, len(models.AllFeedKinds))
	for _, kind := range models.AllFeedKinds {
		members, err := s.client.SMembers(ctx, s.key(kind)).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("load %s: %w", kind, err)
		}
		if len(members) > 0 {
			seen[kind] = members
		}
	}
	return seen, nil
}

func (s *Store) SaveSeen(ctx context.Context, kind models.FeedKind, identity string) error {
	return s.client.SAdd(ctx, s.key(kind), identity).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
