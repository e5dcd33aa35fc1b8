// Package dedup remembers which record identities have already been
// notified, per feed kind.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"dexwatch/models"
)

const persistTimeout = 5 * time.Second

// Persister stores seen identities outside the process
type Persister interface {
	LoadSeen(ctx context.Context) (map[models.FeedKind][]string, error)
	SaveSeen(ctx context.Context, kind models.FeedKind, identity string) error
}

// Config for a Store
type Config struct {
	// MaxEntries bounds each kind's set with LRU eviction. Zero keeps every
	// identity for the lifetime of the process.
	MaxEntries int
	Persister  Persister
}

type seenSet interface {
	contains(identity string) bool
	add(identity string)
	len() int
}

type mapSet map[string]struct{}

func (s mapSet) contains(identity string) bool {
	_, ok := s[identity]
	return ok
}

func (s mapSet) add(identity string) {
	s[identity] = struct{}{}
}

func (s mapSet) len() int {
	return len(s)
}

// lruSet refreshes recency on lookup so identities still present in the
// upstream window are not evicted.
type lruSet struct {
	cache *lru.Cache[string, struct{}]
}

func (s lruSet) contains(identity string) bool {
	_, ok := s.cache.Get(identity)
	return ok
}

func (s lruSet) add(identity string) {
	s.cache.Add(identity, struct{}{})
}

func (s lruSet) len() int {
	return s.cache.Len()
}

// Store holds one SeenSet per feed kind. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	sets      map[models.FeedKind]seenSet
	persister Persister
}

func New(cfg Config) (*Store, error) {
	s := &Store{
		sets:      make(map[models.FeedKind]seenSet, len(models.AllFeedKinds)),
		persister: cfg.Persister,
	}

	for _, kind := range models.AllFeedKinds {
		if cfg.MaxEntries > 0 {
			cache, err := lru.New[string, struct{}](cfg.MaxEntries)
			if err != nil {
				return nil, fmt.Errorf("create lru for %s: %w", kind, err)
			}
			s.sets[kind] = lruSet{cache: cache}
		} else {
			s.sets[kind] = mapSet{}
		}
	}

	return s, nil
}

// NewMemory returns an unbounded, non-persistent store
func NewMemory() *Store {
	s, _ := New(Config{})
	return s
}

// Load fills the store from the persister, if any
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	seen, err := s.persister.LoadSeen(ctx)
	if err != nil {
		return fmt.Errorf("load seen identities: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, identities := range seen {
		set, ok := s.sets[kind]
		if !ok {
			continue
		}
		for _, identity := range identities {
			set.add(identity)
		}
		log.WithFields(log.Fields{
			"kind":  kind,
			"count": len(identities),
		}).Info("Loaded seen identities")
	}
	return nil
}

// IsNew reports whether identity has not been marked seen for kind
func (s *Store) IsNew(kind models.FeedKind, identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[kind]
	if !ok {
		return true
	}
	return !set.contains(identity)
}

// MarkSeen records identity for kind. Calling it again is a no-op.
// Persistence failures are logged; the in-memory state is authoritative.
func (s *Store) MarkSeen(kind models.FeedKind, identity string) {
	s.mu.Lock()
	set, ok := s.sets[kind]
	if !ok {
		s.mu.Unlock()
		return
	}
	existed := set.contains(identity)
	set.add(identity)
	s.mu.Unlock()

	if existed || s.persister == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persister.SaveSeen(ctx, kind, identity); err != nil {
		log.WithFields(log.Fields{
			"kind":     kind,
			"identity": identity,
			"error":    err,
		}).Error("Failed to persist seen identity")
	}
}

// Len returns the number of identities held for kind
func (s *Store) Len(kind models.FeedKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[kind]
	if !ok {
		return 0
	}
	return set.len()
}
