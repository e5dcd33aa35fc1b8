// Package monitor runs the poll cycle: fetch every feed, detect new records,
// notify, and remember what was seen.
package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"dexwatch/dedup"
	"dexwatch/format"
	"dexwatch/models"
	"dexwatch/notify"
	"dexwatch/stats"
)

const (
	DefaultInterval = 30 * time.Second
	assetCacheSize  = 2048
	boostCacheSize  = 8192
)

// State is the current phase of the poll loop
type State int32

const (
	Idle State = iota
	Fetching
	Processing
	Sleeping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Processing:
		return "processing"
	case Sleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Fetcher returns the current snapshot of one feed
type Fetcher interface {
	Fetch(ctx context.Context, kind models.FeedKind) ([]models.Record, error)
}

// Enricher looks up market data for a token
type Enricher interface {
	TokenInfo(ctx context.Context, kind models.FeedKind, chainID, tokenAddress string) (*models.TokenInfo, error)
}

// Dispatcher delivers a formatted notification
type Dispatcher interface {
	Send(ctx context.Context, n models.Notification) error
}

// Observer is told about every dispatched notification, delivered or not
type Observer interface {
	OnNotification(event models.NotificationEvent)
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithEnricher(e Enricher) Option {
	return func(m *Monitor) {
		m.enricher = e
	}
}

func WithObserver(o Observer) Option {
	return func(m *Monitor) {
		m.observers = append(m.observers, o)
	}
}

// WithKinds restricts the monitored feeds. Processing keeps the order of
// models.AllFeedKinds.
func WithKinds(kinds ...models.FeedKind) Option {
	return func(m *Monitor) {
		wanted := make(map[models.FeedKind]bool, len(kinds))
		for _, k := range kinds {
			wanted[k] = true
		}
		m.kinds = m.kinds[:0]
		for _, k := range models.AllFeedKinds {
			if wanted[k] {
				m.kinds = append(m.kinds, k)
			}
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
		m.startedAt = now()
	}
}

type profileAssets struct {
	imageURL string
	links    []models.Link
}

type Monitor struct {
	fetcher    Fetcher
	store      *dedup.Store
	dispatcher Dispatcher
	tracker    *stats.Tracker
	enricher   Enricher
	observers  []Observer

	kinds     []models.FeedKind
	interval  time.Duration
	startedAt time.Time
	now       func() time.Time

	state atomic.Int32

	// Guarded by cycleMu
	cycleMu     sync.Mutex
	seeded      map[models.FeedKind]bool
	assets      *lru.Cache[string, profileAssets]
	boostTotals *lru.Cache[string, float64] // highest total per token
}

// New creates a monitor. The store must be loaded before calling New: kinds
// that already hold identities are considered seeded.
func New(fetcher Fetcher, store *dedup.Store, dispatcher Dispatcher, tracker *stats.Tracker, opts ...Option) *Monitor {
	assets, _ := lru.New[string, profileAssets](assetCacheSize)
	boostTotals, _ := lru.New[string, float64](boostCacheSize)

	m := &Monitor{
		fetcher:     fetcher,
		store:       store,
		dispatcher:  dispatcher,
		tracker:     tracker,
		kinds:       append([]models.FeedKind(nil), models.AllFeedKinds...),
		interval:    DefaultInterval,
		now:         time.Now,
		startedAt:   time.Now(),
		seeded:      make(map[models.FeedKind]bool),
		assets:      assets,
		boostTotals: boostTotals,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, kind := range m.kinds {
		if store.Len(kind) > 0 {
			m.seeded[kind] = true
			log.WithFields(log.Fields{
				"kind":       kind,
				"identities": store.Len(kind),
			}).Info("Restored seen identities, skipping seeding")
		}
	}
	m.checkSeeded()

	return m
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
}

func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Run polls until ctx is cancelled. The first cycle starts immediately.
// It returns an error only when the sink rejects the credentials.
func (m *Monitor) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"interval": m.interval,
		"kinds":    m.kinds,
	}).Info("Starting monitor")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.setState(Idle)

	for {
		if err := m.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		m.setState(Sleeping)
		select {
		case <-ctx.Done():
			log.Info("Stopping monitor")
			return nil
		case <-ticker.C:
		}
	}
}

// Trigger runs a cycle now. It waits for a running cycle to finish first.
func (m *Monitor) Trigger(ctx context.Context) error {
	log.Info("Manual poll triggered")
	return m.RunCycle(ctx)
}

// RunCycle fetches and processes every kind once. Fetch failures are counted
// and skipped; the returned error is either fatal or a context error.
func (m *Monitor) RunCycle(ctx context.Context) error {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	start := m.now()
	successful := false
	var fatal error

	for _, kind := range m.kinds {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}

		m.setState(Fetching)
		records, err := m.fetcher.Fetch(ctx, kind)
		if err != nil {
			m.tracker.RecordFetchFailure(kind)
			log.WithFields(log.Fields{
				"kind":   kind,
				"streak": m.tracker.Snapshot().FailureStreak[kind],
				"error":  err,
			}).Warn("Fetch failed")
			continue
		}
		successful = true
		m.tracker.RecordFetch(kind, len(records))

		m.setState(Processing)
		if err := m.process(ctx, kind, records); err != nil {
			fatal = err
			break
		}
	}

	duration := m.now().Sub(start)
	m.tracker.RecordCycle(duration, successful)
	m.setState(Idle)

	log.WithFields(log.Fields{
		"duration":   duration,
		"successful": successful,
	}).Debug("Cycle complete")

	return fatal
}

func (m *Monitor) process(ctx context.Context, kind models.FeedKind, records []models.Record) error {
	seeding := !m.seeded[kind]
	newCount := 0

	for _, rec := range records {
		if rec.Kind == models.TokenProfile {
			m.rememberAssets(rec)
		}

		if rec.Identity == "" {
			m.tracker.RecordSkipped()
			log.WithFields(log.Fields{
				"kind":  kind,
				"chain": rec.ChainID,
				"token": rec.TokenAddress,
			}).Warn("Skipping record without identity")
			continue
		}

		if kind == models.TokenBoost && !m.boostRaised(&rec) {
			continue
		}

		if !m.store.IsNew(kind, rec.Identity) {
			m.rememberBoost(rec)
			continue
		}
		newCount++

		if seeding {
			m.store.MarkSeen(kind, rec.Identity)
			m.rememberBoost(rec)
			continue
		}

		// A missing payment time counts as paid before startup
		if kind == models.PaidOrder && rec.PaidAt.Before(m.startedAt) {
			log.WithFields(log.Fields{
				"identity": rec.Identity,
				"paidAt":   rec.PaidAt,
			}).Debug("Ignoring order paid before startup")
			m.store.MarkSeen(kind, rec.Identity)
			continue
		}

		m.tracker.RecordNew(kind)
		err := m.notify(ctx, rec)
		if err != nil && ctx.Err() != nil {
			// Leave the record unseen so it is retried after a restart
			return ctx.Err()
		}
		m.store.MarkSeen(kind, rec.Identity)
		m.rememberBoost(rec)

		if errors.Is(err, notify.ErrUnauthorized) {
			return err
		}
	}

	if seeding {
		m.seeded[kind] = true
		log.WithFields(log.Fields{
			"kind":    kind,
			"records": newCount,
		}).Info("Seeded feed without notifying")
		m.checkSeeded()
	} else if newCount > 0 {
		log.WithFields(log.Fields{
			"kind": kind,
			"new":  newCount,
		}).Info("Processed new records")
	}
	return nil
}

func (m *Monitor) checkSeeded() {
	for _, kind := range m.kinds {
		if !m.seeded[kind] {
			return
		}
	}
	m.tracker.RecordSeeded()
}

func (m *Monitor) notify(ctx context.Context, rec models.Record) error {
	rec = m.decorate(ctx, rec)
	n := format.Format(rec)

	err := m.dispatcher.Send(ctx, n)
	if err != nil {
		m.tracker.RecordDispatchFailure()
		log.WithFields(log.Fields{
			"kind":     rec.Kind,
			"identity": rec.Identity,
			"error":    err,
		}).Error("Failed to dispatch notification")
	} else {
		m.tracker.RecordSent()
		log.WithFields(log.Fields{
			"kind":     rec.Kind,
			"identity": rec.Identity,
			"degraded": n.Degraded,
		}).Info("Notification sent")
	}

	event := models.NotificationEvent{Notification: n, Delivered: err == nil, At: m.now()}
	for _, o := range m.observers {
		o.OnNotification(event)
	}
	return err
}

// decorate attaches cached profile assets and market data
func (m *Monitor) decorate(ctx context.Context, rec models.Record) models.Record {
	if rec.ChainID == "" || rec.TokenAddress == "" {
		return rec
	}

	if assets, ok := m.assets.Get(assetKey(rec)); ok {
		if rec.ImageURL == "" {
			rec.ImageURL = assets.imageURL
		}
		if len(rec.Links) == 0 {
			rec.Links = assets.links
		}
	}

	if m.enricher != nil && rec.Token == nil {
		info, err := m.enricher.TokenInfo(ctx, rec.Kind, rec.ChainID, rec.TokenAddress)
		if err != nil {
			log.WithFields(log.Fields{
				"chain": rec.ChainID,
				"token": rec.TokenAddress,
				"error": err,
			}).Warn("Token enrichment failed")
		} else {
			rec.Token = info
		}
	}
	return rec
}

func (m *Monitor) rememberAssets(rec models.Record) {
	if rec.ChainID == "" || rec.TokenAddress == "" {
		return
	}
	if rec.ImageURL == "" && len(rec.Links) == 0 {
		return
	}
	m.assets.Add(assetKey(rec), profileAssets{imageURL: rec.ImageURL, links: rec.Links})
}

// boostRaised reports whether a boost total is above the highest total seen
// for its token, and sets PreviousTotal when there was one. Expiring boosts
// lower the total, so a drop is never a new boost. Records without a total
// fall back to identity checks.
func (m *Monitor) boostRaised(rec *models.Record) bool {
	if rec.TotalAmount <= 0 || rec.ChainID == "" || rec.TokenAddress == "" {
		return true
	}
	highest, ok := m.boostTotals.Peek(assetKey(*rec))
	if !ok {
		return true
	}
	if rec.TotalAmount <= highest {
		log.WithFields(log.Fields{
			"identity": rec.Identity,
			"total":    rec.TotalAmount,
			"highest":  highest,
		}).Trace("Boost total did not increase")
		return false
	}
	rec.PreviousTotal = highest
	return true
}

func (m *Monitor) rememberBoost(rec models.Record) {
	if rec.Kind != models.TokenBoost || rec.TotalAmount <= 0 || rec.ChainID == "" || rec.TokenAddress == "" {
		return
	}
	key := assetKey(rec)
	if highest, ok := m.boostTotals.Peek(key); ok && highest >= rec.TotalAmount {
		return
	}
	m.boostTotals.Add(key, rec.TotalAmount)
}

func assetKey(rec models.Record) string {
	return strings.ToLower(rec.ChainID) + "|" + rec.TokenAddress
}
