package stats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dexwatch/models"
)

var (
	recordsSeen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexwatch_records_seen_total",
		Help: "The total number of records returned by the upstream feeds",
	}, []string{"kind"})

	newRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexwatch_new_records_total",
		Help: "The total number of records detected as new",
	}, []string{"kind"})

	notificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexwatch_notifications_sent_total",
		Help: "The total number of notifications delivered to the sink",
	})

	fetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexwatch_fetch_failures_total",
		Help: "The total number of failed feed fetches",
	}, []string{"kind"})

	dispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexwatch_dispatch_failures_total",
		Help: "The total number of notifications that could not be delivered",
	})

	dispatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexwatch_dispatch_retries_total",
		Help: "The total number of retried dispatch attempts",
	})

	skippedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexwatch_skipped_records_total",
		Help: "Records skipped because no identity could be derived",
	})

	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexwatch_cycles_total",
		Help: "The total number of completed poll cycles",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dexwatch_cycle_duration_seconds",
		Help:    "Duration of poll cycles",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // Start at 50ms, double each bucket
	})

	lastSuccessfulCycle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dexwatch_last_successful_cycle_timestamp_seconds",
		Help: "Unix time of the last cycle in which at least one feed was fetched",
	})
)

// RunStats is a point in time copy of the monitor counters
type RunStats struct {
	StartedAt           time.Time                 `json:"startedAt"`
	LastSuccessfulCycle time.Time                 `json:"lastSuccessfulCycle"`
	Cycles              int64                     `json:"cycles"`
	RecordsSeen         map[models.FeedKind]int64 `json:"recordsSeen"`
	NewRecords          map[models.FeedKind]int64 `json:"newRecords"`
	FetchFailures       map[models.FeedKind]int64 `json:"fetchFailures"`
	FailureStreak       map[models.FeedKind]int64 `json:"failureStreak"`
	NotificationsSent   int64                     `json:"notificationsSent"`
	DispatchFailures    int64                     `json:"dispatchFailures"`
	DispatchRetries     int64                     `json:"dispatchRetries"`
	Skipped             int64                     `json:"skipped"`
	Seeded              bool                      `json:"seeded"`
}

// TotalFetchFailures sums fetch failures over every kind
func (s RunStats) TotalFetchFailures() int64 {
	var total int64
	for _, n := range s.FetchFailures {
		total += n
	}
	return total
}

// Uptime is measured from StartedAt
func (s RunStats) Uptime(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// Tracker owns the counters of one monitor instance. Every counter is
// mirrored into the process wide Prometheus registry.
type Tracker struct {
	mu    sync.RWMutex
	stats RunStats
	now   func() time.Time
}

func NewTracker() *Tracker {
	return newTracker(time.Now)
}

func newTracker(now func() time.Time) *Tracker {
	return &Tracker{
		now: now,
		stats: RunStats{
			StartedAt:     now(),
			RecordsSeen:   make(map[models.FeedKind]int64),
			NewRecords:    make(map[models.FeedKind]int64),
			FetchFailures: make(map[models.FeedKind]int64),
			FailureStreak: make(map[models.FeedKind]int64),
		},
	}
}

// Snapshot returns a deep copy of the current counters
func (t *Tracker) Snapshot() RunStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.stats
	s.RecordsSeen = copyCounts(t.stats.RecordsSeen)
	s.NewRecords = copyCounts(t.stats.NewRecords)
	s.FetchFailures = copyCounts(t.stats.FetchFailures)
	s.FailureStreak = copyCounts(t.stats.FailureStreak)
	return s
}

func (t *Tracker) RecordFetch(kind models.FeedKind, records int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.RecordsSeen[kind] += int64(records)
	t.stats.FailureStreak[kind] = 0
	recordsSeen.WithLabelValues(kind.String()).Add(float64(records))
}

func (t *Tracker) RecordFetchFailure(kind models.FeedKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.FetchFailures[kind]++
	t.stats.FailureStreak[kind]++
	fetchFailures.WithLabelValues(kind.String()).Inc()
}

func (t *Tracker) RecordNew(kind models.FeedKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.NewRecords[kind]++
	newRecords.WithLabelValues(kind.String()).Inc()
}

func (t *Tracker) RecordSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.NotificationsSent++
	notificationsSent.Inc()
}

func (t *Tracker) RecordDispatchFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.DispatchFailures++
	dispatchFailures.Inc()
}

func (t *Tracker) RecordRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.DispatchRetries++
	dispatchRetries.Inc()
}

func (t *Tracker) RecordSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Skipped++
	skippedRecords.Inc()
}

// RecordSeeded marks the end of first-cycle seeding
func (t *Tracker) RecordSeeded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Seeded = true
}

// RecordCycle closes a cycle. successful is true when at least one feed
// was fetched.
func (t *Tracker) RecordCycle(duration time.Duration, successful bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Cycles++
	cyclesTotal.Inc()
	cycleDuration.Observe(duration.Seconds())
	if successful {
		t.stats.LastSuccessfulCycle = t.now()
		lastSuccessfulCycle.Set(float64(t.stats.LastSuccessfulCycle.Unix()))
	}
}

func copyCounts[T any](in map[models.FeedKind]T) map[models.FeedKind]T {
	out := make(map[models.FeedKind]T, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
