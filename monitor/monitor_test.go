package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexwatch/dedup"
	"dexwatch/dexscreener"
	"dexwatch/models"
	"dexwatch/notify"
	"dexwatch/stats"
)

// scriptedFetcher returns one scripted response per kind and cycle. Once the
// script runs out the last response is repeated.
type scriptedFetcher struct {
	mu     sync.Mutex
	script map[models.FeedKind][]fetchResult
	calls  map[models.FeedKind]int
	order  []models.FeedKind
}

type fetchResult struct {
	records []models.Record
	err     error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		script: make(map[models.FeedKind][]fetchResult),
		calls:  make(map[models.FeedKind]int),
	}
}

func (f *scriptedFetcher) add(kind models.FeedKind, records ...models.Record) *scriptedFetcher {
	f.script[kind] = append(f.script[kind], fetchResult{records: records})
	return f
}

func (f *scriptedFetcher) fail(kind models.FeedKind) *scriptedFetcher {
	return f.failWith(kind, dexscreener.BadResponse)
}

func (f *scriptedFetcher) failWith(kind models.FeedKind, reason dexscreener.Reason) *scriptedFetcher {
	fe := &dexscreener.FetchError{Kind: kind, Reason: reason}
	if reason == dexscreener.BadResponse {
		fe.Status = http.StatusServiceUnavailable
	}
	f.script[kind] = append(f.script[kind], fetchResult{err: fe})
	return f
}

func (f *scriptedFetcher) Fetch(_ context.Context, kind models.FeedKind) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.order = append(f.order, kind)
	steps := f.script[kind]
	if len(steps) == 0 {
		return nil, nil
	}
	i := f.calls[kind]
	f.calls[kind]++
	if i >= len(steps) {
		i = len(steps) - 1
	}
	return steps[i].records, steps[i].err
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []models.Notification
	err  func(n models.Notification) error
}

func (d *recordingDispatcher) Send(_ context.Context, n models.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	if d.err != nil {
		return d.err(n)
	}
	return nil
}

func (d *recordingDispatcher) identities() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent))
	for i, n := range d.sent {
		out[i] = n.Identity
	}
	return out
}

type eventCollector struct {
	events []models.NotificationEvent
}

func (c *eventCollector) OnNotification(e models.NotificationEvent) {
	c.events = append(c.events, e)
}

type staticEnricher struct {
	info *models.TokenInfo
	err  error
}

func (e staticEnricher) TokenInfo(context.Context, models.FeedKind, string, string) (*models.TokenInfo, error) {
	return e.info, e.err
}

func boost(id string) models.Record {
	return models.Record{Kind: models.TokenBoost, Identity: id, ChainID: "solana", TokenAddress: id, TotalAmount: 10}
}

func newTestMonitor(fetcher Fetcher, dispatcher Dispatcher, opts ...Option) (*Monitor, *dedup.Store, *stats.Tracker) {
	store := dedup.NewMemory()
	tracker := stats.NewTracker()
	return New(fetcher, store, dispatcher, tracker, opts...), store, tracker
}

func TestFirstCycleSeedsWithoutNotifying(t *testing.T) {
	fetcher := newScriptedFetcher().
		add(models.TokenBoost, boost("r1"), boost("r2"), boost("r3"))
	dispatcher := &recordingDispatcher{}
	m, store, tracker := newTestMonitor(fetcher, dispatcher)

	require.NoError(t, m.RunCycle(context.Background()))

	assert.Empty(t, dispatcher.sent)
	assert.Equal(t, 3, store.Len(models.TokenBoost))
	for _, id := range []string{"r1", "r2", "r3"} {
		assert.False(t, store.IsNew(models.TokenBoost, id))
	}
	assert.True(t, tracker.Snapshot().Seeded)
}

func TestSecondCycleNotifiesOnlyNewRecords(t *testing.T) {
	fetcher := newScriptedFetcher().
		add(models.TokenBoost, boost("r1"), boost("r2"), boost("r3")).
		add(models.TokenBoost, boost("r2"), boost("r3"), boost("r4"))
	dispatcher := &recordingDispatcher{}
	m, _, tracker := newTestMonitor(fetcher, dispatcher)

	require.NoError(t, m.RunCycle(context.Background()))
	require.NoError(t, m.RunCycle(context.Background()))

	assert.Equal(t, []string{"r4"}, dispatcher.identities())
	s := tracker.Snapshot()
	assert.Equal(t, int64(1), s.NotificationsSent)
	assert.Equal(t, int64(1), s.NewRecords[models.TokenBoost])
	assert.Equal(t, int64(6), s.RecordsSeen[models.TokenBoost])
	assert.Equal(t, int64(2), s.Cycles)
}

func TestRepeatedSnapshotIsIdempotent(t *testing.T) {
	fetcher := newScriptedFetcher().
		add(models.TokenBoost, boost("r1")).
		add(models.TokenBoost, boost("r1"), boost("r2"))
	dispatcher := &recordingDispatcher{}
	m, _, _ := newTestMonitor(fetcher, dispatcher)

	for i := 0; i < 4; i++ {
		require.NoError(t, m.RunCycle(context.Background()))
	}

	assert.Equal(t, []string{"r2"}, dispatcher.identities())
}

func TestNotificationsFollowUpstreamOrder(t *testing.T) {
	fetcher := newScriptedFetcher().
		add(models.TokenBoost).
		add(models.TokenBoost, boost("a"), boost("b"), boost("c"))
	dispatcher := &recordingDispatcher{}
	m, _, _ := newTestMonitor(fetcher, dispatcher)

	require.NoError(t, m.RunCycle(context.Background()))
	require.NoError(t, m.RunCycle(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, dispatcher.identities())
}

func TestFeedsAreProcessedInFixedOrder(t *testing.T) {
	fetcher := newScriptedFetcher()
	m, _, _ := newTestMonitor(fetcher, &recordingDispatcher{})

	require.NoError(t, m.RunCycle(context.Background()))

	assert.Equal(t, models.AllFeedKinds, fetcher.order)
}

func TestFetchFailureDoesNotBlockOtherFeeds(t *testing.T) {
	tests := []struct {
		name   string
		reason dexscreener.Reason
	}{
		{name: "unreachable", reason: dexscreener.Unreachable},
		{name: "timeout", reason: dexscreener.Timeout},
		{name: "bad response", reason: dexscreener.BadResponse},
		{name: "parse failure", reason: dexscreener.ParseFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newScriptedFetcher().
				add(models.BannerAd).
				failWith(models.BannerAd, tt.reason).
				add(models.TokenBoost).
				add(models.TokenBoost, boost("b1"))
			dispatcher := &recordingDispatcher{}
			m, _, tracker := newTestMonitor(fetcher, dispatcher)

			require.NoError(t, m.RunCycle(context.Background()))
			require.NoError(t, m.RunCycle(context.Background()))

			assert.Equal(t, []string{"b1"}, dispatcher.identities())
			s := tracker.Snapshot()
			assert.Equal(t, int64(1), s.FetchFailures[models.BannerAd])
			assert.Equal(t, int64(1), s.FailureStreak[models.BannerAd])
			assert.Zero(t, s.FetchFailures[models.TokenBoost])
			assert.False(t, s.LastSuccessfulCycle.IsZero())
		})
	}
}

func TestKindFailingFirstIsSeededOnFirstSuccess(t *testing.T) {
	fetcher := newScriptedFetcher().
		fail(models.TokenBoost).
		add(models.TokenBoost, boost("r1"), boost("r2")).
		add(models.TokenBoost, boost("r1"), boost("r2"), boost("r3"))
	dispatcher := &recordingDispatcher{}
	m, _, tracker := newTestMonitor(fetcher, dispatcher)

	require.NoError(t, m.RunCycle(context.Background()))
	assert.False(t, tracker.Snapshot().Seeded)

	require.NoError(t, m.RunCycle(context.Background()))
	assert.Empty(t, dispatcher.sent)
	assert.True(t, tracker.Snapshot().Seeded)

	require.NoError(t, m.RunCycle(context.Background()))
	assert.Equal(t, []string{"r3"}, dispatcher.identities())
}

func TestDispatchFailureStillMarksSeen(t *testing.T) {
	fetcher := newScriptedFetcher().
		add(models.TokenBoost).
		add(models.TokenBoost, boost("r1"))
	dispatcher := &recordingDispatcher{err: func(models.Notification) error {
		return &notify.SendError{Permanent: true, Status: http.StatusBadRequest, Description: "Bad Request"}
	}}
	m, store, tracker := newTestMonitor(fetcher, dispatcher)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.RunCycle(context.Background()))
	}

	assert.Len(t, dispatcher.sent, 1)
	assert.False(t, store.IsNew(models.TokenBoost, "r1"))
	assert.Equal(t, int64(1), tracker.Snapshot().DispatchFailures)
	assert.Equal(t, int64(0), tracker.Snapshot().NotificationsSent)
}

func TestUnauthorizedSinkIsFatal(t *testing.T) {
	fetcher := newScriptedFetcher().
		add(models.TokenBoost).
		add(models.TokenBoost, boost("r1"), boost("r2"))
	dispatcher := &recordingDispatcher{err: func(models.Notification) error {
		return &notify.SendError{Permanent: true, Status: http.StatusUnauthorized, Description: "Unauthorized"}
	}}
	m, _, _ := newTestMonitor(fetcher, dispatcher, WithInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := m.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, notify.ErrUnauthorized))
	assert.Len(t, dispatcher.sent, 1)
	assert.Equal(t, Idle, m.State())
}

func TestRunStopsOnCancel(t *testing.T) {
	m, _, tracker := newTestMonitor(newScriptedFetcher(), &recordingDispatcher{}, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, m.Run(ctx))
	assert.GreaterOrEqual(t, tracker.Snapshot().Cycles, int64(1))
}

func TestRecordsWithoutIdentityAreSkipped(t *testing.T) {
	fetcher := newScriptedFetcher().
		add(models.TokenBoost).
		add(models.TokenBoost, models.Record{Kind: models.TokenBoost}, boost("r1"))
	dispatcher := &recordingDispatcher{}
	m, _, tracker := newTestMonitor(fetcher, dispatcher)

	require.NoError(t, m.RunCycle(context.Background()))
	require.NoError(t, m.RunCycle(context.Background()))

	assert.Equal(t, []string{"r1"}, dispatcher.identities())
	assert.Equal(t, int64(1), tracker.Snapshot().Skipped)
}

func TestHistoricalOrdersAreNotNotified(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	order := func(id string, paidAt time.Time) models.Record {
		return models.Record{Kind: models.PaidOrder, Identity: id, ChainID: "solana", TokenAddress: "T", OrderType: "tokenAd", PaidAt: paidAt}
	}

	fetcher := newScriptedFetcher().
		add(models.PaidOrder).
		add(models.PaidOrder, order("old", start.Add(-time.Hour)), order("fresh", start.Add(time.Minute)))
	dispatcher := &recordingDispatcher{}
	m, store, _ := newTestMonitor(fetcher, dispatcher, withClock(func() time.Time { return start }))

	require.NoError(t, m.RunCycle(context.Background()))
	require.NoError(t, m.RunCycle(context.Background()))

	assert.Equal(t, []string{"fresh"}, dispatcher.identities())
	assert.False(t, store.IsNew(models.PaidOrder, "old"))
}

func TestOrderWithoutPaymentTimeIsNotNotified(t *testing.T) {
	undated := models.Record{Kind: models.PaidOrder, Identity: "solana|T|tokenProfile|0", ChainID: "solana", TokenAddress: "T", OrderType: "tokenProfile"}

	fetcher := newScriptedFetcher().
		add(models.PaidOrder).
		add(models.PaidOrder, undated)
	dispatcher := &recordingDispatcher{}
	m, store, _ := newTestMonitor(fetcher, dispatcher)

	require.NoError(t, m.RunCycle(context.Background()))
	require.NoError(t, m.RunCycle(context.Background()))

	assert.Empty(t, dispatcher.sent)
	assert.False(t, store.IsNew(models.PaidOrder, undated.Identity))
}

func TestBoostNotifiesOnlyWhenTotalIncreases(t *testing.T) {
	total := func(n float64) models.Record {
		return models.Record{
			Kind:         models.TokenBoost,
			Identity:     dexscreener.BoostIdentity(dexscreener.Boost{ChainID: "solana", TokenAddress: "T", TotalAmount: &n}),
			ChainID:      "solana",
			TokenAddress: "T",
			Amount:       10,
			TotalAmount:  n,
		}
	}

	fetcher := newScriptedFetcher().
		add(models.TokenBoost, total(50)).
		add(models.TokenBoost, total(40)).
		add(models.TokenBoost, total(50)).
		add(models.TokenBoost, total(60)).
		add(models.TokenBoost, total(60))
	dispatcher := &recordingDispatcher{}
	m, _, _ := newTestMonitor(fetcher, dispatcher, WithKinds(models.TokenBoost))

	for i := 0; i < 5; i++ {
		require.NoError(t, m.RunCycle(context.Background()))
	}

	require.Equal(t, []string{"solana|T|60"}, dispatcher.identities())
	assert.Contains(t, dispatcher.sent[0].Text, "Previous: 50 (+10)")
}

func TestRestoredStoreSkipsSeeding(t *testing.T) {
	store := dedup.NewMemory()
	store.MarkSeen(models.TokenBoost, "r1")

	fetcher := newScriptedFetcher().add(models.TokenBoost, boost("r1"), boost("r2"))
	dispatcher := &recordingDispatcher{}
	m := New(fetcher, store, dispatcher, stats.NewTracker(), WithKinds(models.TokenBoost))

	require.NoError(t, m.RunCycle(context.Background()))

	assert.Equal(t, []string{"r2"}, dispatcher.identities())
}

func TestNotificationsAreDecorated(t *testing.T) {
	profile := models.Record{
		Kind: models.TokenProfile, Identity: "solana|T", ChainID: "solana", TokenAddress: "T",
		ImageURL: "https://cdn/profile.png",
		Links:    []models.Link{{Type: "twitter", URL: "https://x.com/t"}},
	}
	b := models.Record{Kind: models.TokenBoost, Identity: "solana|T|20", ChainID: "Solana", TokenAddress: "T", TotalAmount: 20}

	fetcher := newScriptedFetcher().
		add(models.TokenProfile, profile).
		add(models.TokenBoost).
		add(models.TokenBoost, b)
	dispatcher := &recordingDispatcher{}
	collector := &eventCollector{}
	enricher := staticEnricher{info: &models.TokenInfo{Name: "Tee", Symbol: "TEE", PriceUSD: 2}}
	m, _, _ := newTestMonitor(fetcher, dispatcher, WithEnricher(enricher), WithObserver(collector))

	require.NoError(t, m.RunCycle(context.Background()))
	require.NoError(t, m.RunCycle(context.Background()))

	require.Len(t, dispatcher.sent, 1)
	n := dispatcher.sent[0]
	assert.Equal(t, "https://cdn/profile.png", n.ImageURL)
	assert.Contains(t, n.Text, "https://x.com/t")
	assert.Contains(t, n.Text, "Tee")

	require.Len(t, collector.events, 1)
	assert.True(t, collector.events[0].Delivered)
	assert.Equal(t, "solana|T|20", collector.events[0].Notification.Identity)
}

func TestEnrichmentFailureStillNotifies(t *testing.T) {
	fetcher := newScriptedFetcher().
		add(models.TokenBoost).
		add(models.TokenBoost, boost("r1"))
	dispatcher := &recordingDispatcher{}
	m, _, _ := newTestMonitor(fetcher, dispatcher, WithEnricher(staticEnricher{err: errors.New("boom")}))

	require.NoError(t, m.RunCycle(context.Background()))
	require.NoError(t, m.RunCycle(context.Background()))

	assert.Equal(t, []string{"r1"}, dispatcher.identities())
}

func TestTriggerIsSerializedWithCycles(t *testing.T) {
	fetcher := newScriptedFetcher().add(models.TokenBoost, boost("r1"))
	m, _, tracker := newTestMonitor(fetcher, &recordingDispatcher{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Trigger(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), tracker.Snapshot().Cycles)
	assert.Equal(t, Idle, m.State())
}
