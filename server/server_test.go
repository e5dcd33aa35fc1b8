package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexwatch/models"
	"dexwatch/monitor"
	"dexwatch/stats"
)

type fakePoller struct {
	triggered int
	err       error
}

func (p *fakePoller) State() monitor.State {
	return monitor.Sleeping
}

func (p *fakePoller) Interval() time.Duration {
	return 30 * time.Second
}

func (p *fakePoller) Trigger(context.Context) error {
	p.triggered++
	return p.err
}

func newTestServer(poller *fakePoller) (*ServerConfig, *stats.Tracker) {
	tracker := stats.NewTracker()
	return &ServerConfig{
		Poller:      poller,
		Snapshot:    tracker.Snapshot,
		Seen:        func(kind models.FeedKind) int { return int(kind) + 1 },
		Broadcaster: NewBroadcaster(),
	}, tracker
}

func TestStatusEndpoint(t *testing.T) {
	config, tracker := newTestServer(&fakePoller{})
	tracker.RecordSent()
	tracker.RecordFetchFailure(models.TokenBoost)
	app := Server(config)

	resp, err := app.Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var body struct {
		State    string         `json:"state"`
		Interval string         `json:"interval"`
		Seen     map[string]int `json:"seen"`
		Stats    stats.RunStats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "sleeping", body.State)
	assert.Equal(t, "30s", body.Interval)
	assert.Equal(t, 3, body.Seen["boosts"])
	assert.Equal(t, int64(1), body.Stats.NotificationsSent)
	assert.Equal(t, int64(1), body.Stats.FetchFailures[models.TokenBoost])
}

func TestPollEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"success", nil, 200},
		{"failure", errors.New("sink credentials rejected"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poller := &fakePoller{err: tt.err}
			config, _ := newTestServer(poller)
			app := Server(config)

			resp, err := app.Test(httptest.NewRequest("POST", "/poll", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resp.StatusCode)
			assert.Equal(t, 1, poller.triggered)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	config, tracker := newTestServer(&fakePoller{})
	tracker.RecordCycle(time.Second, true)
	app := Server(config)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dexwatch_cycles_total")
}

func TestDeleteSSEClient(t *testing.T) {
	config, _ := newTestServer(&fakePoller{})
	config.Broadcaster.AddClient("abc")
	app := Server(config)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/notifications/sse?key=abc", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 0, config.Broadcaster.Len())

	resp, err = app.Test(httptest.NewRequest("DELETE", "/notifications/sse?key=abc", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("DELETE", "/notifications/sse", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestBroadcasterDeliversToClients(t *testing.T) {
	bc := NewBroadcaster()
	a := bc.AddClient("a")
	b := bc.AddClient("b")

	event := models.NotificationEvent{Notification: models.Notification{Identity: "x"}, Delivered: true}
	bc.OnNotification(event)

	assert.Equal(t, event, <-a)
	assert.Equal(t, event, <-b)

	bc.Shutdown()
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, 0, bc.Len())
}

func TestBroadcasterDropsWhenClientIsSlow(t *testing.T) {
	bc := NewBroadcaster()
	ch := bc.AddClient("slow")

	for i := 0; i < clientBuffer+5; i++ {
		bc.Broadcast(models.NotificationEvent{})
	}
	assert.Len(t, ch, clientBuffer)
}

func TestStreamEvents(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	events := make(chan models.NotificationEvent, 1)
	events <- models.NotificationEvent{Notification: models.Notification{Kind: models.TokenBoost, Identity: "solana|A|10"}}
	close(events)

	streamEvents(w, "key-1", events)

	out := buf.String()
	assert.Contains(t, out, "event: init\ndata: key-1\n\n")
	assert.Contains(t, out, "event: notification\ndata: ")
	assert.Contains(t, out, `"identity":"solana|A|10"`)
	assert.Contains(t, out, `"kind":"boosts"`)
}
