package notify

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"esm-federation/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func quietOptions() SubscriptionOptions {
	logger := zerolog.Nop()
	return SubscriptionOptions{
		Logger:     &logger,
		NewBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) },
	}
}

func quietBroadcaster() *Broadcaster {
	logger := zerolog.Nop()
	return NewBroadcaster(BroadcasterOptions{Logger: &logger})
}

func nextEvent(t *testing.T, sub *Subscription) types.BuildEvent {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for build event")
	}
	return types.BuildEvent{}
}

func connect(t *testing.T, broadcaster *Broadcaster, sub *Subscription) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sub.Connected() && broadcaster.Clients() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// ----------------------------------------------------------------------------
// Subscription
// ----------------------------------------------------------------------------

func TestSubscriptionReceivesPublishedEvents(t *testing.T) {
	broadcaster := quietBroadcaster()
	server := httptest.NewServer(broadcaster)
	defer server.Close()

	sub, err := Subscribe(t.Context(), types.BuildNotificationConfig{Endpoint: server.URL}, quietOptions())
	require.NoError(t, err)
	connect(t, broadcaster, sub)

	stamp := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, broadcaster.Publish(types.BuildEvent{Type: types.BuildEventComplete, RemoteName: "checkout", Timestamp: stamp}))

	event := nextEvent(t, sub)
	assert.Equal(t, types.BuildEventComplete, event.Type)
	assert.Equal(t, "checkout", event.RemoteName)
	assert.True(t, stamp.Equal(event.Timestamp))

	sub.Close()
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestSubscriptionFiltersEventTypes(t *testing.T) {
	broadcaster := quietBroadcaster()
	server := httptest.NewServer(broadcaster)
	defer server.Close()

	config := types.BuildNotificationConfig{Endpoint: server.URL, Events: []types.BuildEventType{types.BuildEventComplete}}
	sub, err := Subscribe(t.Context(), config, quietOptions())
	require.NoError(t, err)
	defer sub.Close()
	connect(t, broadcaster, sub)

	broadcaster.Publish(types.BuildEvent{Type: types.BuildEventStart, RemoteName: "checkout"})
	broadcaster.Publish(types.BuildEvent{Type: types.BuildEventError, RemoteName: "checkout"})
	broadcaster.Publish(types.BuildEvent{Type: types.BuildEventComplete, RemoteName: "checkout"})

	event := nextEvent(t, sub)
	assert.Equal(t, types.BuildEventComplete, event.Type)
}

func TestSubscriptionReconnectsAfterStreamLoss(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		remote := "checkout"
		if n > 1 {
			remote = "catalog"
		}
		_ = writeEvent(w, types.BuildEvent{Type: types.BuildEventComplete, RemoteName: remote})
		w.(http.Flusher).Flush()
		if n == 1 {
			return
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	sub, err := Subscribe(t.Context(), types.BuildNotificationConfig{Endpoint: server.URL}, quietOptions())
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, "checkout", nextEvent(t, sub).RemoteName)
	assert.Equal(t, "catalog", nextEvent(t, sub).RemoteName)
	assert.GreaterOrEqual(t, connections.Load(), int32(2))
}

func TestSubscriptionRetriesUnavailableEndpoint(t *testing.T) {
	broadcaster := quietBroadcaster()
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		broadcaster.ServeHTTP(w, r)
	}))
	defer server.Close()

	sub, err := Subscribe(t.Context(), types.BuildNotificationConfig{Endpoint: server.URL}, quietOptions())
	require.NoError(t, err)
	defer sub.Close()
	connect(t, broadcaster, sub)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestSubscriptionStopsWhenBackOffGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	opts := quietOptions()
	opts.NewBackOff = func() backoff.BackOff { return &backoff.StopBackOff{} }
	sub, err := Subscribe(t.Context(), types.BuildNotificationConfig{Endpoint: server.URL}, opts)
	require.NoError(t, err)

	select {
	case _, open := <-sub.Events():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
	sub.Close()
}

func TestSubscribeRequiresEndpoint(t *testing.T) {
	_, err := Subscribe(t.Context(), types.BuildNotificationConfig{}, quietOptions())
	require.Error(t, err)
}

func TestSubscriptionHandlersRunInOrder(t *testing.T) {
	broadcaster := quietBroadcaster()
	server := httptest.NewServer(broadcaster)
	defer server.Close()

	var mu sync.Mutex
	var calls []string
	opts := quietOptions()
	opts.Handlers = []EventHandler{func(event types.BuildEvent) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "first:"+event.RemoteName)
	}}
	sub, err := Subscribe(t.Context(), types.BuildNotificationConfig{Endpoint: server.URL}, opts)
	require.NoError(t, err)
	defer sub.Close()
	cancel := sub.OnEvent(func(event types.BuildEvent) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, "second:"+event.RemoteName)
	})
	connect(t, broadcaster, sub)

	broadcaster.Publish(types.BuildEvent{Type: types.BuildEventStart, RemoteName: "a"})
	nextEvent(t, sub)
	cancel()
	broadcaster.Publish(types.BuildEvent{Type: types.BuildEventStart, RemoteName: "b"})
	nextEvent(t, sub)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first:a", "second:a", "first:b"}, calls)
}

// ----------------------------------------------------------------------------
// Watch
// ----------------------------------------------------------------------------

type fakeRefresher struct {
	mu        sync.Mutex
	refreshed []string
	cleared   int
}

func (f *fakeRefresher) RefreshRemote(ctx context.Context, remote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, remote)
	return nil
}

func (f *fakeRefresher) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func TestWatchRefreshesOnlyOnBuildComplete(t *testing.T) {
	broadcaster := quietBroadcaster()
	server := httptest.NewServer(broadcaster)
	defer server.Close()

	refresher := &fakeRefresher{}
	sub, err := WatchFederationBuildCompletion(t.Context(), refresher, types.BuildNotificationConfig{Endpoint: server.URL}, quietOptions())
	require.NoError(t, err)
	defer sub.Close()
	connect(t, broadcaster, sub)

	broadcaster.Publish(types.BuildEvent{Type: types.BuildEventStart, RemoteName: "checkout"})
	broadcaster.Publish(types.BuildEvent{Type: types.BuildEventError, RemoteName: "checkout", Message: "syntax error"})
	assert.Equal(t, types.BuildEventStart, nextEvent(t, sub).Type)
	failed := nextEvent(t, sub)
	assert.Equal(t, "syntax error", failed.Message)

	refresher.mu.Lock()
	assert.Empty(t, refresher.refreshed)
	assert.Zero(t, refresher.cleared)
	refresher.mu.Unlock()

	broadcaster.Publish(types.BuildEvent{Type: types.BuildEventComplete, RemoteName: "checkout"})
	broadcaster.Publish(types.BuildEvent{Type: types.BuildEventComplete})
	nextEvent(t, sub)
	nextEvent(t, sub)

	refresher.mu.Lock()
	defer refresher.mu.Unlock()
	assert.Equal(t, []string{"checkout"}, refresher.refreshed)
	assert.Equal(t, 1, refresher.cleared)
}

// ----------------------------------------------------------------------------
// Broadcaster and framing
// ----------------------------------------------------------------------------

func TestBroadcasterDropsForFullClients(t *testing.T) {
	broadcaster := quietBroadcaster()
	client := make(chan types.BuildEvent, 1)
	broadcaster.mu.Lock()
	broadcaster.clients[client] = struct{}{}
	broadcaster.mu.Unlock()

	assert.Equal(t, 1, broadcaster.Publish(types.BuildEvent{Type: types.BuildEventStart}))
	assert.Equal(t, 0, broadcaster.Publish(types.BuildEvent{Type: types.BuildEventComplete}))
	assert.Equal(t, 1.0, testutil.ToFloat64(broadcaster.dropped))
	assert.False(t, (<-client).Timestamp.IsZero())
}

func TestBroadcasterSendsHeartbeats(t *testing.T) {
	logger := zerolog.Nop()
	broadcaster := NewBroadcaster(BroadcasterOptions{Heartbeat: 10 * time.Millisecond, Logger: &logger})
	server := httptest.NewServer(broadcaster)
	defer server.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var seen []string
	for len(seen) < 2 && scanner.Scan() {
		if line := scanner.Text(); line != "" {
			seen = append(seen, line)
		}
	}
	assert.Equal(t, []string{": connected", ": heartbeat"}, seen)
}

func TestReadEventsFraming(t *testing.T) {
	stream := strings.Join([]string{
		": connected",
		"",
		"event: build-error",
		`data: {"remoteName":"checkout",`,
		`data: "message":"boom"}`,
		"",
		"event: reload",
		"data: {}",
		"",
		"data: no event name",
		"",
	}, "\n")

	var got []rawEvent
	require.NoError(t, readEvents(strings.NewReader(stream), func(raw rawEvent) bool {
		got = append(got, raw)
		return true
	}))
	require.Len(t, got, 3)

	event, ok := decodeBuildEvent(got[0])
	require.True(t, ok)
	assert.Equal(t, types.BuildEventError, event.Type)
	assert.Equal(t, "checkout", event.RemoteName)
	assert.Equal(t, "boom", event.Message)

	_, ok = decodeBuildEvent(got[1])
	assert.False(t, ok)
	assert.Equal(t, "message", got[2].name)
}
