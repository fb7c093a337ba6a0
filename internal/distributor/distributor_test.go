package distributor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/queue"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/search"
)

type captureConn struct {
	mu     sync.Mutex
	frames [][]byte
	fail   error
	closed atomic.Bool
}

func (c *captureConn) Send(payload []byte) error {
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return nil
}

func (c *captureConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *captureConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type failingStore struct {
	search.Store
	calls atomic.Int32
}

func (f *failingStore) UpsertResult(context.Context, moderation.AnalysisResult) error {
	f.calls.Add(1)
	return errors.New("index unavailable")
}

func sampleResult(id string, status moderation.Status, score float64) moderation.AnalysisResult {
	return moderation.AnalysisResult{
		ContentID: id,
		Analysis:  `{"category":"SPAM","confidence":90,"reasons":["Contains spam content"],"flagged":true}`,
		Score:     score,
		Status:    status,
		Timestamp: time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC),
	}
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := moderation.Encode(v)
	require.NoError(t, err)
	return data
}

func TestHandleStoresWithoutLiveConnection(t *testing.T) {
	store := search.NewMemoryStore()
	live := NewLiveChannel(zaptest.NewLogger(t))
	d := New(nil, store, zaptest.NewLogger(t), WithSink(live))

	require.False(t, live.Connected())
	err := d.Handle(context.Background(), encode(t, sampleResult("d-1", moderation.StatusRemoved, 90)))
	require.NoError(t, err)

	got, err := store.GetResult(context.Background(), "d-1")
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusRemoved, got.Status)
}

func TestHandlePushesToAttachedConnection(t *testing.T) {
	live := NewLiveChannel(nil)
	conn := &captureConn{}
	live.Attach(conn)
	d := New(nil, search.NewMemoryStore(), nil, WithSink(live))

	require.NoError(t, d.Handle(context.Background(), encode(t, sampleResult("d-2", moderation.StatusApproved, 0))))
	require.Equal(t, 1, conn.count())

	pushed, err := moderation.DecodeAnalysisResult(conn.frames[0])
	require.NoError(t, err)
	assert.Equal(t, "d-2", pushed.ContentID)
}

func TestLivePushFailureDoesNotFailHandle(t *testing.T) {
	live := NewLiveChannel(nil)
	live.Attach(&captureConn{fail: errors.New("broken pipe")})
	store := search.NewMemoryStore()
	d := New(nil, store, nil, WithSink(live))

	require.NoError(t, d.Handle(context.Background(), encode(t, sampleResult("d-3", moderation.StatusPending, 80))))
	_, err := store.GetResult(context.Background(), "d-3")
	assert.NoError(t, err)
}

func TestHandleRetriesStoreThenReportsFailure(t *testing.T) {
	store := &failingStore{}
	recent := NewRecent(4)
	d := New(nil, store, nil, WithStoreRetries(2, time.Millisecond), WithSink(recent))

	err := d.Handle(context.Background(), encode(t, sampleResult("d-4", moderation.StatusRemoved, 90)))
	require.Error(t, err)
	assert.Equal(t, int32(3), store.calls.Load())
	assert.Len(t, recent.Snapshot(0), 1, "sinks still see the result")
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	store := search.NewMemoryStore()
	d := New(nil, store, nil)
	err := d.Handle(context.Background(), []byte(`{"score":1}`))
	assert.ErrorIs(t, err, moderation.ErrMalformed)
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	broker := queue.NewMemoryBroker(8)
	pub, err := broker.Publisher("analysis-result")
	require.NoError(t, err)
	sub, err := broker.Subscriber("analysis-result", "analysis-results-group")
	require.NoError(t, err)
	defer sub.Close()

	store := search.NewMemoryStore()
	stats := NewStats()
	d := New(sub, store, zaptest.NewLogger(t), WithSink(stats))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, pub.Publish(ctx, "r-1", []byte("not json")))
	require.NoError(t, pub.Publish(ctx, "r-2", encode(t, sampleResult("r-2", moderation.StatusRemoved, 90))))

	require.Eventually(t, func() bool {
		_, err := store.GetResult(context.Background(), "r-2")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("distributor did not stop")
	}
	assert.Equal(t, 1, stats.Snapshot().Total)
}

func TestAttachClosesSupersededConnection(t *testing.T) {
	live := NewLiveChannel(nil)
	first, second := &captureConn{}, &captureConn{}
	live.Attach(first)
	live.Attach(second)

	assert.True(t, first.closed.Load())
	assert.False(t, second.closed.Load())
	assert.False(t, live.Detach(first), "stale detach must not clear the new connection")
	assert.True(t, live.Push(sampleResult("x", moderation.StatusApproved, 0)))
	assert.Equal(t, 1, second.count())

	assert.True(t, live.Detach(second))
	assert.False(t, live.Connected())
	assert.False(t, live.Push(sampleResult("y", moderation.StatusApproved, 0)))
}

// supersededConn is replaced by a new attachment while its Send is running.
type supersededConn struct {
	live *LiveChannel
	next Conn
}

func (c *supersededConn) Send([]byte) error {
	c.live.Attach(c.next)
	return ErrConnClosed
}

func (c *supersededConn) Close() error { return nil }

func TestPushFollowsConnectionAttachedDuringSend(t *testing.T) {
	live := NewLiveChannel(zaptest.NewLogger(t))
	next := &captureConn{}
	live.Attach(&supersededConn{live: live, next: next})

	assert.True(t, live.Push(sampleResult("race", moderation.StatusApproved, 0)))
	assert.Equal(t, 1, next.count())
}

func TestConcurrentAttachAndPush(t *testing.T) {
	live := NewLiveChannel(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			live.Attach(&captureConn{})
		}()
		go func() {
			defer wg.Done()
			live.Push(sampleResult("c", moderation.StatusApproved, 0))
		}()
	}
	wg.Wait()
	assert.True(t, live.Connected())
	require.NoError(t, live.Close())
	assert.False(t, live.Connected())
}

func TestWebsocketConnDeliversFrames(t *testing.T) {
	live := NewLiveChannel(zaptest.NewLogger(t))
	upgrader := websocket.Upgrader{}
	served := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(served)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWebsocketConn(ws, time.Second)
		live.Attach(conn)
		conn.ReadPump(zaptest.NewLogger(t))
		live.Detach(conn)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, live.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.True(t, live.Push(sampleResult("ws-1", moderation.StatusRemoved, 90)))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := client.ReadMessage()
	require.NoError(t, err)
	pushed, err := moderation.DecodeAnalysisResult(frame)
	require.NoError(t, err)
	assert.Equal(t, "ws-1", pushed.ContentID)

	require.NoError(t, client.Close())
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("server handler did not return after client closed")
	}
	assert.False(t, live.Connected())
	assert.False(t, live.Push(sampleResult("ws-2", moderation.StatusApproved, 0)))
}

func TestWebsocketSendAfterClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan *WebsocketConn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- NewWebsocketConn(ws, time.Second)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	conn := <-conns
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send([]byte("{}")), ErrConnClosed)
	_ = conn.Close()
	select {
	case <-conn.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestRecentSnapshotNewestFirst(t *testing.T) {
	recent := NewRecent(2)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, recent.Consume(sampleResult(id, moderation.StatusApproved, 0)))
	}
	got := recent.Snapshot(0)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ContentID)
	assert.Equal(t, "b", got[1].ContentID)
	assert.Len(t, recent.Snapshot(1), 1)
}

func TestStatsGroupsByStatusAndCategory(t *testing.T) {
	stats := NewStats()
	require.NoError(t, stats.Consume(sampleResult("a", moderation.StatusRemoved, 90)))
	safe := sampleResult("b", moderation.StatusApproved, 0)
	safe.Analysis = `{"category":"SAFE","confidence":0,"reasons":[],"flagged":false}`
	require.NoError(t, stats.Consume(safe))
	odd := sampleResult("c", moderation.StatusApproved, 10)
	odd.Analysis = "not json"
	require.NoError(t, stats.Consume(odd))

	snap := stats.Snapshot()
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.ByStatus["APPROVED"].Count)
	assert.Equal(t, float64(5), snap.ByStatus["APPROVED"].Mean)
	assert.Equal(t, float64(10), snap.ByStatus["APPROVED"].Max)
	assert.Equal(t, 1, snap.ByCategory["SPAM"].Count)
	assert.Equal(t, 1, snap.ByCategory["SAFE"].Count)
	assert.Equal(t, 1, snap.ByCategory["UNKNOWN"].Count)
}
