package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"klinecollector/pkg/timing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
	errs int
	got  chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 16)} }

func (r *recorder) OnMessage(msg []byte) {
	r.mu.Lock()
	r.msgs = append(r.msgs, string(msg))
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) OnError(error) {
	r.mu.Lock()
	r.errs++
	r.mu.Unlock()
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreams(t *testing.T) {
	got := Streams([]string{"BTCUSDT", "ethusdt"}, []timing.Resolution{timing.Res1m, timing.Res1h})
	assert.Equal(t, []string{"btcusdt@kline_1m", "btcusdt@kline_1h", "ethusdt@kline_1m", "ethusdt@kline_1h"}, got)

	c := NewWSClient("wss://stream.binance.com:9443/", got[:2], time.Second, time.Second, newRecorder(), zap.NewNop())
	assert.Equal(t, "wss://stream.binance.com:9443/stream?streams=btcusdt@kline_1m/btcusdt@kline_1h", c.URL())
}

// go test -v --run TestWSClientReceivesAndReconnects
func TestWSClientReceivesAndReconnects(t *testing.T) {
	var conns atomic.Int32
	var gotStreams atomic.Value
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStreams.Store(r.URL.Query().Get("streams"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)
		_ = conn.WriteMessage(websocket.TextMessage, []byte("msg-"+string(rune('0'+n))))
		if n == 1 {
			return // drop the first connection to force a reconnect
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := newRecorder()
	c := NewWSClient(wsURL(srv), []string{"btcusdt@kline_1m"}, time.Second, 10*time.Millisecond, rec, zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))

	done := make(chan struct{})
	go func() {
		c.Listen(context.Background())
		close(done)
	}()

	rec.wait(t, 2)
	require.NoError(t, c.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after Close")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"msg-1", "msg-2"}, rec.msgs)
	assert.GreaterOrEqual(t, rec.errs, 1)
	assert.Equal(t, "btcusdt@kline_1m", gotStreams.Load())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClientClosed)
}

func TestWSClientStopsOnContextCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewWSClient(wsURL(srv), []string{"btcusdt@kline_1s"}, time.Second, time.Second, newRecorder(), zap.NewNop())
	require.NoError(t, c.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Listen(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestWSClientDialFailure(t *testing.T) {
	c := NewWSClient("ws://127.0.0.1:1", []string{"btcusdt@kline_1m"}, 200*time.Millisecond, time.Second, newRecorder(), zap.NewNop())
	assert.Error(t, c.Connect(context.Background()))
}
