package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, maxClients int) (*Hub, string) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), maxClients)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcast(t *testing.T) {
	hub, url := startHub(t, 10)
	a := dial(t, url)
	b := dial(t, url)
	waitClients(t, hub, 2)

	hub.Publish(EventSnapshot, map[string]any{"label": "Día 1"})

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, EventSnapshot, ev.Type)
		assert.Equal(t, "Día 1", ev.Data.(map[string]any)["label"])
	}
}

func TestHubReplaysLastEvent(t *testing.T) {
	hub, url := startHub(t, 10)
	hub.Publish(EventDecision, map[string]any{"winner": "B"})
	require.Eventually(t, func() bool {
		hub.lastMutex.Lock()
		defer hub.lastMutex.Unlock()
		return hub.last != nil
	}, 2*time.Second, 10*time.Millisecond)

	conn := dial(t, url)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventDecision, ev.Type)
}

func TestHubMaxClients(t *testing.T) {
	hub, url := startHub(t, 1)
	dial(t, url)
	waitClients(t, hub, 1)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestHubMaxClientsUnderConcurrentDials(t *testing.T) {
	hub, url := startHub(t, 2)
	var wg sync.WaitGroup
	var accepted, refused atomic.Int32
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				if resp != nil && resp.StatusCode == 503 {
					refused.Add(1)
				}
				return
			}
			accepted.Add(1)
			t.Cleanup(func() { conn.Close() })
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), accepted.Load())
	assert.Equal(t, int32(10), refused.Load())
	waitClients(t, hub, 2)
}

func TestHubClientLeaves(t *testing.T) {
	hub, url := startHub(t, 10)
	conn := dial(t, url)
	waitClients(t, hub, 1)
	conn.Close()
	waitClients(t, hub, 0)
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			hub.Publish(EventSnapshot, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked without a running hub")
	}
}
