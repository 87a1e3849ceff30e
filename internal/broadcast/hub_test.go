package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ops-gateway/internal/logging"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal(raw, &evt))
	return evt
}

func TestConnectSendsConnectedFrame(t *testing.T) {
	hub := NewHub(logging.NewNop())
	srv := newTestServer(t, hub)

	conn := dial(t, srv)

	evt := readEvent(t, conn)
	assert.Equal(t, "connected", evt.Type)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestPingPong(t *testing.T) {
	hub := NewHub(logging.NewNop())
	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	require.Equal(t, "connected", readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))

	assert.Equal(t, "pong", readEvent(t, conn).Type)
}

func TestPublishReachesUnfilteredClient(t *testing.T) {
	hub := NewHub(logging.NewNop())
	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	require.Equal(t, "connected", readEvent(t, conn).Type)
	waitForClients(t, hub, 1)

	hub.Publish("tasks", "task.created", map[string]any{"id": "t1"})

	evt := readEvent(t, conn)
	assert.Equal(t, "task.created", evt.Type)
	assert.Equal(t, "tasks", evt.Channel)
}

func TestSubscribeFiltersChannels(t *testing.T) {
	hub := NewHub(logging.NewNop())
	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	require.Equal(t, "connected", readEvent(t, conn).Type)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "channels": []string{"alerts"}}))
	require.Equal(t, "subscribed", readEvent(t, conn).Type)

	hub.Publish("tasks", "task.created", nil)
	hub.Publish("alerts", "alert.received", nil)

	// The tasks event must be filtered out; the first frame seen is the
	// alert.
	evt := readEvent(t, conn)
	assert.Equal(t, "alert.received", evt.Type)
}

func TestSubscribeReplacesChannelSet(t *testing.T) {
	hub := NewHub(logging.NewNop())
	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	require.Equal(t, "connected", readEvent(t, conn).Type)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "channels": []string{"tasks"}}))
	require.Equal(t, "subscribed", readEvent(t, conn).Type)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "channels": []string{"monitor"}}))
	require.Equal(t, "subscribed", readEvent(t, conn).Type)

	hub.Publish("tasks", "task.created", nil)
	hub.Publish("monitor", "health.snapshot", nil)

	evt := readEvent(t, conn)
	assert.Equal(t, "health.snapshot", evt.Type)
}

func TestEmptyChannelReachesSubscribedClient(t *testing.T) {
	hub := NewHub(logging.NewNop())
	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	require.Equal(t, "connected", readEvent(t, conn).Type)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "channels": []string{"alerts"}}))
	require.Equal(t, "subscribed", readEvent(t, conn).Type)

	hub.Publish("", "shutdown", nil)

	assert.Equal(t, "shutdown", readEvent(t, conn).Type)
}

func TestPublishWhileClientsDisconnect(t *testing.T) {
	hub := NewHub(logging.NewNop())
	srv := newTestServer(t, hub)

	// Publish continuously from another goroutine while clients churn;
	// a client torn down mid-publish must not take the process down.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.Publish("tasks", "task.created", map[string]any{"id": "t1"})
			}
		}
	}()

	for i := 0; i < 25; i++ {
		conn := dial(t, srv)
		require.Equal(t, "connected", readEvent(t, conn).Type)
		conn.Close()
	}

	close(stop)
	wg.Wait()
	waitForClients(t, hub, 0)
}

func TestDisconnectReleasesClient(t *testing.T) {
	hub := NewHub(logging.NewNop())
	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	require.Equal(t, "connected", readEvent(t, conn).Type)
	waitForClients(t, hub, 1)

	conn.Close()

	waitForClients(t, hub, 0)
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d, have %d", want, hub.ClientCount())
}
