package control

import (
	"context"
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
)

// testRelay is a minimal upstream bridge endpoint: it accepts one
// WebSocket connection and records everything the receiver sends.
type testRelay struct {
	srv *httptest.Server

	mu   sync.Mutex
	conn *websocket.Conn
	msgs []Response
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()

	r := &testRelay{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()

		for {
			var resp Response
			if err := conn.ReadJSON(&resp); err != nil {
				return
			}
			r.mu.Lock()
			r.msgs = append(r.msgs, resp)
			r.mu.Unlock()
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *testRelay) send(t *testing.T, v any) {
	t.Helper()
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	require.NotNil(t, conn)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func (r *testRelay) received() []Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Response(nil), r.msgs...)
}

func TestBridge_PushesInitialState(t *testing.T) {
	plane, _, _ := newTestPlane(t, "HOST (main_led)")
	relay := newTestRelay(t)

	bridge := NewBridge(relay.url(), plane)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	require.Eventually(t, func() bool {
		return len(relay.received()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	first := relay.received()[0]
	assert.Equal(t, "state_update", first.Action)
	require.NotNil(t, first.State)
	assert.Equal(t, "rpi-test", first.State.ComponentID)
	assert.True(t, bridge.Connected())
}

func TestBridge_AppliesAddressedCommands(t *testing.T) {
	plane, sup, _ := newTestPlane(t, "HOST (main_led)")
	relay := newTestRelay(t)

	bridge := NewBridge(relay.url(), plane)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)

	require.Eventually(t, bridge.Connected, 2*time.Second, 10*time.Millisecond)

	// Addressed to another receiver: ignored
	relay.send(t, map[string]any{"action": "set_lock", "locked": true, "component_id": "other-rpi"})
	// Addressed to us: applied
	relay.send(t, map[string]any{"action": "set_lock", "locked": true, "component_id": "rpi-test"})

	require.Eventually(t, sup.Locked, 2*time.Second, 10*time.Millisecond)
}

func TestBridge_QueuesNothingWhileDisconnected(t *testing.T) {
	plane, _, _ := newTestPlane(t, "HOST (main_led)")
	bridge := NewBridge("ws://127.0.0.1:1/nowhere", plane)

	// Registered but down: broadcasts must not error or accumulate
	assert.True(t, bridge.enqueue([]byte(`{}`)))
	assert.False(t, bridge.Connected())
	assert.Empty(t, bridge.send)
}
