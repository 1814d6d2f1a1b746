package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, sources ...string) (*Server, *httptest.Server) {
	t.Helper()

	plane, _, _ := newTestPlane(t, sources...)
	s := NewServer(plane)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServer_GetState(t *testing.T) {
	_, ts := newTestServer(t, "HOST (main_led)")

	resp, err := http.Get(ts.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "rpi-test", snap.ComponentID)
	assert.Equal(t, []string{"HOST (main_led)"}, snap.Sources)
}

func TestServer_GetSources(t *testing.T) {
	_, ts := newTestServer(t, "HOST (main_led)", "HOST (aux)")

	resp, err := http.Get(ts.URL + "/api/sources")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"HOST (main_led)", "HOST (aux)"}, body["sources"])
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_WebSocketSession(t *testing.T) {
	_, ts := newTestServer(t, "HOST (main_led)")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// New controllers get the state without asking
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var initial Response
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, "state_update", initial.Action)
	require.NotNil(t, initial.State)
	assert.Equal(t, "rpi-test", initial.State.ComponentID)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "ping"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong Response
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong.Action)
}

func TestServer_WebSocketCommandMutatesState(t *testing.T) {
	s, ts := newTestServer(t, "HOST (main_led)")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var initial Response
	require.NoError(t, conn.ReadJSON(&initial))

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "set_lock", "locked": true}))

	// The change broadcast and the direct reply both carry the new state
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var next Response
	require.NoError(t, conn.ReadJSON(&next))
	require.NotNil(t, next.State)
	assert.True(t, next.State.Locked)
	assert.True(t, s.plane.sup.Locked())
}
