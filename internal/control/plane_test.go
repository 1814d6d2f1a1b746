package control

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/function-store/RpiSimpleNDI/internal/persist"
	"github.com/function-store/RpiSimpleNDI/internal/pump"
	"github.com/function-store/RpiSimpleNDI/internal/source"
	"github.com/function-store/RpiSimpleNDI/internal/supervisor"
	"github.com/function-store/RpiSimpleNDI/internal/transport/transporttest"
)

// fakeController records broadcasts and replies.
type fakeController struct {
	mu   sync.Mutex
	msgs [][]byte
	dead bool
}

func (f *fakeController) enqueue(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeController) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func (f *fakeController) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return nil
	}
	return f.msgs[len(f.msgs)-1]
}

func newTestPlane(t *testing.T, sources ...string) (*Plane, *supervisor.Supervisor, *transporttest.Fake) {
	t.Helper()

	tr := transporttest.New(sources...)
	registry := source.NewRegistry(tr, source.RegistryConfig{PollInterval: time.Hour})
	registry.Start()
	t.Cleanup(func() { registry.Close() })

	matcher, err := source.Compile(source.Policy{Pattern: ".*_led", PluralHandling: true})
	require.NoError(t, err)

	sup := supervisor.New(tr, registry, matcher, supervisor.Config{CheckInterval: time.Nanosecond})
	t.Cleanup(func() { sup.Close() })

	pmp := pump.New(sup, nil, pump.Config{})
	store := persist.NewStore(filepath.Join(t.TempDir(), "state.json"))

	identity := Identity{ComponentID: "rpi-test", ComponentName: "Test Receiver"}
	return NewPlane(identity, sup, registry, matcher, pmp, store, Config{}), sup, tr
}

func TestGetSnapshot_Fields(t *testing.T) {
	plane, sup, _ := newTestPlane(t, "HOST (main_led)", "HOST (aux)")
	require.True(t, sup.EnsureConnected())

	snap := plane.GetSnapshot()
	assert.Equal(t, "rpi-test", snap.ComponentID)
	assert.Equal(t, "Test Receiver", snap.ComponentName)
	assert.Equal(t, []string{"HOST (main_led)", "HOST (aux)"}, snap.Sources)
	assert.Equal(t, []string{"HOST (main_led)"}, snap.CurrentSources)
	assert.Equal(t, "HOST (main_led)", snap.CurrentSource)
	assert.Equal(t, []string{".*_led"}, snap.RegexPatterns)
	assert.Equal(t, []string{".*_leds?"}, snap.EffectiveRegexPatterns)
	assert.True(t, snap.PluralHandlingEnabled)
	assert.Equal(t, []bool{false}, snap.Locks)
	assert.True(t, snap.Connected)
	assert.Greater(t, snap.LastUpdate, 0.0)
}

func TestSnapshot_WireFieldNames(t *testing.T) {
	plane, _, _ := newTestPlane(t, "HOST (main_led)")

	data, err := json.Marshal(plane.GetSnapshot())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{
		"componentId", "componentName", "sources", "currentSources",
		"regexPatterns", "effectiveRegexPatterns", "outputResolutions",
		"pluralHandlingEnabled", "locks", "lastUpdate",
		"currentSource", "connected", "fps", "pattern", "locked",
	} {
		assert.Contains(t, raw, key)
	}
}

func TestApply_SetSource(t *testing.T) {
	plane, sup, _ := newTestPlane(t, "HOST (main_led)", "HOST (aux)")

	resp, err := plane.Apply(SetSource{SourceName: "HOST (aux)"})
	require.NoError(t, err)
	assert.Equal(t, "state_update", resp.Action)
	require.NotNil(t, resp.State)
	assert.Equal(t, "HOST (aux)", resp.State.CurrentSource)
	assert.Equal(t, "HOST (aux)", sup.State().ActiveSource)
}

func TestApply_SetSourceUnknown(t *testing.T) {
	plane, _, _ := newTestPlane(t, "HOST (main_led)")

	_, err := plane.Apply(SetSource{SourceName: "HOST (ghost)"})
	require.Error(t, err)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	// The cause travels to the controller so "not found" and "connect
	// failed" stay distinguishable
	assert.Contains(t, cmdErr.Message, "not found")
	assert.Contains(t, cmdErr.Message, "HOST (ghost)")
}

func TestApply_SetLockBroadcastsOnlyOnChange(t *testing.T) {
	plane, _, _ := newTestPlane(t, "HOST (main_led)")
	ctrl := &fakeController{}
	plane.addController(ctrl)

	_, err := plane.Apply(SetLock{Locked: true})
	require.NoError(t, err)
	assert.Equal(t, 1, ctrl.count())

	// Same value again: state unchanged, nothing pushed
	_, err = plane.Apply(SetLock{Locked: true})
	require.NoError(t, err)
	assert.Equal(t, 1, ctrl.count())

	_, err = plane.Apply(SetLockGlobal{Locked: false})
	require.NoError(t, err)
	assert.Equal(t, 2, ctrl.count())
}

func TestApply_SaveAndRecall(t *testing.T) {
	plane, sup, _ := newTestPlane(t, "HOST (main_led)", "HOST (backup_led)")
	require.True(t, sup.EnsureConnected())
	sup.SetLocked(true)

	resp, err := plane.Apply(SaveConfiguration{})
	require.NoError(t, err)
	assert.Equal(t, "configuration_saved", resp.Action)

	// Drift away from the saved state
	require.NoError(t, sup.SetSource("HOST (backup_led)"))
	sup.SetLocked(false)

	resp, err = plane.Apply(RecallConfiguration{})
	require.NoError(t, err)
	assert.Equal(t, "configuration_recalled", resp.Action)
	assert.Equal(t, "HOST (main_led)", sup.State().ActiveSource)
	assert.True(t, sup.Locked())
}

func TestApply_RecallWithoutSave(t *testing.T) {
	plane, _, _ := newTestPlane(t, "HOST (main_led)")

	_, err := plane.Apply(RecallConfiguration{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no saved configuration")
}

func TestApply_RecallSkipsVanishedSource(t *testing.T) {
	plane, sup, tr := newTestPlane(t, "HOST (main_led)")
	require.True(t, sup.EnsureConnected())
	sup.SetLocked(true)

	_, err := plane.Apply(SaveConfiguration{})
	require.NoError(t, err)

	sup.SetLocked(false)
	tr.SetSources() // saved source is gone

	resp, err := plane.Apply(RecallConfiguration{})
	require.NoError(t, err, "recall is best effort on a vanished source")
	assert.Equal(t, "configuration_recalled", resp.Action)
	assert.True(t, sup.Locked(), "lock flag still applies")
}

func TestApply_Ping(t *testing.T) {
	plane, _, _ := newTestPlane(t, "HOST (main_led)")

	resp, err := plane.Apply(Ping{})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Action)
	assert.Greater(t, resp.Timestamp, 0.0)
	assert.Nil(t, resp.State)
}

func TestHandleMessage_RepliesWithState(t *testing.T) {
	plane, _, _ := newTestPlane(t, "HOST (main_led)")

	var replies [][]byte
	plane.HandleMessage([]byte(`{"action":"request_state"}`), func(msg []byte) {
		replies = append(replies, msg)
	})

	require.Len(t, replies, 1)
	var resp Response
	require.NoError(t, json.Unmarshal(replies[0], &resp))
	assert.Equal(t, "state_update", resp.Action)
	require.NotNil(t, resp.State)
	assert.Equal(t, "rpi-test", resp.State.ComponentID)
}

func TestHandleMessage_FiltersOtherComponent(t *testing.T) {
	plane, sup, _ := newTestPlane(t, "HOST (main_led)")

	called := false
	plane.HandleMessage(
		[]byte(`{"action":"set_lock","locked":true,"component_id":"someone-else"}`),
		func(msg []byte) { called = true },
	)

	assert.False(t, called, "commands for other components are dropped silently")
	assert.False(t, sup.Locked())
}

func TestHandleMessage_OwnComponentID(t *testing.T) {
	plane, sup, _ := newTestPlane(t, "HOST (main_led)")

	plane.HandleMessage(
		[]byte(`{"action":"set_lock","locked":true,"component_id":"rpi-test"}`),
		nil,
	)
	assert.True(t, sup.Locked())
}

func TestHandleMessage_ErrorReply(t *testing.T) {
	plane, _, _ := newTestPlane(t, "HOST (main_led)")

	var replies [][]byte
	plane.HandleMessage([]byte(`{"action":"warp"}`), func(msg []byte) {
		replies = append(replies, msg)
	})

	require.Len(t, replies, 1)
	var resp Response
	require.NoError(t, json.Unmarshal(replies[0], &resp))
	assert.Equal(t, "error", resp.Action)
	assert.Contains(t, resp.Message, "unknown action")
}

func TestBroadcast_DropsDeadController(t *testing.T) {
	plane, _, _ := newTestPlane(t, "HOST (main_led)")

	live := &fakeController{}
	dead := &fakeController{dead: true}
	plane.addController(live)
	plane.addController(dead)

	plane.Broadcast()
	assert.Equal(t, 1, live.count())

	// The dead controller is gone; the live one keeps receiving
	plane.Broadcast()
	assert.Equal(t, 2, live.count())

	var resp Response
	require.NoError(t, json.Unmarshal(live.last(), &resp))
	assert.Equal(t, "state_update", resp.Action)
}
