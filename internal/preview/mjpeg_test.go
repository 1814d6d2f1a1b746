package preview

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/function-store/RpiSimpleNDI/internal/output"
)

func testFrame(width, height int) *output.Frame {
	pixels := make([]byte, width*height*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i] = 200 // red-ish so the JPEG is non-trivial
		pixels[i+3] = 255
	}
	return &output.Frame{
		Width:      width,
		Height:     height,
		Pixels:     pixels,
		CapturedAt: time.Now(),
	}
}

func TestMJPEG_Lifecycle(t *testing.T) {
	m := NewMJPEG(Config{})

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "double start is rejected")
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop(), "stop is idempotent")
}

func TestMJPEG_DeliverRequiresRunning(t *testing.T) {
	m := NewMJPEG(Config{})
	assert.Error(t, m.Deliver(testFrame(4, 4)))
}

func TestMJPEG_DeliverSkipsEncodeWithoutClients(t *testing.T) {
	m := NewMJPEG(Config{})
	require.NoError(t, m.Start())
	defer m.Stop()

	require.NoError(t, m.Deliver(testFrame(4, 4)))
	assert.Equal(t, uint64(0), m.frameCount, "nothing encoded when nobody watches")
}

func TestMJPEG_StreamsFramesToClient(t *testing.T) {
	m := NewMJPEG(Config{})
	require.NoError(t, m.Start())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/preview", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Handler()(rec, req)
	}()

	// Wait for the handler to register its client
	require.Eventually(t, func() bool {
		m.clientsMu.RLock()
		defer m.clientsMu.RUnlock()
		return len(m.clients) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Deliver(testFrame(8, 8)))

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.frameCount == 1
	}, time.Second, 5*time.Millisecond)

	// Stopping closes the client channel and ends the stream
	require.NoError(t, m.Stop())
	<-done

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", rec.Header().Get("Content-Type"))
	body := rec.Body.Bytes()
	assert.Contains(t, string(body), "--frame")
	assert.Contains(t, string(body), "Content-Type: image/jpeg")
	// JPEG SOI marker somewhere in the payload
	assert.Contains(t, string(body), "\xff\xd8")
}

func TestMJPEG_DownscalesWideFrames(t *testing.T) {
	m := NewMJPEG(Config{MaxWidth: 4})
	require.NoError(t, m.Start())
	defer m.Stop()

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Handler()(rec, httptest.NewRequest("GET", "/preview", nil))
	}()
	require.Eventually(t, func() bool {
		m.clientsMu.RLock()
		defer m.clientsMu.RUnlock()
		return len(m.clients) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Deliver(testFrame(8, 8)))
	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.frameCount == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop())
	<-done
}
