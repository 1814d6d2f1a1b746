// Package preview streams normalized frames as Motion JPEG over HTTP so an
// operator can eyeball the feed from a browser. It is an optional sink; the
// real renderer sits behind the output.Sink contract elsewhere.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/function-store/RpiSimpleNDI/internal/logger"
	"github.com/function-store/RpiSimpleNDI/internal/output"
)

// Config tunes the preview stream.
type Config struct {
	// MaxWidth caps the streamed width; larger frames are downscaled
	// preserving aspect. Zero streams at native resolution.
	MaxWidth int
	// Quality is the JPEG quality, default 80.
	Quality int
}

// MJPEG is an output.Sink that fans encoded frames out to HTTP clients.
type MJPEG struct {
	config  Config
	running bool
	mu      sync.RWMutex

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount uint64
	startTime  time.Time
}

// NewMJPEG creates the preview sink. Mount its Handler on the control
// server before starting.
func NewMJPEG(config Config) *MJPEG {
	if config.Quality <= 0 {
		config.Quality = 80
	}
	return &MJPEG{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the sink.
func (m *MJPEG) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("preview already running")
	}
	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("preview").Info().Msg("MJPEG preview started")
	return nil
}

// Stop shuts down the sink and drops all stream clients.
func (m *MJPEG) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("preview").Info().Uint64("frames", m.frameCount).Msg("MJPEG preview stopped")
	return nil
}

// Name returns the sink name.
func (m *MJPEG) Name() string {
	return "mjpeg-preview"
}

// Deliver encodes the frame and fans it out. Slow clients skip frames.
func (m *MJPEG) Deliver(frame *output.Frame) error {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if !running {
		return fmt.Errorf("preview not running")
	}

	m.clientsMu.RLock()
	clientCount := len(m.clients)
	m.clientsMu.RUnlock()
	if clientCount == 0 {
		// Nobody watching; skip the encode entirely
		return nil
	}

	img := &image.RGBA{
		Pix:    frame.Pixels,
		Stride: frame.Width * 4,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}

	var encodeImg image.Image = img
	if m.config.MaxWidth > 0 && frame.Width > m.config.MaxWidth {
		scale := float64(m.config.MaxWidth) / float64(frame.Width)
		dst := image.NewRGBA(image.Rect(0, 0, m.config.MaxWidth, int(float64(frame.Height)*scale)))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		encodeImg = dst
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, encodeImg, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("encode preview frame: %w", err)
	}
	jpegData := buf.Bytes()

	m.mu.Lock()
	m.frameCount++
	m.mu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Handler returns the multipart MJPEG stream endpoint.
func (m *MJPEG) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithComponent("preview")

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()
		log.Info().Int("total", clientCount).Msg("Preview client connected")

		defer func() {
			m.clientsMu.Lock()
			if _, ok := m.clients[frameChan]; ok {
				delete(m.clients, frameChan)
			}
			remaining := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("remaining", remaining).Msg("Preview client disconnected")
		}()

		for jpegData := range frameChan {
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
				return
			}
			if _, err := w.Write(jpegData); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}
