// Package pump pulls raw frames from the active connection, normalizes
// them to packed RGBA, and hands them to the configured sink.
package pump

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/function-store/RpiSimpleNDI/internal/logger"
	"github.com/function-store/RpiSimpleNDI/internal/output"
	"github.com/function-store/RpiSimpleNDI/internal/supervisor"
	"github.com/function-store/RpiSimpleNDI/internal/transport"
)

// ErrNotConnected is returned by PollFrame while no connection is held.
var ErrNotConnected = errors.New("pump: not connected")

// Config tunes the pump loop.
type Config struct {
	// PollTimeout bounds each receive call; the loop is paced by the
	// transport's delivery, not a local clock. Default 100ms.
	PollTimeout time.Duration
}

// Pump is the frame acquisition loop. It shares its cadence with the
// supervisor's switch check: every poll triggers one check first.
type Pump struct {
	sup         *supervisor.Supervisor
	sink        output.Sink
	pollTimeout time.Duration

	mu           sync.Mutex
	windowStart  time.Time
	windowFrames int
	measuredFPS  float64
	sourceFPS    float64
	frameCount   uint64
	width        int
	height       int
}

// New creates a pump feeding sink. A nil sink is replaced by a discard
// sink.
func New(sup *supervisor.Supervisor, sink output.Sink, config Config) *Pump {
	if sink == nil {
		sink = output.Discard{}
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = 100 * time.Millisecond
	}
	return &Pump{
		sup:         sup,
		sink:        sink,
		pollTimeout: config.PollTimeout,
	}
}

// PollFrame runs one acquisition cycle: switch check, bounded receive,
// validation, normalization, liveness note, sink delivery. Returns
// transport.ErrTimeout when no frame arrived and ErrNotConnected while the
// supervisor holds no connection.
func (p *Pump) PollFrame(timeout time.Duration) (*output.Frame, error) {
	p.sup.EnsureConnected()
	p.sup.CheckSwitch()

	conn := p.sup.Conn()
	if conn == nil {
		return nil, ErrNotConnected
	}

	raw, err := conn.Receive(timeout)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return nil, transport.ErrTimeout
		}
		return nil, fmt.Errorf("receive: %w", err)
	}

	frame, err := p.normalize(raw)
	if err != nil {
		logger.WithComponent("pump").Warn().Err(err).
			Int("width", raw.Width).Int("height", raw.Height).
			Msg("Discarding invalid frame")
		return nil, err
	}

	p.sup.NoteFrame(frame.CapturedAt)
	p.account(frame)

	if err := p.sink.Deliver(frame); err != nil {
		logger.WithComponent("pump").Warn().Err(err).Str("sink", p.sink.Name()).
			Msg("Sink delivery failed")
	}

	return frame, nil
}

// Run drives PollFrame until the context is canceled. Timeouts and
// disconnected cycles are ordinary; other errors are logged and the loop
// continues.
func (p *Pump) Run(ctx context.Context) error {
	log := logger.WithComponent("pump")
	log.Info().Str("sink", p.sink.Name()).Msg("Frame pump started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("frames", p.FrameCount()).Msg("Frame pump stopped")
			return ctx.Err()
		default:
		}

		_, err := p.PollFrame(p.pollTimeout)
		switch {
		case err == nil, errors.Is(err, transport.ErrTimeout):
		case errors.Is(err, ErrNotConnected):
			// Backoff handling lives in the supervisor; just avoid spinning.
			select {
			case <-ctx.Done():
			case <-time.After(p.pollTimeout):
			}
		default:
			log.Debug().Err(err).Msg("Frame poll error")
		}
	}
}

// normalize validates the raw buffer and converts it to packed RGBA.
func (p *Pump) normalize(raw *transport.RawFrame) (*output.Frame, error) {
	if raw.Width <= 0 || raw.Height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", raw.Width, raw.Height)
	}

	var bytesPerPixel int
	switch raw.FourCC {
	case transport.FourCCUYVY:
		// 4:2:2 carries chroma per pixel pair; an odd width cannot be laid
		// out in UYVY and would overrun the buffer during conversion.
		if raw.Width%2 != 0 {
			return nil, fmt.Errorf("odd width %d for 4:2:2 frame", raw.Width)
		}
		bytesPerPixel = 2
	case transport.FourCCBGRA, transport.FourCCBGRX, transport.FourCCRGBA, transport.FourCCRGBX:
		bytesPerPixel = 4
	default:
		return nil, fmt.Errorf("unsupported pixel format %#08x", raw.FourCC)
	}

	rowBytes := raw.Width * bytesPerPixel
	expected := rowBytes * raw.Height

	data := raw.Data
	switch {
	case len(data) == expected:
	case len(data) > expected:
		// Stride padding: strip per scanline rather than failing.
		stride := raw.Stride
		if stride < rowBytes {
			stride = len(data) / raw.Height
		}
		if stride < rowBytes || stride*raw.Height > len(data) {
			return nil, fmt.Errorf("buffer of %d bytes has unusable stride for %dx%d", len(data), raw.Width, raw.Height)
		}
		data = stripStride(data, rowBytes, stride, raw.Height)
	default:
		return nil, fmt.Errorf("buffer too small: %d bytes for %dx%d (%d expected)", len(data), raw.Width, raw.Height, expected)
	}

	var pixels []byte
	switch raw.FourCC {
	case transport.FourCCUYVY:
		pixels = uyvyToRGBA(data, raw.Width, raw.Height)
	case transport.FourCCBGRA:
		pixels = bgraToRGBA(data, true)
	case transport.FourCCBGRX:
		pixels = bgraToRGBA(data, false)
	case transport.FourCCRGBA:
		pixels = append([]byte(nil), data...)
	case transport.FourCCRGBX:
		pixels = forceOpaque(data)
	}

	sourceFPS := 0.0
	if raw.FrameRateD > 0 {
		sourceFPS = float64(raw.FrameRateN) / float64(raw.FrameRateD)
	}

	capturedAt := raw.Timestamp
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	return &output.Frame{
		Width:             raw.Width,
		Height:            raw.Height,
		Pixels:            pixels,
		SourceFrameRateHz: sourceFPS,
		CapturedAt:        capturedAt,
	}, nil
}

// account updates the rolling 1-second FPS window and the last-seen
// source-advertised rate.
func (p *Pump) account(frame *output.Frame) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameCount++
	p.sourceFPS = frame.SourceFrameRateHz
	p.width = frame.Width
	p.height = frame.Height

	if p.windowStart.IsZero() {
		p.windowStart = now
	}
	p.windowFrames++
	if elapsed := now.Sub(p.windowStart); elapsed >= time.Second {
		p.measuredFPS = float64(p.windowFrames) / elapsed.Seconds()
		p.windowFrames = 0
		p.windowStart = now
	}
}

// FPS returns the locally measured and the source-advertised frame rates.
// They may diverge under drops.
func (p *Pump) FPS() (measured, source float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.measuredFPS, p.sourceFPS
}

// Resolution returns the dimensions of the most recent frame.
func (p *Pump) Resolution() (width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// FrameCount returns the total number of frames produced.
func (p *Pump) FrameCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameCount
}
