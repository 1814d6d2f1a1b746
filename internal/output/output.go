package output

import (
	"time"
)

// Frame is a validated, normalized video frame: packed RGBA with no stride
// padding. It is produced by the frame pump, consumed once by a sink, and
// then discarded.
type Frame struct {
	Width  int
	Height int
	// Pixels holds exactly Width*Height*4 bytes of packed RGBA.
	Pixels []byte
	// SourceFrameRateHz is the frame rate advertised by the source, which
	// may diverge from the locally observed rate under drops.
	SourceFrameRateHz float64
	CapturedAt        time.Time
}

// Sink consumes normalized frames. The renderer behind a sink owns
// scaling, rotation, positioning and brightness; the pump only guarantees
// the buffer contract above.
//
// Implementations:
// - MJPEG HTTP preview stream
// - framebuffer / windowed renderers
// - discard sink for headless operation
type Sink interface {
	// Start initializes the sink
	Start() error

	// Stop cleanly shuts down the sink
	Stop() error

	// Deliver sends one frame to the sink
	Deliver(frame *Frame) error

	// Name returns a human-readable name for this sink type
	Name() string
}

// Discard is a sink that drops every frame. Used when no renderer is
// attached but the pipeline should keep running.
type Discard struct{}

func (Discard) Start() error               { return nil }
func (Discard) Stop() error                { return nil }
func (Discard) Deliver(frame *Frame) error { return nil }
func (Discard) Name() string               { return "discard" }
