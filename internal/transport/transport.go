// Package transport abstracts the NDI discovery and receive operations so
// that the supervisor and frame pump never touch the SDK's memory layout.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Connection.Receive when no frame arrived
// within the poll timeout. It is ordinary flow control, not a failure.
var ErrTimeout = errors.New("transport: receive timed out")

// FourCC video format codes for RawFrame.FourCC
const (
	FourCCUYVY uint32 = 0x59565955
	FourCCBGRA uint32 = 0x41524742
	FourCCBGRX uint32 = 0x58524742
	FourCCRGBA uint32 = 0x41424752
	FourCCRGBX uint32 = 0x58424752
)

// RawFrame is a video frame as delivered by the wire transport, before any
// validation or pixel-format normalization.
type RawFrame struct {
	Width      int
	Height     int
	FourCC     uint32
	FrameRateN int
	FrameRateD int
	Stride     int // bytes per scanline, may exceed Width*bytesPerPixel
	Data       []byte
	Timestamp  time.Time
}

// Connection is a live receive handle to a single source.
type Connection interface {
	// Receive blocks for at most timeout waiting for the next video frame.
	// Returns ErrTimeout when the window elapses without a frame.
	Receive(timeout time.Duration) (*RawFrame, error)
	Close() error
}

// Transport discovers sources and opens connections to them.
type Transport interface {
	// ListSources waits up to scanTimeout for discovery to settle and
	// returns the raw names of all currently visible sources.
	ListSources(ctx context.Context, scanTimeout time.Duration) ([]string, error)
	Connect(name string) (Connection, error)
	Close() error
}
