//go:build !ndi

package ndi

import (
	"context"
	"errors"
	"time"

	"github.com/function-store/RpiSimpleNDI/internal/transport"
)

var errNotAvailable = errors.New("NDI SDK not available - build with -tags ndi")

// Transport is the stub used when the binary is built without the NDI SDK.
type Transport struct{}

// Config tunes SDK-level discovery and receive behavior.
type Config struct {
	ShowLocalSources bool
	Groups           string
	ExtraIPs         string
	ReceiverName     string
	ColorFormat      int
}

func New(config Config) (*Transport, error) {
	return nil, errNotAvailable
}

func (t *Transport) ListSources(ctx context.Context, scanTimeout time.Duration) ([]string, error) {
	return nil, errNotAvailable
}

func (t *Transport) Connect(name string) (transport.Connection, error) {
	return nil, errNotAvailable
}

func (t *Transport) Close() error {
	return nil
}
