package source

import (
	"context"
	"sync"
	"time"

	"github.com/function-store/RpiSimpleNDI/internal/logger"
	"github.com/function-store/RpiSimpleNDI/internal/transport"
)

// Snapshot is an immutable view of the sources visible at one discovery
// poll. Names preserves discovery order; it is never mutated after publish.
type Snapshot struct {
	Names      []string
	ObservedAt time.Time
}

// Contains reports whether the snapshot holds the raw name.
func (s Snapshot) Contains(name string) bool {
	for _, n := range s.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Registry maintains a cached view of discoverable sources by polling the
// transport in the background. Snapshot never blocks on network I/O.
type Registry struct {
	transport    transport.Transport
	pollInterval time.Duration
	scanTimeout  time.Duration

	mu       sync.RWMutex
	snapshot Snapshot

	refreshCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// RegistryConfig tunes the discovery poll loop.
type RegistryConfig struct {
	PollInterval time.Duration // default 15s
	ScanTimeout  time.Duration // default 2s
}

// NewRegistry creates a registry over the given transport.
func NewRegistry(tr transport.Transport, config RegistryConfig) *Registry {
	if config.PollInterval <= 0 {
		config.PollInterval = 15 * time.Second
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = 2 * time.Second
	}
	return &Registry{
		transport:    tr,
		pollInterval: config.PollInterval,
		scanTimeout:  config.ScanTimeout,
		refreshCh:    make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start performs one synchronous poll so the first snapshot is populated,
// then begins the background poll loop.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		r.poll()
		go r.pollLoop()
	})
}

// Snapshot returns the most recent cached snapshot. Staleness is bounded by
// the poll interval.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// RefreshNow forces an out-of-band poll and returns the resulting snapshot.
func (r *Registry) RefreshNow() Snapshot {
	r.poll()
	select {
	case r.refreshCh <- struct{}{}:
	default:
	}
	return r.Snapshot()
}

// Close stops the poll loop and releases the discovery transport.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	select {
	case <-r.doneCh:
	case <-time.After(r.scanTimeout + time.Second):
	}
	return r.transport.Close()
}

func (r *Registry) pollLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.poll()
		case <-r.refreshCh:
			// RefreshNow already polled; restart the cadence from here
			ticker.Reset(r.pollInterval)
		}
	}
}

func (r *Registry) poll() {
	log := logger.WithComponent("registry")

	ctx, cancel := context.WithTimeout(context.Background(), r.scanTimeout+time.Second)
	defer cancel()

	names, err := r.transport.ListSources(ctx, r.scanTimeout)
	if err != nil {
		// Discovery failure means zero sources this cycle, never fatal
		log.Warn().Err(err).Msg("Source discovery poll failed")
		names = nil
	}

	snapshot := Snapshot{
		Names:      append([]string(nil), names...),
		ObservedAt: time.Now(),
	}

	r.mu.Lock()
	r.snapshot = snapshot
	r.mu.Unlock()

	log.Debug().Int("sources", len(names)).Msg("Discovery poll complete")
}
