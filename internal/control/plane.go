// Package control exposes receiver state to remote controllers over a JSON
// WebSocket protocol and applies their commands back onto the supervisor.
package control

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/function-store/RpiSimpleNDI/internal/logger"
	"github.com/function-store/RpiSimpleNDI/internal/persist"
	"github.com/function-store/RpiSimpleNDI/internal/pump"
	"github.com/function-store/RpiSimpleNDI/internal/source"
	"github.com/function-store/RpiSimpleNDI/internal/supervisor"
)

// Identity names this receiver on a shared control plane. ComponentID is
// the only cross-talk guard when several receivers share one bridge.
type Identity struct {
	ComponentID   string
	ComponentName string
}

// DeriveIdentity builds the identity from an explicit id or, failing that,
// the host name. A random id is the last resort.
func DeriveIdentity(componentName, explicitID string) Identity {
	id := explicitID
	if id == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			id = host
		} else {
			id = uuid.NewString()
		}
	}
	if componentName == "" {
		componentName = "NDI Receiver"
	}
	return Identity{ComponentID: id, ComponentName: componentName}
}

// controller is a connected control client (local WebSocket client or the
// upstream bridge). enqueue must never block; it reports false only when
// the controller is gone and should be dropped.
type controller interface {
	enqueue(msg []byte) bool
}

// Plane maintains the control snapshot, broadcasts changes, and applies
// remote commands.
type Plane struct {
	identity Identity
	sup      *supervisor.Supervisor
	registry *source.Registry
	matcher  *source.Matcher
	pump     *pump.Pump
	store    *persist.Store

	broadcastInterval time.Duration

	mu          sync.Mutex
	controllers map[controller]struct{}
}

// Config tunes the plane.
type Config struct {
	// BroadcastInterval paces the periodic snapshot push for passive
	// controllers. Default 10s.
	BroadcastInterval time.Duration
}

// NewPlane wires the control plane over the receiver's components.
func NewPlane(identity Identity, sup *supervisor.Supervisor, registry *source.Registry, matcher *source.Matcher, pmp *pump.Pump, store *persist.Store, config Config) *Plane {
	if config.BroadcastInterval <= 0 {
		config.BroadcastInterval = 10 * time.Second
	}
	p := &Plane{
		identity:          identity,
		sup:               sup,
		registry:          registry,
		matcher:           matcher,
		pump:              pmp,
		store:             store,
		broadcastInterval: config.BroadcastInterval,
		controllers:       make(map[controller]struct{}),
	}
	sup.OnChange(func(supervisor.State) {
		p.Broadcast()
	})
	return p
}

// Identity returns this receiver's control-plane identity.
func (p *Plane) Identity() Identity {
	return p.identity
}

// GetSnapshot recomputes the control snapshot from live component state.
func (p *Plane) GetSnapshot() Snapshot {
	state := p.sup.State()
	snap := p.registry.Snapshot()
	measuredFPS, _ := p.pump.FPS()
	width, height := p.pump.Resolution()

	return Snapshot{
		ComponentID:   p.identity.ComponentID,
		ComponentName: p.identity.ComponentName,

		Sources:                append([]string{}, snap.Names...),
		CurrentSources:         []string{state.ActiveSource},
		RegexPatterns:          []string{p.matcher.Pattern()},
		EffectiveRegexPatterns: []string{p.matcher.EffectivePattern()},
		OutputResolutions:      [][2]int{{width, height}},
		PluralHandlingEnabled:  p.matcher.PluralHandling(),
		Locks:                  []bool{state.Locked},
		LastUpdate:             float64(time.Now().UnixMilli()) / 1000.0,

		CurrentSource: state.ActiveSource,
		Connected:     state.Connected(),
		FPS:           measuredFPS,
		Pattern:       p.matcher.Pattern(),
		Locked:        state.Locked,
	}
}

// Apply executes a command. Successful mutating commands broadcast the new
// snapshot to every controller; failures return a *CommandError and
// broadcast nothing.
func (p *Plane) Apply(cmd Command) (Response, error) {
	log := logger.WithComponent("control")

	switch c := cmd.(type) {
	case RequestState:
		return p.stateResponse(), nil

	case SetSource:
		// The supervisor's change callback broadcasts the new snapshot.
		if err := p.sup.SetSource(c.SourceName); err != nil {
			return Response{}, commandErrorf("failed to set source: %v", err)
		}
		return p.stateResponse(), nil

	case RefreshSources:
		p.registry.RefreshNow()
		p.Broadcast()
		return p.stateResponse(), nil

	case SetLock:
		p.sup.SetLocked(c.Locked)
		return p.stateResponse(), nil

	case SetLockGlobal:
		// Single output: identical to set_lock
		p.sup.SetLocked(c.Locked)
		return p.stateResponse(), nil

	case SaveConfiguration:
		state := p.sup.State()
		saved := persist.SavedState{
			CurrentSource: state.ActiveSource,
			Locked:        state.Locked,
			Pattern:       p.matcher.Pattern(),
		}
		if err := p.store.Save(saved); err != nil {
			log.Error().Err(err).Msg("Save configuration failed")
			return Response{}, commandErrorf("failed to save configuration")
		}
		p.Broadcast()
		resp := p.stateResponse()
		resp.Action = "configuration_saved"
		return resp, nil

	case RecallConfiguration:
		saved, err := p.store.Load()
		if err != nil {
			log.Error().Err(err).Msg("Recall configuration failed")
			return Response{}, commandErrorf("no saved configuration")
		}
		// Source restore is best effort: a saved source that has since
		// vanished is skipped, but the lock flag always applies.
		if saved.CurrentSource != "" {
			if err := p.sup.SetSource(saved.CurrentSource); err != nil {
				log.Warn().Err(err).Str("source", saved.CurrentSource).
					Msg("Saved source not available at recall")
			}
		}
		p.sup.SetLocked(saved.Locked)
		p.Broadcast()
		resp := p.stateResponse()
		resp.Action = "configuration_recalled"
		return resp, nil

	case Ping:
		return Response{
			Action:    "pong",
			Timestamp: float64(time.Now().UnixMilli()) / 1000.0,
		}, nil
	}

	return Response{}, commandErrorf("unknown action: %s", cmd.Action())
}

func (p *Plane) stateResponse() Response {
	snap := p.GetSnapshot()
	return Response{Action: "state_update", State: &snap}
}

// HandleMessage is the shared inbound path for local clients and the
// bridge: parse, filter by component id, apply, reply. Errors become typed
// "error" responses to the originating controller only.
func (p *Plane) HandleMessage(raw []byte, reply func(msg []byte)) {
	log := logger.WithComponent("control")

	cmd, componentID, err := ParseCommand(raw)
	if componentID != "" && componentID != p.identity.ComponentID {
		// Addressed to another receiver sharing the control plane
		log.Debug().Str("component_id", componentID).Msg("Ignoring command for other component")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("Rejected command")
		p.replyError(reply, err)
		return
	}

	resp, err := p.Apply(cmd)
	if err != nil {
		p.replyError(reply, err)
		return
	}
	if reply != nil {
		if data, merr := json.Marshal(resp); merr == nil {
			reply(data)
		}
	}
}

func (p *Plane) replyError(reply func(msg []byte), err error) {
	if reply == nil {
		return
	}
	data, merr := json.Marshal(Response{Action: "error", Message: err.Error()})
	if merr != nil {
		return
	}
	reply(data)
}

// addController registers a controller for broadcasts.
func (p *Plane) addController(c controller) {
	p.mu.Lock()
	p.controllers[c] = struct{}{}
	total := len(p.controllers)
	p.mu.Unlock()
	logger.WithComponent("control").Info().Int("total", total).Msg("Controller connected")
}

// removeController drops a controller.
func (p *Plane) removeController(c controller) {
	p.mu.Lock()
	delete(p.controllers, c)
	total := len(p.controllers)
	p.mu.Unlock()
	logger.WithComponent("control").Info().Int("total", total).Msg("Controller disconnected")
}

// Broadcast pushes the current snapshot to every controller. Sends are
// fire-and-forget; a dead controller is removed without affecting the
// rest.
func (p *Plane) Broadcast() {
	snap := p.GetSnapshot()
	data, err := json.Marshal(Response{Action: "state_update", State: &snap})
	if err != nil {
		logger.WithComponent("control").Error().Err(err).Msg("Snapshot marshal failed")
		return
	}

	p.mu.Lock()
	targets := make([]controller, 0, len(p.controllers))
	for c := range p.controllers {
		targets = append(targets, c)
	}
	p.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			p.removeController(c)
		}
	}
}

// RunBroadcaster pushes periodic snapshots for passive controllers until
// the context is canceled.
func (p *Plane) RunBroadcaster(ctx context.Context) {
	ticker := time.NewTicker(p.broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Broadcast()
		}
	}
}
