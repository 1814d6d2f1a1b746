// Package supervisor owns the single active transport connection and the
// state machine that decides when to connect, switch, and fall back.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/function-store/RpiSimpleNDI/internal/logger"
	"github.com/function-store/RpiSimpleNDI/internal/source"
	"github.com/function-store/RpiSimpleNDI/internal/transport"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusScanning     Status = "scanning"
	StatusConnected    Status = "connected"
	StatusDegraded     Status = "degraded"
)

// State is a copy of the supervisor's observable state.
type State struct {
	Status         Status
	ActiveSource   string
	PreviousSource string
	Locked         bool
	LastFrameAt    time.Time
}

// Connected reports whether a transport handle is currently held. Degraded
// sources still hold their handle until the switch algorithm tears it down.
func (s State) Connected() bool {
	return s.Status == StatusConnected || s.Status == StatusDegraded
}

// Config tunes the supervisor's timing behavior.
type Config struct {
	ConnectBackoff  time.Duration // retry delay after a failed connect, default 5s
	CheckInterval   time.Duration // periodic switch-check cadence, default 2s
	LivenessTimeout time.Duration // no-frame gap before a source is suspect, default 5s
}

func (c *Config) applyDefaults() {
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = 5 * time.Second
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 2 * time.Second
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 5 * time.Second
	}
}

// Supervisor drives discovery-based connection management. All state is
// guarded by one mutex; command application and the periodic switch check
// never interleave their writes.
type Supervisor struct {
	transport transport.Transport
	registry  *source.Registry
	matcher   *source.Matcher
	config    Config

	mu            sync.Mutex
	status        Status
	active        string
	previous      string
	locked        bool
	manual        bool   // active source was operator-selected, may be off-policy
	target        string // explicit exact-name target for the next scan
	conn          transport.Connection
	lastFrameAt   time.Time
	lastCheck     time.Time
	nextConnectAt time.Time
	prevMatching  map[string]bool

	onChange func(State)
}

// New creates a supervisor. The matcher decides which discovered sources
// are acceptable automatic targets.
func New(tr transport.Transport, registry *source.Registry, matcher *source.Matcher, config Config) *Supervisor {
	config.applyDefaults()
	return &Supervisor{
		transport:    tr,
		registry:     registry,
		matcher:      matcher,
		config:       config,
		status:       StatusDisconnected,
		prevMatching: make(map[string]bool),
	}
}

// OnChange registers the callback invoked after every observable state
// change. The callback runs outside the supervisor's mutex.
func (s *Supervisor) OnChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// SetTarget records an explicit exact-name target that takes priority over
// policy matching at the next scan. Used to seed the startup source.
func (s *Supervisor) SetTarget(name string) {
	s.mu.Lock()
	s.target = name
	s.mu.Unlock()
}

// State returns a copy of the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Supervisor) stateLocked() State {
	return State{
		Status:         s.status,
		ActiveSource:   s.active,
		PreviousSource: s.previous,
		Locked:         s.locked,
		LastFrameAt:    s.lastFrameAt,
	}
}

// Conn returns the active transport connection, or nil when disconnected.
func (s *Supervisor) Conn() transport.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// NoteFrame records frame arrival. It is the sole liveness signal; a
// degraded source that resumes delivering frames is marked connected again.
func (s *Supervisor) NoteFrame(at time.Time) {
	s.mu.Lock()
	s.lastFrameAt = at
	recovered := s.status == StatusDegraded
	if recovered {
		s.status = StatusConnected
	}
	notify := s.changeNotifier(recovered)
	s.mu.Unlock()
	notify()

	if recovered {
		logger.WithComponent("supervisor").Info().
			Str("source", s.State().ActiveSource).
			Msg("Source resumed delivering frames")
	}
}

// EnsureConnected runs the Disconnected -> Scanning -> Connected path when
// no connection is held. Failed attempts back off for ConnectBackoff.
// Returns true when a new connection was established.
func (s *Supervisor) EnsureConnected() bool {
	s.mu.Lock()

	if s.conn != nil {
		s.mu.Unlock()
		return false
	}
	now := time.Now()
	if now.Before(s.nextConnectAt) {
		s.mu.Unlock()
		return false
	}

	log := logger.WithComponent("supervisor")
	s.status = StatusScanning

	snapshot := s.registry.Snapshot()
	target := s.selectTargetLocked(snapshot)
	if target == "" {
		s.status = StatusDisconnected
		s.nextConnectAt = now.Add(s.config.ConnectBackoff)
		notify := s.changeNotifier(true)
		s.mu.Unlock()
		notify()
		log.Debug().Int("visible", len(snapshot.Names)).Msg("No acceptable source found, backing off")
		return false
	}

	conn, err := s.transport.Connect(target)
	if err != nil {
		s.status = StatusDisconnected
		s.nextConnectAt = now.Add(s.config.ConnectBackoff)
		notify := s.changeNotifier(true)
		s.mu.Unlock()
		notify()
		log.Warn().Err(err).Str("source", target).Msg("Connect failed, backing off")
		return false
	}

	s.conn = conn
	s.active = target
	s.status = StatusConnected
	s.lastFrameAt = time.Time{}
	manual := s.manual
	notify := s.changeNotifier(true)
	s.mu.Unlock()
	notify()

	log.Info().Str("source", target).Bool("manual", manual).Msg("Connected")
	return true
}

// selectTargetLocked picks the scan target: explicit target first, then the
// first snapshot entry whose logical name matches the policy.
func (s *Supervisor) selectTargetLocked(snapshot source.Snapshot) string {
	if s.target != "" && snapshot.Contains(s.target) {
		name := s.target
		s.target = ""
		s.manual = true
		return name
	}
	for _, name := range snapshot.Names {
		if s.matcher.Matches(name) {
			s.manual = false
			return name
		}
	}
	return ""
}

// CheckSwitch evaluates the switch algorithm. It rate-limits itself to the
// configured check interval, except that a degraded source forces an
// immediate evaluation. Returns true when a switch happened.
func (s *Supervisor) CheckSwitch() bool {
	s.mu.Lock()

	if s.conn == nil {
		s.mu.Unlock()
		return false
	}

	now := time.Now()
	log := logger.WithComponent("supervisor")

	// Liveness: flag the source as degraded before any rate limiting so the
	// switch below runs immediately. The notification is deferred to the
	// exit paths; dropping the mutex mid-evaluation would let a command
	// install a fresh connection that the resumed check tears down.
	degraded := false
	degradeNotify := func() {}
	if !s.lastFrameAt.IsZero() && now.Sub(s.lastFrameAt) > s.config.LivenessTimeout {
		degraded = true
		if s.status != StatusDegraded {
			s.status = StatusDegraded
			notify := s.changeNotifier(true)
			stale := now.Sub(s.lastFrameAt)
			active := s.active
			degradeNotify = func() {
				notify()
				log.Warn().Str("source", active).Dur("stale", stale).Msg("No frames received, source may be dead")
			}
		}
	}

	if !degraded && now.Sub(s.lastCheck) < s.config.CheckInterval {
		s.mu.Unlock()
		return false
	}
	s.lastCheck = now

	// A locked output is pinned: liveness is still tracked above, but no
	// switch is ever attempted.
	if s.locked {
		s.mu.Unlock()
		degradeNotify()
		return false
	}

	snapshot := s.registry.Snapshot()
	matching := make([]string, 0, len(snapshot.Names))
	matchSet := make(map[string]bool, len(snapshot.Names))
	for _, name := range snapshot.Names {
		if s.matcher.Matches(name) {
			matching = append(matching, name)
			matchSet[name] = true
		}
	}

	newly := make(map[string]bool)
	for name := range matchSet {
		if !s.prevMatching[name] {
			newly[name] = true
		}
	}
	s.prevMatching = matchSet

	// An operator-selected source may sit outside the policy; presence is
	// then judged against the whole snapshot, not the matching set.
	present := matchSet[s.active]
	if s.manual {
		present = snapshot.Contains(s.active)
	}

	if present && !degraded {
		s.mu.Unlock()
		return false
	}

	target := s.pickFallbackLocked(snapshot, matching, newly)
	if target == "" {
		active := s.active
		s.mu.Unlock()
		degradeNotify()
		log.Debug().Str("active", active).Bool("degraded", degraded).
			Msg("No fallback source available")
		return false
	}

	old := s.active
	oldConn := s.conn
	s.conn = nil
	s.mu.Unlock()
	degradeNotify()

	// Tear down the old handle before dialing the new target.
	if cerr := oldConn.Close(); cerr != nil {
		log.Warn().Err(cerr).Str("source", old).Msg("Error closing old connection")
	}

	conn, err := s.transport.Connect(target)

	s.mu.Lock()
	if s.conn != nil {
		// An operator command installed a connection while we were dialing;
		// that choice wins.
		s.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return false
	}
	if err != nil {
		s.previous = old
		s.active = ""
		s.manual = false
		s.status = StatusDisconnected
		s.nextConnectAt = now.Add(s.config.ConnectBackoff)
		notify := s.changeNotifier(true)
		s.mu.Unlock()
		notify()
		log.Warn().Err(err).Str("source", target).Msg("Switch connect failed")
		return false
	}

	s.previous = old
	s.active = target
	s.manual = false
	s.conn = conn
	s.status = StatusConnected
	s.lastFrameAt = time.Time{}
	notify := s.changeNotifier(true)
	s.mu.Unlock()
	notify()

	reason := "source no longer available"
	if degraded {
		reason = "source stopped sending frames"
	}
	log.Info().Str("from", old).Str("to", target).Str("reason", reason).Msg("Switched source")
	return true
}

// pickFallbackLocked chooses the replacement target: the previous source
// when it is among the matches (stable bounce-back), otherwise the
// most-recently-appeared matching source. Ties between simultaneously
// appeared sources break by snapshot order, last entry winning; snapshot
// order follows discovery order, so the last entry approximates the newest.
func (s *Supervisor) pickFallbackLocked(snapshot source.Snapshot, matching []string, newly map[string]bool) string {
	if s.previous != "" && s.previous != s.active {
		for _, name := range matching {
			if name == s.previous {
				return name
			}
		}
	}

	pick := ""
	for _, name := range matching {
		if name == s.active {
			continue
		}
		if newly[name] {
			pick = name
		}
	}
	if pick != "" {
		return pick
	}
	for _, name := range matching {
		if name != s.active {
			pick = name
		}
	}
	return pick
}

// SetSource tears down the active connection and connects to the named
// source unconditionally, bypassing the policy check. The choice is marked
// as operator-selected so automatic switching does not revert it.
func (s *Supervisor) SetSource(name string) error {
	snapshot := s.registry.Snapshot()
	if !snapshot.Contains(name) {
		snapshot = s.registry.RefreshNow()
		if !snapshot.Contains(name) {
			return fmt.Errorf("source %q not found", name)
		}
	}

	s.mu.Lock()
	log := logger.WithComponent("supervisor")

	oldConn := s.conn
	old := s.active
	s.conn = nil
	s.mu.Unlock()

	if oldConn != nil {
		if err := oldConn.Close(); err != nil {
			log.Warn().Err(err).Str("source", old).Msg("Error closing old connection")
		}
	}

	conn, err := s.transport.Connect(name)

	s.mu.Lock()
	if err != nil {
		s.previous = old
		s.active = ""
		s.status = StatusDisconnected
		s.nextConnectAt = time.Now().Add(s.config.ConnectBackoff)
		notify := s.changeNotifier(true)
		s.mu.Unlock()
		notify()
		return fmt.Errorf("connect to %q: %w", name, err)
	}

	if old != "" && old != name {
		s.previous = old
	}
	s.active = name
	s.manual = true
	s.conn = conn
	s.status = StatusConnected
	s.lastFrameAt = time.Time{}
	notify := s.changeNotifier(true)
	s.mu.Unlock()
	notify()

	log.Info().Str("from", old).Str("to", name).Msg("Source set by operator")
	return nil
}

// SetLocked pins or unpins the active source. Returns true when the value
// actually changed, so callers can suppress redundant broadcasts.
func (s *Supervisor) SetLocked(locked bool) bool {
	s.mu.Lock()
	if s.locked == locked {
		s.mu.Unlock()
		return false
	}
	s.locked = locked
	notify := s.changeNotifier(true)
	s.mu.Unlock()
	notify()

	logger.WithComponent("supervisor").Info().Bool("locked", locked).Msg("Lock state changed")
	return true
}

// Locked reports the lock flag.
func (s *Supervisor) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Close tears down the active connection. Best effort; errors are returned
// for logging but the supervisor is unusable afterwards regardless.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.status = StatusDisconnected
	s.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// changeNotifier captures the change callback and the state under the lock,
// returning a closure to invoke after unlocking. A no-change call returns a
// no-op so call sites stay uniform.
func (s *Supervisor) changeNotifier(changed bool) func() {
	if !changed || s.onChange == nil {
		return func() {}
	}
	fn := s.onChange
	state := s.stateLocked()
	return func() { fn(state) }
}
