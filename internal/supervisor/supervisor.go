// Package supervisor keeps one push-event connection alive and the registered listeners
// bound to it.
//
// A single goroutine owns the reconnect timer and every teardown/reopen. Each transport
// runs its own reader goroutine that performs all dispatch for that connection in order,
// including the connect handler, which rebinds the registry before control returns to
// the reader; so the first domain event on a connection always finds its listeners bound.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/opencode-ai/eventstream/internal/connstate"
	"github.com/opencode-ai/eventstream/internal/heartbeat"
	"github.com/opencode-ai/eventstream/internal/listener"
	"github.com/opencode-ai/eventstream/internal/logging"
	"github.com/opencode-ai/eventstream/internal/metrics"
	"github.com/opencode-ai/eventstream/internal/transport"
)

// ReconnectDelay is the fixed wait between a lost connection and the next attempt.
const ReconnectDelay = 3 * time.Second

var (
	ErrAlreadyStarted = errors.New("supervisor already started")
	ErrStopped        = errors.New("supervisor stopped")
	ErrNoFactory      = errors.New("supervisor: transport factory is required")
)

// Factory returns a new, unopened transport for each connection attempt.
type Factory func() transport.Transport

// Config wires a Supervisor. Only Factory is required.
type Config struct {
	Factory  Factory
	Registry *listener.Registry
	State    *connstate.Store
	Clock    clock.WithTicker
	// Backoff yields the delay before each reconnect. Defaults to a constant
	// ReconnectDelay with no retry limit. It is reset whenever a connection goes live.
	Backoff backoff.BackOff
	// OnResync runs each time a connection goes live, after listeners are bound.
	OnResync func()
	Metrics  *metrics.Metrics
	Logger   *zerolog.Logger

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

type bindingKey struct {
	kind string
	id   uint64
}

// Supervisor runs the connection lifecycle.
type Supervisor struct {
	cfg     Config
	log     zerolog.Logger
	monitor *heartbeat.Monitor

	mu       sync.Mutex
	phase    Phase
	current  transport.Transport
	control  []func()
	bindings map[bindingKey]func()
	lost     transport.Transport
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}

	wake   chan struct{}
	forced chan struct{}

	// Owned by the run goroutine.
	reconnectTimer clock.Timer
	pending        atomic.Bool
}

// New creates a stopped supervisor in the Disconnected phase.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Factory == nil {
		return nil, ErrNoFactory
	}
	if cfg.Registry == nil {
		cfg.Registry = listener.New()
	}
	if cfg.State == nil {
		cfg.State = connstate.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.NewConstantBackOff(ReconnectDelay)
	}

	log := logging.Component("supervisor")
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	s := &Supervisor{
		cfg:      cfg,
		log:      log,
		bindings: make(map[bindingKey]func()),
		wake:     make(chan struct{}, 1),
		forced:   make(chan struct{}, 1),
	}
	s.monitor = heartbeat.New(cfg.Clock, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, s.requestForcedReconnect)
	return s, nil
}

// Registry returns the listener registry.
func (s *Supervisor) Registry() *listener.Registry { return s.cfg.Registry }

// State returns the connection state store.
func (s *Supervisor) State() *connstate.Store { return s.cfg.State }

// Phase returns the current lifecycle phase.
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ReconnectPending reports whether a reconnect timer is armed.
func (s *Supervisor) ReconnectPending() bool {
	return s.pending.Load()
}

// Start opens the first connection and runs the lifecycle until ctx is cancelled or
// Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == Stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

// Stop cancels all timers, closes the transport and waits for the lifecycle to end.
// No listener or watcher is invoked after Stop returns. The registry is left intact.
// Stop must not be called from a listener.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.phase = Stopped
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Foreground runs an immediate liveness check. Call it when the host process regains
// the foreground or resumes from suspension, since periodic checks may not have run.
func (s *Supervisor) Foreground() bool {
	return s.monitor.CheckNow()
}

// AddEventListener registers fn for kind across all reconnects. If a connection is
// live, fn is attached to it immediately. The returned function unregisters fn and
// is safe to call more than once.
func (s *Supervisor) AddEventListener(kind string, fn transport.Listener) (unregister func()) {
	if transport.IsControl(kind) {
		s.log.Warn().Str("kind", kind).Msg("control events cannot be subscribed to")
		return func() {}
	}
	if fn == nil {
		return func() {}
	}

	id := s.cfg.Registry.Add(kind, fn)
	entry := listener.Entry{Kind: kind, ID: id, Fn: fn}

	s.mu.Lock()
	if s.phase == Live && s.current != nil {
		s.bindLocked(entry)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.removeListener(entry) })
	}
}

func (s *Supervisor) removeListener(e listener.Entry) {
	s.cfg.Registry.Remove(e.Kind, e.ID)

	key := bindingKey{e.Kind, e.ID}
	s.mu.Lock()
	if unsub, ok := s.bindings[key]; ok {
		unsub()
		delete(s.bindings, key)
	}
	s.mu.Unlock()
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	s.connect(ctx)
	for {
		var fire <-chan time.Time
		if s.reconnectTimer != nil {
			fire = s.reconnectTimer.C()
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-fire:
			s.reconnectTimer = nil
			s.pending.Store(false)
			s.connect(ctx)
		case <-s.wake:
			s.handleLost(ctx)
		case <-s.forced:
			s.handleForced(ctx)
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	t := s.cfg.Factory()
	log := s.connLog(t)

	s.mu.Lock()
	s.current = t
	s.phase = Connecting
	s.control = []func(){
		t.Subscribe(transport.KindConnect, func(transport.Event) { s.handleConnect(t) }),
		t.Subscribe(transport.KindHeartbeat, func(transport.Event) { s.handleHeartbeat(t) }),
	}
	s.mu.Unlock()

	log.Info().Msg("connecting")
	if err := t.Open(ctx, func(err error, closed bool) { s.handleTransportError(t, err, closed) }); err != nil {
		log.Error().Err(err).Msg("failed to open transport")
		s.teardown()
		s.scheduleReconnect()
	}
}

// handleConnect runs on the transport's reader goroutine.
func (s *Supervisor) handleConnect(t transport.Transport) {
	s.mu.Lock()
	if t != s.current || s.phase != Connecting {
		phase := s.phase
		s.mu.Unlock()
		s.connLog(t).Debug().Stringer("phase", phase).Msg("ignoring connect")
		return
	}
	s.phase = Live
	for _, e := range s.cfg.Registry.All() {
		s.bindLocked(e)
	}
	s.monitor.Start()
	s.cfg.Backoff.Reset()
	bound := len(s.bindings)
	s.mu.Unlock()

	s.connLog(t).Info().Int("listeners", bound).Msg("event stream live")
	s.cfg.State.Set(true)
	s.cfg.Metrics.SetConnected(true)
	s.cfg.Metrics.Connect()

	if s.cfg.OnResync != nil {
		s.cfg.OnResync()
	}
}

func (s *Supervisor) handleHeartbeat(t transport.Transport) {
	s.mu.Lock()
	live := t == s.current && s.phase == Live
	s.mu.Unlock()

	if live {
		s.monitor.RecordHeartbeat()
	}
}

// handleTransportError runs on the transport's reader goroutine.
func (s *Supervisor) handleTransportError(t transport.Transport, err error, closed bool) {
	log := s.connLog(t)
	if !closed {
		log.Warn().Err(err).Msg("transient transport error")
		return
	}

	s.mu.Lock()
	if t != s.current {
		s.mu.Unlock()
		log.Debug().Err(err).Msg("ignoring error from stale transport")
		return
	}
	s.lost = t
	s.mu.Unlock()

	log.Warn().Err(err).Msg("connection lost")
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) handleLost(ctx context.Context) {
	s.mu.Lock()
	lost := s.lost
	s.lost = nil
	current := s.current
	s.mu.Unlock()

	if lost == nil || lost != current || ctx.Err() != nil {
		return
	}
	s.cfg.Metrics.Reconnect(metrics.ReasonClosed)
	s.teardown()
	s.scheduleReconnect()
}

// requestForcedReconnect is the monitor's timeout callback; it must not block.
func (s *Supervisor) requestForcedReconnect() {
	select {
	case s.forced <- struct{}{}:
	default:
	}
}

func (s *Supervisor) handleForced(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.reconnectTimer != nil {
		s.log.Debug().Msg("reconnect already pending, ignoring forced reconnect")
		return
	}

	s.mu.Lock()
	live := s.phase == Live && s.current != nil
	s.mu.Unlock()

	// The request may predate the current connection.
	if !live || !s.monitor.Expired() {
		return
	}

	s.log.Warn().
		Dur("silence", s.cfg.Clock.Since(s.monitor.LastSeen())).
		Msg("heartbeat timeout, forcing reconnect")
	s.cfg.Metrics.Reconnect(metrics.ReasonHeartbeat)
	s.teardown()
	s.connect(ctx)
}

func (s *Supervisor) scheduleReconnect() {
	if s.reconnectTimer != nil {
		return
	}

	s.mu.Lock()
	d := s.cfg.Backoff.NextBackOff()
	s.mu.Unlock()

	if d == backoff.Stop {
		s.log.Error().Msg("reconnect policy exhausted, staying disconnected")
		return
	}
	s.log.Info().Dur("delay", d).Msg("reconnect scheduled")
	s.reconnectTimer = s.cfg.Clock.NewTimer(d)
	s.pending.Store(true)
}

// teardown closes the current transport and drops its bindings. The registry is untouched.
func (s *Supervisor) teardown() {
	s.mu.Lock()
	t := s.current
	for key, unsub := range s.bindings {
		unsub()
		delete(s.bindings, key)
	}
	for _, unsub := range s.control {
		unsub()
	}
	s.control = nil
	s.current = nil
	s.lost = nil
	if s.phase != Stopped {
		s.phase = Disconnected
	}
	s.mu.Unlock()

	s.monitor.Stop()
	if t != nil {
		// Close waits for the reader, so an in-flight connect handler finishes first.
		if err := t.Close(); err != nil {
			s.connLog(t).Warn().Err(err).Msg("close transport")
		}
	}
	if s.cfg.State.Set(false) {
		s.log.Info().Msg("event stream disconnected")
	}
	s.cfg.Metrics.SetConnected(false)
}

func (s *Supervisor) shutdown() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
		s.pending.Store(false)
	}

	s.mu.Lock()
	s.phase = Stopped
	s.mu.Unlock()

	s.teardown()
	s.log.Info().Msg("supervisor stopped")
}

// bindLocked attaches e to the current transport unless already bound. Callers hold s.mu.
func (s *Supervisor) bindLocked(e listener.Entry) {
	key := bindingKey{e.Kind, e.ID}
	if _, ok := s.bindings[key]; ok {
		return
	}
	fn, m := e.Fn, s.cfg.Metrics
	s.bindings[key] = s.current.Subscribe(e.Kind, func(ev transport.Event) {
		m.Delivered(ev.Kind)
		fn(ev)
	})
}

func (s *Supervisor) connLog(t transport.Transport) *zerolog.Logger {
	log := s.log
	if c, ok := t.(interface{ ID() string }); ok {
		log = log.With().Str("conn", c.ID()).Logger()
	}
	return &log
}
