package eventstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/opencode-ai/eventstream/internal/config"
	"github.com/opencode-ai/eventstream/internal/connstate"
	"github.com/opencode-ai/eventstream/internal/heartbeat"
	"github.com/opencode-ai/eventstream/internal/logging"
	"github.com/opencode-ai/eventstream/internal/metrics"
	"github.com/opencode-ai/eventstream/internal/supervisor"
	"github.com/opencode-ai/eventstream/internal/transport"
)

type (
	// Event is one decoded push event.
	Event = transport.Event
	// Listener receives events of one kind.
	Listener = transport.Listener
	// Transport is one push-event connection.
	Transport = transport.Transport
	// State is the connection state reported to watchers.
	State = connstate.State
)

const (
	Disconnected = connstate.Disconnected
	Connected    = connstate.Connected
)

// AnyKind registers a listener for every non-control event.
const AnyKind = transport.AnyKind

// Transport names accepted by Config.Transport.
const (
	TransportSSE       = config.TransportSSE
	TransportWebSocket = config.TransportWebSocket
)

const (
	HeartbeatInterval = heartbeat.Interval
	HeartbeatTimeout  = heartbeat.Timeout
	ReconnectDelay    = supervisor.ReconnectDelay
)

var (
	ErrAlreadyStarted = supervisor.ErrAlreadyStarted
	ErrStopped        = supervisor.ErrStopped
)

// Config selects the server and transport.
type Config struct {
	// URL is the server base URL, e.g. http://127.0.0.1:4096.
	URL string
	// Transport is TransportSSE (default) or TransportWebSocket.
	Transport string
	// Directory scopes the stream to one project.
	Directory string
	Header    http.Header
	// HTTPClient is used by the SSE transport. It must not have a timeout.
	HTTPClient *http.Client
	// Dialer is used by the WebSocket transport.
	Dialer *websocket.Dialer
}

type options struct {
	clock             clock.WithTicker
	backoff           backoff.BackOff
	onResync          func()
	registerer        prometheus.Registerer
	logger            *zerolog.Logger
	factory           func() Transport
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// Option customizes a Client.
type Option func(*options)

// WithClock replaces the clock behind heartbeat checks and reconnect delays.
func WithClock(clk clock.WithTicker) Option {
	return func(o *options) { o.clock = clk }
}

// WithResync sets the hook run every time a connection goes live, after listeners are
// bound. Events missed while disconnected are not replayed; fn is where the caller
// refetches whatever state it derives from events.
func WithResync(fn func()) Option {
	return func(o *options) { o.onResync = fn }
}

// WithReconnectPolicy replaces the fixed ReconnectDelay. The policy is reset each time
// a connection goes live; returning backoff.Stop ends reconnection.
func WithReconnectPolicy(b backoff.BackOff) Option {
	return func(o *options) { o.backoff = b }
}

// WithMetrics registers connection metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger replaces the client's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithHeartbeat overrides HeartbeatInterval and HeartbeatTimeout.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(o *options) {
		o.heartbeatInterval = interval
		o.heartbeatTimeout = timeout
	}
}

// WithTransportFactory replaces the transport built from Config.
func WithTransportFactory(fn func() Transport) Option {
	return func(o *options) { o.factory = fn }
}

// Client keeps one resilient event stream open and fans events out to listeners.
type Client struct {
	sup      *supervisor.Supervisor
	endpoint string
	log      zerolog.Logger
}

// New validates cfg and builds a stopped client. Listeners may be added before Start.
func New(cfg Config, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	log := logging.Component("eventstream")
	if o.logger != nil {
		log = *o.logger
	}

	c := &Client{log: log}

	factory := o.factory
	if factory == nil {
		endpoint, err := endpointURL(cfg)
		if err != nil {
			return nil, err
		}
		c.endpoint = endpoint
		factory = transportFactory(cfg, endpoint, log)
	}

	var m *metrics.Metrics
	if o.registerer != nil {
		m = metrics.New(o.registerer)
	}

	supLog := log.With().Str("component", "supervisor").Logger()
	sup, err := supervisor.New(supervisor.Config{
		Factory:           supervisor.Factory(factory),
		Clock:             o.clock,
		Backoff:           o.backoff,
		OnResync:          o.onResync,
		Metrics:           m,
		Logger:            &supLog,
		HeartbeatInterval: o.heartbeatInterval,
		HeartbeatTimeout:  o.heartbeatTimeout,
	})
	if err != nil {
		return nil, err
	}
	c.sup = sup
	return c, nil
}

func endpointURL(cfg Config) (string, error) {
	if cfg.URL == "" {
		cfg.URL = config.DefaultURL
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportSSE
	}
	c := &config.Config{URL: cfg.URL, Transport: cfg.Transport, Directory: cfg.Directory}
	if err := c.Validate(); err != nil {
		return "", err
	}
	endpoint, err := c.EndpointURL()
	if err != nil {
		return "", fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return endpoint, nil
}

func transportFactory(cfg Config, endpoint string, log zerolog.Logger) func() Transport {
	tlog := log.With().Str("component", "transport").Logger()
	if cfg.Transport == TransportWebSocket {
		return func() Transport {
			return transport.NewWebSocket(transport.WebSocketConfig{
				URL:    endpoint,
				Header: cfg.Header,
				Dialer: cfg.Dialer,
				Logger: tlog,
			})
		}
	}
	return func() Transport {
		return transport.NewSSE(transport.SSEConfig{
			URL:    endpoint,
			Header: cfg.Header,
			Client: cfg.HTTPClient,
			Logger: tlog,
		})
	}
}

// Endpoint returns the stream URL derived from Config, or "" with a custom factory.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Start opens the stream and keeps it open until ctx is cancelled or Stop is called.
// It returns immediately; connection progress is reported through
// WatchConnectionState.
func (c *Client) Start(ctx context.Context) error {
	return c.sup.Start(ctx)
}

// Stop closes the stream, cancels any pending reconnect and waits until no listener
// or watcher can run. A stopped client cannot be restarted. Stop must not be called
// from a listener or watcher.
func (c *Client) Stop() {
	c.sup.Stop()
}

// AddEventListener registers fn for kind. The registration survives reconnects; the
// returned function removes it and may be called more than once.
func (c *Client) AddEventListener(kind string, fn Listener) (unregister func()) {
	return c.sup.AddEventListener(kind, fn)
}

// ConnectionState returns the current state.
func (c *Client) ConnectionState() State {
	return c.sup.State().Get()
}

// WatchConnectionState calls fn on every state transition until the returned function
// is called.
func (c *Client) WatchConnectionState(fn func(State)) (unwatch func()) {
	return c.sup.State().Watch(fn)
}

// Foreground checks liveness immediately and reconnects if heartbeats have stopped.
// Call it when the application returns to the foreground or the process resumes.
// It reports whether a reconnect was requested.
func (c *Client) Foreground() bool {
	return c.sup.Foreground()
}
