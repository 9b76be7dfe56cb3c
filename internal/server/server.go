// Package server provides the dev event server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/eventstream/internal/event"
	"github.com/opencode-ai/eventstream/internal/heartbeat"
	"github.com/opencode-ai/eventstream/internal/logging"
	"github.com/opencode-ai/eventstream/internal/transport"
)

// Config holds server configuration.
type Config struct {
	Port       int
	Directory  string
	EnableCORS bool
	// HeartbeatInterval spaces server.heartbeat events on every stream. Zero disables
	// them, which looks like a dead path to clients.
	HeartbeatInterval time.Duration
	// History is the number of events served by /event/recent.
	History      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:              4096,
		EnableCORS:        true,
		HeartbeatInterval: heartbeat.Interval,
		History:           event.DefaultHistory,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // No write timeout for streams
	}
}

// Server is the HTTP server.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	bus      *event.Bus
	upgrader websocket.Upgrader
	log      zerolog.Logger

	// streamsCtx is cancelled by DisconnectStreams and replaced with a fresh one.
	streamsMu     sync.Mutex
	streamsCtx    context.Context
	cancelStreams context.CancelFunc
	active        atomic.Int32
}

// New creates a new Server instance.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		bus:    event.NewBus(cfg.History),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		log: logging.Component("server"),
	}
	s.streamsCtx, s.cancelStreams = context.WithCancel(context.Background())

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	// Request ID
	s.router.Use(middleware.RequestID)

	// Logging
	s.router.Use(middleware.Logger)

	// Recover from panics
	s.router.Use(middleware.Recoverer)

	// Real IP
	s.router.Use(middleware.RealIP)

	// CORS
	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Instance context
	s.router.Use(s.instanceContext)
}

// instanceContext middleware injects directory into context.
func (s *Server) instanceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir := r.URL.Query().Get("directory")
		if dir == "" {
			dir = s.config.Directory
		}

		ctx := context.WithValue(r.Context(), contextKeyDirectory, dir)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Info().Int("port", s.config.Port).Msg("event server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown ends every stream, then gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.DisconnectStreams()
	defer s.bus.Close()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Bus returns the event bus behind the streams.
func (s *Server) Bus() *event.Bus {
	return s.bus
}

// Publish sends an event to every connected stream.
func (s *Server) Publish(kind string, props any) error {
	env, err := event.NewEnvelope(kind, props)
	if err != nil {
		return err
	}
	return s.bus.Publish(env)
}

// ActiveStreams returns the number of open SSE and WebSocket streams.
func (s *Server) ActiveStreams() int {
	return int(s.active.Load())
}

// DisconnectStreams ends every open stream without stopping the server and returns how
// many were open. Clients see the stream end and reconnect.
func (s *Server) DisconnectStreams() int {
	s.streamsMu.Lock()
	cancel := s.cancelStreams
	s.streamsCtx, s.cancelStreams = context.WithCancel(context.Background())
	s.streamsMu.Unlock()

	n := s.active.Load()
	cancel()
	if n > 0 {
		s.log.Info().Int32("streams", n).Msg("disconnected streams")
	}
	return int(n)
}

// openStream derives the context of one stream: it ends with the request or on the
// next DisconnectStreams.
func (s *Server) openStream(parent context.Context) (context.Context, func()) {
	s.streamsMu.Lock()
	streams := s.streamsCtx
	s.streamsMu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(streams, cancel)
	s.active.Add(1)
	return ctx, func() {
		stop()
		cancel()
		s.active.Add(-1)
	}
}

// heartbeats returns a channel ticking every HeartbeatInterval, or nil when disabled.
func (s *Server) heartbeats() (<-chan time.Time, func()) {
	if s.config.HeartbeatInterval <= 0 {
		return nil, func() {}
	}
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	return ticker.C, ticker.Stop
}

func controlEnvelope(kind string) transport.Envelope {
	return transport.Envelope{Type: kind, Properties: []byte("{}")}
}

// Context keys
type contextKey string

const (
	contextKeyDirectory contextKey = "directory"
)

// getDirectory returns the directory from context.
func getDirectory(ctx context.Context) string {
	if dir, ok := ctx.Value(contextKeyDirectory).(string); ok {
		return dir
	}
	return ""
}
