package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/eventstream/internal/config"
	"github.com/opencode-ai/eventstream/internal/listing"
	"github.com/opencode-ai/eventstream/internal/logging"
	"github.com/opencode-ai/eventstream/internal/transport"
	"github.com/opencode-ai/eventstream/pkg/eventstream"
)

var (
	tailURL         string
	tailTransport   string
	tailDir         string
	tailKinds       []string
	tailRecent      int
	tailMetricsAddr string
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print events from an opencode server as JSON lines",
	Long: `Connect to the server's event stream and print every event as one JSON
line on stdout. The connection is kept alive: it is reopened after the server
closes it and replaced when heartbeats stop arriving.

Connection changes are reported on stderr. With --recent, the last N events
are fetched from /event/recent after every (re)connect, since events sent while
disconnected are not replayed.`,
	Example: `  opencode-events tail --kind 'session.*' --kind 'message.**'
  opencode-events tail --transport websocket --recent 20`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailURL, "url", "", "Server base URL (default from config, then "+config.DefaultURL+")")
	tailCmd.Flags().StringVar(&tailTransport, "transport", "", "Transport: sse or websocket")
	tailCmd.Flags().StringVar(&tailDir, "directory", "", "Only stream events for this project directory")
	tailCmd.Flags().StringArrayVarP(&tailKinds, "kind", "k", nil, "Glob of event kinds to print (repeatable)")
	tailCmd.Flags().IntVar(&tailRecent, "recent", 0, "Print the last N events after every (re)connect")
	tailCmd.Flags().StringVar(&tailMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyTailFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	filter, err := newKindFilter(cfg.Kinds)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newPrinter(cmd.OutOrStdout(), 256)
	defer out.Close()

	opts := []eventstream.Option{}

	var recent *listing.Cache[[]transport.Envelope]
	if tailRecent > 0 {
		recent = listing.New[[]transport.Envelope](time.Duration(cfg.ListingTTL), listing.HTTPFetcher[[]transport.Envelope]{
			BaseURL: cfg.URL,
			Header:  cfg.Header(),
		})
		defer recent.Close()

		key := "/event/recent?limit=" + strconv.Itoa(tailRecent)
		opts = append(opts, eventstream.WithResync(func() {
			recent.Invalidate()
			// The hook runs on the stream's reader; fetch without blocking delivery.
			go printRecent(ctx, recent, key, filter, out)
		}))
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, eventstream.WithMetrics(reg))

		srv := serveMetrics(cfg.MetricsAddr, reg)
		defer srv.Shutdown(context.Background())
	}

	client, err := eventstream.New(eventstream.Config{
		URL:       cfg.URL,
		Transport: cfg.Transport,
		Directory: cfg.Directory,
		Header:    cfg.Header(),
	}, opts...)
	if err != nil {
		return err
	}

	client.AddEventListener(eventstream.AnyKind, func(ev eventstream.Event) {
		if filter.Match(ev.Kind) {
			out.Print(outputLine{Type: ev.Kind, Properties: ev.Data, ReceivedAt: ev.ReceivedAt})
		}
	})

	stderr := cmd.ErrOrStderr()
	client.WatchConnectionState(func(s eventstream.State) {
		fmt.Fprintf(stderr, "%s event stream %s\n", time.Now().Format(time.TimeOnly), s)
	})

	if path := watchedConfigPath(); path != "" && !cmd.Flags().Changed("log-level") {
		err := config.Watch(ctx, path, func(c *config.Config) {
			logging.SetLevel(logging.ParseLevel(c.LogLevel))
		})
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("config changes will not be applied")
		}
	}

	endpoint := client.Endpoint()
	logging.Info().Str("endpoint", endpoint).Msg("tailing events")
	fmt.Fprintf(stderr, "connecting to %s\n", endpoint)

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Stop()

	resumed, stopResume := notifyResume()
	defer stopResume()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-resumed:
			if client.Foreground() {
				logging.Info().Msg("event stream went stale while suspended, reconnecting")
			}
		}
	}
}

// applyTailFlags overrides config values with the flags that were set.
func applyTailFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = tailURL
	}
	if flags.Changed("transport") {
		cfg.Transport = tailTransport
	}
	if flags.Changed("directory") {
		cfg.Directory = tailDir
	}
	if flags.Changed("kind") {
		cfg.Kinds = tailKinds
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = tailMetricsAddr
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logging.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return srv
}

func printRecent(ctx context.Context, recent *listing.Cache[[]transport.Envelope], key string, filter kindFilter, out *printer) {
	events, err := recent.Get(ctx, key)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn().Err(err).Msg("failed to fetch recent events")
		}
		return
	}
	for _, env := range events {
		if filter.Match(env.Type) {
			out.Print(outputLine{Type: env.Type, Properties: env.Properties, Recent: true})
		}
	}
}

// kindFilter matches event kinds against doublestar globs. No globs match everything.
type kindFilter []string

func newKindFilter(patterns []string) (kindFilter, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid kind pattern %q", p)
		}
	}
	return kindFilter(patterns), nil
}

func (f kindFilter) Match(kind string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if ok, _ := doublestar.Match(p, kind); ok {
			return true
		}
	}
	return false
}

// outputLine is one line of tail output.
type outputLine struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
	ReceivedAt time.Time       `json:"receivedAt,omitzero"`
	Recent     bool            `json:"recent,omitempty"`
}

// printer writes lines from a buffered queue so a slow stdout never stalls event
// delivery. Lines that do not fit are dropped and counted.
type printer struct {
	lines   chan outputLine
	done    chan struct{}
	once    sync.Once
	dropped int
	mu      sync.Mutex
}

func newPrinter(w io.Writer, buffer int) *printer {
	lines := make(chan outputLine, buffer)
	p := &printer{
		lines: lines,
		done:  make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		enc := json.NewEncoder(w)
		for line := range lines {
			if err := enc.Encode(line); err != nil {
				logging.Error().Err(err).Msg("write failed")
			}
		}
	}()
	return p
}

// Print queues line for output.
func (p *printer) Print(line outputLine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lines == nil {
		return
	}
	select {
	case p.lines <- line:
	default:
		p.dropped++
		logging.Warn().
			Str("eventType", line.Type).
			Int("dropped", p.dropped).
			Msg("event dropped: output buffer full")
	}
}

// Dropped returns the number of lines dropped so far.
func (p *printer) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close flushes queued lines and stops the printer.
func (p *printer) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		close(p.lines)
		p.lines = nil
		p.mu.Unlock()
		<-p.done
	})
}
