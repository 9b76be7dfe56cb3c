package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/eventstream/internal/event"
	"github.com/opencode-ai/eventstream/internal/heartbeat"
	"github.com/opencode-ai/eventstream/internal/logging"
	"github.com/opencode-ai/eventstream/internal/server"
)

var (
	servePort      int
	serveDir       string
	serveHeartbeat time.Duration
	serveHistory   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a development event server",
	Long: `Start a server that speaks the opencode event protocol on /event (SSE) and
/event/ws (WebSocket). Events posted to /event are sent to every open stream.

POST /event/disconnect drops every stream, and --heartbeat 0 stops heartbeats;
use them to watch clients recover.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 4096, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Default project directory")
	serveCmd.Flags().DurationVar(&serveHeartbeat, "heartbeat", heartbeat.Interval, "Heartbeat interval (0 disables heartbeats)")
	serveCmd.Flags().IntVar(&serveHistory, "history", event.DefaultHistory, "Number of events kept for /event/recent")
}

func runServe(cmd *cobra.Command, args []string) error {
	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort
	serverConfig.Directory = serveDir
	serverConfig.HeartbeatInterval = serveHeartbeat
	serverConfig.History = serveHistory

	srv := server.New(serverConfig)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logging.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}
