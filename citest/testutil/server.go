package testutil

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/opencode-ai/eventstream/internal/server"
)

// TestServer wraps a dev event server for testing
type TestServer struct {
	Server  *server.Server
	BaseURL string
	port    int
}

// TestServerOption configures TestServer
type TestServerOption func(*server.Config)

// WithHeartbeatInterval sets the server heartbeat interval; zero disables heartbeats
func WithHeartbeatInterval(d time.Duration) TestServerOption {
	return func(c *server.Config) {
		c.HeartbeatInterval = d
	}
}

// WithDirectory sets the default directory
func WithDirectory(dir string) TestServerOption {
	return func(c *server.Config) {
		c.Directory = dir
	}
}

// StartTestServer creates and starts a test server on a free port
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	port, err := findAvailablePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Port = port
	for _, opt := range opts {
		opt(serverConfig)
	}

	srv := server.New(serverConfig)

	// Start server in background
	go func() {
		_ = srv.Start()
	}()

	// Wait for server to be ready
	baseURL := fmt.Sprintf("http://localhost:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		srv.Shutdown(context.Background())
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:  srv,
		BaseURL: baseURL,
		port:    port,
	}, nil
}

// Stop shuts down the test server
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ts.Server != nil {
		return ts.Server.Shutdown(ctx)
	}
	return nil
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
