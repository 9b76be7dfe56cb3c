package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/eventstream/internal/config"
	"github.com/opencode-ai/eventstream/internal/server"
	"github.com/opencode-ai/eventstream/internal/transport"
)

var publishURL string

var publishCmd = &cobra.Command{
	Use:   "publish <type> [properties-json]",
	Short: "Send an event to a development event server",
	Example: `  opencode-events publish session.updated '{"id":"s1"}'
  opencode-events publish file.edited`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishURL, "url", "", "Server base URL (default from config, then "+config.DefaultURL+")")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("url") {
		cfg.URL = publishURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	env := transport.Envelope{Type: args[0]}
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("properties must be JSON: %s", args[1])
		}
		env.Properties = json.RawMessage(args[1])
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	resp, err := publish(ctx, cfg, env)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", resp.Type)
	return nil
}

// publish posts env to the server's /event endpoint.
func publish(ctx context.Context, cfg *config.Config, env transport.Envelope) (server.PublishResponse, error) {
	var result server.PublishResponse

	body, err := json.Marshal(env)
	if err != nil {
		return result, err
	}

	url := strings.TrimRight(cfg.URL, "/") + "/event"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("build request: %w", err)
	}
	req.Header = cfg.Header()
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("publish: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var apiErr server.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return result, fmt.Errorf("publish: %s: %s", resp.Status, apiErr.Error.Message)
		}
		return result, fmt.Errorf("publish: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}
