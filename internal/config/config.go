package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Transport names.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// DefaultURL is the address of a local opencode server.
const DefaultURL = "http://127.0.0.1:4096"

// Environment variables applied after the config file.
const (
	EnvConfig      = "OPENCODE_EVENTS_CONFIG"
	EnvURL         = "OPENCODE_EVENTS_URL"
	EnvTransport   = "OPENCODE_EVENTS_TRANSPORT"
	EnvLogLevel    = "OPENCODE_EVENTS_LOG_LEVEL"
	EnvDirectory   = "OPENCODE_EVENTS_DIRECTORY"
	EnvMetricsAddr = "OPENCODE_EVENTS_METRICS_ADDR"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the event client configuration.
type Config struct {
	// URL is the server base URL; the stream endpoint is derived from it.
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`
	// Directory scopes the stream to one project.
	Directory   string            `json:"directory,omitempty" yaml:"directory,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	LogLevel    string            `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	MetricsAddr string            `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`
	ListingTTL  Duration          `json:"listingTTL,omitempty" yaml:"listingTTL,omitempty"`
	// Kinds are glob patterns selecting the events to print.
	Kinds []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		URL:        DefaultURL,
		Transport:  TransportSSE,
		LogLevel:   "INFO",
		ListingTTL: Duration(time.Minute),
	}
}

// Load builds the configuration from, in increasing priority:
//  1. built-in defaults
//  2. the config file at path, or the first default config file found when path is empty
//  3. OPENCODE_EVENTS_* environment variables, including those set by a .env file
//     in the working directory
func Load(path string) (*Config, error) {
	cfg := Default()

	// Missing .env is fine; existing variables are never overridden.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	} else {
		for _, candidate := range DefaultConfigFiles() {
			if err := loadConfigFile(candidate, cfg); err == nil {
				break
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile merges a single file into cfg. JSON and JSONC files support
// {env:VAR} interpolation.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileConfig Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	default:
		data = jsonc.ToJSON(data)
		data = interpolate(data)
		if err := json.Unmarshal(data, &fileConfig); err != nil {
			return err
		}
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate expands {env:VAR_NAME} placeholders.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// mergeConfig merges non-zero fields of source into target.
func mergeConfig(target, source *Config) {
	if source.URL != "" {
		target.URL = source.URL
	}
	if source.Transport != "" {
		target.Transport = source.Transport
	}
	if source.Directory != "" {
		target.Directory = source.Directory
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.MetricsAddr != "" {
		target.MetricsAddr = source.MetricsAddr
	}
	if source.ListingTTL != 0 {
		target.ListingTTL = source.ListingTTL
	}
	if len(source.Kinds) > 0 {
		target.Kinds = source.Kinds
	}

	if source.Headers != nil {
		if target.Headers == nil {
			target.Headers = make(map[string]string)
		}
		for k, v := range source.Headers {
			target.Headers[k] = v
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvURL); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv(EnvTransport); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvDirectory); v != "" {
		cfg.Directory = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
}

// Validate checks the fields Load cannot default.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https, got %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidConfig)
	}

	switch c.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}

	if c.ListingTTL < 0 {
		return fmt.Errorf("%w: listingTTL must not be negative", ErrInvalidConfig)
	}
	return nil
}

// EndpointURL returns the stream endpoint for the configured transport:
// /event for SSE, /event/ws (with a ws or wss scheme) for WebSocket.
func (c *Config) EndpointURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", err
	}

	base := strings.TrimRight(u.Path, "/")
	switch c.Transport {
	case TransportWebSocket:
		if u.Scheme == "https" {
			u.Scheme = "wss"
		} else {
			u.Scheme = "ws"
		}
		u.Path = base + "/event/ws"
	default:
		u.Path = base + "/event"
	}

	if c.Directory != "" {
		q := u.Query()
		q.Set("directory", c.Directory)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Header returns Headers as an http.Header.
func (c *Config) Header() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}
