// Package commands provides the CLI commands for opencode-events.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/eventstream/internal/config"
	"github.com/opencode-ai/eventstream/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	configPath string
	printLogs  bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "opencode-events",
	Short: "Watch and drive the opencode event stream",
	Long: `opencode-events connects to an opencode server's push-event stream and
keeps it alive across network failures, server restarts and suspended laptops.

Run 'opencode-events tail' to print events as JSON lines, 'opencode-events serve'
to start a development event server, or 'opencode-events publish' to send one.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand, show help
		cmd.Help()
	},
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/opencode/events.{jsonc,json,yaml})")
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr instead of the log file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("opencode-events %s (%s)\n", Version, BuildTime))

	// Add subcommands
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(publishCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogging writes logs to stderr with --print-logs, otherwise to a file under the
// state directory so they never mix with event output.
func initLogging(cmd *cobra.Command) {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	if printLogs {
		cfg.Output = cmd.ErrOrStderr()
		cfg.Pretty = true
	} else {
		cfg.Output = io.Discard
		cfg.LogToFile = true
		cfg.LogDir = config.GetPaths().LogDir()
	}
	logging.Init(cfg)
}

// loadConfig loads the config file and applies the --log-level flag when it was set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	} else {
		logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	}
	return cfg, nil
}

// watchedConfigPath returns the config file to watch for changes, if one was named.
func watchedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv(config.EnvConfig); p != "" {
		return p
	}
	for _, p := range config.DefaultConfigFiles() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
