// Package commands implements the clawbot CLI with cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbot/pkg/clawbot/app"
	"github.com/jholhewres/clawbot/pkg/clawbot/channels"
	"github.com/jholhewres/clawbot/pkg/clawbot/config"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawbot",
		Short: "Clawbot - personal assistant with learned intents",
		Long: `Clawbot is a personal assistant for Telegram, Discord and WhatsApp.
It answers through built-in skills, remembers which skill handled each
phrase, runs scheduled jobs and falls back to an AI model for chat.

Examples:
  clawbot serve
  clawbot chat "remind me to stretch in 20 minutes"
  clawbot schedule list
  clawbot learned list telegram:12345`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newScheduleCmd(),
		newLearnedCmd(),
		newSetupCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig reads --config, or the first config file found, or defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the root logger from the logging section and --verbose.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// quietLogger keeps admin commands readable: only warnings and above unless
// --verbose is set.
func quietLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		return newLogger(cmd, cfg)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// noChannels runs an App without connecting any transport.
var noChannels = []channels.Channel{}

// openApp loads config and builds an App without chat transports, for
// commands that only touch the database or the router.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, app.Options{Channels: noChannels}, quietLogger(cmd, cfg))
}
