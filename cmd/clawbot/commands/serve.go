package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbot/pkg/clawbot/app"
	"github.com/jholhewres/clawbot/pkg/clawbot/config"
)

// shutdownTimeout bounds the graceful stop after a signal.
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant on the configured chat channels",
		Long: `Start clawbot as a service: connect the configured channels
(Telegram, Discord, WhatsApp), answer messages and run scheduled jobs.

Examples:
  clawbot serve
  clawbot serve --channel telegram
  clawbot serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, discord, whatsapp)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	filter, _ := cmd.Flags().GetStringSlice("channel")
	applyChannelFilter(cfg, filter)

	logger := newLogger(cmd, cfg)
	a, err := app.New(cfg, app.Options{
		OnWhatsAppQR: func(code string) {
			fmt.Fprintln(os.Stderr, "Scan this code with WhatsApp > Linked devices:")
			fmt.Fprintln(os.Stderr, code)
		},
	}, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-runErr:
		a.Close()
		return err
	case <-sigChan:
	}

	logger.Info("shutdown signal received, stopping...")
	cancel()

	select {
	case err := <-runErr:
		if cerr := a.Close(); cerr != nil {
			logger.Warn("error during close", "error", cerr)
		}
		logger.Info("shutdown complete")
		return err
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
		return nil
	}
}

// applyChannelFilter disables channels not named in filter. An empty
// filter keeps the configuration as is.
func applyChannelFilter(cfg *config.Config, filter []string) {
	if len(filter) == 0 {
		return
	}
	if !slices.Contains(filter, "telegram") {
		cfg.Channels.Telegram.Token = ""
	}
	if !slices.Contains(filter, "discord") {
		cfg.Channels.Discord.Token = ""
	}
	if !slices.Contains(filter, "whatsapp") {
		cfg.Channels.WhatsApp.Enabled = false
	}
}
