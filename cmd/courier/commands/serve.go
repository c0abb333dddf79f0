package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/courierbot/courier/pkg/courier/assistant"
	"github.com/courierbot/courier/pkg/courier/config"
	"github.com/courierbot/courier/pkg/courier/gateway"
)

// newServeCmd creates the `courier serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant daemon and control-plane gateway",
		Long: `Start Courier as a daemon: the assistant core, the channel
router, and the WebSocket control plane for operator clients.

Examples:
  courier serve
  courier serve --config ./courier.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := newLogger(cfg.Logging.Level, verbose)

	core, err := assistant.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Start(ctx); err != nil {
		return err
	}

	gw := gateway.New(cfg.Gateway, core, logger)
	gwErr := make(chan error, 1)
	go func() { gwErr <- gw.Start(ctx) }()

	logger.Info("Courier running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"gateway", cfg.Gateway.Addr(),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, stopping...")
	case err := <-gwErr:
		if err != nil {
			logger.Error("gateway failed", "error", err)
		}
	}
	cancel()

	done := make(chan struct{})
	go func() {
		gw.Shutdown("server stopping")
		core.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// newLogger builds the process logger from the configured level.
func newLogger(level string, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose || level == "debug" {
		logLevel = slog.LevelDebug
	} else if level == "warn" {
		logLevel = slog.LevelWarn
	} else if level == "error" {
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
