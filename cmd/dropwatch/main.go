package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dropwatch/internal/config"
	"dropwatch/internal/engine"
	"dropwatch/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configFile string
		dataDir    string
		serverAddr string
		logLevel   string
		channels   []string
	)

	root := &cobra.Command{
		Use:           "dropwatch",
		Short:         "Twitch drops and channel points watcher daemon",
		Long:          "dropwatch holds one PubSub connection to Twitch, tracks the configured channels and watches whichever one currently earns drops, claiming rewards as they complete.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile, dataDir, serverAddr, logLevel)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if len(channels) > 0 {
				cfg.Channels = channels
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	root.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	root.Flags().StringVar(&serverAddr, "addr", "", "Diagnostics server address (overrides config)")
	root.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	root.Flags().StringSliceVar(&channels, "channel", nil, "Channel login to track, repeatable, in priority order (overrides config)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dropwatch %s\n", version)
		},
	})

	return root
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := logging.Setup(cfg.ToLoggingConfig()); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if len(cfg.Channels) == 0 {
		return fmt.Errorf("no channels configured: set channels in the config file, DROPWATCH_CHANNELS or --channel")
	}

	e, err := engine.CreateEngine(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", version).Msg("Starting dropwatch")

	runErr := e.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with errors")
	}

	return runErr
}
