package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/ptrack/internal/command"
	"github.com/goodtune/ptrack/internal/config"
	"github.com/goodtune/ptrack/internal/metrics"
	"github.com/goodtune/ptrack/internal/probe"
	"github.com/goodtune/ptrack/internal/storage"
	"github.com/goodtune/ptrack/internal/storage/file"
	"github.com/goodtune/ptrack/internal/storage/redisstore"
	"github.com/goodtune/ptrack/internal/store"
	"github.com/goodtune/ptrack/internal/systemd"
	"github.com/goodtune/ptrack/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ptrack tracker",
	Long:  `Start the polling loop, the periodic reload checkpoint, and the metrics/command HTTP endpoint.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting ptrack")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	servers, err := cfg.ServerList()
	if err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	// Initialize record storage
	records, err := openRecords(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := records.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Load player records into memory
	playerStore := store.New(records, logger)
	if err := playerStore.Load(context.Background()); err != nil {
		return fmt.Errorf("failed to load player records: %w", err)
	}

	// Initialize prober
	prober := probe.NewA2S(
		parseDuration(cfg.Tracker.ProbeTimeout, 3*time.Second),
		cfg.Tracker.ProbeRetries,
		logger,
	)

	// Initialize Tracker
	clock := tracker.RealClock{}
	publisher := tracker.LogPublisher{
		Logger: logger.With().Str("component", "publisher").Str("channel", cfg.Chat.ChannelName).Logger(),
	}
	trk := tracker.New(
		servers,
		playerStore,
		prober,
		publisher,
		clock,
		parseDuration(cfg.Tracker.PollInterval, 20*time.Second),
		parseDuration(cfg.Tracker.ReloadInterval, 5*time.Minute),
		logger,
	)
	trk.Start()

	logger.Info().Int("servers", len(servers)).Msg("Tracker initialized")

	// Initialize command registry
	registry := command.NewRegistry(logger)
	command.RegisterAll(registry, &command.Env{
		Store:     playerStore,
		Tracker:   trk,
		Servers:   servers,
		Clock:     clock,
		StartedAt: clock.Now(),
		Version:   version,
		Logger:    logger,
	})

	// Initialize Metrics Server with the command dispatch endpoint
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(metricsAddr, logger)
		metricsServer.Handle("/command", command.NewAPIHandler(registry, logger))

		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}

		logger.Info().Str("addr", metricsAddr).Msg("Metrics server started")
		logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)
		logger.Info().Msgf("Commands: http://%s/command", metricsAddr)
	}

	logger.Info().Msg("ptrack startup complete")

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, reloading player records...")
			if err := playerStore.Reload(context.Background(), clock.Now()); err != nil {
				logger.Error().Err(err).Msg("Failed to reload player records")
			} else {
				logger.Info().Msg("Player records reloaded")
			}
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop the tracker first; it checkpoints all open sessions.
	trk.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("ptrack stopped")

	return nil
}

func openRecords(cfg config.StorageConfig) (storage.RecordStore, error) {
	switch cfg.Type {
	case "file", "":
		return file.Open(cfg.Path)
	case "redis":
		return redisstore.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
