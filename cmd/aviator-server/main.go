package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aviatorhub/internal/config"
	"aviatorhub/internal/logging"
	"aviatorhub/internal/microservices/admin"
	"aviatorhub/internal/microservices/tcp"
	"aviatorhub/internal/settlement"
)

var rootCmd = &cobra.Command{
	Use:   "aviator-server [v4|v6] [port]",
	Short: "aviator-server - multiplayer crash game server",
	Long: `aviator-server runs the betting rounds and accepts players over TCP.

The IP version and port default to AVIATOR_IP_VERSION and AVIATOR_PORT;
positional arguments override them. Every other setting comes from the
environment or a .env file in the working directory.`,
	Args:          cobra.MaximumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if len(args) > 0 {
			cfg.IPVersion = args[0]
		}
		if len(args) > 1 {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[1], err)
			}
			cfg.Port = port
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return run(cfg)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := buildRecorder(ctx, cfg, logger)
	defer recorder.Close()

	registry := tcp.NewRegistry(cfg.MaxPlayers,
		tcp.WithWriteTimeout(cfg.SessionWriteTimeout),
		tcp.WithLogger(logger),
	)
	engine := settlement.NewEngine(settlement.Params{
		StakeFactor: cfg.StakeFactor,
		Exponent:    cfg.ExplosionExponent,
	})
	events := logging.NewEventLog(logger)

	controller := tcp.NewRoundController(registry, engine, tcp.RoundTiming{
		BettingSeconds: cfg.BettingSeconds,
		CountdownTick:  cfg.CountdownTick,
		FlightTick:     cfg.FlightTick,
		MultiplierStep: cfg.MultiplierStep,
		Pause:          cfg.RoundPause,
	},
		tcp.WithRecorder(recorder),
		tcp.WithEvents(events),
		tcp.WithControllerLogger(logger),
	)

	server := tcp.NewServer(tcp.ServerConfig{
		Network: cfg.ListenNetwork(),
		Addr:    cfg.ListenAddr(),
		Session: tcp.SessionConfig{
			IdleTimeout: cfg.SessionIdleTimeout,
			RateLimit:   cfg.SessionRateLimit,
			RateBurst:   cfg.SessionRateBurst,
		},
	}, registry, controller,
		tcp.WithServerLogger(logger),
		tcp.WithServerEvents(events),
	)

	logger.Info("starting_aviator_server",
		"env", cfg.GoEnv,
		"network", cfg.ListenNetwork(),
		"addr", cfg.ListenAddr(),
		"max_players", cfg.MaxPlayers,
		"admin_addr", cfg.AdminAddr(),
	)

	errChan := make(chan error, 2)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	var adminServer *admin.Server
	if addr := cfg.AdminAddr(); addr != "" {
		adminServer = admin.NewServer(addr, registry, recorder, logger)
		unsubscribe := registry.Subscribe(adminServer.Hub)
		defer unsubscribe()
		go func() {
			if err := adminServer.Start(); err != nil {
				errChan <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received_shutdown_signal", "signal", sig.String())
	case runErr = <-errChan:
		logger.Error("server_error", "error", runErr.Error())
	}

	server.Stop()
	if adminServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin_shutdown_failed", "error", err)
		}
	}
	logger.Info("server_stopped_gracefully")
	return runErr
}

// buildRecorder wires whichever round history backends are configured.
// Unreachable backends are logged and skipped.
func buildRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) tcp.RoundRecorder {
	var (
		cache   tcp.RoundCache
		archive tcp.RoundArchive
	)
	if cfg.RedisURL != "" {
		repo, err := tcp.NewRoundRedisRepo(cfg.RedisAddr(), cfg.RedisPassword)
		if err != nil {
			logger.Warn("round_history_redis_unavailable", "error", err)
		} else {
			cache = repo
		}
	}
	if cfg.DatabaseURL != "" {
		repo, err := tcp.OpenRoundPostgresRepo(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("round_history_postgres_unavailable", "error", err)
		} else {
			archive = repo
		}
	}
	if cache == nil && archive == nil {
		logger.Info("round_history_disabled")
		return tcp.NopRecorder{}
	}

	hybrid := tcp.NewHybridRoundRepo(cache, archive, cfg.HistoryBatchInterval, logger)
	hybrid.Start(ctx)
	return hybrid
}
