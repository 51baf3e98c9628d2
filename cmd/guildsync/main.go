package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensholdgaard/guildsync/internal/aggregate"
	"github.com/jensholdgaard/guildsync/internal/clock"
	"github.com/jensholdgaard/guildsync/internal/config"
	"github.com/jensholdgaard/guildsync/internal/health"
	"github.com/jensholdgaard/guildsync/internal/leader"
	"github.com/jensholdgaard/guildsync/internal/notify"
	"github.com/jensholdgaard/guildsync/internal/provider/armory"
	"github.com/jensholdgaard/guildsync/internal/provider/auth"
	"github.com/jensholdgaard/guildsync/internal/provider/official"
	"github.com/jensholdgaard/guildsync/internal/ratelimit"
	"github.com/jensholdgaard/guildsync/internal/store"
	"github.com/jensholdgaard/guildsync/internal/syncer"
	"github.com/jensholdgaard/guildsync/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/guildsync/internal/store/entstore"
	_ "github.com/jensholdgaard/guildsync/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	// Open store using the configured driver (sqlx or ent).
	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	// Provider clients share one rate limiter so spacing survives across
	// tiers within a source.
	limiter := ratelimit.New(map[string]time.Duration{
		armory.SourceName:   cfg.Providers.Armory.MinInterval,
		official.SourceName: cfg.Providers.Official.MinInterval,
	})

	httpClient := &http.Client{}
	tokens := auth.New(cfg.Providers.Official.TokenURL, cfg.Providers.Official.ClientID,
		cfg.Providers.Official.ClientSecret, httpClient, clk, logger)

	armoryClient := armory.New(cfg.Providers.Armory.BaseURL, cfg.Guild.Region,
		httpClient, limiter, cfg.Providers.RequestTimeout)
	officialClient := official.New(cfg.Providers.Official.BaseURL, cfg.Guild.Region,
		cfg.Guild.Realm, cfg.Guild.Name, cfg.Sync.PvPBrackets,
		tokens, httpClient, limiter, cfg.Providers.RequestTimeout, logger)

	aggregator := aggregate.New(armoryClient, officialClient, logger, tp.TracerProvider)

	var notifier syncer.Notifier = syncer.NopNotifier{}
	var discordNotifier *notify.Notifier
	if cfg.Notifications.Enabled {
		discordNotifier, err = notify.New(cfg.Notifications, logger, clk)
		if err != nil {
			return fmt.Errorf("creating notifier: %w", err)
		}
		notifier = discordNotifier
	}

	syncStatus := health.NewSyncStatus(clk)
	observers := syncer.Observers{syncStatus}
	if metrics, metricsErr := telemetry.NewSyncMetrics(tp.MeterProvider); metricsErr != nil {
		logger.WarnContext(ctx, "sync metrics unavailable", slog.Any("error", metricsErr))
	} else {
		observers = append(observers, metrics)
	}

	orch := syncer.New(cfg.Sync, officialClient, officialClient, aggregator,
		repos.Members, repos.Errors, notifier, observers, clk, logger, tp.TracerProvider)

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	// Health endpoints run on all replicas, leader or not.
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler())
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler())
	mux.HandleFunc("/statusz", syncStatus.Handler())
	mux.HandleFunc("/debug/sync-errors", func(w http.ResponseWriter, r *http.Request) {
		recs, listErr := repos.Errors.ListRecent(r.Context(), 100)
		if listErr != nil {
			http.Error(w, listErr.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recs)
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting health server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "health server error", slog.Any("error", listenErr))
		}
	}()

	// startSync is the core work that only the leader should run.
	startSync := func(ctx context.Context) {
		if discordNotifier != nil {
			if startErr := discordNotifier.Start(); startErr != nil {
				logger.ErrorContext(ctx, "starting notifier failed", slog.Any("error", startErr))
			}
		}

		orch.Start(ctx)
		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "guildsync is running", slog.String("version", version))

		// Block until leadership is lost or the process is shutting down.
		<-ctx.Done()

		healthHandler.SetReady(false)
		orch.Stop()
		if discordNotifier != nil {
			if stopErr := discordNotifier.Stop(); stopErr != nil {
				logger.Error("notifier shutdown error", slog.Any("error", stopErr))
			}
		}
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := leader.Run(ctx, leaderConfig(cfg.LeaderElection), logger, startSync, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		startSync(ctx)
		logger.Info("shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

func leaderConfig(cfg config.LeaderElectionConfig) leader.Config {
	return leader.Config{
		Enabled:        cfg.Enabled,
		LeaseName:      cfg.LeaseName,
		LeaseNamespace: cfg.LeaseNamespace,
		LeaseDuration:  cfg.LeaseDuration,
		RenewDeadline:  cfg.RenewDeadline,
		RetryPeriod:    cfg.RetryPeriod,
	}
}
