// api/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clicktrail/api/config"
	"clicktrail/api/database"
	"clicktrail/api/experiment"
	"clicktrail/api/funnel"
	"clicktrail/api/listener"
	"clicktrail/api/observability"
	"clicktrail/api/revenue"
	"clicktrail/api/routes"
	"clicktrail/api/store"
	"clicktrail/api/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	// --- Tab-scoped storage (Redis with idle TTL, memory otherwise) ---
	var tabKV store.KV = store.NewMemoryKV()
	if cfg.RedisAddr != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Error("failed to initialize Redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		tabKV = store.NewRedisKV(rdb.Client, cfg.TabTTL)
	} else {
		logger.Warn("REDIS_ADDR not set, tab sessions are kept in memory")
	}

	// --- Durable client storage (PostgreSQL, memory otherwise) ---
	var durableKV store.KV = store.NewMemoryKV()
	if cfg.DatabaseURL != "" {
		dbClient, err := database.NewPostgresDB(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("failed to initialize PostgreSQL database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		pg := store.NewPostgresKV(dbClient.DB)
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("failed to migrate client_storage", "error", err)
			os.Exit(1)
		}
		durableKV = pg
	} else {
		logger.Warn("DATABASE_URL not set, experiment and funnel state is kept in memory")
	}

	// --- Sinks ---
	var sinks tracker.MultiSink
	if cfg.SinkEnabled() {
		mp, err := tracker.NewMixpanelSink(tracker.MixpanelOptions{
			Token:   cfg.MixpanelToken,
			APIURL:  cfg.MixpanelAPIURL,
			Metrics: metrics,
			Logger:  logger,
		})
		if err != nil {
			logger.Error("failed to initialize Mixpanel sink", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, mp)

		if cfg.ClickHouseHost != "" {
			chClient, err := database.NewClickHouseDB(ctx, database.ClickHouseOptions{
				Host:       cfg.ClickHouseHost,
				Port:       cfg.ClickHousePort,
				Database:   cfg.ClickHouseDB,
				Username:   cfg.ClickHouseUser,
				Password:   cfg.ClickHousePassword,
				AppVersion: cfg.AppVersion,
			}, logger)
			if err != nil {
				logger.Error("failed to initialize ClickHouse database", "error", err)
				os.Exit(1)
			}
			defer chClient.Close()
			analyticsStore := store.NewAnalyticsStore(chClient, logger)
			if err := analyticsStore.EnsureSchema(ctx); err != nil {
				logger.Error("failed to prepare analytics_events", "error", err)
				os.Exit(1)
			}
			sinks = append(sinks, tracker.NewClickHouseSink(analyticsStore, 0, 0, metrics, logger))
		}
	} else {
		logger.Warn("tracking disabled: TRACKING_ENABLED is off or MIXPANEL_TOKEN is missing")
	}

	var sink tracker.Sink
	if len(sinks) > 0 {
		sink = sinks
	}
	trk := tracker.New(sink, tracker.Options{
		Enabled:       cfg.TrackingEnabled,
		Environment:   cfg.Env,
		AppVersion:    cfg.AppVersion,
		ReplayBaseURL: cfg.ReplayBaseURL,
		Metrics:       metrics,
		Logger:        logger,
	})

	// --- Services ---
	tables, err := experiment.LoadTables(cfg.ExperimentsFile)
	if err != nil {
		logger.Error("ignoring experiments file, using built-in tables", "error", err)
	}
	tabs := listener.NewManager(tabKV, trk, cfg.TabTTL, metrics, logger)
	go tabs.Run(ctx, time.Minute)

	r := gin.Default()
	routes.SetupRoutes(r, routes.Deps{
		Tracker:     trk,
		Tabs:        tabs,
		Experiments: experiment.NewService(durableKV, trk, tables, metrics, logger),
		Funnels:     funnel.NewService(durableKV, trk, logger),
		Revenue:     revenue.NewService(trk, logger),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		JWTSecret:   cfg.JWTSecret,
		APIKey:      cfg.AuthDefault,
		FEOrigin:    cfg.FEOrigin,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Port, "tracking_enabled", trk.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed to start", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := trk.Close(shutdownCtx); err != nil {
		logger.Error("failed to flush analytics sinks", "error", err)
	}

	logger.Info("server exiting")
}
