package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-forecast/internal/api"
	"github.com/miradorstack/mirador-forecast/internal/cache"
	"github.com/miradorstack/mirador-forecast/internal/config"
	"github.com/miradorstack/mirador-forecast/internal/metrics"
	"github.com/miradorstack/mirador-forecast/internal/ratings"
	"github.com/miradorstack/mirador-forecast/internal/repo"
	"github.com/miradorstack/mirador-forecast/internal/scoring"
	"github.com/miradorstack/mirador-forecast/internal/services"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	logger.Info("starting mirador-forecast",
		slog.String("address", cfg.Server.Address),
		slog.String("upstream", cfg.Clients.Predictions.BaseURL))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	registry, err := ratings.Load(cfg.Ratings.Path, logger)
	if err != nil {
		logger.Error("failed to load rating schemes", slog.Any("error", err))
		os.Exit(1)
	}

	var healthServer *api.HealthServer
	if cfg.Server.GRPCAddress != "" {
		healthServer, err = api.NewHealthServer(cfg.Server.GRPCAddress)
		if err != nil {
			logger.Error("failed to create gRPC health server", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		maxTTL := max(cfg.Cache.ListTTL, cfg.Cache.LeaderboardTTL)
		provider, err := cache.NewLRUProvider(cache.LRUConfig{Size: cfg.Cache.Size, MaxTTL: maxTTL})
		if err != nil {
			logger.Warn("response cache disabled", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}

	client := repo.NewPredictionClient(repo.ClientConfig{
		BaseURL:           cfg.Clients.Predictions.BaseURL,
		Timeout:           cfg.Clients.Predictions.Timeout,
		MaxRetries:        cfg.Clients.Predictions.MaxRetries,
		MaxElapsed:        cfg.Clients.Predictions.MaxElapsed,
		RequestsPerSecond: cfg.Clients.Predictions.RequestsPerSecond,
		Burst:             cfg.Clients.Predictions.Burst,
		ListTTL:           cfg.Cache.ListTTL,
		LeaderboardTTL:    cfg.Cache.LeaderboardTTL,
	}, cacheProvider, logger)

	forecastService := services.NewForecastService(logger, client, registry, scoring.SystemClock{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.NewRouter(cfg.Server, forecastService, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	if healthServer != nil {
		go func() {
			logger.Info("grpc health server listening", slog.String("address", healthServer.Address()))
			if serveErr := healthServer.Start(); serveErr != nil {
				logger.Error("gRPC server exited", slog.Any("error", serveErr))
				stop()
			}
		}()
		watcher := api.NewHealthWatcher(logger, forecastService, healthServer, cfg.Health.Interval)
		go watcher.Run(ctx)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	if healthServer != nil {
		healthServer.Shutdown(shutdownCtx)
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	if err := cacheProvider.Close(); err != nil {
		logger.Warn("response cache close", slog.Any("error", err))
	}

	logger.Info("mirador-forecast stopped",
		slog.Duration("upstream_p95", forecastService.LatencyP95()))
}
