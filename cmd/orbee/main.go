package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/guihirsch/orbee.online-sub002/internal/adapter/backend"
	"github.com/guihirsch/orbee.online-sub002/internal/adapter/cache"
	"github.com/guihirsch/orbee.online-sub002/internal/adapter/httpadapter"
	kafkaadapter "github.com/guihirsch/orbee.online-sub002/internal/adapter/kafka"
	"github.com/guihirsch/orbee.online-sub002/internal/adapter/postgres"
	"github.com/guihirsch/orbee.online-sub002/internal/aoi"
	"github.com/guihirsch/orbee.online-sub002/internal/config"
	"github.com/guihirsch/orbee.online-sub002/internal/dataset"
	"github.com/guihirsch/orbee.online-sub002/internal/domain"
	"github.com/guihirsch/orbee.online-sub002/internal/monitor"
	"github.com/guihirsch/orbee.online-sub002/internal/observability"
	"github.com/guihirsch/orbee.online-sub002/internal/resolver"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, closeDB := loadRegistry(ctx, cfg, logger)
	defer closeDB()

	feedData := loadFeed(cfg, logger)
	feed, err := dataset.ParseCriticalPoints(feedData)
	if err != nil {
		logger.Error("failed to parse critical point feed", "error", err)
		os.Exit(1)
	}

	client := backend.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.LiveTimeout, metrics, logger)
	res := resolver.New(resolver.Config{
		Regions:     registry,
		Live:        client,
		Feed:        feed,
		Cache:       cache.New(cfg.CacheSize, clock),
		Synth:       domain.NewSynthesizer(cfg.SyntheticSeed),
		Clock:       clock,
		Logger:      logger,
		Metrics:     metrics,
		LiveTimeout: cfg.LiveTimeout,
		CacheTTL:    cfg.CacheTTL,
	})
	logger.Info("resolver ready",
		"backend", cfg.BackendURL,
		"regions", len(registry.Regions()),
		"cache_size", cfg.CacheSize,
		"cache_ttl", cfg.CacheTTL,
	)

	loader := aoi.New(aoi.Config{
		Backend:  client,
		Debounce: cfg.SearchDebounce,
		Clock:    clock,
		Logger:   logger,
		Metrics:  metrics,
		Callbacks: aoi.Callbacks{
			OnSelect: func(sel aoi.Selection) {
				logger.Info("aoi selected", "ibge_code", sel.Municipality.IBGECode, "plan", sel.Municipality.Plan != nil)
			},
		},
	})
	defer loader.Close()

	checks := readiness{res}

	var writer *kafkaadapter.Writer
	var mon *monitor.Monitor
	if cfg.MonitorEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		mon = monitor.New(monitor.Config{
			Source:    res,
			Publisher: writer,
			Clock:     clock,
			Logger:    logger,
			Metrics:   metrics,
			Interval:  cfg.MonitorInterval,
		})
		checks = append(checks, mon)
	} else {
		logger.Info("region monitor disabled")
	}

	area := registry.Area()
	srv := httpadapter.NewServer(httpadapter.Options{
		Addr:    cfg.HTTPAddr,
		Ready:   checks,
		Service: res,
		AOI:     loader,
		Map: httpadapter.MapConfig{
			Center:       area.Center,
			Feed:         feedData,
			RasterPath:   cfg.RasterMosaicPath,
			RasterBounds: cfg.RasterBounds,
		},
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
		Metrics:     metrics,
	})

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start region monitor.
	if mon != nil {
		go func() {
			if err := mon.Run(ctx); err != nil {
				logger.Error("monitor error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// loadRegistry prefers the Postgres registry when configured and falls back
// to the embedded dataset.
func loadRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dataset.Registry, func()) {
	noop := func() {}
	if cfg.RegionsDatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.RegionsDatabaseURL)
		if err == nil {
			reg, loadErr := postgres.NewRegionRepository(pool).LoadRegistry(ctx, cfg.RegionsAreaCode)
			if loadErr == nil {
				logger.Info("region registry loaded from postgres", "area", cfg.RegionsAreaCode, "regions", len(reg.Regions()))
				return reg, pool.Close
			}
			pool.Close()
			err = loadErr
		}
		logger.Warn("postgres region registry unavailable, using embedded dataset", "error", err)
	}

	reg, err := dataset.Load()
	if err != nil {
		logger.Error("failed to load embedded dataset", "error", err)
		os.Exit(1)
	}
	return reg, noop
}

func loadFeed(cfg *config.Config, logger *slog.Logger) []byte {
	if cfg.CriticalPointsPath == "" {
		return dataset.CriticalPoints
	}
	data, err := os.ReadFile(cfg.CriticalPointsPath)
	if err != nil {
		logger.Warn("critical point feed unreadable, using embedded feed", "path", cfg.CriticalPointsPath, "error", err)
		return dataset.CriticalPoints
	}
	return data
}

// readiness is ready when every member is.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
