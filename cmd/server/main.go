package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	apihttp "github.com/haruyam15/meomok/internal/api/http"
	"github.com/haruyam15/meomok/internal/app"
	"github.com/haruyam15/meomok/internal/ingest"
	"github.com/haruyam15/meomok/internal/metrics"
	"github.com/haruyam15/meomok/internal/paginate"
	"github.com/haruyam15/meomok/internal/providers/common"
	"github.com/haruyam15/meomok/internal/providers/google"
	"github.com/haruyam15/meomok/internal/providers/kakao"
	"github.com/haruyam15/meomok/internal/providers/osm"
	"github.com/haruyam15/meomok/internal/search"
	"github.com/haruyam15/meomok/internal/telemetry"
	"github.com/haruyam15/meomok/internal/tiles"
)

func main() {
	if err := app.LoadDotEnv(); err != nil {
		slog.Default().Warn("dotenv load failed", slog.String("error", err.Error()))
	}
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("startup aborted", slog.String("error", err.Error()))
		os.Exit(1)
	}
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "meomok")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "meomok"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("storageBackend", cfg.StorageBackend),
		slog.String("tileStore", cfg.TileStore),
		slog.Bool("hasOverpass", cfg.OverpassURL != ""),
		slog.Duration("providerTimeout", cfg.ProviderTimeout),
		slog.Int("providerRPS", cfg.ProviderRPS),
		slog.Duration("tileTTL", cfg.TileTTL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(rootCtx, 15*time.Second)
	store, err := openStorage(startupCtx, cfg, logger)
	if err != nil {
		cancel()
		logger.Error("storage init failed",
			slog.String("backend", cfg.StorageBackend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer store.close()

	tileStore, tileCheck, err := buildTileStore(startupCtx, cfg, store, logger)
	cancel()
	if err != nil {
		logger.Error("tile store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	providerClient := common.NewHTTPClient(cfg.ProviderTimeout)
	providers := []search.Provider{
		kakao.NewProvider(kakao.Config{
			APIKey:    cfg.KakaoAPIKey,
			UserAgent: cfg.UserAgent,
			Client:    providerClient,
		}),
		google.NewProvider(google.Config{
			APIKey:    cfg.GoogleAPIKey,
			UserAgent: cfg.UserAgent,
			Client:    providerClient,
		}),
	}
	if cfg.OverpassURL != "" {
		providers = append(providers, osm.NewProvider(osm.Config{
			Endpoint: cfg.OverpassURL,
			Timeout:  cfg.ProviderTimeout,
		}))
	}

	searchService := search.NewService(
		providers,
		tiles.New(tileStore, tiles.WithTTL(cfg.TileTTL)),
		ingest.New(store.backend, logger),
		paginate.New(store.backend),
		search.WithLogger(logger),
		search.WithProviderTimeout(cfg.ProviderTimeout),
		search.WithProviderRateLimit(float64(cfg.ProviderRPS)),
	)

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithRateLimit(float64(cfg.HTTPRateLimitRPS), cfg.HTTPRateLimitRPS*2),
		apihttp.WithHealthCheck("storage", store.ping),
	}
	if tileCheck != nil {
		serverOpts = append(serverOpts, apihttp.WithHealthCheck("tiles", tileCheck))
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apihttp.NewServer(searchService, serverOpts...).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// A forced search waits for every provider before answering.
		WriteTimeout: cfg.ProviderTimeout*3 + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("meomok service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Int("providers", len(searchService.Providers())),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("meomok service stopped")
}

// buildTileStore returns the FetchTile store: the place storage itself, or Redis when
// TILE_STORE=redis. The returned check is nil when the storage health check already covers it.
func buildTileStore(ctx context.Context, cfg app.Config, store *storage, logger *slog.Logger) (tiles.Store, apihttp.HealthCheck, error) {
	if cfg.TileStore != app.TileStoreRedis {
		return store.backend, nil, nil
	}
	redisOpts, err := redis.ParseURL(strings.TrimSpace(cfg.RedisURL))
	if err != nil {
		return nil, nil, err
	}
	redisClient := redis.NewClient(redisOpts)
	redisStore := tiles.NewRedisStore(redisClient, cfg.TileTTL)
	if err := redisStore.Ping(ctx); err != nil {
		_ = redisClient.Close()
		return nil, nil, err
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return redisStore, redisStore.Ping, nil
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
