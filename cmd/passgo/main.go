// Command passgo runs the satellite pass-prediction and tracking service.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/orbit/passgo/internal/api"
	"github.com/orbit/passgo/internal/auth"
	"github.com/orbit/passgo/internal/metrics"
	"github.com/orbit/passgo/internal/passes"
	"github.com/orbit/passgo/internal/predcache"
	"github.com/orbit/passgo/internal/stream"
	"github.com/orbit/passgo/internal/tle"
	"github.com/orbit/passgo/internal/track"
	"github.com/orbit/passgo/internal/transform"
	"github.com/orbit/passgo/internal/upstream"
)

func main() {
	// Load .env if present; real environment wins.
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	upstreamCfg := loadUpstreamConfig()
	trackCfg := loadTrackConfig()
	streamCfg := loadStreamConfig()
	authCfg := loadAuthConfig(logger)

	addr := getEnv("PASSGO_HTTP_ADDR", ":8080")
	credential := os.Getenv("PASSGO_UPSTREAM_CREDENTIAL")
	horizonDays := getEnvInt("PASSGO_PASS_HORIZON_DAYS", 10)
	minElevDeg := getEnvFloat("PASSGO_PASS_MIN_ELEVATION", 0)
	cacheDir := getEnv("PASSGO_ELEMENTS_CACHE_DIR", "data/elements")
	dbPath := getEnv("PASSGO_CACHE_DB_PATH", "data/predictions.db")
	maintenanceInterval := getEnvDuration("PASSGO_CACHE_MAINTENANCE_INTERVAL", 5*time.Second)
	elementRefresh := getEnvDuration("PASSGO_ELEMENTS_REFRESH_INTERVAL", 6*time.Hour)

	passSourceName := "local"
	if upstreamCfg.PassesURL != "" && credential != "" {
		passSourceName = "upstream"
	}
	logger.Info("configuration loaded",
		"addr", addr,
		"pass_budget", upstreamCfg.PassBudget,
		"burst_budget", upstreamCfg.BurstBudget,
		"burst_seconds", trackCfg.BurstSeconds,
		"pass_source", passSourceName,
		"auth_enabled", authCfg.Enabled,
	)

	client := upstream.NewClient(upstreamCfg, logger)

	// Element store, seeded from the last on-disk snapshot so the service
	// is useful before the feed is reachable.
	store := tle.NewStore()
	elementCache := tle.NewCache(cacheDir, getEnvInt("PASSGO_ELEMENTS_CACHE_FILES", 5))
	if data, ts, err := elementCache.LoadLatest(); err == nil {
		if els, perr := tle.Parse(bytes.NewReader(data), logger); perr == nil {
			store.SetAll(els)
			logger.Info("elements loaded from disk cache",
				"count", len(els),
				"snapshot_age_hours", int(time.Since(ts).Hours()),
			)
		}
	}

	// Prediction source: the upstream pass-window API when configured and
	// credentialed, the local calculator otherwise.
	source := passSource(client, store, upstreamCfg.PassesURL, credential, horizonDays, minElevDeg)

	var persist *predcache.Store
	if dbPath != "" {
		p, err := predcache.NewStore(dbPath)
		if err != nil {
			logger.Warn("prediction persistence disabled", "path", dbPath, "error", err)
		} else {
			persist = p
			defer persist.Close()
		}
	}
	cache := predcache.New(source, persist, logger)

	// Tracking sessions activate only inside a known pass window.
	window := func(noradID int, obs transform.Observer, now time.Time) (passes.Pass, bool) {
		entry, ok := cache.Get(noradID, obs)
		if !ok {
			e, err := cache.Refresh(context.WithoutCancel(ctx), noradID, obs)
			if err != nil {
				return passes.Pass{}, false
			}
			entry = e
		}
		for _, p := range entry.Passes {
			if p.Stationary && !now.Before(p.Start) {
				return p, true
			}
			if !now.Before(p.Start) && now.Before(p.End) {
				return p, true
			}
		}
		return passes.Pass{}, false
	}

	manager := track.NewManager(client, window, trackCfg, logger)
	streamHandler := stream.NewHandler(manager, streamCfg, logger)

	server := api.NewServer(addr, logger, authCfg, store, cache, manager, streamHandler)

	// Background maintenance.
	go cache.Run(ctx, maintenanceInterval)
	go refreshElements(ctx, client, store, elementCache, elementRefresh, logger)
	go publishElementAge(ctx, store)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	manager.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.HTTPServer().Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// passSource picks the pass-window source: the upstream API when its URL and
// a credential are configured, else the local two-body calculator against the
// element store.
func passSource(client *upstream.Client, store *tle.Store, passesURL, credential string, horizonDays int, minElevDeg float64) predcache.SourceFunc {
	if passesURL != "" && credential != "" {
		return func(ctx context.Context, noradID int, obs transform.Observer) ([]passes.Pass, error) {
			return client.FetchPasses(ctx, noradID, obs, horizonDays, minElevDeg, credential)
		}
	}
	return func(ctx context.Context, noradID int, obs transform.Observer) ([]passes.Pass, error) {
		el, ok := store.Get(noradID)
		if !ok {
			return nil, fmt.Errorf("no elements for satellite %d", noradID)
		}
		now := time.Now()
		return passes.Compute(el, obs, now, now.Add(time.Duration(horizonDays)*24*time.Hour), minElevDeg, nil)
	}
}

// refreshElements periodically pulls the raw element feed, updates the store,
// and snapshots the feed to disk. Failures keep the previous elements.
func refreshElements(ctx context.Context, client *upstream.Client, store *tle.Store, cache *tle.Cache, interval time.Duration, logger *slog.Logger) {
	fetch := func() {
		data, err := client.FetchElements(ctx)
		if err != nil {
			logger.Warn("element feed fetch failed, keeping previous elements", "error", err)
			return
		}
		els, err := tle.Parse(bytes.NewReader(data), logger)
		if err != nil || len(els) == 0 {
			logger.Warn("element feed unusable, keeping previous elements", "error", err)
			return
		}
		store.SetAll(els)
		if err := cache.Write(data, time.Now()); err != nil {
			logger.Warn("could not snapshot element feed", "error", err)
		}
		logger.Info("elements refreshed", "count", len(els))
	}

	fetch()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fetch()
		}
	}
}

// publishElementAge keeps the element freshness gauges current.
func publishElementAge(ctx context.Context, store *tle.Store) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetElementSetCount(store.Len())
			metrics.SetElementAge(store.AgeSeconds())
		}
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch getEnv("PASSGO_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func loadUpstreamConfig() upstream.Config {
	return upstream.Config{
		PassesURL:    os.Getenv("PASSGO_UPSTREAM_PASSES_URL"),
		PositionsURL: os.Getenv("PASSGO_UPSTREAM_POSITIONS_URL"),
		ElementsURL:  getEnv("PASSGO_UPSTREAM_ELEMENTS_URL", "https://celestrak.org/NORAD/elements/gp.php?GROUP=visual&FORMAT=tle"),
		Timeout:      getEnvDuration("PASSGO_UPSTREAM_TIMEOUT", 15*time.Second),
		PassBudget:   getEnvInt("PASSGO_UPSTREAM_PASS_BUDGET", 100),
		BurstBudget:  getEnvInt("PASSGO_UPSTREAM_BURST_BUDGET", 1000),
	}
}

func loadTrackConfig() track.Config {
	return track.Config{
		BurstSeconds:  getEnvInt("PASSGO_TRACK_BURST_SECONDS", 300),
		RefetchMargin: getEnvDuration("PASSGO_TRACK_REFETCH_MARGIN", 60*time.Second),
		FrameInterval: getEnvDuration("PASSGO_TRACK_FRAME_INTERVAL", 100*time.Millisecond),
		HistoryWindow: getEnvDuration("PASSGO_TRACK_HISTORY_WINDOW", 5*time.Minute),
		FetchTimeout:  getEnvDuration("PASSGO_TRACK_FETCH_TIMEOUT", 15*time.Second),
	}
}

func loadStreamConfig() stream.Config {
	return stream.Config{
		MaxConcurrentPerIP: getEnvInt("PASSGO_STREAM_MAX_PER_IP", 10),
		KeepaliveInterval:  getEnvDuration("PASSGO_STREAM_KEEPALIVE", 30*time.Second),
		TrustProxy:         getEnvBool("PASSGO_STREAM_TRUST_PROXY", false),
	}
}

func loadAuthConfig(logger *slog.Logger) auth.Config {
	cfg := auth.Config{
		Enabled: getEnvBool("PASSGO_AUTH_ENABLED", false),
		Token:   os.Getenv("PASSGO_AUTH_TOKEN"),
	}
	if cfg.Enabled && cfg.Token == "" {
		logger.Warn("auth enabled but PASSGO_AUTH_TOKEN is empty, disabling auth")
		cfg.Enabled = false
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
