// Package api exposes the engine boundary over HTTP: the pass schedule,
// tracking session control, snapshot polling, and the SSE stream.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/orbit/passgo/internal/auth"
	"github.com/orbit/passgo/internal/health"
	"github.com/orbit/passgo/internal/metrics"
	"github.com/orbit/passgo/internal/predcache"
	"github.com/orbit/passgo/internal/schedule"
	"github.com/orbit/passgo/internal/stream"
	"github.com/orbit/passgo/internal/tle"
	"github.com/orbit/passgo/internal/track"
	"github.com/orbit/passgo/internal/transform"
	"github.com/orbit/passgo/internal/upstream"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	store      *tle.Store
	cache      *predcache.Cache
	manager    *track.Manager
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, store *tle.Store, cache *predcache.Cache, manager *track.Manager, streamHandler *stream.Handler) *Server {
	s := &Server{
		store:   store,
		cache:   cache,
		manager: manager,
		logger:  logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() bool { return store.Len() > 0 }))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/passes", s.handlePasses)
	mux.HandleFunc("POST /api/v1/passes/{id}/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/v1/track/{id}/start", s.handleTrackStart)
	mux.HandleFunc("POST /api/v1/track/{id}/stop", s.handleTrackStop)
	mux.HandleFunc("POST /api/v1/track/{id}/viewed", s.handleTrackViewed)
	mux.HandleFunc("GET /api/v1/track/{id}", s.handleTrackSnapshot)
	mux.HandleFunc("GET /api/v1/stream/track/{id}", streamHandler.HandleTrack)
	mux.HandleFunc("GET /api/v1/cache/stats", s.handleCacheStats)
	mux.HandleFunc("POST /api/v1/cache/clear", s.handleCacheClear)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control
// (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// handlePasses returns every known pass across all cached entries,
// time-ordered and classified.
// GET /api/v1/passes
func (s *Server) handlePasses(w http.ResponseWriter, r *http.Request) {
	entries := s.cache.Entries()

	bySat := make(map[int]*schedule.Satellite)
	for _, e := range entries {
		sat, ok := bySat[e.Key.NORADID]
		if !ok {
			sat = &schedule.Satellite{NORADID: e.Key.NORADID}
			if el, found := s.store.Get(e.Key.NORADID); found {
				sat.Name = el.Name
			}
			bySat[e.Key.NORADID] = sat
		}
		sat.Passes = append(sat.Passes, e.Passes...)
	}

	sats := make([]schedule.Satellite, 0, len(bySat))
	for _, sat := range bySat {
		sats = append(sats, *sat)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"passes": schedule.Sorted(sats, time.Now()),
	})
}

// handleRefresh refreshes the cached passes for one satellite and observer.
// POST /api/v1/passes/{id}/refresh?lat=..&lng=..&alt=..
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	noradID, ok := pathID(w, r)
	if !ok {
		return
	}
	obs, ok := queryObserver(w, r)
	if !ok {
		return
	}

	entry, err := s.cache.Refresh(r.Context(), noradID, obs)
	if err != nil {
		// No fallback entry existed; surface as a warning, not a fault.
		writeJSON(w, http.StatusBadGateway, map[string]string{"warning": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"norad_id":   noradID,
		"fetched_at": entry.FetchedAt.UTC().Format(time.RFC3339),
		"stale":      s.cache.IsStale(entry),
		"passes":     entry.Passes,
	})
}

// trackStartRequest is the body of a track start call.
type trackStartRequest struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Alt        float64 `json:"alt"`
	Credential string  `json:"credential"`
}

// handleTrackStart activates tracking for a satellite. The call itself is
// the "pass is being viewed" signal.
// POST /api/v1/track/{id}/start
func (s *Server) handleTrackStart(w http.ResponseWriter, r *http.Request) {
	noradID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req trackStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	obs := transform.NewObserver(req.Lat, req.Lng, req.Alt)
	err := s.manager.Start(r.Context(), noradID, obs, req.Credential)
	switch {
	case errors.Is(err, upstream.ErrCredentialMissing):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"warning": "credential missing, tracking not activated"})
	case errors.Is(err, track.ErrOutsideWindow):
		writeJSON(w, http.StatusConflict, map[string]string{"warning": "no pass in progress, tracking not activated"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"norad_id": noradID, "active": true})
	}
}

// handleTrackStop deactivates tracking for a satellite.
// POST /api/v1/track/{id}/stop
func (s *Server) handleTrackStop(w http.ResponseWriter, r *http.Request) {
	noradID, ok := pathID(w, r)
	if !ok {
		return
	}
	s.manager.Stop(noradID)
	writeJSON(w, http.StatusOK, map[string]any{"norad_id": noradID, "active": false})
}

// handleTrackViewed updates the viewed signal for a satellite's session.
// POST /api/v1/track/{id}/viewed
func (s *Server) handleTrackViewed(w http.ResponseWriter, r *http.Request) {
	noradID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Viewed bool `json:"viewed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	s.manager.SetViewed(noradID, req.Viewed)
	writeJSON(w, http.StatusOK, map[string]any{"norad_id": noradID, "viewed": req.Viewed})
}

// handleTrackSnapshot returns the current tracking snapshot for a satellite.
// GET /api/v1/track/{id}
func (s *Server) handleTrackSnapshot(w http.ResponseWriter, r *http.Request) {
	noradID, ok := pathID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Snapshot(noradID))
}

// handleCacheStats returns prediction cache statistics.
// GET /api/v1/cache/stats
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.CacheStats())
}

// handleCacheClear evicts the entire prediction cache.
// POST /api/v1/cache/clear
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// pathID parses the {id} path value, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid satellite id"})
		return 0, false
	}
	return id, true
}

// queryObserver parses lat/lng/alt query parameters.
func queryObserver(w http.ResponseWriter, r *http.Request) (transform.Observer, bool) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid lat/lng parameters"})
		return transform.Observer{}, false
	}
	alt := 0.0
	if v := r.URL.Query().Get("alt"); v != "" {
		if a, err := strconv.ParseFloat(v, 64); err == nil {
			alt = a
		}
	}
	return transform.NewObserver(lat, lng, alt), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// probePath returns true for probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
