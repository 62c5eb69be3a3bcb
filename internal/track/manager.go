// Package track implements the real-time tracking engine: per-satellite
// sessions that buffer bounded bursts of position samples and interpolate
// between them at render cadence, under a hard upstream call budget.
//
// A session is Active only while three external conditions hold at once:
// the consumer is viewing the pass, the current time lies inside the pass
// window, and an upstream credential is present. Any one going false
// deactivates the session. Calling Start is itself the "pass is viewed"
// signal; SetViewed(id, false) withdraws it.
package track

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/orbit/passgo/internal/metrics"
	"github.com/orbit/passgo/internal/passes"
	"github.com/orbit/passgo/internal/transform"
	"github.com/orbit/passgo/internal/upstream"
)

// ErrOutsideWindow indicates activation was requested outside the
// satellite's pass window.
var ErrOutsideWindow = errors.New("track: current time outside pass window")

// BurstSource fetches position bursts. Implemented by upstream.Client.
type BurstSource interface {
	FetchBurst(ctx context.Context, noradID int, obs transform.Observer, seconds int, credential string) (*upstream.Burst, error)
}

// WindowFunc reports the pass (if any) containing now for a satellite over
// an observer. Wired to the prediction cache by the caller. Consulted only at
// activation; the session holds the returned pass for the rest of its life.
type WindowFunc func(noradID int, obs transform.Observer, now time.Time) (passes.Pass, bool)

// Config holds tracking engine configuration.
type Config struct {
	BurstSeconds          int           // samples per burst (≤ upstream cap, default 300)
	RefetchMargin         time.Duration // refetch this long before the buffer empties (default 60s)
	FrameInterval         time.Duration // interpolation cadence (default 100ms)
	HistoryWindow         time.Duration // trail retention (default 5m)
	FetchTimeout          time.Duration // per-fetch timeout (default 15s)
	ObserverToleranceDeg  float64       // memo observer match tolerance (default 1e-4)
	ObserverToleranceAltM float64       // memo altitude tolerance (default 100)
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.BurstSeconds <= 0 || c.BurstSeconds > upstream.MaxBurstSeconds {
		c.BurstSeconds = upstream.MaxBurstSeconds
	}
	if c.RefetchMargin <= 0 {
		c.RefetchMargin = 60 * time.Second
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = 100 * time.Millisecond
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 5 * time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.ObserverToleranceDeg <= 0 {
		c.ObserverToleranceDeg = 1e-4
	}
	if c.ObserverToleranceAltM <= 0 {
		c.ObserverToleranceAltM = 100
	}
	return c
}

// Manager owns the tracking sessions and the burst memo.
type Manager struct {
	mu       sync.Mutex
	sessions map[int]*Session

	memo   *BurstMemo
	source BurstSource
	window WindowFunc
	config Config
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(source BurstSource, window WindowFunc, config Config, logger *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[int]*Session),
		memo:     NewBurstMemo(),
		source:   source,
		window:   window,
		config:   config.withDefaults(),
		logger:   logger,
	}
}

// Start activates tracking for a satellite. Idempotent: a start request
// while the session is already Active is a no-op and issues no fetch.
// Activation requires a credential and the current time inside the
// satellite's pass window; failures surface as warnings to the caller,
// never as process faults.
func (m *Manager) Start(ctx context.Context, noradID int, obs transform.Observer, credential string) error {
	if credential == "" {
		return upstream.ErrCredentialMissing
	}
	now := time.Now()
	pass, ok := m.window(noradID, obs, now)
	if !ok {
		return ErrOutsideWindow
	}

	m.mu.Lock()
	if existing := m.sessions[noradID]; existing != nil {
		m.mu.Unlock()
		m.logger.Debug("start ignored, session already active", "norad_id", noradID)
		return nil
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		noradID:    noradID,
		observer:   obs,
		pass:       pass,
		credential: credential,
		viewed:     true,
		manager:    m,
		logger:     m.logger,
		cancel:     cancel,
	}
	m.sessions[noradID] = s
	m.mu.Unlock()

	metrics.IncSessionsActive()
	m.logger.Info("tracking session activated",
		"norad_id", noradID,
		"observer_lat", obs.LatDeg,
		"observer_lon", obs.LonDeg,
	)

	go s.run(sessCtx)
	return nil
}

// SetViewed updates the consumer's "pass is being viewed" signal. Setting it
// false deactivates the session on its next frame.
func (m *Manager) SetViewed(noradID int, viewed bool) {
	m.mu.Lock()
	s := m.sessions[noradID]
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.viewed = viewed
	s.mu.Unlock()
}

// Stop deactivates a satellite's session: the refetch timer and
// interpolation loop stop and the session's buffers are cleared. The burst
// memo is intentionally NOT cleared, so a restart within the burst's
// validity window needs no network call. Idempotent.
func (m *Manager) Stop(noradID int) {
	m.mu.Lock()
	s := m.sessions[noradID]
	if s == nil {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, noradID)
	m.mu.Unlock()

	s.cancel()
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()

	metrics.DecSessionsActive()
	m.logger.Info("tracking session deactivated", "norad_id", noradID)
}

// StopAll deactivates every session (shutdown path).
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]int, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}

// Untrack stops a satellite's session and forgets its memoized burst.
func (m *Manager) Untrack(noradID int) {
	m.Stop(noradID)
	m.memo.Forget(noradID)
}

// Snapshot is a point-in-time copy of a session's observable state.
// Consumers poll for it explicitly; no shared mutable cells are exposed.
type Snapshot struct {
	NORADID             int                       `json:"norad_id"`
	Active              bool                      `json:"active"`
	Current             *upstream.PositionSample  `json:"current,omitempty"`
	History             []upstream.PositionSample `json:"history,omitempty"`
	RadialVelocityKmS   float64                   `json:"radial_velocity_km_s"`
	RadialVelocityValid bool                      `json:"radial_velocity_valid"`
	LastFetch           time.Time                 `json:"last_fetch"`
}

// Snapshot returns the current state for a satellite. An inactive satellite
// yields a zero snapshot with Active=false.
func (m *Manager) Snapshot(noradID int) Snapshot {
	m.mu.Lock()
	s := m.sessions[noradID]
	m.mu.Unlock()

	if s == nil {
		return Snapshot{NORADID: noradID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		NORADID:             noradID,
		Active:              true,
		RadialVelocityKmS:   s.radialVel,
		RadialVelocityValid: s.radialOK,
		LastFetch:           s.lastFetch,
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	if len(s.history) > 0 {
		snap.History = make([]upstream.PositionSample, len(s.history))
		copy(snap.History, s.history)
	}
	return snap
}

// Active reports whether a satellite has an active session.
func (m *Manager) Active(noradID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[noradID] != nil
}

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
