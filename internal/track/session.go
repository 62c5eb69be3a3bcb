package track

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/orbit/passgo/internal/metrics"
	"github.com/orbit/passgo/internal/passes"
	"github.com/orbit/passgo/internal/transform"
	"github.com/orbit/passgo/internal/upstream"
)

// Session is one satellite's runtime tracking state. Created on activation,
// destroyed on deactivation; the burst memo it draws from outlives it.
//
// The interpolation loop and refetch timer run on the session's own
// goroutine. Burst deliveries arrive from detached fetch goroutines and are
// serialized through mu, with a generation check so a late response cannot
// repopulate a stopped session.
type Session struct {
	noradID  int
	observer transform.Observer
	pass     passes.Pass // captured at activation, immutable
	manager  *Manager
	logger   *slog.Logger
	cancel   context.CancelFunc

	mu          sync.Mutex
	credential  string
	viewed      bool
	generation  uint64
	future      []upstream.PositionSample
	history     []upstream.PositionSample
	current     *upstream.PositionSample
	lastRange   float64
	lastRangeAt time.Time
	radialVel   float64
	radialOK    bool
	lastFetch   time.Time
}

// run drives the session: one initial burst, then a per-frame interpolation
// tick and a refetch timer that fires before the buffer can empty.
func (s *Session) run(ctx context.Context) {
	s.obtainBurst(ctx)

	frame := time.NewTicker(s.manager.config.FrameInterval)
	defer frame.Stop()

	refetch := time.NewTimer(s.refetchDelay())
	defer refetch.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-frame.C:
			s.step(now)
			if !s.conditionsHold(now) {
				// Stop acquires the manager lock; do it off this goroutine
				// so run can unwind first.
				go s.manager.Stop(s.noradID)
				return
			}

		case <-refetch.C:
			s.obtainBurst(ctx)
			refetch.Reset(s.refetchDelay())
		}
	}
}

// refetchDelay schedules the next fetch at burst duration minus the safety
// margin, so a replacement burst arrives before the buffer empties and one
// missed cycle is still survivable. With no burst on hand it retries on the
// margin interval alone.
func (s *Session) refetchDelay() time.Duration {
	s.mu.Lock()
	n := len(s.future) + len(s.history)
	s.mu.Unlock()

	if n == 0 {
		return s.manager.config.RefetchMargin
	}
	d := time.Duration(s.manager.config.BurstSeconds)*time.Second - s.manager.config.RefetchMargin
	if d < time.Second {
		d = time.Second
	}
	return d
}

// obtainBurst reuses the memoized burst when it is still valid for this
// observer, otherwise kicks off a fetch on its own goroutine so the
// interpolation loop never blocks on the network.
func (s *Session) obtainBurst(ctx context.Context) {
	now := time.Now()
	cfg := s.manager.config

	if b, ok := s.manager.memo.Lookup(s.noradID, s.observer, now, cfg.ObserverToleranceDeg, cfg.ObserverToleranceAltM); ok {
		metrics.IncBurstMemoHits()
		s.logger.Debug("burst memo hit", "norad_id", s.noradID, "samples", len(b.Samples))
		s.mu.Lock()
		s.installLocked(b, now)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	gen := s.generation
	cred := s.credential
	s.mu.Unlock()

	// Deliberately detached from the session context: stopping a session
	// does not abort an in-flight request. The memo still benefits from a
	// late response; the generation check keeps it out of a dead session.
	go func() {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.FetchTimeout)
		defer cancel()

		b, err := s.manager.source.FetchBurst(fetchCtx, s.noradID, s.observer, cfg.BurstSeconds, cred)
		if err != nil {
			metrics.IncBurstFetches("error")
			// Logged, not thrown; the next scheduled refetch retries.
			s.logger.Warn("burst fetch failed",
				"norad_id", s.noradID,
				"error", xerrors.New(err),
			)
			return
		}
		metrics.IncBurstFetches("ok")
		s.manager.memo.Store(b)

		s.mu.Lock()
		if s.generation == gen {
			s.installLocked(b, time.Now())
		}
		s.mu.Unlock()
	}()
}

// installLocked replaces the future buffer with the burst's samples from now
// onward. Caller holds mu.
func (s *Session) installLocked(b *upstream.Burst, now time.Time) {
	s.future = s.future[:0]
	for _, sample := range b.Samples {
		if !sample.Time.Before(now) {
			s.future = append(s.future, sample)
		}
	}
	s.lastFetch = b.FetchedAt
}

// step advances the interpolation state to now: past samples move from the
// future buffer into the capped history, the current position becomes the
// earliest sample at-or-after now, and the radial velocity is updated from
// consecutive valid ranges. On buffer exhaustion the last known position is
// held until the next fetch succeeds.
func (s *Session) step(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Drain samples that are now in the past into the history trail.
	var drained int
	for drained < len(s.future) && s.future[drained].Time.Before(now) {
		drained++
	}
	if drained > 0 {
		s.history = append(s.history, s.future[:drained]...)
		s.future = s.future[drained:]
	}

	// Cap the history to the rolling window.
	cutoff := now.Add(-s.manager.config.HistoryWindow)
	var trim int
	for trim < len(s.history) && s.history[trim].Time.Before(cutoff) {
		trim++
	}
	if trim > 0 {
		s.history = s.history[trim:]
	}

	if len(s.future) == 0 {
		// Buffer exhausted: hold the last known position.
		return
	}

	next := s.future[0]
	if s.current != nil && s.current.Time.Equal(next.Time) {
		return
	}
	s.current = &next

	// Radial velocity: finite difference of consecutive valid ranges.
	if next.RangeKm > 0 {
		if !s.lastRangeAt.IsZero() && next.Time.After(s.lastRangeAt) {
			dt := next.Time.Sub(s.lastRangeAt).Seconds()
			s.radialVel = (next.RangeKm - s.lastRange) / dt
			s.radialOK = true
		}
		s.lastRange = next.RangeKm
		s.lastRangeAt = next.Time
	}
}

// conditionsHold reports whether all three activation conditions still hold:
// viewed signal, current time inside the pass window, and a credential.
//
// The window check runs against the pass captured at activation, never the
// prediction source: an in-progress pass is preserved unchanged across cache
// refreshes, so its bounds are authoritative for the whole observation, and a
// local bounds check keeps the frame loop off the network.
func (s *Session) conditionsHold(now time.Time) bool {
	s.mu.Lock()
	viewed := s.viewed
	cred := s.credential
	s.mu.Unlock()

	if !viewed || cred == "" {
		return false
	}
	if s.pass.Stationary {
		return !now.Before(s.pass.Start)
	}
	return !now.Before(s.pass.Start) && now.Before(s.pass.End)
}

// clearLocked wipes the session's buffers. The burst memo is intentionally
// untouched. Caller holds mu.
func (s *Session) clearLocked() {
	s.generation++
	s.future = nil
	s.history = nil
	s.current = nil
	s.radialVel = 0
	s.radialOK = false
	s.lastRange = 0
	s.lastRangeAt = time.Time{}
}
