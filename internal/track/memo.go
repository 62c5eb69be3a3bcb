package track

import (
	"math"
	"sync"
	"time"

	"github.com/orbit/passgo/internal/transform"
	"github.com/orbit/passgo/internal/upstream"
)

// BurstMemo remembers the last burst fetched per satellite, independent of
// any session's lifetime. A session that stops and restarts inside the
// burst's validity window resumes instantly without a network call.
//
// The memo is owned by the Manager and handed to sessions by reference; it
// is never persisted across process restarts.
type BurstMemo struct {
	mu      sync.Mutex
	entries map[int]*upstream.Burst
}

// NewBurstMemo creates an empty memo.
func NewBurstMemo() *BurstMemo {
	return &BurstMemo{entries: make(map[int]*upstream.Burst)}
}

// Lookup returns the memoized burst for a satellite if it still contains
// samples at-or-after now and was fetched for an observer within tolerance
// of obs. Anything else is a miss.
func (m *BurstMemo) Lookup(noradID int, obs transform.Observer, now time.Time, tolDeg, tolAltM float64) (*upstream.Burst, bool) {
	m.mu.Lock()
	b := m.entries[noradID]
	m.mu.Unlock()

	if b == nil || !b.CoversTime(now) {
		return nil, false
	}
	if math.Abs(b.Observer.LatDeg-obs.LatDeg) > tolDeg ||
		math.Abs(b.Observer.LonDeg-obs.LonDeg) > tolDeg ||
		math.Abs(b.Observer.AltM-obs.AltM) > tolAltM {
		return nil, false
	}
	return b, true
}

// Store replaces the memoized burst for the burst's satellite.
func (m *BurstMemo) Store(b *upstream.Burst) {
	m.mu.Lock()
	m.entries[b.NORADID] = b
	m.mu.Unlock()
}

// Forget drops the memo entry for a satellite (satellite untracked).
func (m *BurstMemo) Forget(noradID int) {
	m.mu.Lock()
	delete(m.entries, noradID)
	m.mu.Unlock()
}
