// Package predcache caches computed pass predictions per
// (satellite, observer-location) key.
//
// The defining contract is the refresh policy: a pass that is in progress at
// refresh time is preserved unchanged rather than replaced, so an actively
// observed trajectory never moves mid-observation. Only future passes are
// overwritten with fresh ones. On fetch failure the last known entry is
// served regardless of staleness and a soft warning is recorded; a fetch
// failure is never an error for readers.
package predcache

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbit/passgo/internal/metrics"
	"github.com/orbit/passgo/internal/passes"
	"github.com/orbit/passgo/internal/transform"
)

const (
	// TTL is the entry age beyond which a refresh is due.
	TTL = 2 * time.Hour

	// cleanupGrace keeps a concluded pass around briefly before cleanup
	// removes it.
	cleanupGrace = 10 * time.Second

	// keyPrecision rounds observer coordinates to ~11 m so tiny GPS jitter
	// does not fragment the cache. A genuinely moved observer lands on a new
	// key, which implicitly invalidates the old entry.
	keyPrecision = 1e4
)

// Key identifies a cache entry: one satellite over one (rounded) location.
type Key struct {
	NORADID int
	Lat     float64
	Lon     float64
}

// NewKey builds the cache key for a satellite and observer.
func NewKey(noradID int, obs transform.Observer) Key {
	return Key{
		NORADID: noradID,
		Lat:     math.Round(obs.LatDeg*keyPrecision) / keyPrecision,
		Lon:     math.Round(obs.LonDeg*keyPrecision) / keyPrecision,
	}
}

// Entry holds the ordered passes for one key plus the fetch timestamp. The
// observer altitude is carried alongside the key (which rounds only lat/lon)
// so background refreshes recompute for the real observer, not sea level.
type Entry struct {
	Key       Key
	AltM      float64
	Passes    []passes.Pass
	FetchedAt time.Time
}

// SourceFunc produces fresh passes for a satellite over an observer, either
// from the upstream pass-window API or from the local calculator.
type SourceFunc func(ctx context.Context, noradID int, obs transform.Observer) ([]passes.Pass, error)

// Cache is the pass prediction cache. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*Entry

	source SourceFunc
	store  *Store // optional persistence; nil disables
	logger *slog.Logger

	// Counters (lock-free).
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	fallbacks atomic.Int64
}

// New creates a Cache backed by source. If store is non-nil, persisted
// entries are loaded immediately and writes go through to it.
func New(source SourceFunc, store *Store, logger *slog.Logger) *Cache {
	c := &Cache{
		entries: make(map[Key]*Entry),
		source:  source,
		store:   store,
		logger:  logger,
	}

	if store != nil {
		loaded, err := store.LoadAll()
		if err != nil {
			logger.Warn("could not load persisted prediction cache", "error", err)
		} else {
			for _, e := range loaded {
				c.entries[e.Key] = e
			}
			if len(loaded) > 0 {
				logger.Info("prediction cache loaded from disk", "entries", len(loaded))
			}
		}
	}

	c.publishSize()
	return c
}

// Get returns the entry for (noradID, obs), if any. A miss is control flow,
// not an error.
func (c *Cache) Get(noradID int, obs transform.Observer) (*Entry, bool) {
	key := NewKey(noradID, obs)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		metrics.IncPredictionCacheHits()
		return entry, true
	}
	c.misses.Add(1)
	metrics.IncPredictionCacheMisses()
	return nil, false
}

// IsStale reports whether the entry is older than the TTL.
func (c *Cache) IsStale(e *Entry) bool {
	return time.Since(e.FetchedAt) > TTL
}

// Put stores freshly computed passes for (noradID, obs), replacing any
// existing entry without the preserve-in-progress merge. Use Refresh for
// the observing-safe path.
func (c *Cache) Put(noradID int, obs transform.Observer, ps []passes.Pass) *Entry {
	entry := &Entry{
		Key:       NewKey(noradID, obs),
		AltM:      obs.AltM,
		Passes:    sortByStart(ps),
		FetchedAt: time.Now(),
	}
	c.setEntry(entry)
	return entry
}

// Refresh fetches fresh passes and installs them under the
// preserve-in-progress rule: any pass covering now in the existing entry is
// carried over unchanged, and fresh passes overlapping it are discarded.
//
// On fetch failure with a previous entry available, that entry is returned
// with a soft warning logged — degraded availability, never an error. The
// error return is non-nil only when there is nothing at all to serve.
func (c *Cache) Refresh(ctx context.Context, noradID int, obs transform.Observer) (*Entry, error) {
	key := NewKey(noradID, obs)
	now := time.Now()

	c.mu.RLock()
	prev := c.entries[key]
	c.mu.RUnlock()

	fresh, err := c.source(ctx, noradID, obs)
	if err != nil {
		if prev != nil {
			c.fallbacks.Add(1)
			metrics.IncStaleFallbacks()
			c.logger.Warn("pass fetch failed, serving last known entry",
				"norad_id", noradID,
				"entry_age_seconds", int(now.Sub(prev.FetchedAt).Seconds()),
				"error", err,
			)
			return prev, nil
		}
		return nil, err
	}

	merged := fresh
	var preserved int
	if prev != nil {
		merged, preserved = mergePreserving(prev.Passes, fresh, now)
	}
	if preserved > 0 {
		metrics.AddPassesPreserved(preserved)
		c.logger.Debug("preserved in-progress passes across refresh",
			"norad_id", noradID, "preserved", preserved)
	}

	entry := &Entry{Key: key, AltM: obs.AltM, Passes: sortByStart(merged), FetchedAt: now}
	c.setEntry(entry)
	return entry, nil
}

// mergePreserving keeps old passes that are in progress (or ended within the
// cleanup grace) at now, drops fresh passes that overlap a kept one, and
// returns the merged set plus the number of in-progress passes preserved.
func mergePreserving(old, fresh []passes.Pass, now time.Time) ([]passes.Pass, int) {
	var kept []passes.Pass
	var preserved int
	for _, p := range old {
		inProgress := !now.Before(p.Start) && now.Before(p.End)
		justEnded := !p.End.After(now) && now.Sub(p.End) <= cleanupGrace
		if inProgress || justEnded || (p.Stationary && !now.Before(p.Start)) {
			kept = append(kept, p)
			if inProgress {
				preserved++
			}
		}
	}

	merged := make([]passes.Pass, len(kept))
	copy(merged, kept)
	for _, f := range fresh {
		overlaps := false
		for _, k := range kept {
			if f.Start.Before(k.End) && k.Start.Before(f.End) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			merged = append(merged, f)
		}
	}
	return merged, preserved
}

// Cleanup removes, from every entry, passes whose end is more than the grace
// period in the past. Stationary passes are exempt: they stay until their
// satellite is untracked. Returns the number of passes removed.
func (c *Cache) Cleanup(now time.Time) int {
	c.mu.Lock()
	var removed int
	for key, entry := range c.entries {
		var kept []passes.Pass
		for _, p := range entry.Passes {
			if !p.Stationary && now.Sub(p.End) > cleanupGrace {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) != len(entry.Passes) {
			c.entries[key] = &Entry{Key: key, AltM: entry.AltM, Passes: kept, FetchedAt: entry.FetchedAt}
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddPredictionCacheEvictions(removed)
		c.logger.Debug("prediction cache cleanup", "passes_removed", removed)
	}
	c.publishSize()
	return removed
}

// RemoveSatellite drops every entry for a satellite (satellite untracked).
// This is the only way a stationary pass leaves the cache.
func (c *Cache) RemoveSatellite(noradID int) {
	c.mu.Lock()
	for key := range c.entries {
		if key.NORADID == noradID {
			delete(c.entries, key)
			if c.store != nil {
				if err := c.store.Delete(key); err != nil {
					c.logger.Warn("could not delete persisted entry", "error", err)
				}
			}
		}
	}
	c.mu.Unlock()
	c.publishSize()
}

// Clear evicts everything ("clear cache").
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[Key]*Entry)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			c.logger.Warn("could not clear persisted cache", "error", err)
		}
	}
	c.publishSize()
}

// Entries returns a snapshot of all entries (for display assembly).
func (c *Cache) Entries() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

// Run drives background maintenance until ctx is cancelled: periodic cleanup
// every interval, and a refresh of any entry past its TTL.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("prediction cache maintenance stopped")
			return
		case <-ticker.C:
			c.Cleanup(time.Now())
			c.refreshStale(ctx)
		}
	}
}

// refreshStale refreshes entries older than the TTL, one at a time so the
// upstream budget is consumed gradually.
func (c *Cache) refreshStale(ctx context.Context) {
	for _, e := range c.Entries() {
		if !c.IsStale(e) {
			continue
		}
		obs := transform.NewObserver(e.Key.Lat, e.Key.Lon, e.AltM)
		if _, err := c.Refresh(ctx, e.Key.NORADID, obs); err != nil {
			c.logger.Warn("stale entry refresh failed with no fallback",
				"norad_id", e.Key.NORADID, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Stats holds cache statistics.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
	Fallbacks int64
}

// CacheStats returns current statistics.
func (c *Cache) CacheStats() Stats {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Entries:   count,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Fallbacks: c.fallbacks.Load(),
	}
}

// setEntry installs an entry and writes it through to persistence.
func (c *Cache) setEntry(entry *Entry) {
	c.mu.Lock()
	c.entries[entry.Key] = entry
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(entry); err != nil {
			c.logger.Warn("could not persist cache entry", "error", err)
		}
	}
	c.publishSize()
}

func (c *Cache) publishSize() {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()
	metrics.SetPredictionCacheEntries(count)
}

func sortByStart(ps []passes.Pass) []passes.Pass {
	out := make([]passes.Pass, len(ps))
	copy(out, ps)
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
