package upstream

import (
	"errors"
	"fmt"
	"time"

	"github.com/orbit/passgo/internal/transform"
)

// MaxBurstSeconds is the upstream hard cap on a single position-burst
// request (one sample per second).
const MaxBurstSeconds = 300

// ErrCredentialMissing indicates an upstream call was attempted without a
// credential. It blocks activation only; it is never fatal.
var ErrCredentialMissing = errors.New("upstream: credential missing")

// FetchError describes a failed upstream request: network error, timeout,
// or non-success status.
type FetchError struct {
	Source string // "passes", "positions", "elements"
	Status int    // HTTP status, 0 for transport errors
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s: status %d", e.Source, e.Status)
	}
	return fmt.Sprintf("upstream %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PositionSample is one satellite position relative to an observer.
// Range is derived at ingest from the observer geometry; it is not part of
// the wire format.
type PositionSample struct {
	Time         time.Time `json:"time"`
	AzimuthDeg   float64   `json:"azimuth_deg"`
	ElevationDeg float64   `json:"elevation_deg"`
	SatLatDeg    float64   `json:"sat_lat_deg"`
	SatLonDeg    float64   `json:"sat_lon_deg"`
	SatAltKm     float64   `json:"sat_alt_km"`
	RangeKm      float64   `json:"range_km"`
}

// Burst is an ordered, contiguous, 1 Hz sequence of position samples for one
// satellite, fetched in a single upstream call. Immutable once received.
type Burst struct {
	NORADID   int
	FetchedAt time.Time
	Observer  transform.Observer
	Samples   []PositionSample
}

// Duration is the wall-clock span the burst covers at 1 Hz.
func (b *Burst) Duration() time.Duration {
	return time.Duration(len(b.Samples)) * time.Second
}

// End returns the timestamp of the last sample, or the zero time for an
// empty burst.
func (b *Burst) End() time.Time {
	if len(b.Samples) == 0 {
		return time.Time{}
	}
	return b.Samples[len(b.Samples)-1].Time
}

// CoversTime reports whether the burst still has samples at or after t.
func (b *Burst) CoversTime(t time.Time) bool {
	return len(b.Samples) > 0 && !b.End().Before(t)
}
