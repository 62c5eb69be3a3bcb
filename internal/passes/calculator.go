// Package passes searches a time range for horizon-crossing intervals of a
// satellite over a fixed observer.
//
// The search is a coarse minute-step scan of topocentric elevation followed
// by a one-second refinement around each upward crossing, tracking running
// max elevation/azimuth until the downward crossing. Grazing contacts
// shorter than MinPassDuration are rejected.
package passes

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/orbit/passgo/internal/propagation"
	"github.com/orbit/passgo/internal/tle"
	"github.com/orbit/passgo/internal/transform"
)

// Pass describes a single visibility window of a satellite over an observer.
type Pass struct {
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Duration     time.Duration `json:"duration"`
	MaxElevation float64       `json:"max_elevation"`
	StartAzimuth float64       `json:"start_azimuth"`
	EndAzimuth   float64       `json:"end_azimuth"`
	MaxAzimuth   float64       `json:"max_azimuth"`
	Stationary   bool          `json:"stationary"`
}

const (
	coarseStep = 60 * time.Second
	fineStep   = 1 * time.Second

	// MinPassDuration rejects grazing contacts that barely clear the
	// elevation threshold.
	MinPassDuration = 10 * time.Second

	// StationaryAzimuthSpreadDeg and StationaryMinDuration are the
	// geostationary-detection heuristic: a pass that barely moves in
	// azimuth and lasts longer than half a day is a stationary satellite,
	// not a crossing.
	StationaryAzimuthSpreadDeg = 5.0
	StationaryMinDuration      = 12 * time.Hour
)

// StationaryFunc decides whether a pass belongs to a geostationary-looking
// satellite. Injectable so the heuristic can be replaced in tests.
type StationaryFunc func(p Pass) bool

// DefaultStationary implements the azimuth-spread/duration heuristic.
func DefaultStationary(p Pass) bool {
	return azimuthSpread(p.StartAzimuth, p.EndAzimuth) < StationaryAzimuthSpreadDeg &&
		p.Duration > StationaryMinDuration
}

// azimuthSpread returns the circular distance between two bearings in degrees.
func azimuthSpread(a, b float64) float64 {
	d := math.Abs(math.Mod(a-b, 360))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Compute returns the ordered visibility windows of one satellite over obs
// within [start, end), using elevations above minElevDeg. A window with no
// crossing yields an empty slice, not an error. Pure function of its inputs.
//
// stationary may be nil, in which case DefaultStationary is used.
func Compute(el tle.Elements, obs transform.Observer, start, end time.Time, minElevDeg float64, stationary StationaryFunc) ([]Pass, error) {
	prop, err := propagation.NewPropagator(el)
	if err != nil {
		return nil, err
	}
	if stationary == nil {
		stationary = DefaultStationary
	}

	var out []Pass

	// Coarse scan: step through the range looking for elevation above the
	// threshold, then refine each hit.
	t := start
	for t.Before(end) {
		elev, _, err := elevationAt(prop, obs, t)
		if err != nil {
			t = t.Add(coarseStep)
			continue
		}

		if elev >= minElevDeg {
			pass, windowEnd := refinePass(prop, obs, t, start, end, minElevDeg)
			if pass != nil && pass.Duration >= MinPassDuration {
				pass.Stationary = stationary(*pass)
				out = append(out, *pass)
			}
			// Jump past the end of this window.
			t = windowEnd.Add(coarseStep)
		} else {
			t = t.Add(coarseStep)
		}
	}

	return out, nil
}

// refinePass does a fine-grained scan around a coarse-detected above-threshold
// region. It backs up to find the actual rise, then scans forward to find the
// set, tracking the running maximum. Returns the pass (nil if no rise was
// found) and the time the window ends.
func refinePass(prop *propagation.Propagator, obs transform.Observer, coarseHit, windowStart, windowEnd time.Time, minElevDeg float64) (*Pass, time.Time) {
	searchStart := coarseHit.Add(-coarseStep)
	if searchStart.Before(windowStart) {
		searchStart = windowStart
	}

	var (
		riseTime  time.Time
		setTime   time.Time
		riseAz    float64
		setAz     float64
		maxEl     float64
		maxElAz   float64
		wasAbove  bool
		foundRise bool
	)

	t := searchStart
	for t.Before(windowEnd) {
		el, la, err := elevationAt(prop, obs, t)
		if err != nil {
			t = t.Add(fineStep)
			continue
		}

		above := el >= minElevDeg

		if above && !wasAbove {
			// Rising.
			riseTime = t
			riseAz = la.AzimuthDeg
			foundRise = true
			maxEl = el
			maxElAz = la.AzimuthDeg
		}

		if above && foundRise && el > maxEl {
			maxEl = el
			maxElAz = la.AzimuthDeg
		}

		if !above && wasAbove && foundRise {
			// Setting.
			setTime = t
			setAz = la.AzimuthDeg
			break
		}

		wasAbove = above
		t = t.Add(fineStep)
	}

	// Still above the threshold at windowEnd: close the pass there.
	if foundRise && setTime.IsZero() && wasAbove {
		setTime = t
		if el, la, err := elevationAt(prop, obs, t); err == nil {
			setAz = la.AzimuthDeg
			if el > maxEl {
				maxEl = el
				maxElAz = la.AzimuthDeg
			}
		}
	}

	if !foundRise || setTime.IsZero() {
		return nil, t
	}

	return &Pass{
		Start:        riseTime,
		End:          setTime,
		Duration:     setTime.Sub(riseTime),
		MaxElevation: maxEl,
		StartAzimuth: riseAz,
		EndAzimuth:   setAz,
		MaxAzimuth:   maxElAz,
	}, setTime
}

// elevationAt computes the look angles from observer to satellite at time t.
func elevationAt(prop *propagation.Propagator, obs transform.Observer, t time.Time) (float64, transform.LookAngles, error) {
	geo, err := prop.Propagate(t)
	if err != nil {
		return 0, transform.LookAngles{}, err
	}
	la := transform.LookAnglesGeodetic(obs, geo.LatDeg, geo.LonDeg, geo.AltKm)
	return la.ElevationDeg, la, nil
}

// SatellitePasses holds the computed passes for one satellite.
type SatellitePasses struct {
	NORADID int    `json:"norad_id"`
	Passes  []Pass `json:"passes"`
	Error   string `json:"error,omitempty"`
}

// Request holds the parameters for a multi-satellite pass computation.
type Request struct {
	Observer     transform.Observer
	Entries      []tle.Elements
	Start        time.Time
	HorizonHours float64
	MinElevation float64 // degrees
	Stationary   StationaryFunc
}

// ComputeBatch computes passes for every satellite in the request.
// Each satellite is processed in its own goroutine, bounded by a semaphore.
func ComputeBatch(ctx context.Context, req Request) []SatellitePasses {
	results := make([]SatellitePasses, len(req.Entries))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	end := req.Start.Add(time.Duration(req.HorizonHours * float64(time.Hour)))

	for i, entry := range req.Entries {
		wg.Add(1)
		go func(idx int, e tle.Elements) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = SatellitePasses{NORADID: e.NORADID, Error: "cancelled"}
				return
			}

			ps, err := Compute(e, req.Observer, req.Start, end, req.MinElevation, req.Stationary)
			if err != nil {
				results[idx] = SatellitePasses{NORADID: e.NORADID, Error: err.Error()}
				return
			}
			results[idx] = SatellitePasses{NORADID: e.NORADID, Passes: ps}
		}(i, entry)
	}

	wg.Wait()
	return results
}
