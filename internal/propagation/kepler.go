// Package propagation evaluates satellite positions from two-line element
// sets using a two-body Kepler model.
//
// The model advances the mean anomaly at the epoch mean motion, solves
// Kepler's equation by Newton–Raphson, rotates the perifocal position into
// ECI via the RAAN/inclination/argument-of-perigee composition, and converts
// to geodetic coordinates on a spherical Earth. This is a deliberate
// accuracy/simplicity tradeoff adequate for pass timing; it is not an SGP4
// replacement (no drag, no J2, no deep-space terms).
package propagation

import (
	"fmt"
	"math"
	"time"

	"github.com/orbit/passgo/internal/tle"
	"github.com/orbit/passgo/internal/transform"
)

const (
	// mu is Earth's gravitational parameter in km³/s².
	mu = 398600.4418

	// keplerTolerance and keplerMaxIter bound the Newton–Raphson solve of
	// Kepler's equation.
	keplerTolerance = 1e-10
	keplerMaxIter   = 10

	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// Geodetic is a propagated satellite state in spherical geodetic coordinates.
type Geodetic struct {
	LatDeg      float64
	LonDeg      float64
	AltKm       float64
	VelocityKmS float64 // orbital speed magnitude (vis-viva)
}

// Propagator evaluates one satellite's position at arbitrary instants.
type Propagator struct {
	el tle.Elements

	// Derived once at construction.
	semiMajorKm float64
	meanMotion  float64 // rad/s
}

// NewPropagator creates a Propagator for the given element set.
// Rejects element sets whose derived orbit cannot be evaluated.
func NewPropagator(el tle.Elements) (*Propagator, error) {
	n := el.MeanMotionRadPerSec()
	if n <= 0 || math.IsNaN(n) {
		return nil, fmt.Errorf("propagation: NORAD %d: non-positive mean motion", el.NORADID)
	}
	if el.Eccentricity < 0 || el.Eccentricity >= 1 {
		return nil, fmt.Errorf("propagation: NORAD %d: eccentricity %.6f outside [0,1)", el.NORADID, el.Eccentricity)
	}

	// Semi-major axis from the mean motion: a = (μ/n²)^(1/3).
	a := math.Cbrt(mu / (n * n))

	return &Propagator{el: el, semiMajorKm: a, meanMotion: n}, nil
}

// Elements returns the element set this propagator was built from.
func (p *Propagator) Elements() tle.Elements { return p.el }

// Propagate computes the satellite's geodetic position at time t.
// Fails (rather than returning a plausible-looking zero position) when the
// result is non-finite or outside the envelope of Earth orbits.
func (p *Propagator) Propagate(t time.Time) (Geodetic, error) {
	elapsed := t.Sub(p.el.Epoch).Seconds()

	// Advance mean anomaly from epoch.
	m := p.el.MeanAnomalyDeg*deg2rad + p.meanMotion*elapsed
	m = math.Mod(m, 2*math.Pi)
	if m < 0 {
		m += 2 * math.Pi
	}

	e := p.el.Eccentricity
	ea := solveKepler(m, e)

	// True anomaly and orbital-plane radius.
	nu := 2 * math.Atan2(
		math.Sqrt(1+e)*math.Sin(ea/2),
		math.Sqrt(1-e)*math.Cos(ea/2),
	)
	r := p.semiMajorKm * (1 - e*math.Cos(ea))

	// Perifocal position.
	xp := r * math.Cos(nu)
	yp := r * math.Sin(nu)

	// Rotate perifocal → ECI: R3(-Ω) R1(-i) R3(-ω).
	raan := p.el.RAANDeg * deg2rad
	incl := p.el.InclinationDeg * deg2rad
	argp := p.el.ArgPerigeeDeg * deg2rad

	cosO, sinO := math.Cos(raan), math.Sin(raan)
	cosI, sinI := math.Cos(incl), math.Sin(incl)
	cosW, sinW := math.Cos(argp), math.Sin(argp)

	x := (cosO*cosW-sinO*sinW*cosI)*xp + (-cosO*sinW-sinO*cosW*cosI)*yp
	y := (sinO*cosW+cosO*sinW*cosI)*xp + (-sinO*sinW+cosO*cosW*cosI)*yp
	z := (sinW*sinI)*xp + (cosW*sinI)*yp

	if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) ||
		math.IsInf(x, 0) || math.IsInf(y, 0) || math.IsInf(z, 0) {
		return Geodetic{}, fmt.Errorf("propagation: NORAD %d: non-finite position", p.el.NORADID)
	}

	mag := math.Sqrt(x*x + y*y + z*z)
	// Earth orbits live between ~6200 km (just below LEO) and ~50000 km.
	if mag < 6200.0 || mag > 50000.0 {
		return Geodetic{}, fmt.Errorf("propagation: NORAD %d: unreasonable radius %.1f km", p.el.NORADID, mag)
	}

	// Geodetic on a spherical Earth: subtract Earth rotation (GMST) from the
	// inertial longitude.
	lat := math.Asin(z / mag)
	lon := math.Atan2(y, x) - transform.GMST(t)
	lon = math.Mod(lon, 2*math.Pi)
	if lon > math.Pi {
		lon -= 2 * math.Pi
	}
	if lon < -math.Pi {
		lon += 2 * math.Pi
	}

	// Vis-viva speed.
	v := math.Sqrt(mu * (2/mag - 1/p.semiMajorKm))

	return Geodetic{
		LatDeg:      lat * rad2deg,
		LonDeg:      lon * rad2deg,
		AltKm:       mag - transform.EarthRadiusKm,
		VelocityKmS: v,
	}, nil
}

// solveKepler solves E - e·sin(E) = M for the eccentric anomaly by
// Newton–Raphson, starting from E = M. Converges in a handful of iterations
// for the eccentricities seen in Earth orbits.
func solveKepler(m, e float64) float64 {
	ea := m
	for i := 0; i < keplerMaxIter; i++ {
		delta := (ea - e*math.Sin(ea) - m) / (1 - e*math.Cos(ea))
		ea -= delta
		if math.Abs(delta) < keplerTolerance {
			break
		}
	}
	return ea
}
