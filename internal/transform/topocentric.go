// Package transform provides coordinate conversions for satellite tracking:
// observer geodetic→ECEF, satellite geodetic→ECEF, and ECEF→topocentric
// look angles (azimuth/elevation/range) via the SEZ rotation.
//
// The observer side uses the WGS-84 ellipsoid; the satellite side uses the
// spherical-Earth approximation matching the two-body propagator. Mixing the
// two costs well under the propagator's own error budget.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 4.
package transform

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// EarthRadiusKm is the mean spherical Earth radius used by the propagator.
const EarthRadiusKm = 6371.0

// Observer holds a ground observer's location in both geodetic and ECEF
// frames. ECEF coordinates are precomputed once so they can be reused
// across many satellite lookups.
type Observer struct {
	LatDeg, LonDeg, AltM float64
	latRad, lonRad       float64
	ecefX, ecefY, ecefZ  float64 // meters
}

// LookAngles holds azimuth, elevation, and range from observer to satellite.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
}

// NewObserver creates an Observer from geodetic coordinates.
// Latitude and longitude are in degrees, altitude in meters above the
// WGS-84 ellipsoid.
func NewObserver(latDeg, lonDeg, altM float64) Observer {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Observer{
		LatDeg: latDeg,
		LonDeg: lonDeg,
		AltM:   altM,
		latRad: lat,
		lonRad: lon,
		ecefX:  (N + altM) * cosLat * math.Cos(lon),
		ecefY:  (N + altM) * cosLat * math.Sin(lon),
		ecefZ:  (N*(1-wgs84E2) + altM) * sinLat,
	}
}

// GeodeticToECEFSpherical converts a geodetic position on a spherical Earth
// to ECEF meters. Used for satellite positions produced by the two-body
// propagator, which itself assumes a spherical Earth.
func GeodeticToECEFSpherical(latDeg, lonDeg, altKm float64) (x, y, z float64) {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0
	r := (EarthRadiusKm + altKm) * 1000.0

	x = r * math.Cos(lat) * math.Cos(lon)
	y = r * math.Cos(lat) * math.Sin(lon)
	z = r * math.Sin(lat)
	return x, y, z
}

// ECEFToLookAngles computes azimuth, elevation, and range from an observer
// to a satellite given in ECEF meters.
//
// Uses the SEZ (South-East-Zenith) topocentric rotation per Vallado Section 4.4.
// Azimuth: 0 = North, measured clockwise. Elevation: 0 = horizon, 90 = zenith.
func ECEFToLookAngles(obs Observer, satX, satY, satZ float64) LookAngles {
	// Range vector in ECEF.
	rx := satX - obs.ecefX
	ry := satY - obs.ecefY
	rz := satZ - obs.ecefZ

	sinLat := math.Sin(obs.latRad)
	cosLat := math.Cos(obs.latRad)
	sinLon := math.Sin(obs.lonRad)
	cosLon := math.Cos(obs.lonRad)

	// Rotate ECEF range vector to SEZ (South, East, Zenith).
	south := sinLat*cosLon*rx + sinLat*sinLon*ry - cosLat*rz
	east := -sinLon*rx + cosLon*ry
	zenith := cosLat*cosLon*rx + cosLat*sinLon*ry + sinLat*rz

	rangeMag := math.Sqrt(south*south + east*east + zenith*zenith)

	el := math.Asin(zenith / rangeMag)

	// Azimuth measured clockwise from North. In SEZ, North = -South
	// direction, so az = atan2(east, -south).
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * 180.0 / math.Pi,
		ElevationDeg: el * 180.0 / math.Pi,
		RangeKm:      rangeMag / 1000.0,
	}
}

// LookAnglesGeodetic computes look angles from an observer to a satellite
// given in spherical geodetic coordinates (degrees, km).
func LookAnglesGeodetic(obs Observer, satLatDeg, satLonDeg, satAltKm float64) LookAngles {
	x, y, z := GeodeticToECEFSpherical(satLatDeg, satLonDeg, satAltKm)
	return ECEFToLookAngles(obs, x, y, z)
}
