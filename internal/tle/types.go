package tle

import (
	"math"
	"time"
)

// Elements is a satellite's parsed two-line element set.
// Immutable once parsed; a fresher record for the same satellite replaces
// the whole value, fields are never mutated individually.
type Elements struct {
	NORADID        int
	Name           string
	Epoch          time.Time
	InclinationDeg float64
	RAANDeg        float64
	Eccentricity   float64
	ArgPerigeeDeg  float64
	MeanAnomalyDeg float64
	MeanMotion     float64 // revolutions per day
	Line1          string
	Line2          string
}

// MeanMotionRadPerSec converts the mean motion to radians per second.
func (e Elements) MeanMotionRadPerSec() float64 {
	return e.MeanMotion * 2 * math.Pi / 86400.0
}
