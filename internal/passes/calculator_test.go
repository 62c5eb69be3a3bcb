package passes

import (
	"context"
	"testing"
	"time"

	"github.com/orbit/passgo/internal/tle"
	"github.com/orbit/passgo/internal/transform"
)

// Real ISS TLE, epoch Feb 2025.
var issElements = tle.Elements{
	NORADID:        25544,
	Name:           "ISS (ZARYA)",
	Epoch:          time.Date(2025, 2, 14, 4, 19, 40, 0, time.UTC),
	InclinationDeg: 51.6412,
	RAANDeg:        193.5765,
	Eccentricity:   0.0003457,
	ArgPerigeeDeg:  126.2851,
	MeanAnomalyDeg: 233.8519,
	MeanMotion:     15.49874301,
}

var belgradeObserver = transform.NewObserver(44.9583, 20.4167, 100)

func TestComputeISS(t *testing.T) {
	start := issElements.Epoch
	end := start.Add(24 * time.Hour)

	ps, err := Compute(issElements, belgradeObserver, start, end, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ps) == 0 {
		t.Fatal("expected at least one ISS pass in 24h")
	}

	for i, p := range ps {
		if !p.Start.Before(p.End) {
			t.Errorf("pass %d: start %v not before end %v", i, p.Start, p.End)
		}
		if p.Duration < MinPassDuration {
			t.Errorf("pass %d: duration %v below minimum", i, p.Duration)
		}
		if p.Duration != p.End.Sub(p.Start) {
			t.Errorf("pass %d: duration %v inconsistent with bounds", i, p.Duration)
		}
		if p.MaxElevation < 0 || p.MaxElevation > 90 {
			t.Errorf("pass %d: max elevation %.2f out of range", i, p.MaxElevation)
		}
		if p.StartAzimuth < 0 || p.StartAzimuth >= 360 {
			t.Errorf("pass %d: start azimuth %.2f out of range", i, p.StartAzimuth)
		}
		if p.EndAzimuth < 0 || p.EndAzimuth >= 360 {
			t.Errorf("pass %d: end azimuth %.2f out of range", i, p.EndAzimuth)
		}
		if p.Stationary {
			t.Errorf("pass %d: ISS flagged stationary", i)
		}
		if i > 0 && ps[i].Start.Before(ps[i-1].End) {
			t.Errorf("pass %d overlaps pass %d", i, i-1)
		}
		t.Logf("pass %d: start=%v maxEl=%.1f dur=%v", i, p.Start.Format(time.RFC3339), p.MaxElevation, p.Duration)
	}
}

func TestComputeDeterministic(t *testing.T) {
	start := issElements.Epoch
	end := start.Add(12 * time.Hour)

	a, err := Compute(issElements, belgradeObserver, start, end, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Compute(issElements, belgradeObserver, start, end, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("pass counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("pass %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestComputeMinElevationFilter(t *testing.T) {
	start := issElements.Epoch
	end := start.Add(48 * time.Hour)

	low, err := Compute(issElements, belgradeObserver, start, end, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, err := Compute(issElements, belgradeObserver, start, end, 60, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(high) > len(low) {
		t.Errorf("60 degree threshold found more passes (%d) than 0 degrees (%d)", len(high), len(low))
	}
}

func TestComputeTwentyDegreeThreshold(t *testing.T) {
	start := issElements.Epoch
	end := start.Add(48 * time.Hour)

	ps, err := Compute(issElements, belgradeObserver, start, end, 20, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ps) == 0 {
		t.Fatal("expected at least one ISS pass above 20 degrees in 48h")
	}

	// At 20 degrees the pass bounds are the 20-degree crossings, so every
	// pass peaks above the threshold and the above-threshold arc is short:
	// the ISS stays above 20 degrees for a few minutes at most.
	for i, p := range ps {
		if p.MaxElevation < 20 {
			t.Errorf("pass %d: max elevation %.2f below the 20 degree threshold", i, p.MaxElevation)
		}
		if p.Duration < MinPassDuration {
			t.Errorf("pass %d: duration %v below minimum", i, p.Duration)
		}
		if p.Duration > 10*time.Minute {
			t.Errorf("pass %d: duration %v implausibly long above 20 degrees", i, p.Duration)
		}
	}
}

func TestComputeEmptyWindow(t *testing.T) {
	// A window with no crossings is an empty result, not an error.
	start := issElements.Epoch
	ps, err := Compute(issElements, belgradeObserver, start, start.Add(time.Minute), 89.9, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ps) != 0 {
		t.Errorf("expected no passes, got %d", len(ps))
	}
}

func TestComputeInjectedStationary(t *testing.T) {
	start := issElements.Epoch
	end := start.Add(6 * time.Hour)

	markAll := func(Pass) bool { return true }
	ps, err := Compute(issElements, belgradeObserver, start, end, 0, markAll)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, p := range ps {
		if !p.Stationary {
			t.Errorf("pass %d: injected predicate ignored", i)
		}
	}
}

func TestDefaultStationary(t *testing.T) {
	now := time.Now()

	geo := Pass{
		Start:        now,
		End:          now.Add(20 * time.Hour),
		Duration:     20 * time.Hour,
		StartAzimuth: 181.0,
		EndAzimuth:   183.5,
	}
	if !DefaultStationary(geo) {
		t.Error("long low-spread pass should be stationary")
	}

	crossing := Pass{
		Start:        now,
		End:          now.Add(10 * time.Minute),
		Duration:     10 * time.Minute,
		StartAzimuth: 210,
		EndAzimuth:   40,
	}
	if DefaultStationary(crossing) {
		t.Error("short crossing pass should not be stationary")
	}

	// Long but sweeping: not stationary.
	sweep := Pass{
		Start:        now,
		End:          now.Add(20 * time.Hour),
		Duration:     20 * time.Hour,
		StartAzimuth: 10,
		EndAzimuth:   200,
	}
	if DefaultStationary(sweep) {
		t.Error("wide azimuth spread should not be stationary")
	}
}

func TestAzimuthSpreadCircular(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{10, 20, 10},
		{350, 10, 20},
		{0, 180, 180},
		{359, 1, 2},
	}
	for _, tt := range tests {
		if got := azimuthSpread(tt.a, tt.b); got != tt.want {
			t.Errorf("azimuthSpread(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestComputeBatch(t *testing.T) {
	bad := issElements
	bad.NORADID = 99999
	bad.Eccentricity = 1.5

	req := Request{
		Observer:     belgradeObserver,
		Entries:      []tle.Elements{issElements, bad},
		Start:        issElements.Epoch,
		HorizonHours: 24,
		MinElevation: 0,
	}

	results := ComputeBatch(context.Background(), req)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].NORADID != 25544 || results[0].Error != "" {
		t.Errorf("ISS result: id=%d error=%q", results[0].NORADID, results[0].Error)
	}
	if len(results[0].Passes) == 0 {
		t.Error("expected ISS passes")
	}
	if results[1].Error == "" {
		t.Error("expected error for invalid elements")
	}
}
