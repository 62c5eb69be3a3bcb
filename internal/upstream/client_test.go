package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/orbit/passgo/internal/transform"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

var testObserver = transform.NewObserver(44.9583, 20.4167, 100)

func TestFetchPasses(t *testing.T) {
	now := time.Now().Unix()
	var gotQuery map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"norad_id": q.Get("norad_id"),
			"apiKey":   q.Get("apiKey"),
			"days":     q.Get("days"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"passes":[
			{"start_utc":` + itoa(now+3600) + `,"end_utc":` + itoa(now+4200) + `,"max_el":45.5,"start_az":210,"end_az":40,"max_az":310},
			{"start_utc":` + itoa(now) + `,"end_utc":` + itoa(now+100000) + `,"max_el":12,"start_az":181,"end_az":183,"max_az":182}
		]}`))
	}))
	defer server.Close()

	c := NewClient(Config{PassesURL: server.URL}, testLogger)
	ps, err := c.FetchPasses(context.Background(), 25544, testObserver, 10, 0, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotQuery["norad_id"] != "25544" {
		t.Errorf("norad_id param = %q, want 25544", gotQuery["norad_id"])
	}
	if gotQuery["apiKey"] != "secret" {
		t.Errorf("apiKey param = %q, want secret", gotQuery["apiKey"])
	}
	if gotQuery["days"] != "10" {
		t.Errorf("days param = %q, want 10", gotQuery["days"])
	}

	if len(ps) != 2 {
		t.Fatalf("expected 2 passes, got %d", len(ps))
	}
	if ps[0].MaxElevation != 45.5 {
		t.Errorf("max elevation = %v, want 45.5", ps[0].MaxElevation)
	}
	if ps[0].Duration != 10*time.Minute {
		t.Errorf("duration = %v, want 10m", ps[0].Duration)
	}
	if ps[0].Stationary {
		t.Error("crossing pass flagged stationary")
	}
	// Second pass: >12h with 2 degrees of azimuth spread.
	if !ps[1].Stationary {
		t.Error("long low-spread pass not flagged stationary")
	}
}

func TestFetchPassesRequiresCredential(t *testing.T) {
	c := NewClient(Config{PassesURL: "http://unused"}, testLogger)
	_, err := c.FetchPasses(context.Background(), 25544, testObserver, 10, 0, "")
	if !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("err = %v, want ErrCredentialMissing", err)
	}
}

func TestFetchPassesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := NewClient(Config{PassesURL: server.URL}, testLogger)
	_, err := c.FetchPasses(context.Background(), 25544, testObserver, 10, 0, "secret")

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fe.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", fe.Status)
	}
	if fe.Source != "passes" {
		t.Errorf("source = %q, want passes", fe.Source)
	}
}

func TestFetchBurst(t *testing.T) {
	now := time.Now().Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("seconds"); got != "60" {
			t.Errorf("seconds param = %q, want 60", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"positions":[
			{"timestamp":` + itoa(now) + `,"azimuth":180,"elevation":45,"sat_lat":44.9583,"sat_lng":20.4167,"sat_alt":420},
			{"timestamp":` + itoa(now+1) + `,"azimuth":180.5,"elevation":45.5,"sat_lat":45.0,"sat_lng":20.5,"sat_alt":420}
		]}`))
	}))
	defer server.Close()

	c := NewClient(Config{PositionsURL: server.URL}, testLogger)
	b, err := c.FetchBurst(context.Background(), 25544, testObserver, 60, "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.NORADID != 25544 {
		t.Errorf("NORADID = %d, want 25544", b.NORADID)
	}
	if len(b.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(b.Samples))
	}
	if b.Duration() != 2*time.Second {
		t.Errorf("duration = %v, want 2s", b.Duration())
	}

	// Range is derived from observer geometry on ingest, not wire data.
	// First sample is roughly overhead at 420 km.
	if r := b.Samples[0].RangeKm; r < 390 || r > 460 {
		t.Errorf("derived range = %.1f km, want ~420", r)
	}
	if !b.CoversTime(time.Unix(now, 0)) {
		t.Error("burst should cover its own sample times")
	}
	if b.CoversTime(time.Unix(now+10, 0)) {
		t.Error("burst should not cover times past its last sample")
	}
}

func TestFetchBurstCapsSeconds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("seconds"); got != "300" {
			t.Errorf("seconds param = %q, want capped 300", got)
		}
		w.Write([]byte(`{"positions":[]}`))
	}))
	defer server.Close()

	c := NewClient(Config{PositionsURL: server.URL}, testLogger)
	if _, err := c.FetchBurst(context.Background(), 25544, testObserver, 9999, "secret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchElements(t *testing.T) {
	body := "ISS (ZARYA)\n1 ...\n2 ...\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer server.Close()

	c := NewClient(Config{ElementsURL: server.URL}, testLogger)
	data, err := c.FetchElements(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != body {
		t.Errorf("body mismatch: got %d bytes, want %d", len(data), len(body))
	}
}

// Position samples go out over the snapshot and stream endpoints; their JSON
// names must stay snake_case like the rest of the API surface.
func TestPositionSampleJSONNames(t *testing.T) {
	data, err := json.Marshal(PositionSample{
		Time:         time.Unix(1756000000, 0).UTC(),
		AzimuthDeg:   180,
		ElevationDeg: 45,
		SatLatDeg:    44.9583,
		SatLonDeg:    20.4167,
		SatAltKm:     420,
		RangeKm:      430,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"time", "azimuth_deg", "elevation_deg", "sat_lat_deg", "sat_lon_deg", "sat_alt_km", "range_km"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing %q in %s", key, data)
		}
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
