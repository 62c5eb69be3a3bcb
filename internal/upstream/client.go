// Package upstream implements the clients for the three external data
// sources: the pass-window API, the position-burst API, and the raw
// orbital-element feed.
//
// Each API client enforces the caller-side rate budget with a token-bucket
// limiter, so the process as a whole stays inside the upstream quota no
// matter how many sessions are fetching.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/orbit/passgo/internal/metrics"
	"github.com/orbit/passgo/internal/passes"
	"github.com/orbit/passgo/internal/transform"
)

// Config holds upstream client configuration.
type Config struct {
	PassesURL    string        // base URL of the pass-window source
	PositionsURL string        // base URL of the position-burst source
	ElementsURL  string        // URL of the raw element feed
	Timeout      time.Duration // per-request timeout (default: 15s)
	PassBudget   int           // pass-window requests per hour (default: 100)
	BurstBudget  int           // position-burst requests per hour (default: 1000)
}

// Client talks to the upstream data sources.
type Client struct {
	config     Config
	httpClient *http.Client
	passLimit  *rate.Limiter
	burstLimit *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a Client with budgets and timeout from cfg.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PassBudget <= 0 {
		cfg.PassBudget = 100
	}
	if cfg.BurstBudget <= 0 {
		cfg.BurstBudget = 1000
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// Small bursts allowed so a handful of satellites can refresh
		// together without blowing the hourly budget.
		passLimit:  rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.PassBudget)), 5),
		burstLimit: rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.BurstBudget)), 10),
		logger:     logger,
	}
}

// passWindowResponse is the pass-window source wire format (Unix seconds).
type passWindowResponse struct {
	Passes []struct {
		StartUTC int64   `json:"start_utc"`
		EndUTC   int64   `json:"end_utc"`
		MaxEl    float64 `json:"max_el"`
		StartAz  float64 `json:"start_az"`
		EndAz    float64 `json:"end_az"`
		MaxAz    float64 `json:"max_az"`
	} `json:"passes"`
}

// FetchPasses requests the pass windows for one satellite over an observer.
// Blocks on the hourly pass budget (bounded by ctx) before issuing the call.
func (c *Client) FetchPasses(ctx context.Context, noradID int, obs transform.Observer, horizonDays int, minElevDeg float64, credential string) ([]passes.Pass, error) {
	if credential == "" {
		return nil, ErrCredentialMissing
	}

	if err := c.waitBudget(ctx, "passes", c.passLimit); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("norad_id", strconv.Itoa(noradID))
	q.Set("lat", strconv.FormatFloat(obs.LatDeg, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(obs.LonDeg, 'f', 6, 64))
	q.Set("alt", strconv.FormatFloat(obs.AltM, 'f', 1, 64))
	q.Set("days", strconv.Itoa(horizonDays))
	q.Set("min_elevation", strconv.FormatFloat(minElevDeg, 'f', 1, 64))
	q.Set("apiKey", credential)

	body, err := c.get(ctx, "passes", c.config.PassesURL+"/passes?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp passWindowResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{Source: "passes", Err: fmt.Errorf("decoding response: %w", err)}
	}

	out := make([]passes.Pass, 0, len(resp.Passes))
	for _, p := range resp.Passes {
		start := time.Unix(p.StartUTC, 0).UTC()
		end := time.Unix(p.EndUTC, 0).UTC()
		if !start.Before(end) {
			continue
		}
		pass := passes.Pass{
			Start:        start,
			End:          end,
			Duration:     end.Sub(start),
			MaxElevation: p.MaxEl,
			StartAzimuth: p.StartAz,
			EndAzimuth:   p.EndAz,
			MaxAzimuth:   p.MaxAz,
		}
		pass.Stationary = passes.DefaultStationary(pass)
		out = append(out, pass)
	}

	return out, nil
}

// positionBurstResponse is the position-burst source wire format
// (Unix seconds, 1 Hz cadence).
type positionBurstResponse struct {
	Positions []struct {
		Timestamp int64   `json:"timestamp"`
		Azimuth   float64 `json:"azimuth"`
		Elevation float64 `json:"elevation"`
		SatLat    float64 `json:"sat_lat"`
		SatLng    float64 `json:"sat_lng"`
		SatAlt    float64 `json:"sat_alt"`
	} `json:"positions"`
}

// FetchBurst requests up to seconds (capped at MaxBurstSeconds) of 1 Hz
// position samples for one satellite. Range is derived per sample from the
// observer geometry on ingest.
func (c *Client) FetchBurst(ctx context.Context, noradID int, obs transform.Observer, seconds int, credential string) (*Burst, error) {
	if credential == "" {
		return nil, ErrCredentialMissing
	}
	if seconds <= 0 || seconds > MaxBurstSeconds {
		seconds = MaxBurstSeconds
	}

	if err := c.waitBudget(ctx, "positions", c.burstLimit); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("norad_id", strconv.Itoa(noradID))
	q.Set("lat", strconv.FormatFloat(obs.LatDeg, 'f', 6, 64))
	q.Set("lng", strconv.FormatFloat(obs.LonDeg, 'f', 6, 64))
	q.Set("alt", strconv.FormatFloat(obs.AltM, 'f', 1, 64))
	q.Set("seconds", strconv.Itoa(seconds))
	q.Set("apiKey", credential)

	body, err := c.get(ctx, "positions", c.config.PositionsURL+"/positions?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp positionBurstResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &FetchError{Source: "positions", Err: fmt.Errorf("decoding response: %w", err)}
	}

	samples := make([]PositionSample, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		la := transform.LookAnglesGeodetic(obs, p.SatLat, p.SatLng, p.SatAlt)
		samples = append(samples, PositionSample{
			Time:         time.Unix(p.Timestamp, 0).UTC(),
			AzimuthDeg:   p.Azimuth,
			ElevationDeg: p.Elevation,
			SatLatDeg:    p.SatLat,
			SatLonDeg:    p.SatLng,
			SatAltKm:     p.SatAlt,
			RangeKm:      la.RangeKm,
		})
	}

	return &Burst{
		NORADID:   noradID,
		FetchedAt: time.Now(),
		Observer:  obs,
		Samples:   samples,
	}, nil
}

// FetchElements retrieves the raw two-line element feed.
func (c *Client) FetchElements(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "elements", c.config.ElementsURL)
}

// waitBudget blocks until the source's rate budget allows another request.
func (c *Client) waitBudget(ctx context.Context, source string, lim *rate.Limiter) error {
	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		metrics.IncUpstreamRequests(source, "budget_cancelled")
		return &FetchError{Source: source, Err: fmt.Errorf("waiting on rate budget: %w", err)}
	}
	waited := time.Since(start)
	metrics.ObserveBudgetWait(source, waited)
	if waited > time.Second {
		c.logger.Debug("rate budget wait", "source", source, "waited_ms", waited.Milliseconds())
	}
	return nil
}

// get performs an HTTP GET with the configured timeout and maps failures to
// FetchError.
func (c *Client) get(ctx context.Context, source, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		metrics.IncUpstreamRequests(source, "error")
		return nil, &FetchError{Source: source, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncUpstreamRequests(source, "error")
		return nil, &FetchError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.IncUpstreamRequests(source, "status_"+strconv.Itoa(resp.StatusCode))
		return nil, &FetchError{Source: source, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncUpstreamRequests(source, "error")
		return nil, &FetchError{Source: source, Err: fmt.Errorf("reading response body: %w", err)}
	}

	metrics.IncUpstreamRequests(source, "ok")
	return body, nil
}
