package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/orbit/passgo/internal/passes"
	"github.com/orbit/passgo/internal/track"
	"github.com/orbit/passgo/internal/transform"
	"github.com/orbit/passgo/internal/upstream"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

type nullSource struct{}

func (nullSource) FetchBurst(ctx context.Context, noradID int, obs transform.Observer, seconds int, credential string) (*upstream.Burst, error) {
	return &upstream.Burst{NORADID: noradID, FetchedAt: time.Now(), Observer: obs}, nil
}

func newTestHandler(maxPerIP int) *Handler {
	window := func(int, transform.Observer, time.Time) (passes.Pass, bool) {
		return passes.Pass{}, false
	}
	manager := track.NewManager(nullSource{}, window, track.Config{}, testLogger)
	return NewHandler(manager, Config{
		MaxConcurrentPerIP: maxPerIP,
		KeepaliveInterval:  time.Second,
	}, testLogger)
}

func newStreamServer(h *Handler) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/stream/track/{id}", h.HandleTrack)
	return httptest.NewServer(mux)
}

func TestStreamRejectsBadParameters(t *testing.T) {
	ts := newStreamServer(newTestHandler(10))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/stream/track/abc")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/stream/track/25544?interval=99")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad interval status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamSendsMetadataFirst(t *testing.T) {
	ts := newStreamServer(newTestHandler(10))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream/track/25544?interval=1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var sawRetry bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "retry:") {
			sawRetry = true
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var msg struct {
			Type            string `json:"type"`
			NORADID         int    `json:"norad_id"`
			IntervalSeconds int    `json:"interval_seconds"`
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			t.Fatalf("decoding first message: %v", err)
		}
		if msg.Type != "metadata" {
			t.Errorf("first message type = %q, want metadata", msg.Type)
		}
		if msg.NORADID != 25544 || msg.IntervalSeconds != 1 {
			t.Errorf("metadata = %+v", msg)
		}
		if !sawRetry {
			t.Error("expected retry hint before first message")
		}
		return
	}
	t.Fatal("stream ended before the metadata message")
}

func TestStreamRateLimitPerIP(t *testing.T) {
	ts := newStreamServer(newTestHandler(1))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First stream occupies the only slot for this IP.
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream/track/25544", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("first stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first stream status = %d, want 200", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/api/v1/stream/track/25544")
	if err != nil {
		t.Fatalf("second stream: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second stream status = %d, want 429", resp2.StatusCode)
	}
	if resp2.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header on limited stream")
	}
}
