package predcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/orbit/passgo/internal/passes"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "predictions.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	entry := &Entry{
		Key:       Key{NORADID: 25544, Lat: 44.9583, Lon: 20.4167},
		AltM:      450,
		FetchedAt: time.Now().Truncate(time.Second),
		Passes: []passes.Pass{
			{Start: start, End: start.Add(10 * time.Minute), Duration: 10 * time.Minute, MaxElevation: 45},
		},
	}

	if err := store.Save(entry); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(loaded))
	}
	got := loaded[0]
	if got.Key != entry.Key {
		t.Errorf("key = %+v, want %+v", got.Key, entry.Key)
	}
	if got.AltM != 450 {
		t.Errorf("altitude = %v, want 450", got.AltM)
	}
	if len(got.Passes) != 1 || !got.Passes[0].Start.Equal(start) {
		t.Errorf("passes mismatch: %+v", got.Passes)
	}
	if got.Passes[0].MaxElevation != 45 {
		t.Errorf("max elevation = %v, want 45", got.Passes[0].MaxElevation)
	}
}

func TestStoreSaveReplaces(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "predictions.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	key := Key{NORADID: 25544, Lat: 44.9583, Lon: 20.4167}
	start := time.Now().Truncate(time.Second)

	if err := store.Save(&Entry{Key: key, FetchedAt: start, Passes: []passes.Pass{{Start: start, End: start.Add(time.Minute)}}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(&Entry{Key: key, FetchedAt: start, Passes: nil}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 entry after replace, got %d", len(loaded))
	}
	if len(loaded[0].Passes) != 0 {
		t.Errorf("expected replaced entry to have no passes, got %d", len(loaded[0].Passes))
	}
}

func TestStoreDeleteAndClear(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "predictions.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	a := Key{NORADID: 25544, Lat: 1, Lon: 2}
	b := Key{NORADID: 44713, Lat: 1, Lon: 2}
	now := time.Now()
	store.Save(&Entry{Key: a, FetchedAt: now, Passes: []passes.Pass{}})
	store.Save(&Entry{Key: b, FetchedAt: now, Passes: []passes.Pass{}})

	if err := store.Delete(a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	loaded, _ := store.LoadAll()
	if len(loaded) != 1 || loaded[0].Key != b {
		t.Fatalf("expected only %v to remain, got %d entries", b, len(loaded))
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	loaded, _ = store.LoadAll()
	if len(loaded) != 0 {
		t.Errorf("expected empty store after clear, got %d", len(loaded))
	}
}
