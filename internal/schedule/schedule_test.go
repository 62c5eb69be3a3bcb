package schedule

import (
	"testing"
	"time"

	"github.com/orbit/passgo/internal/passes"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	p := passes.Pass{
		Start: now.Add(-5 * time.Minute),
		End:   now.Add(5 * time.Minute),
	}

	if got := Classify(p, now.Add(-10*time.Minute)); got != Upcoming {
		t.Errorf("before start: %v, want upcoming", got)
	}
	if got := Classify(p, now); got != Passing {
		t.Errorf("inside window: %v, want passing", got)
	}
	if got := Classify(p, now.Add(10*time.Minute)); got != Passed {
		t.Errorf("after end: %v, want passed", got)
	}
}

func TestClassifyStationaryNeverPassed(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	p := passes.Pass{
		Start:      now.Add(-48 * time.Hour),
		End:        now.Add(-24 * time.Hour),
		Stationary: true,
	}

	if got := Classify(p, now.Add(-72*time.Hour)); got != Upcoming {
		t.Errorf("before start: %v, want upcoming", got)
	}
	if got := Classify(p, now); got != Stationary {
		t.Errorf("long after end: %v, want stationary", got)
	}
}

func TestSortedOrderAndRetention(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	longGone := passes.Pass{Start: now.Add(-time.Hour), End: now.Add(-30 * time.Minute)}
	justEnded := passes.Pass{Start: now.Add(-20 * time.Minute), End: now.Add(-5 * time.Second)}
	inProgress := passes.Pass{Start: now.Add(-time.Minute), End: now.Add(9 * time.Minute)}
	upcoming := passes.Pass{Start: now.Add(time.Hour), End: now.Add(time.Hour + 10*time.Minute)}
	geo := passes.Pass{Start: now.Add(-72 * time.Hour), End: now.Add(-48 * time.Hour), Stationary: true}

	sats := []Satellite{
		{NORADID: 25544, Name: "ISS", Passes: []passes.Pass{upcoming, inProgress, longGone, justEnded}},
		{NORADID: 19548, Name: "TDRS-3", Passes: []passes.Pass{geo}},
	}

	entries := Sorted(sats, now)

	// longGone is past retention and dropped; everything else kept.
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Pass.Start.Before(entries[i-1].Pass.Start) {
			t.Errorf("entries out of start order at %d", i)
		}
	}
	if entries[0].State != Stationary {
		t.Errorf("first entry state = %v, want stationary", entries[0].State)
	}
	if entries[len(entries)-1].State != Upcoming {
		t.Errorf("last entry state = %v, want upcoming", entries[len(entries)-1].State)
	}

	var sawPassed, sawPassing bool
	for _, e := range entries {
		switch e.State {
		case Passed:
			sawPassed = true
		case Passing:
			sawPassing = true
		}
	}
	if !sawPassed {
		t.Error("just-ended pass inside retention should appear as passed")
	}
	if !sawPassing {
		t.Error("in-progress pass should appear as passing")
	}
}

func TestSortedTiebreakByNORADID(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)
	p := passes.Pass{Start: start, End: start.Add(10 * time.Minute)}

	sats := []Satellite{
		{NORADID: 44713, Passes: []passes.Pass{p}},
		{NORADID: 25544, Passes: []passes.Pass{p}},
	}

	entries := Sorted(sats, now)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].NORADID != 25544 {
		t.Errorf("tiebreak order: got %d first, want 25544", entries[0].NORADID)
	}
}
