// Package schedule classifies and time-orders passes across all tracked
// satellites for display, independent of how they are stored.
package schedule

import (
	"sort"
	"time"

	"github.com/orbit/passgo/internal/passes"
)

// State is a pass's display classification relative to a point in time.
type State string

const (
	Upcoming   State = "upcoming"
	Passing    State = "passing"
	Passed     State = "passed"
	Stationary State = "stationary"
)

// PassedRetention keeps a concluded pass visible briefly so it does not
// vanish from a display the instant it ends.
const PassedRetention = 10 * time.Second

// Classify returns the display state of a pass at the given time.
// Stationary passes never become Passed.
func Classify(p passes.Pass, now time.Time) State {
	if p.Stationary {
		if now.Before(p.Start) {
			return Upcoming
		}
		return Stationary
	}
	switch {
	case now.Before(p.Start):
		return Upcoming
	case now.Before(p.End):
		return Passing
	default:
		return Passed
	}
}

// Satellite pairs a satellite's identity with its known passes.
type Satellite struct {
	NORADID int
	Name    string
	Passes  []passes.Pass
}

// Entry is one pass annotated with its satellite and classification.
type Entry struct {
	NORADID int         `json:"norad_id"`
	Name    string      `json:"name,omitempty"`
	Pass    passes.Pass `json:"pass"`
	State   State       `json:"state"`
}

// Sorted returns all passes across the given satellites in start-time order,
// annotated with identity and classification. Concluded passes older than
// PassedRetention are dropped; stationary passes are always kept.
func Sorted(sats []Satellite, now time.Time) []Entry {
	var out []Entry
	for _, s := range sats {
		for _, p := range s.Passes {
			st := Classify(p, now)
			if st == Passed && now.Sub(p.End) > PassedRetention {
				continue
			}
			out = append(out, Entry{NORADID: s.NORADID, Name: s.Name, Pass: p, State: st})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pass.Start.Equal(out[j].Pass.Start) {
			return out[i].NORADID < out[j].NORADID
		}
		return out[i].Pass.Start.Before(out[j].Pass.Start)
	})
	return out
}
