package presence

import (
	"time"

	"github.com/sebschlo/beacon-prompt-server/internal/model"
)

// Policy is the immutable proximity configuration applied to every beacon.
type Policy struct {
	// SignalThreshold is the minimum RSSI for a sighting to count as nearby
	// under filtered resolution. RSSI values are negative; larger is closer.
	SignalThreshold int

	// StalenessWindow is how old a sighting may be before it is evicted
	// regardless of signal strength.
	StalenessWindow time.Duration
}

// Mode selects how non-stale sightings are filtered.
type Mode int

const (
	// FilteredOnly returns only sightings at or above the signal threshold.
	FilteredOnly Mode = iota
	// IncludeAll returns every non-stale sighting, for the administrative
	// everyone-at-this-beacon view. The staleness cutoff still applies.
	IncludeAll
)

// Resolve splits sightings into the current nearby set and the stale set to
// evict. A sighting at or past the staleness window is always stale, whatever
// its signal strength or the mode. A fresh sighting below the threshold under
// FilteredOnly is dropped silently: still present, just not close enough.
// Output order follows input order; no sorting is applied.
func Resolve(sightings []model.Sighting, policy Policy, now time.Time, mode Mode) (nearby, stale []string) {
	for _, s := range sightings {
		switch {
		case s.Age(now) >= policy.StalenessWindow:
			stale = append(stale, s.UserID)
		case mode == IncludeAll || s.RSSI >= policy.SignalThreshold:
			nearby = append(nearby, s.UserID)
		}
	}
	return nearby, stale
}
