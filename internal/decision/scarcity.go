package decision

import (
	"fmt"
	"time"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

// inferScarcity derives an availability tier from sighting density and
// recency. It never touches inventory data; a busy warehouse where nobody
// scans an aisle will read as scarce, which is acceptable for a
// recommendation signal.
func (e *Engine) inferScarcity(hasAsterisk bool, stats pricebook.SightingStats, now time.Time) Scarcity {
	var lastSeenDays *int
	if stats.LastSeen != nil {
		d := int(now.Sub(*stats.LastSeen).Hours() / 24)
		if d < 0 {
			d = 0
		}
		lastSeenDays = &d
	}

	if hasAsterisk {
		return Scarcity{
			Level:        ScarcityLastUnits,
			Explanation:  "Discontinued - what's on the floor is all there will be.",
			LastSeenDays: lastSeenDays,
		}
	}

	if lastSeenDays == nil {
		return Scarcity{
			Level:       ScarcityUnknown,
			Explanation: "Not enough sighting history to judge availability.",
		}
	}

	days := *lastSeenDays
	switch {
	case days > e.cfg.ScarcityNotSeenDays:
		return Scarcity{
			Level:        ScarcityLastUnits,
			Explanation:  fmt.Sprintf("Not seen for %d days - may be nearly gone.", days),
			LastSeenDays: lastSeenDays,
		}
	case stats.Sightings30d <= e.cfg.ScarcityLimitedMax && days > e.cfg.ScarcityQuietDays:
		return Scarcity{
			Level:        ScarcityLimited,
			Explanation:  "Rarely sighted this month - availability looks limited.",
			LastSeenDays: lastSeenDays,
		}
	case stats.Sightings7d == 0 && stats.Sightings30d > 0:
		return Scarcity{
			Level:        ScarcityLimited,
			Explanation:  "No sightings this week - availability looks limited.",
			LastSeenDays: lastSeenDays,
		}
	case stats.Sightings30d >= e.cfg.ScarcityPlentyMin:
		return Scarcity{
			Level:        ScarcityPlenty,
			Explanation:  "Seen frequently in the last month - plenty on the floor.",
			LastSeenDays: lastSeenDays,
		}
	default:
		return Scarcity{
			Level:        ScarcityUnknown,
			Explanation:  "Not enough sighting history to judge availability.",
			LastSeenDays: lastSeenDays,
		}
	}
}
