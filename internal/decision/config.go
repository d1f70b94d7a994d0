package decision

// Config holds every threshold and weight the engine uses. Engines are
// constructed from an explicit Config so differently tuned engines can run
// side by side; nothing in this package is package-level mutable state.
type Config struct {
	// DropThresholdPct is the price decrease (percent, positive number)
	// versus the snapshot that forces a buy verdict.
	DropThresholdPct float64
	// RiseThresholdPct is the price increase (percent) versus the snapshot
	// that forces a wait verdict.
	RiseThresholdPct float64

	// ScarcityNotSeenDays: unseen longer than this means last units.
	ScarcityNotSeenDays int
	// ScarcityQuietDays: the recency window used by the limited rules.
	ScarcityQuietDays int
	// ScarcityLimitedMax: 30-day sightings at or below this (while quiet)
	// mean limited availability.
	ScarcityLimitedMax int
	// ScarcityPlentyMin: 30-day sightings at or above this mean plenty.
	ScarcityPlentyMin int

	// Price-drop likelihood base rates by ending class.
	LikelihoodRegular     float64
	LikelihoodMfrDiscount float64
	LikelihoodDefault     float64
	// Scarcity penalties.
	PenaltyLastUnits float64
	PenaltyLimited   float64
	// Typical-outcome adjustments.
	AdjustTypicallyDrops    float64
	AdjustTypicallySellsOut float64
	// Fixed likelihoods for items whose price story is already over.
	LikelihoodDiscontinued float64
	LikelihoodClearance    float64

	// SamePriceMedCount: 60-day same-price sightings that raise the
	// likelihood confidence to MED.
	SamePriceMedCount int
	// ObservationHighCount: snapshot observations that raise it to HIGH.
	ObservationHighCount int
	// ConfidenceHalfLifeDays ages the evidence behind the tier: each full
	// half-life since the last sighting demotes it one step. Zero disables
	// the decay.
	ConfidenceHalfLifeDays int

	// MaxFactors bounds the factors list in the output. Display only; all
	// collected factors still count toward the fallback verdict.
	MaxFactors int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		DropThresholdPct: 10,
		RiseThresholdPct: 15,

		ScarcityNotSeenDays: 14,
		ScarcityQuietDays:   7,
		ScarcityLimitedMax:  2,
		ScarcityPlentyMin:   5,

		LikelihoodRegular:     0.7,
		LikelihoodMfrDiscount: 0.4,
		LikelihoodDefault:     0.5,
		PenaltyLastUnits:      0.3,
		PenaltyLimited:        0.15,

		AdjustTypicallyDrops:    0.15,
		AdjustTypicallySellsOut: 0.2,

		LikelihoodDiscontinued: 0.10,
		LikelihoodClearance:    0.15,

		SamePriceMedCount:      3,
		ObservationHighCount:   5,
		ConfidenceHalfLifeDays: 12,

		MaxFactors: 3,
	}
}
