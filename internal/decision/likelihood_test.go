package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name  string
		stats pricebook.PriceStats
		want  TypicalOutcome
	}{
		{
			name:  "marker history dominates",
			stats: pricebook.PriceStats{MarkerCount90d: 1, ClearanceCount90d: 5},
			want:  OutcomeTypicallySellsOut,
		},
		{
			name:  "repeated clearance means markdowns",
			stats: pricebook.PriceStats{ClearanceCount90d: 2},
			want:  OutcomeTypicallyDrops,
		},
		{
			name:  "one clearance is not a pattern",
			stats: pricebook.PriceStats{ClearanceCount90d: 1},
			want:  OutcomeUnknown,
		},
		{
			name:  "steady single price",
			stats: pricebook.PriceStats{SeenAtPriceCount60d: 3, DistinctPrices60d: 1},
			want:  OutcomeStable,
		},
		{
			name:  "multiple prices break stability",
			stats: pricebook.PriceStats{SeenAtPriceCount60d: 5, DistinctPrices60d: 3},
			want:  OutcomeUnknown,
		},
		{
			name:  "no history",
			stats: pricebook.PriceStats{},
			want:  OutcomeUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyOutcome(tt.stats))
		})
	}
}

func TestDropLikelihood(t *testing.T) {
	tests := []struct {
		name     string
		in       Input
		scarcity ScarcityLevel
		outcome  TypicalOutcome
		want     float64
		wantTier ConfidenceTier
	}{
		{
			name:     "discontinued short-circuits high confidence",
			in:       Input{HasAsterisk: true},
			scarcity: ScarcityPlenty,
			outcome:  OutcomeTypicallyDrops,
			want:     0.10,
			wantTier: ConfidenceHigh,
		},
		{
			name:     "clearance short-circuits high confidence",
			in:       Input{Ending: pricebook.EndingClearance},
			scarcity: ScarcityPlenty,
			outcome:  OutcomeTypicallyDrops,
			want:     0.15,
			wantTier: ConfidenceHigh,
		},
		{
			name:     "regular price drops often",
			in:       Input{Ending: pricebook.EndingRegular},
			scarcity: ScarcityUnknown,
			outcome:  OutcomeUnknown,
			want:     0.70,
			wantTier: ConfidenceLow,
		},
		{
			name:     "manufacturer discount rarely drops further",
			in:       Input{Ending: pricebook.EndingMfrDiscount},
			scarcity: ScarcityUnknown,
			outcome:  OutcomeUnknown,
			want:     0.40,
			wantTier: ConfidenceLow,
		},
		{
			name:     "last units penalty",
			in:       Input{Ending: pricebook.EndingStandard},
			scarcity: ScarcityLastUnits,
			outcome:  OutcomeUnknown,
			want:     0.20,
			wantTier: ConfidenceLow,
		},
		{
			name:     "limited penalty",
			in:       Input{Ending: pricebook.EndingStandard},
			scarcity: ScarcityLimited,
			outcome:  OutcomeUnknown,
			want:     0.35,
			wantTier: ConfidenceLow,
		},
		{
			name:     "drop pattern raises the estimate",
			in:       Input{Ending: pricebook.EndingStandard},
			scarcity: ScarcityUnknown,
			outcome:  OutcomeTypicallyDrops,
			want:     0.65,
			wantTier: ConfidenceLow,
		},
		{
			name:     "sellout pattern lowers it",
			in:       Input{Ending: pricebook.EndingStandard},
			scarcity: ScarcityUnknown,
			outcome:  OutcomeTypicallySellsOut,
			want:     0.30,
			wantTier: ConfidenceLow,
		},
		{
			name:     "stacked penalties clamp at zero",
			in:       Input{Ending: pricebook.EndingMfrDiscount},
			scarcity: ScarcityLastUnits,
			outcome:  OutcomeTypicallySellsOut,
			want:     0,
			wantTier: ConfidenceLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			got, tier := e.dropLikelihood(tt.in, tt.scarcity, tt.outcome)

			assert.InDelta(t, tt.want, got, 0.0001)
			assert.Equal(t, tt.wantTier, tier)
		})
	}
}

func TestDropLikelihood_ConfidenceTiers(t *testing.T) {
	e := newTestEngine(t)

	in := Input{Ending: pricebook.EndingStandard}
	_, tier := e.dropLikelihood(in, ScarcityUnknown, OutcomeUnknown)
	assert.Equal(t, ConfidenceLow, tier)

	in.Prices.SeenAtPriceCount60d = 3
	_, tier = e.dropLikelihood(in, ScarcityUnknown, OutcomeUnknown)
	assert.Equal(t, ConfidenceMed, tier)

	in.Snapshot = &pricebook.Snapshot{ObservationCount: 5}
	_, tier = e.dropLikelihood(in, ScarcityUnknown, OutcomeUnknown)
	assert.Equal(t, ConfidenceHigh, tier)
}

func TestDropLikelihood_ConfidenceDecaysWithAge(t *testing.T) {
	e := newTestEngine(t)

	in := Input{Ending: pricebook.EndingStandard, Now: evalTime}
	in.Prices.SeenAtPriceCount60d = 3
	in.Snapshot = &pricebook.Snapshot{ObservationCount: 5}

	recent := evalTime.Add(-2 * 24 * time.Hour)
	in.Sightings.LastSeen = &recent
	_, tier := e.dropLikelihood(in, ScarcityUnknown, OutcomeUnknown)
	assert.Equal(t, ConfidenceHigh, tier)

	// One half-life (12 days) old: demoted a step.
	aged := evalTime.Add(-15 * 24 * time.Hour)
	in.Sightings.LastSeen = &aged
	_, tier = e.dropLikelihood(in, ScarcityUnknown, OutcomeUnknown)
	assert.Equal(t, ConfidenceMed, tier)

	// Two half-lives old: floored at LOW.
	stale := evalTime.Add(-30 * 24 * time.Hour)
	in.Sightings.LastSeen = &stale
	_, tier = e.dropLikelihood(in, ScarcityUnknown, OutcomeUnknown)
	assert.Equal(t, ConfidenceLow, tier)

	// A clearance reading is its own fresh evidence; no decay applies.
	in.Ending = pricebook.EndingClearance
	_, tier = e.dropLikelihood(in, ScarcityUnknown, OutcomeUnknown)
	assert.Equal(t, ConfidenceHigh, tier)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.2))
	assert.Equal(t, 1.0, clamp01(1.7))
	assert.Equal(t, 0.5, clamp01(0.5))
}
