package decision

import (
	"github.com/aislelabs/pricetagd/internal/pricebook"
)

// classifyOutcome maps recent price-history counts to a typical-outcome
// class. Marker sightings dominate because discontinuation ends the price
// story; repeated clearance endings imply markdowns are this item's pattern.
func classifyOutcome(stats pricebook.PriceStats) TypicalOutcome {
	switch {
	case stats.MarkerCount90d > 0:
		return OutcomeTypicallySellsOut
	case stats.ClearanceCount90d >= 2:
		return OutcomeTypicallyDrops
	case stats.SeenAtPriceCount60d >= 3 && stats.DistinctPrices60d == 1:
		return OutcomeStable
	default:
		return OutcomeUnknown
	}
}

// dropLikelihood estimates the probability of a future price drop in [0,1]
// with a confidence tier.
//
// Discontinued and clearance items short-circuit to a fixed low likelihood
// with HIGH confidence: their remaining risk is disappearance, not price
// movement.
func (e *Engine) dropLikelihood(in Input, scarcity ScarcityLevel, outcome TypicalOutcome) (float64, ConfidenceTier) {
	if in.HasAsterisk {
		return e.cfg.LikelihoodDiscontinued, ConfidenceHigh
	}
	if in.Ending == pricebook.EndingClearance {
		return e.cfg.LikelihoodClearance, ConfidenceHigh
	}

	likelihood := e.cfg.LikelihoodDefault
	switch in.Ending {
	case pricebook.EndingRegular:
		likelihood = e.cfg.LikelihoodRegular
	case pricebook.EndingMfrDiscount:
		likelihood = e.cfg.LikelihoodMfrDiscount
	}

	switch scarcity {
	case ScarcityLastUnits:
		likelihood -= e.cfg.PenaltyLastUnits
	case ScarcityLimited:
		likelihood -= e.cfg.PenaltyLimited
	}

	switch outcome {
	case OutcomeTypicallyDrops:
		likelihood += e.cfg.AdjustTypicallyDrops
	case OutcomeTypicallySellsOut:
		likelihood -= e.cfg.AdjustTypicallySellsOut
	}

	likelihood = clamp01(likelihood)

	tier := ConfidenceLow
	if in.Prices.SeenAtPriceCount60d >= e.cfg.SamePriceMedCount {
		tier = ConfidenceMed
	}
	if in.Snapshot != nil && in.Snapshot.ObservationCount >= e.cfg.ObservationHighCount {
		tier = ConfidenceHigh
	}
	return likelihood, e.decayConfidence(tier, in)
}

// decayConfidence demotes the tier one step per half-life elapsed since the
// last sighting. Counts prove the evidence existed; age says how much it is
// still worth.
func (e *Engine) decayConfidence(tier ConfidenceTier, in Input) ConfidenceTier {
	if e.cfg.ConfidenceHalfLifeDays <= 0 || in.Sightings.LastSeen == nil || in.Now.IsZero() {
		return tier
	}
	steps := int(in.Now.Sub(*in.Sightings.LastSeen).Hours() / 24 / float64(e.cfg.ConfidenceHalfLifeDays))
	for ; steps > 0 && tier != ConfidenceLow; steps-- {
		if tier == ConfidenceHigh {
			tier = ConfidenceMed
		} else {
			tier = ConfidenceLow
		}
	}
	return tier
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
