package decision

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

// Verdict is the buy/wait recommendation.
type Verdict string

const (
	VerdictBuyNow   Verdict = "BUY_NOW"
	VerdictOKPrice  Verdict = "OK_PRICE"
	VerdictWait     Verdict = "WAIT_IF_YOU_CAN"
)

// Intent is what the shopper told us they are doing. It biases tie-breaks,
// never the hard rules.
type Intent string

const (
	IntentNeedIt         Intent = "NEED_IT"
	IntentBargainHunting Intent = "BARGAIN_HUNTING"
	IntentBrowsing       Intent = "BROWSING"
)

// Normalize maps unknown or empty intents to browsing.
func (i Intent) Normalize() Intent {
	switch i {
	case IntentNeedIt, IntentBargainHunting, IntentBrowsing:
		return i
	default:
		return IntentBrowsing
	}
}

// Rationale tags the single rule that produced a verdict. The set is closed;
// every tag has a template in rationaleText and explanation wording in the
// engine, which tests assert exhaustively.
type Rationale string

const (
	RationaleDiscontinued  Rationale = "discontinued"
	RationaleClearance     Rationale = "clearance"
	RationalePriceDrop     Rationale = "price_drop"
	RationalePriceUp       Rationale = "price_up"
	RationaleScarcityBuy   Rationale = "scarcity_buy"
	RationaleMemberSpecial Rationale = "member_special"
	RationaleRegularPrice  Rationale = "regular_price"
	RationaleGoodValue     Rationale = "good_value"
	RationaleStandardPrice Rationale = "standard_price"
)

// ScarcityLevel is the inferred availability tier, derived from sighting
// frequency and recency rather than real inventory data.
type ScarcityLevel string

const (
	ScarcityPlenty    ScarcityLevel = "PLENTY"
	ScarcityLimited   ScarcityLevel = "LIMITED"
	ScarcityLastUnits ScarcityLevel = "LAST_UNITS"
	ScarcityUnknown   ScarcityLevel = "UNKNOWN"
)

// ConfidenceTier grades the price-drop likelihood estimate.
type ConfidenceTier string

const (
	ConfidenceLow  ConfidenceTier = "LOW"
	ConfidenceMed  ConfidenceTier = "MED"
	ConfidenceHigh ConfidenceTier = "HIGH"
)

// TypicalOutcome classifies what usually happens to an item's price.
type TypicalOutcome string

const (
	OutcomeTypicallyDrops    TypicalOutcome = "TYPICALLY_DROPS"
	OutcomeTypicallySellsOut TypicalOutcome = "TYPICALLY_SELLS_OUT"
	OutcomeStable            TypicalOutcome = "STABLE"
	OutcomeUnknown           TypicalOutcome = "UNKNOWN"
)

// Input carries everything Decide needs. The engine reads nothing else: no
// clocks, no storage. Snapshot may be nil when the pair has no history.
type Input struct {
	ItemNumber  string
	Price       decimal.Decimal
	Ending      pricebook.PriceEnding
	HasAsterisk bool
	Intent      Intent

	Snapshot  *pricebook.Snapshot
	Sightings pricebook.SightingStats
	Prices    pricebook.PriceStats
	Signals   []pricebook.CommunitySignal

	// Now is the evaluation time; passing it keeps Decide deterministic.
	Now time.Time
}

// Scarcity is the availability estimate attached to a decision.
type Scarcity struct {
	Level        ScarcityLevel `json:"level"`
	Explanation  string        `json:"explanation"`
	LastSeenDays *int          `json:"last_seen_days,omitempty"`
}

// PriceHistory is the lightweight history summary for display.
type PriceHistory struct {
	SeenAtPriceCount60d int              `json:"seen_at_price_count_60d"`
	LowestPrice60d      *decimal.Decimal `json:"lowest_observed_price_60d,omitempty"`
	TypicalOutcome      TypicalOutcome   `json:"typical_outcome"`
}

// CommunityView is a community signal rendered for the caller.
type CommunityView struct {
	Type              pricebook.SignalType `json:"type"`
	Message           string               `json:"message"`
	ReportedAgo       string               `json:"reported_ago"`
	VerificationCount int                  `json:"verification_count"`
}

// Decision is the full recommendation record. The legacy score and its
// explanation are both nil when no snapshot exists; they are never emitted
// separately.
type Decision struct {
	Verdict       Verdict   `json:"verdict"`
	Explanation   string    `json:"explanation"`
	Rationale     Rationale `json:"rationale"`
	RationaleText string    `json:"rationale_text"`
	Factors       []string  `json:"factors"`

	Scarcity Scarcity      `json:"scarcity"`
	History  *PriceHistory `json:"history,omitempty"`

	DropLikelihood float64        `json:"price_drop_likelihood"`
	Confidence     ConfidenceTier `json:"confidence_level"`

	IntentApplied Intent `json:"intent_applied"`

	Score            *int    `json:"product_score,omitempty"`
	ScoreExplanation *string `json:"product_score_explanation,omitempty"`

	PriceSignals []pricebook.SignalInfo `json:"price_signals"`
	Community    []CommunityView        `json:"community_signals"`

	Freshness pricebook.Freshness `json:"freshness"`
}
