// Package decision turns a current reading plus historical context into an
// explainable buy/wait recommendation. The engine is a pure function of its
// Input: no storage access, no clock reads, no mutation of shared state.
// Identical inputs always produce identical decisions.
package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

const instrumentationName = "github.com/aislelabs/pricetagd/internal/decision"

// rationaleText holds the one-sentence template for every rationale tag.
// The map is complete over the Rationale constants; tests enforce it.
var rationaleText = map[Rationale]string{
	RationaleDiscontinued:  "Discontinued items never come back at this price.",
	RationaleClearance:     "A .97 ending is a final manager markdown.",
	RationalePriceDrop:     "The price fell sharply against recent history.",
	RationalePriceUp:       "The price is running above recent history.",
	RationaleScarcityBuy:   "Stock looks nearly gone and you said you need it.",
	RationaleMemberSpecial: "A manufacturer discount is stacking with other value signals.",
	RationaleRegularPrice:  "A .00 ending means full price, and promotions are frequent.",
	RationaleGoodValue:     "Value signals favor this price.",
	RationaleStandardPrice: "Standard pricing with no unusual signals.",
}

// Engine computes decisions. Construct one per configuration; it is
// stateless and safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	decisionsTotal metric.Int64Counter
}

// NewEngine creates a decision engine with the given configuration.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFactors <= 0 {
		cfg.MaxFactors = DefaultConfig().MaxFactors
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	e.initMetrics()
	return e
}

func (e *Engine) initMetrics() {
	var err error
	e.decisionsTotal, err = e.meter.Int64Counter(
		"pricetagd.decision.total",
		metric.WithDescription("Decisions computed, labeled by verdict and rationale"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		e.logger.Warn("failed to create decisions counter", zap.Error(err))
	}
}

// Decide evaluates one reading against its context and returns the full
// decision record. It always returns a verdict: malformed input (a missing
// or non-positive price) degrades to OK_PRICE with minimal factors.
func (e *Engine) Decide(ctx context.Context, in Input) Decision {
	ctx, span := e.tracer.Start(ctx, "decision.decide",
		trace.WithAttributes(
			attribute.String("item_number", in.ItemNumber),
			attribute.String("price_ending", string(in.Ending)),
			attribute.Bool("has_asterisk", in.HasAsterisk),
		))
	defer span.End()

	in.Intent = in.Intent.Normalize()
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	scarcity := e.inferScarcity(in.HasAsterisk, in.Sightings, now)
	outcome := classifyOutcome(in.Prices)
	likelihood, tier := e.dropLikelihood(in, scarcity.Level, outcome)

	d := Decision{
		Scarcity:       scarcity,
		History:        buildHistory(in.Prices, outcome),
		DropLikelihood: likelihood,
		Confidence:     tier,
		IntentApplied:  in.Intent,
		PriceSignals:   pricebook.SignalsFor(in.Ending, in.HasAsterisk),
		Community:      communityViews(in.Signals, now),
		Freshness:      pricebook.FreshnessFresh,
	}
	if in.Snapshot != nil && in.Snapshot.Freshness != "" {
		d.Freshness = in.Snapshot.Freshness
	}

	if !in.Price.IsPositive() {
		d.Verdict = VerdictOKPrice
		d.Rationale = RationaleStandardPrice
		d.RationaleText = rationaleText[RationaleStandardPrice]
		d.Explanation = "Price missing or unreadable - no strong signals either way."
		d.Factors = []string{}
		e.record(ctx, span, &d)
		return d
	}

	verdict, rationale, explanation, factors := e.evaluateVerdict(in, scarcity.Level)
	d.Verdict = verdict
	d.Rationale = rationale
	d.RationaleText = rationaleText[rationale]
	d.Explanation = explanation
	if len(factors) > e.cfg.MaxFactors {
		factors = factors[:e.cfg.MaxFactors]
	}
	if factors == nil {
		factors = []string{}
	}
	d.Factors = factors
	d.Score, d.ScoreExplanation = legacyScore(in.Price, in.Ending, in.HasAsterisk, in.Snapshot)

	e.record(ctx, span, &d)
	return d
}

// evaluateVerdict walks the priority ladder. It returns the untruncated
// factor list; the caller applies the display bound.
func (e *Engine) evaluateVerdict(in Input, scarcity ScarcityLevel) (Verdict, Rationale, string, []string) {
	var factors []string

	// Rule 1: discontinuation beats everything.
	if in.HasAsterisk {
		return VerdictBuyNow, RationaleDiscontinued,
			"This item is being discontinued and won't be restocked. If you want it, buy it now.", factors
	}

	// Rule 2: clearance ending.
	if in.Ending == pricebook.EndingClearance {
		return VerdictBuyNow, RationaleClearance,
			"Clearance price - this is typically the lowest price you'll see. Manager markdowns like this don't last long.", factors
	}

	// Rule 3: movement against the snapshot.
	if in.Snapshot != nil {
		if in.Snapshot.CurrentPrice.IsPositive() {
			pct, _ := in.Price.Sub(in.Snapshot.CurrentPrice).
				Div(in.Snapshot.CurrentPrice).
				Mul(hundred).Float64()
			if pct <= -e.cfg.DropThresholdPct {
				return VerdictBuyNow, RationalePriceDrop,
					fmt.Sprintf("Price dropped %.0f%% from recent levels. Good time to buy.", -pct), factors
			}
			if pct >= e.cfg.RiseThresholdPct {
				return VerdictWait, RationalePriceUp,
					fmt.Sprintf("Price is up %.0f%% from recent levels. May drop back down.", pct), factors
			}
		}
		if in.Snapshot.Reference30d != nil && in.Price.LessThan(*in.Snapshot.Reference30d) {
			factors = append(factors, "below 30-day average")
		}
		if in.Snapshot.Reference90d != nil && in.Price.LessThan(*in.Snapshot.Reference90d) {
			factors = append(factors, "below 90-day average")
		}
	}

	// Rule 4: scarcity. Last units only force a buy when the shopper needs
	// the item; limited availability is just another factor.
	if scarcity == ScarcityLastUnits && in.Intent == IntentNeedIt {
		return VerdictBuyNow, RationaleScarcityBuy,
			"Sightings suggest the last units are on the floor. Since you need it, don't wait.", factors
	}
	if scarcity == ScarcityLimited {
		factors = append(factors, "limited availability")
	}

	// Rule 5: a manufacturer discount alone is not enough; stacked with any
	// other factor it is.
	if in.Ending == pricebook.EndingMfrDiscount {
		prior := factors
		factors = append(factors, "manufacturer discount active")
		if len(prior) > 0 {
			return VerdictBuyNow, RationaleMemberSpecial,
				fmt.Sprintf("Manufacturer discount combined with %s. Strong deal.", strings.Join(prior, ", ")), factors
		}
	}

	// Rule 6: full regular price.
	if in.Ending == pricebook.EndingRegular {
		if in.Intent == IntentBargainHunting {
			return VerdictWait, RationaleRegularPrice,
				"Regular price with no discount. You're hunting bargains - wait for a promotion cycle.", factors
		}
		return VerdictWait, RationaleRegularPrice,
			"Regular price with no discount. Promotions come around often - consider waiting unless you need it now.", factors
	}

	// Rule 7: fall back on accumulated factors.
	switch {
	case len(factors) >= 2:
		return VerdictBuyNow, RationaleGoodValue,
			fmt.Sprintf("Good value: %s.", strings.Join(factors, ", ")), factors
	case len(factors) == 1:
		return VerdictOKPrice, RationaleGoodValue,
			fmt.Sprintf("Good value: %s.", strings.Join(factors, ", ")), factors
	default:
		return VerdictOKPrice, RationaleStandardPrice,
			"Standard warehouse pricing. Fair value for a warehouse club.", factors
	}
}

func (e *Engine) record(ctx context.Context, span trace.Span, d *Decision) {
	span.SetAttributes(
		attribute.String("verdict", string(d.Verdict)),
		attribute.String("rationale", string(d.Rationale)),
		attribute.String("scarcity", string(d.Scarcity.Level)),
		attribute.Float64("drop_likelihood", d.DropLikelihood),
	)
	if e.decisionsTotal != nil {
		e.decisionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("verdict", string(d.Verdict)),
			attribute.String("rationale", string(d.Rationale)),
		))
	}
}

// buildHistory assembles the display summary, nil when there is nothing to
// show.
func buildHistory(stats pricebook.PriceStats, outcome TypicalOutcome) *PriceHistory {
	if stats.SeenAtPriceCount60d == 0 && stats.Lowest60d == nil && stats.DistinctPrices60d == 0 && outcome == OutcomeUnknown {
		return nil
	}
	return &PriceHistory{
		SeenAtPriceCount60d: stats.SeenAtPriceCount60d,
		LowestPrice60d:      stats.Lowest60d,
		TypicalOutcome:      outcome,
	}
}

func communityViews(signals []pricebook.CommunitySignal, now time.Time) []CommunityView {
	views := make([]CommunityView, 0, len(signals))
	for _, s := range signals {
		message := s.Value
		if message == "" {
			message = fmt.Sprintf("Early signal: %s", s.Type)
		}
		views = append(views, CommunityView{
			Type:              s.Type,
			Message:           message,
			ReportedAgo:       timeAgo(s.ReportedAt, now),
			VerificationCount: s.VerificationCount,
		})
	}
	return views
}

// timeAgo renders a human-readable age like "3 days ago".
func timeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "recently"
	}
	diff := now.Sub(t)
	switch {
	case diff < time.Hour:
		mins := int(diff.Minutes())
		return fmt.Sprintf("%d minute%s ago", mins, plural(mins))
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		return fmt.Sprintf("%d hour%s ago", hours, plural(hours))
	default:
		days := int(diff.Hours() / 24)
		return fmt.Sprintf("%d day%s ago", days, plural(days))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
