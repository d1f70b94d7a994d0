package decision

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

var hundred = decimal.NewFromInt(100)

// legacyScore computes the 0-100 product score kept for older clients. The
// explanation lists every applied adjustment; a score is never returned
// without it. With no snapshot there is nothing to compare against, so both
// are nil rather than implying precision from a single reading.
func legacyScore(price decimal.Decimal, ending pricebook.PriceEnding, hasAsterisk bool, snapshot *pricebook.Snapshot) (*int, *string) {
	if snapshot == nil {
		return nil, nil
	}

	score := 50
	var factors []string

	switch ending {
	case pricebook.EndingClearance:
		score += 30
		factors = append(factors, "clearance pricing (+30)")
	case pricebook.EndingMfrDiscount:
		score += 15
		factors = append(factors, "manufacturer discount (+15)")
	case pricebook.EndingRegular:
		score -= 15
		factors = append(factors, "full regular price (-15)")
	}

	if hasAsterisk {
		score += 20
		factors = append(factors, "last chance to buy (+20)")
	}

	if snapshot.Reference30d != nil && snapshot.Reference30d.IsPositive() {
		pctBelow, _ := snapshot.Reference30d.Sub(price).
			Div(*snapshot.Reference30d).
			Mul(decimal.NewFromInt(100)).Float64()
		if pctBelow > 10 {
			score += 15
			factors = append(factors, fmt.Sprintf("%.0f%% below 30-day price (+15)", pctBelow))
		} else if pctBelow < -10 {
			score -= 10
			factors = append(factors, fmt.Sprintf("%.0f%% above 30-day price (-10)", -pctBelow))
		}
	}

	if snapshot.Freshness == pricebook.FreshnessStale {
		score -= 10
		factors = append(factors, "data is older than 3 weeks (-10)")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	var explanation string
	if len(factors) > 0 {
		explanation = fmt.Sprintf("Score of %d: %s.", score, strings.Join(factors, ", "))
	} else {
		explanation = fmt.Sprintf("Score of %d based on standard warehouse pricing with limited history.", score)
	}
	return &score, &explanation
}
