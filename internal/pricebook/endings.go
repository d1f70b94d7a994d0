package pricebook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceEnding is the two-digit fractional part of a price, carried as a
// literal like ".97". Warehouse clubs encode merchandising state in the
// ending, so it is a categorical signal, not just formatting. Endings
// outside the known set are still valid and carried through as-is.
type PriceEnding string

const (
	// EndingClearance marks a manager markdown that will not be restocked
	// at this price.
	EndingClearance PriceEnding = ".97"
	// EndingRegular marks full undiscounted price.
	EndingRegular PriceEnding = ".00"
	// EndingMfrDiscount marks a temporary manufacturer rebate.
	EndingMfrDiscount PriceEnding = ".49"
	// EndingStandard is normal shelf pricing.
	EndingStandard PriceEnding = ".99"
)

// EndingFromPrice derives the ending class from a price's cents.
func EndingFromPrice(price decimal.Decimal) PriceEnding {
	cents := price.Mod(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if cents < 0 {
		cents = -cents
	}
	return PriceEnding(fmt.Sprintf(".%02d", cents))
}

// SignalInfo is the merchandising metadata for one pricing signal, served
// verbatim to clients alongside decisions.
type SignalInfo struct {
	Type    string `json:"type"`
	Label   string `json:"label"`
	Meaning string `json:"meaning"`
}

// SignalKeyAsterisk keys the discontinuation marker in the signal catalog,
// which is otherwise keyed by price ending.
const SignalKeyAsterisk = "asterisk"

// SignalCatalog maps price endings (and the asterisk marker) to their
// merchandising meaning.
var SignalCatalog = map[string]SignalInfo{
	string(EndingClearance): {
		Type:    "ending_97",
		Label:   "Clearance Price",
		Meaning: "Manager markdown - often the lowest price you'll see",
	},
	string(EndingRegular): {
		Type:    "ending_00",
		Label:   "Regular Price",
		Meaning: "Full price with no discount applied",
	},
	string(EndingMfrDiscount): {
		Type:    "ending_49",
		Label:   "Manufacturer Discount",
		Meaning: "Temporary manufacturer rebate or promotion",
	},
	string(EndingStandard): {
		Type:    "ending_99",
		Label:   "Standard Price",
		Meaning: "Normal warehouse pricing",
	},
	SignalKeyAsterisk: {
		Type:    "asterisk",
		Label:   "Being Discontinued",
		Meaning: "Item won't be restocked - last chance to buy",
	},
}

// SignalsFor returns the catalog entries that apply to a reading, ending
// first, marker second. Unknown endings contribute nothing.
func SignalsFor(ending PriceEnding, hasAsterisk bool) []SignalInfo {
	var out []SignalInfo
	if info, ok := SignalCatalog[string(ending)]; ok {
		out = append(out, info)
	}
	if hasAsterisk {
		out = append(out, SignalCatalog[SignalKeyAsterisk])
	}
	return out
}
