package extraction

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Field parsers. Each is a pure function over recognized text, matched
// independently and order-insensitively, so tags with unusual layouts still
// yield every field the recognizer managed to read.

const canonicalItemNumberLen = 7

var (
	itemNumberPattern = regexp.MustCompile(`\b(\d{6,8})\b`)
	pricePattern      = regexp.MustCompile(`\$?\s*(\d{1,4})[.,](\d{2})\b`)
	unitPricePattern  = regexp.MustCompile(`(?i)(\d+[.,]\d{2,4})\s*/\s*(oz|lb|ct|ea|qt|gal|ml|L|kg|g)\b`)
	wordPattern       = regexp.MustCompile(`[A-Za-z]{2,}`)
)

// descriptionStoplist drops unit abbreviations that survive tokenization but
// carry no descriptive value.
var descriptionStoplist = map[string]struct{}{
	"oz": {}, "lb": {}, "ct": {}, "ea": {}, "qt": {},
	"gal": {}, "ml": {}, "kg": {}, "per": {}, "unit": {},
}

// ParseItemNumber finds a 6-8 digit run, preferring the canonical 7-digit
// length over shorter or longer matches. Returns "" when no run is found.
func ParseItemNumber(text string) string {
	matches := itemNumberPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	for _, m := range matches {
		if len(m[1]) == canonicalItemNumberLen {
			return m[1]
		}
	}
	return matches[0][1]
}

// ParsePrice finds a currency-like amount. When the text contains several,
// the one with the largest integer part wins: the primary price is visually
// dominant and numerically largest on a tag. Returns nil when no amount is
// found.
func ParsePrice(text string) *decimal.Decimal {
	matches := pricePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	var best *decimal.Decimal
	bestDollars := decimal.NewFromInt(-1)
	for _, m := range matches {
		dollars, err := decimal.NewFromString(m[1])
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(m[1] + "." + m[2])
		if err != nil {
			continue
		}
		if dollars.GreaterThan(bestDollars) {
			bestDollars = dollars
			p := price
			best = &p
		}
	}
	return best
}

// ParseUnitPrice finds a per-unit amount like "0.42/oz". The measure is one
// of a fixed abbreviation set, case-insensitive; comma decimal separators
// normalize to dots. Returns (nil, "") when absent.
func ParseUnitPrice(text string) (*decimal.Decimal, string) {
	m := unitPricePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, ""
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
	if err != nil {
		return nil, ""
	}
	return &amount, strings.ToLower(m[2])
}

// HasDiscontinuationMarker reports whether the text carries the literal
// asterisk glyph warehouse clubs print on tags that will not be restocked.
func HasDiscontinuationMarker(text string) bool {
	return strings.Contains(text, "*")
}

// ParseDescription collects alphabetic tokens of length >= 2, drops
// unit-abbreviation stopwords, and joins the first 10.
func ParseDescription(text string) string {
	words := wordPattern.FindAllString(text, -1)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := descriptionStoplist[strings.ToLower(w)]; stop {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 10 {
			break
		}
	}
	return strings.Join(kept, " ")
}
