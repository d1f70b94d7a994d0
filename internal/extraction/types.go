package extraction

import (
	"github.com/shopspring/decimal"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

// CandidateReading is the structured result of one extraction attempt. It is
// ephemeral; the ingest pipeline decides whether it becomes an observation.
//
// Invariant: Success is true only when both ItemNumber and Price are
// present.
type CandidateReading struct {
	ItemNumber  string                `json:"item_number,omitempty"`
	Price       *decimal.Decimal      `json:"price,omitempty"`
	UnitPrice   *decimal.Decimal      `json:"unit_price,omitempty"`
	UnitMeasure string                `json:"unit_measure,omitempty"`
	Description string                `json:"description,omitempty"`
	PriceEnding pricebook.PriceEnding `json:"price_ending,omitempty"`
	HasAsterisk bool                  `json:"has_asterisk"`

	// ImageHash is the perceptual fingerprint of the original image, used
	// downstream for near-duplicate detection. Empty for manual entries.
	ImageHash string `json:"image_hash,omitempty"`

	// RawText is the recognized text the fields were parsed from, retained
	// for audit.
	RawText string `json:"raw_text,omitempty"`

	Confidence float64 `json:"confidence"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
}

// Token is one recognized word with its recognizer-reported confidence in
// percent (0-100).
type Token struct {
	Text       string
	Confidence float64
}

// Fields reports which structured fields were recovered, for spans and logs.
func (c *CandidateReading) Fields() map[string]bool {
	return map[string]bool{
		"item_number": c.ItemNumber != "",
		"price":       c.Price != nil,
		"unit_price":  c.UnitPrice != nil,
		"description": c.Description != "",
	}
}
