package extraction

import (
	"bytes"
	"context"
	"image"
	"math"
	"strings"

	// Register decoders for the formats field devices submit.
	_ "image/jpeg"
	_ "image/png"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aislelabs/pricetagd/internal/config"
	"github.com/aislelabs/pricetagd/internal/pricebook"
)

const instrumentationName = "github.com/aislelabs/pricetagd/internal/extraction"

// Confidence penalties for missing mandatory fields. Multiplicative, so a
// reading missing both lands near zero while staying distinguishable from a
// total failure.
const (
	penaltyNoItemNumber = 0.5
	penaltyNoPrice      = 0.3
)

// Extractor runs the full image-to-reading pipeline.
type Extractor struct {
	cfg        config.ExtractionConfig
	recognizer Recognizer
	logger     *zap.Logger

	tracer           trace.Tracer
	meter            metric.Meter
	extractionsTotal metric.Int64Counter
}

// NewExtractor creates an extractor around a recognizer.
func NewExtractor(cfg config.ExtractionConfig, recognizer Recognizer, logger *zap.Logger) (*Extractor, error) {
	if recognizer == nil {
		return nil, errNilRecognizer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = 800
	}

	e := &Extractor{
		cfg:        cfg,
		recognizer: recognizer,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
	}
	e.initMetrics()
	return e, nil
}

func (e *Extractor) initMetrics() {
	var err error
	e.extractionsTotal, err = e.meter.Int64Counter(
		"pricetagd.extraction.total",
		metric.WithDescription("Extractions attempted, labeled by outcome"),
		metric.WithUnit("{extraction}"),
	)
	if err != nil {
		e.logger.Warn("failed to create extractions counter", zap.Error(err))
	}
}

// Extract converts raw image bytes into a candidate reading. It never
// returns a Go error: undecodable input yields Success=false with a
// populated Error, and partial recognition yields a partial reading with a
// penalized confidence.
func (e *Extractor) Extract(ctx context.Context, imageBytes []byte) CandidateReading {
	ctx, span := e.tracer.Start(ctx, "extraction.extract")
	defer span.End()

	if len(imageBytes) == 0 {
		return e.fail(ctx, span, "empty image payload")
	}

	img, format, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return e.fail(ctx, span, "could not decode image: "+err.Error())
	}
	span.SetAttributes(
		attribute.String("image.format", format),
		attribute.Int("image.width", img.Bounds().Dx()),
		attribute.Int("image.height", img.Bounds().Dy()),
	)

	var reading CandidateReading

	// Fingerprint the original, not the working copy: binarization would
	// make unrelated tags collide.
	if hash, err := Fingerprint(img); err == nil {
		reading.ImageHash = hash
	} else {
		e.logger.Warn("fingerprint failed", zap.Error(err))
	}

	working := Normalize(img, e.cfg.MinWidth)
	tokens, err := e.recognizer.Recognize(working)
	if err != nil {
		reading.Error = "text recognition failed: " + err.Error()
		e.count(ctx, "recognizer_error")
		span.SetAttributes(attribute.String("outcome", "recognizer_error"))
		return reading
	}

	kept, rawConfidence := e.filterTokens(tokens)
	reading.RawText = joinTokens(kept)

	e.parseFields(&reading)
	e.score(&reading, rawConfidence)

	outcome := "partial"
	if reading.Success {
		outcome = "success"
	}
	e.count(ctx, outcome)
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("has_item_number", reading.ItemNumber != ""),
		attribute.Bool("has_price", reading.Price != nil),
		attribute.Float64("confidence", reading.Confidence),
	)
	return reading
}

// filterTokens drops words below the configured confidence floor and
// reports the mean confidence of what survives, scaled to 0-1.
func (e *Extractor) filterTokens(tokens []Token) ([]Token, float64) {
	kept := make([]Token, 0, len(tokens))
	sum := 0.0
	for _, tok := range tokens {
		if tok.Confidence < e.cfg.MinWordConfidence {
			continue
		}
		kept = append(kept, tok)
		sum += tok.Confidence
	}
	if len(kept) == 0 {
		return kept, 0
	}
	return kept, sum / float64(len(kept)) / 100.0
}

func (e *Extractor) parseFields(reading *CandidateReading) {
	text := reading.RawText

	reading.ItemNumber = ParseItemNumber(text)
	reading.Price = ParsePrice(text)
	reading.UnitPrice, reading.UnitMeasure = ParseUnitPrice(text)
	reading.HasAsterisk = HasDiscontinuationMarker(text)
	reading.Description = ParseDescription(text)

	if reading.Price != nil {
		reading.PriceEnding = pricebook.EndingFromPrice(*reading.Price)
	}
}

func (e *Extractor) score(reading *CandidateReading, rawConfidence float64) {
	confidence := rawConfidence
	if reading.ItemNumber == "" {
		confidence *= penaltyNoItemNumber
	}
	if reading.Price == nil {
		confidence *= penaltyNoPrice
	}
	reading.Confidence = math.Round(confidence*100) / 100
	reading.Success = reading.ItemNumber != "" && reading.Price != nil
	if !reading.Success && reading.Error == "" {
		reading.Error = missingFieldDetail(reading)
	}
}

func missingFieldDetail(reading *CandidateReading) string {
	switch {
	case reading.ItemNumber == "" && reading.Price == nil:
		return "no item number or price found"
	case reading.ItemNumber == "":
		return "no item number found"
	default:
		return "no price found"
	}
}

func (e *Extractor) fail(ctx context.Context, span trace.Span, detail string) CandidateReading {
	e.count(ctx, "unreadable")
	span.SetAttributes(attribute.String("outcome", "unreadable"))
	return CandidateReading{
		Success:    false,
		Confidence: 0,
		Error:      detail,
	}
}

func (e *Extractor) count(ctx context.Context, outcome string) {
	if e.extractionsTotal != nil {
		e.extractionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func joinTokens(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = tok.Text
	}
	return strings.Join(parts, " ")
}
