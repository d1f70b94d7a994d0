// Package ingest admits candidate readings into the observation log. Every
// submission becomes an immutable observation; quarantine suppresses its
// effect on the shared snapshot, never its existence, so the audit trail
// stays complete.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aislelabs/pricetagd/internal/config"
	"github.com/aislelabs/pricetagd/internal/events"
	"github.com/aislelabs/pricetagd/internal/extraction"
	"github.com/aislelabs/pricetagd/internal/logging"
	"github.com/aislelabs/pricetagd/internal/pricebook"
)

const instrumentationName = "github.com/aislelabs/pricetagd/internal/ingest"

// ErrNoPrice rejects manual entries without a price; scans without a price
// are quarantined instead, but a manual entry missing its one mandatory
// field is a caller error.
var ErrNoPrice = errors.New("manual entry requires a price")

// ErrNoItemNumber rejects manual entries without an item number.
var ErrNoItemNumber = errors.New("manual entry requires an item number")

// Context carries submission provenance into the ingest pipeline.
type Context struct {
	WarehouseID uint
	Channel     pricebook.Channel
	SessionID   string
	ClientHash  string
}

// Receipt reports what happened to one submission.
type Receipt struct {
	Observation *pricebook.Observation
	// Snapshot is the post-fold snapshot; nil when the observation was
	// quarantined or the product could not be resolved.
	Snapshot *pricebook.Snapshot
	// Folded is true when the observation updated shared state.
	Folded bool
}

// Service runs the ingest pipeline.
type Service struct {
	cfg       config.IngestConfig
	store     pricebook.Store
	publisher events.Publisher
	logger    *zap.Logger

	tracer            trace.Tracer
	meter             metric.Meter
	observationsTotal metric.Int64Counter
}

// NewService creates the ingest service. publisher may be nil; events are
// best-effort and a nil publisher simply skips them.
func NewService(cfg config.IngestConfig, store pricebook.Store, publisher events.Publisher, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NoOpPublisher{}
	}

	s := &Service{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error
	s.observationsTotal, err = s.meter.Int64Counter(
		"pricetagd.ingest.observations_total",
		metric.WithDescription("Observations recorded, labeled by channel and quarantine reason"),
		metric.WithUnit("{observation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create observations counter", zap.Error(err))
	}
}

// Ingest admits one extracted reading. The observation is always persisted;
// the quarantine gauntlet decides whether it folds into the snapshot.
func (s *Service) Ingest(ctx context.Context, candidate extraction.CandidateReading, sub Context) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.ingest",
		trace.WithAttributes(
			attribute.String("channel", string(sub.Channel)),
			attribute.Int("warehouse_id", int(sub.WarehouseID)),
		))
	defer span.End()

	now := time.Now().UTC()

	duplicate, err := s.checkDuplicate(ctx, sub.WarehouseID, candidate.ImageHash, now)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("duplicate check: %w", err)
	}

	product, err := s.resolveProduct(ctx, candidate.ItemNumber, candidate.Description)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("product resolution: %w", err)
	}

	obs := s.buildObservation(candidate, sub, product, now)
	s.applyQuarantine(obs, duplicate, true)

	return s.commit(ctx, span, obs, product)
}

// ManualEntry is a human-typed reading. There is no image, so no
// fingerprint and no OCR confidence.
type ManualEntry struct {
	ItemNumber  string
	Price       decimal.Decimal
	Description string
	// Ending overrides the ending derived from the price when set,
	// letting a shopper report a tag the camera could not read.
	Ending      pricebook.PriceEnding
	HasAsterisk bool
}

// IngestManual admits a manual entry. Manual entries skip the duplicate and
// confidence checks (there is no image) but still face price sanity
// quarantine, and carry a fixed confidence below a typical good scan.
func (s *Service) IngestManual(ctx context.Context, entry ManualEntry, sub Context) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.manual",
		trace.WithAttributes(attribute.Int("warehouse_id", int(sub.WarehouseID))))
	defer span.End()

	if entry.ItemNumber == "" {
		return nil, ErrNoItemNumber
	}
	if !entry.Price.IsPositive() {
		return nil, ErrNoPrice
	}

	now := time.Now().UTC()
	product, err := s.resolveProduct(ctx, entry.ItemNumber, entry.Description)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("product resolution: %w", err)
	}

	ending := entry.Ending
	if ending == "" {
		ending = pricebook.EndingFromPrice(entry.Price)
	}

	sub.Channel = pricebook.ChannelManual
	obs := &pricebook.Observation{
		ObservationID: uuid.NewString(),
		WarehouseID:   sub.WarehouseID,
		ItemNumber:    entry.ItemNumber,
		Price:         entry.Price,
		Description:   entry.Description,
		PriceEnding:   ending,
		HasAsterisk:   entry.HasAsterisk,
		Channel:       pricebook.ChannelManual,
		Confidence:    s.cfg.ManualConfidence,
		ObservedAt:    now,
		SessionID:     sub.SessionID,
		ClientHash:    sub.ClientHash,
	}
	if product != nil {
		obs.ProductID = &product.ID
	}
	s.applyQuarantine(obs, false, false)

	return s.commit(ctx, span, obs, product)
}

func (s *Service) checkDuplicate(ctx context.Context, warehouseID uint, hash string, now time.Time) (bool, error) {
	if hash == "" {
		return false, nil
	}
	since := now.Add(-s.cfg.DedupWindow.Duration())
	return s.store.FingerprintSeen(ctx, warehouseID, hash, since)
}

func (s *Service) resolveProduct(ctx context.Context, itemNumber, description string) (*pricebook.Product, error) {
	if itemNumber == "" {
		return nil, nil
	}
	if description == "" {
		description = "Item " + itemNumber
	}
	return s.store.GetOrCreateProduct(ctx, itemNumber, description)
}

func (s *Service) buildObservation(candidate extraction.CandidateReading, sub Context, product *pricebook.Product, now time.Time) *pricebook.Observation {
	obs := &pricebook.Observation{
		ObservationID: uuid.NewString(),
		WarehouseID:   sub.WarehouseID,
		ItemNumber:    candidate.ItemNumber,
		UnitMeasure:   candidate.UnitMeasure,
		Description:   candidate.Description,
		PriceEnding:   candidate.PriceEnding,
		HasAsterisk:   candidate.HasAsterisk,
		Channel:       sub.Channel,
		Confidence:    candidate.Confidence,
		ImageHash:     candidate.ImageHash,
		ObservedAt:    now,
		SessionID:     sub.SessionID,
		ClientHash:    sub.ClientHash,
	}
	if candidate.Price != nil {
		obs.Price = *candidate.Price
	}
	if candidate.UnitPrice != nil {
		p := *candidate.UnitPrice
		obs.UnitPrice = &p
	}
	if product != nil {
		obs.ProductID = &product.ID
	}
	if raw := rawFields(candidate); raw != nil {
		obs.RawFields = raw
	}
	return obs
}

// applyQuarantine walks the gauntlet in priority order; the first matching
// rule wins. Manual entries skip the image and confidence rules.
func (s *Service) applyQuarantine(obs *pricebook.Observation, duplicate, checkImage bool) {
	switch {
	case checkImage && duplicate:
		obs.Quarantined = true
		obs.QuarantineReason = pricebook.QuarantineDuplicateImage
	case checkImage && obs.Confidence < s.cfg.MinConfidence:
		obs.Quarantined = true
		obs.QuarantineReason = pricebook.QuarantineLowConfidence
	case obs.Price.LessThan(s.cfg.MinPriceDecimal()):
		obs.Quarantined = true
		obs.QuarantineReason = pricebook.QuarantinePriceTooLow
	case obs.Price.GreaterThan(s.cfg.MaxPriceDecimal()):
		obs.Quarantined = true
		obs.QuarantineReason = pricebook.QuarantinePriceTooHigh
	}
}

// commit persists the observation, folds it when admitted, and publishes
// the lifecycle event.
func (s *Service) commit(ctx context.Context, span trace.Span, obs *pricebook.Observation, product *pricebook.Product) (*Receipt, error) {
	if err := s.store.InsertObservation(ctx, obs); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persisting observation: %w", err)
	}

	receipt := &Receipt{Observation: obs}

	if !obs.Quarantined && product != nil {
		quality := s.channelWeight(obs.Channel) * obs.Confidence
		snapshot, err := s.store.ApplySnapshot(ctx, obs, product.ID, quality)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("snapshot fold: %w", err)
		}
		receipt.Snapshot = snapshot
		receipt.Folded = true
	}

	s.recordOutcome(ctx, span, obs, receipt.Folded)
	s.publish(ctx, obs, product)
	return receipt, nil
}

func (s *Service) channelWeight(channel pricebook.Channel) float64 {
	if w, ok := s.cfg.ChannelWeights[string(channel)]; ok {
		return w
	}
	if w, ok := s.cfg.ChannelWeights["default"]; ok {
		return w
	}
	return 0.8
}

func (s *Service) recordOutcome(ctx context.Context, span trace.Span, obs *pricebook.Observation, folded bool) {
	span.SetAttributes(
		attribute.Bool("quarantined", obs.Quarantined),
		attribute.String("quarantine_reason", string(obs.QuarantineReason)),
		attribute.Bool("folded", folded),
	)
	if s.observationsTotal != nil {
		s.observationsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel", string(obs.Channel)),
			attribute.String("quarantine_reason", string(obs.QuarantineReason)),
		))
	}
	s.logger.Info("observation recorded",
		zap.String("observation_id", obs.ObservationID),
		zap.Uint("warehouse_id", obs.WarehouseID),
		zap.String("item_number", obs.ItemNumber),
		zap.String("channel", string(obs.Channel)),
		zap.Bool("quarantined", obs.Quarantined),
		zap.String("quarantine_reason", string(obs.QuarantineReason)),
		logging.Truncated("client_hash", obs.ClientHash),
		logging.Truncated("session_id", obs.SessionID),
	)
}

// publish emits the lifecycle event. Publish failure is logged, never
// surfaced; events only accelerate maintenance, they do not gate ingest.
func (s *Service) publish(ctx context.Context, obs *pricebook.Observation, product *pricebook.Product) {
	ev := events.ObservationEvent{
		EventID:       uuid.NewString(),
		ObservationID: obs.ObservationID,
		WarehouseID:   obs.WarehouseID,
		ItemNumber:    obs.ItemNumber,
		Price:         obs.Price,
		Quarantined:   obs.Quarantined,
		Reason:        string(obs.QuarantineReason),
		ObservedAt:    obs.ObservedAt,
	}
	if product != nil {
		ev.ProductID = &product.ID
	}
	if err := s.publisher.PublishObservation(ctx, ev); err != nil {
		s.logger.Warn("observation event publish failed", zap.Error(err))
	}
}
