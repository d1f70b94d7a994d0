// Package watch answers "what changed since I last looked" for a shopper's
// saved items. It only reads the observation log; it records nothing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aislelabs/pricetagd/internal/pricebook"
)

const instrumentationName = "github.com/aislelabs/pricetagd/internal/watch"

const (
	// disappearedAfterDays is how long an item can go unsighted before it
	// is reported as disappeared.
	disappearedAfterDays = 14

	// recentObservations is how much history each item comparison needs.
	recentObservations = 2
)

// priceChangeEpsilon absorbs sub-cent noise; only larger moves count as a
// price change.
var priceChangeEpsilon = decimal.RequireFromString("0.01")

// Change names one detected delta for a watched item.
type Change string

const (
	ChangeNoData          Change = "no_data"
	ChangeDisappeared     Change = "disappeared"
	ChangePriceChanged    Change = "price_changed"
	ChangeBecameClearance Change = "became_clearance"
	ChangeDecisionChanged Change = "decision_changed"
)

// WatchedItem identifies one (warehouse, item) pair to check.
type WatchedItem struct {
	WarehouseID uint   `json:"warehouse_id"`
	ItemNumber  string `json:"item_number"`
}

// PriceChange reports the old and new price for a price_changed delta.
type PriceChange struct {
	Old decimal.Decimal `json:"old"`
	New decimal.Decimal `json:"new"`
}

// ItemStatus is the report for one watched item.
type ItemStatus struct {
	WarehouseID uint     `json:"warehouse_id"`
	ItemNumber  string   `json:"item_number"`
	Changes     []Change `json:"changes"`

	LastSeenDays *int         `json:"last_seen_days,omitempty"`
	Price        *PriceChange `json:"price,omitempty"`

	// Verdicts accompany a decision_changed delta: previous then current.
	PreviousVerdict string `json:"previous_verdict,omitempty"`
	CurrentVerdict  string `json:"current_verdict,omitempty"`
}

// Service computes watch statuses from the observation log.
type Service struct {
	store  pricebook.ObservationStore
	logger *zap.Logger
	tracer trace.Tracer
}

// NewService creates a watch service.
func NewService(store pricebook.ObservationStore, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Status reports the deltas for each watched item as of evalTime. One status
// per input item, in input order.
func (s *Service) Status(ctx context.Context, items []WatchedItem, evalTime time.Time) ([]ItemStatus, error) {
	ctx, span := s.tracer.Start(ctx, "watch.status",
		trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	if evalTime.IsZero() {
		evalTime = time.Now().UTC()
	}

	statuses := make([]ItemStatus, 0, len(items))
	for _, item := range items {
		status, err := s.itemStatus(ctx, item, evalTime)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("checking %s at warehouse %d: %w", item.ItemNumber, item.WarehouseID, err)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *Service) itemStatus(ctx context.Context, item WatchedItem, evalTime time.Time) (ItemStatus, error) {
	status := ItemStatus{
		WarehouseID: item.WarehouseID,
		ItemNumber:  item.ItemNumber,
		Changes:     []Change{},
	}

	recent, err := s.store.RecentByItem(ctx, item.WarehouseID, item.ItemNumber, recentObservations)
	if err != nil {
		return status, err
	}
	if len(recent) == 0 {
		status.Changes = append(status.Changes, ChangeNoData)
		return status, nil
	}

	latest := recent[0]

	days := int(evalTime.Sub(latest.ObservedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	status.LastSeenDays = &days
	if days >= disappearedAfterDays {
		status.Changes = append(status.Changes, ChangeDisappeared)
	}

	if len(recent) < 2 {
		return status, nil
	}
	previous := recent[1]

	if latest.Price.Sub(previous.Price).Abs().GreaterThan(priceChangeEpsilon) {
		status.Changes = append(status.Changes, ChangePriceChanged)
		status.Price = &PriceChange{Old: previous.Price, New: latest.Price}
	}

	if latest.PriceEnding == pricebook.EndingClearance && previous.PriceEnding != pricebook.EndingClearance {
		status.Changes = append(status.Changes, ChangeBecameClearance)
	}

	prevVerdict := inferVerdict(previous)
	currVerdict := inferVerdict(latest)
	if prevVerdict != currVerdict {
		status.Changes = append(status.Changes, ChangeDecisionChanged)
		status.PreviousVerdict = prevVerdict
		status.CurrentVerdict = currVerdict
	}

	return status, nil
}

// inferVerdict is a cheap stand-in for the full decision engine: the watch
// comparison only needs to notice a category flip, not reproduce the
// explanation.
func inferVerdict(o pricebook.Observation) string {
	switch {
	case o.HasAsterisk:
		return "BUY_NOW"
	case o.PriceEnding == pricebook.EndingClearance:
		return "BUY_NOW"
	case o.PriceEnding == pricebook.EndingRegular:
		return "WAIT_IF_YOU_CAN"
	default:
		return "OK_PRICE"
	}
}
