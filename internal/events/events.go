// Package events publishes observation lifecycle events over NATS so
// maintenance can react to new data without polling. Events are advisory:
// every consumer must tolerate missing or duplicate deliveries.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Subject layout under the pricetag root. Location and product segments make
// subjects filterable per pair.
const (
	subjectRoot = "pricetag.observations"

	outcomeAccepted    = "accepted"
	outcomeQuarantined = "quarantined"

	// unresolvedProduct fills the product segment when the observation
	// could not be matched to a catalog entry.
	unresolvedProduct = "unresolved"
)

// ObservationEvent is the JSON payload published for every recorded
// observation, accepted or quarantined.
type ObservationEvent struct {
	EventID       string          `json:"event_id"`
	ObservationID string          `json:"observation_id"`
	WarehouseID   uint            `json:"warehouse_id"`
	ProductID     *uint           `json:"product_id,omitempty"`
	ItemNumber    string          `json:"item_number,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Quarantined   bool            `json:"quarantined"`
	Reason        string          `json:"reason,omitempty"`
	ObservedAt    time.Time       `json:"observed_at"`
}

// Subject derives the NATS subject for this event.
func (e ObservationEvent) Subject() string {
	product := unresolvedProduct
	if e.ProductID != nil {
		product = fmt.Sprintf("%d", *e.ProductID)
	}
	outcome := outcomeAccepted
	if e.Quarantined {
		outcome = outcomeQuarantined
	}
	return fmt.Sprintf("%s.%d.%s.%s", subjectRoot, e.WarehouseID, product, outcome)
}

// Publisher emits observation lifecycle events.
type Publisher interface {
	// PublishObservation sends one event. Implementations should fail fast
	// rather than block ingest.
	PublishObservation(ctx context.Context, event ObservationEvent) error

	// Close releases the transport.
	Close() error
}

// NoOpPublisher discards events. Used when NATS is not configured.
type NoOpPublisher struct{}

var _ Publisher = NoOpPublisher{}

// PublishObservation discards the event.
func (NoOpPublisher) PublishObservation(context.Context, ObservationEvent) error { return nil }

// Close is a no-op.
func (NoOpPublisher) Close() error { return nil }
