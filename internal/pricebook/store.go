package pricebook

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SightingStats summarizes how often an item has been seen at a warehouse.
// Counts cover non-quarantined observations only.
type SightingStats struct {
	// Sightings30d is the observation count in the trailing 30 days.
	Sightings30d int
	// Sightings7d is the observation count in the trailing 7 days.
	Sightings7d int
	// LastSeen is the most recent observation time, nil when never seen.
	LastSeen *time.Time
}

// PriceStats summarizes an item's recent price history at a warehouse.
// Counts cover non-quarantined observations only.
type PriceStats struct {
	// SeenAtPriceCount60d counts sightings at exactly the given price in
	// the trailing 60 days.
	SeenAtPriceCount60d int
	// Lowest60d is the lowest price observed in the trailing 60 days.
	Lowest60d *decimal.Decimal
	// DistinctPrices60d counts distinct prices seen in the trailing 60 days.
	DistinctPrices60d int
	// ClearanceCount90d counts clearance-ending sightings in the trailing
	// 90 days.
	ClearanceCount90d int
	// MarkerCount90d counts discontinuation-marker sightings in the
	// trailing 90 days.
	MarkerCount90d int
}

// ObservationStore persists the append-only observation log.
//
// Lookup methods that return a single record yield (nil, nil) when no row
// matches; an error means the lookup itself failed.
type ObservationStore interface {
	// InsertObservation appends one immutable observation.
	InsertObservation(ctx context.Context, o *Observation) error

	// FingerprintSeen reports whether the exact image fingerprint was
	// already recorded for the warehouse at or after the since time.
	FingerprintSeen(ctx context.Context, warehouseID uint, hash string, since time.Time) (bool, error)

	// RecentByItem returns the newest non-quarantined observations for an
	// item at a warehouse, most recent first, up to limit.
	RecentByItem(ctx context.Context, warehouseID uint, itemNumber string, limit int) ([]Observation, error)

	// SightingStats computes sighting counts for an item at a warehouse
	// relative to now.
	SightingStats(ctx context.Context, warehouseID uint, itemNumber string, now time.Time) (SightingStats, error)

	// PriceStats computes price-history counts for an item at a warehouse
	// relative to now, with same-price counts taken against price.
	PriceStats(ctx context.Context, warehouseID uint, itemNumber string, price decimal.Decimal, now time.Time) (PriceStats, error)

	// MeanPrice averages non-quarantined observation prices for a product
	// at a warehouse since the given time. Nil when there are none.
	MeanPrice(ctx context.Context, warehouseID uint, productID uint, since time.Time) (*decimal.Decimal, error)

	// CountObservations returns the total observation count.
	CountObservations(ctx context.Context) (int64, error)
}

// ProductStore persists the lazily built product catalog.
type ProductStore interface {
	// ProductByItemNumber looks a product up by its canonical item number.
	ProductByItemNumber(ctx context.Context, itemNumber string) (*Product, error)

	// ProductByID looks a product up by primary key.
	ProductByID(ctx context.Context, id uint) (*Product, error)

	// GetOrCreateProduct resolves an item number to a product, creating a
	// placeholder entry the first time the item is seen.
	GetOrCreateProduct(ctx context.Context, itemNumber, description string) (*Product, error)

	// CountProducts returns the total product count.
	CountProducts(ctx context.Context) (int64, error)
}

// SnapshotStore persists the derived per-(warehouse, product) snapshots.
type SnapshotStore interface {
	// GetSnapshot returns the snapshot for a (warehouse, product) pair, or
	// (nil, nil) when none exists yet.
	GetSnapshot(ctx context.Context, warehouseID, productID uint) (*Snapshot, error)

	// ApplySnapshot folds an accepted observation into the pair's snapshot,
	// creating it on first fold. The read-modify-write is serialized per
	// (warehouse, product) key; concurrent applies must not lose updates.
	ApplySnapshot(ctx context.Context, o *Observation, productID uint, quality float64) (*Snapshot, error)

	// SnapshotPage returns a stable page of snapshots for sweep iteration.
	SnapshotPage(ctx context.Context, offset, limit int) ([]Snapshot, error)

	// UpdateDerived writes the maintenance-owned fields of a snapshot:
	// reference prices, trend, and freshness.
	UpdateDerived(ctx context.Context, snapshotID uint64, ref30, ref90 *decimal.Decimal, trend Trend, freshness Freshness) error

	// CountSnapshots returns the total snapshot count.
	CountSnapshots(ctx context.Context) (int64, error)
}

// WarehouseStore persists the warehouse catalog.
type WarehouseStore interface {
	// WarehouseByID looks a warehouse up by primary key, (nil, nil) when
	// absent.
	WarehouseByID(ctx context.Context, id uint) (*Warehouse, error)

	// ListWarehouses returns up to limit warehouses in catalog order.
	ListWarehouses(ctx context.Context, limit int) ([]Warehouse, error)

	// InsertWarehouse adds one warehouse to the catalog.
	InsertWarehouse(ctx context.Context, w *Warehouse) error

	// CountWarehouses returns the catalog size.
	CountWarehouses(ctx context.Context) (int64, error)
}

// SignalStore persists community-reported signals.
type SignalStore interface {
	// ActiveSignals returns non-expired signals for an item at a warehouse,
	// newest first, up to limit.
	ActiveSignals(ctx context.Context, warehouseID uint, itemNumber string, now time.Time, limit int) ([]CommunitySignal, error)

	// InsertSignal records a community report.
	InsertSignal(ctx context.Context, s *CommunitySignal) error

	// DeleteExpiredSignals removes signals whose expiry has passed and
	// returns how many were removed.
	DeleteExpiredSignals(ctx context.Context, now time.Time) (int64, error)
}

// FeedbackStore persists scan feedback records.
type FeedbackStore interface {
	// InsertFeedback records one feedback submission.
	InsertFeedback(ctx context.Context, f *ScanFeedback) error

	// FeedbackByClientID supports idempotent resubmission by the
	// client-generated id, (nil, nil) when unseen.
	FeedbackByClientID(ctx context.Context, clientID string) (*ScanFeedback, error)
}

// ArtifactStore persists scan artifact records. Blobs live in the vault.
type ArtifactStore interface {
	// InsertArtifact records one stored artifact.
	InsertArtifact(ctx context.Context, a *ScanArtifact) error

	// ArtifactBySHA256 finds an artifact by content digest, (nil, nil)
	// when absent.
	ArtifactBySHA256(ctx context.Context, sha string) (*ScanArtifact, error)

	// DeleteExpiredArtifacts removes records past retention and returns
	// them so the caller can delete the blobs.
	DeleteExpiredArtifacts(ctx context.Context, now time.Time) ([]ScanArtifact, error)
}

// Store is the full persistence surface. Services depend on the narrow
// interfaces above; wiring code passes one Store that implements them all.
type Store interface {
	ObservationStore
	ProductStore
	SnapshotStore
	WarehouseStore
	SignalStore
	FeedbackStore
	ArtifactStore
}
