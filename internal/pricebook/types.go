package pricebook

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Channel identifies how an observation was submitted.
type Channel string

const (
	ChannelScan   Channel = "scan"
	ChannelManual Channel = "manual"
	ChannelAPI    Channel = "api"
)

// Freshness classifies how recently a snapshot was confirmed.
type Freshness string

const (
	FreshnessFresh Freshness = "fresh"
	FreshnessWarm  Freshness = "warm"
	FreshnessStale Freshness = "stale"
)

// Trend is the direction of the 30-day reference price relative to the
// 90-day reference price.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// QuarantineReason explains why an observation was excluded from snapshots.
type QuarantineReason string

const (
	QuarantineDuplicateImage QuarantineReason = "duplicate_image"
	QuarantineLowConfidence  QuarantineReason = "low_confidence"
	QuarantinePriceTooLow    QuarantineReason = "price_too_low"
	QuarantinePriceTooHigh   QuarantineReason = "price_too_high"
)

// SignalType classifies a community-reported signal.
type SignalType string

const (
	SignalPriceDrop  SignalType = "price_drop"
	SignalClearance  SignalType = "clearance"
	SignalOutOfStock SignalType = "out_of_stock"
	SignalNewItem    SignalType = "new_item"
)

// Warehouse is one physical club location.
type Warehouse struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	StoreNumber string    `gorm:"size:10;uniqueIndex" json:"store_number"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Address     string    `gorm:"not null" json:"address"`
	City        string    `gorm:"size:100;not null" json:"city"`
	State       string    `gorm:"size:2;not null" json:"state"`
	ZipCode     string    `gorm:"size:10;not null;index" json:"zip_code"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	MetroArea   string    `gorm:"size:100;index" json:"metro_area"`
	CreatedAt   time.Time `json:"created_at"`
}

// Product is the canonical item a tag refers to. Created lazily the first
// time an item number is seen; descriptive metadata may be refined later,
// the item number never changes.
type Product struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ItemNumber  string    `gorm:"size:20;uniqueIndex;not null" json:"item_number"`
	UPC         string    `gorm:"size:14;index" json:"upc,omitempty"`
	Description string    `gorm:"not null" json:"description"`
	Category    string    `gorm:"size:100;index" json:"category,omitempty"`
	Subcategory string    `gorm:"size:100" json:"subcategory,omitempty"`
	Brand       string    `gorm:"size:100" json:"brand,omitempty"`
	UnitSize    string    `gorm:"size:50" json:"unit_size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Observation is one immutable sighting of a price tag. Rows are never
// updated or deleted by the application; retention is a separate concern.
type Observation struct {
	ID            uint64 `gorm:"primaryKey" json:"-"`
	ObservationID string `gorm:"size:36;uniqueIndex;not null" json:"observation_id"`
	WarehouseID   uint   `gorm:"not null;index" json:"warehouse_id"`
	ProductID     *uint  `gorm:"index" json:"product_id,omitempty"`

	// Extracted fields, kept raw as the extractor produced them.
	ItemNumber  string           `gorm:"size:20;index" json:"item_number"`
	Price       decimal.Decimal  `gorm:"type:decimal(10,2);not null" json:"price"`
	UnitPrice   *decimal.Decimal `gorm:"type:decimal(10,4)" json:"unit_price,omitempty"`
	UnitMeasure string           `gorm:"size:20" json:"unit_measure,omitempty"`
	Description string           `json:"description,omitempty"`
	PriceEnding PriceEnding      `gorm:"size:3" json:"price_ending,omitempty"`
	HasAsterisk bool             `json:"has_asterisk"`

	// Provenance and quality.
	Channel    Channel        `gorm:"size:20;not null" json:"channel"`
	Confidence float64        `gorm:"not null" json:"confidence"`
	ImageHash  string         `gorm:"size:64;index" json:"image_hash,omitempty"`
	RawFields  datatypes.JSON `json:"raw_fields,omitempty"`

	Quarantined      bool             `gorm:"index" json:"quarantined"`
	QuarantineReason QuarantineReason `gorm:"size:100" json:"quarantine_reason,omitempty"`

	ObservedAt time.Time `gorm:"not null;index" json:"observed_at"`
	CreatedAt  time.Time `json:"created_at"`

	SessionID  string `gorm:"size:36" json:"session_id,omitempty"`
	ClientHash string `gorm:"size:64" json:"-"`
}

// Snapshot is the current best-known state for one product at one warehouse,
// derived by folding accepted observations. Unique per (warehouse, product).
type Snapshot struct {
	ID          uint64 `gorm:"primaryKey" json:"-"`
	WarehouseID uint   `gorm:"not null;uniqueIndex:uq_snapshot_warehouse_product" json:"warehouse_id"`
	ProductID   uint   `gorm:"not null;uniqueIndex:uq_snapshot_warehouse_product" json:"product_id"`

	CurrentPrice     decimal.Decimal  `gorm:"type:decimal(10,2);not null" json:"current_price"`
	CurrentUnitPrice *decimal.Decimal `gorm:"type:decimal(10,4)" json:"current_unit_price,omitempty"`
	UnitMeasure      string           `gorm:"size:20" json:"unit_measure,omitempty"`
	PriceEnding      PriceEnding      `gorm:"size:3" json:"price_ending,omitempty"`
	HasAsterisk      bool             `json:"has_asterisk"`

	QualityScore     float64 `gorm:"not null" json:"quality_score"`
	ObservationCount int     `gorm:"not null;default:1" json:"observation_count"`

	Freshness      Freshness `gorm:"size:10;not null;default:fresh" json:"freshness"`
	LastObservedAt time.Time `gorm:"not null" json:"last_observed_at"`

	// Maintained by the reference recompute, not by the fold.
	Reference30d *decimal.Decimal `gorm:"type:decimal(10,2)" json:"reference_30d,omitempty"`
	Reference90d *decimal.Decimal `gorm:"type:decimal(10,2)" json:"reference_90d,omitempty"`
	PriceTrend   Trend            `gorm:"size:10" json:"price_trend,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommunitySignal is an externally reported event for a product at a
// warehouse. Read-only to the decision path; expired signals are ignored.
type CommunitySignal struct {
	ID          uint64     `gorm:"primaryKey" json:"-"`
	WarehouseID uint       `gorm:"not null;index" json:"warehouse_id"`
	ProductID   *uint      `gorm:"index" json:"product_id,omitempty"`
	ItemNumber  string     `gorm:"size:20;index" json:"item_number"`
	Type        SignalType `gorm:"size:50;not null" json:"type"`
	Value       string     `json:"value,omitempty"`

	VerificationCount int     `gorm:"default:0" json:"verification_count"`
	Verified          bool    `gorm:"default:false" json:"verified"`
	SourceQuality     float64 `gorm:"default:0.5" json:"source_quality"`

	ReportedAt time.Time  `gorm:"not null" json:"reported_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	SessionID  string     `gorm:"size:36" json:"-"`
}

// Active reports whether the signal is still valid at the given time.
func (s *CommunitySignal) Active(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// ScanFeedback is a user's verdict on a scan result, with optional
// corrections. Recorded for offline analysis; never read by the core.
type ScanFeedback struct {
	ID               uint64         `gorm:"primaryKey" json:"-"`
	ClientFeedbackID string         `gorm:"size:36;uniqueIndex;not null" json:"feedback_id"`
	ObservationID    string         `gorm:"size:36;index" json:"observation_id"`
	WarehouseID      uint           `json:"warehouse_id"`
	Positive         bool           `json:"is_positive"`
	Reasons          datatypes.JSON `json:"reasons,omitempty"`
	OtherText        string         `json:"other_text,omitempty"`
	Corrections      datatypes.JSON `json:"corrections,omitempty"`
	AppVersion       string         `gorm:"size:50" json:"app_version,omitempty"`
	ClientCreatedAt  *time.Time     `json:"client_created_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ScanArtifact is the record for a content-addressed stored image. The blob
// itself lives in the artifact vault under StorageKey.
type ScanArtifact struct {
	ID               uint64    `gorm:"primaryKey" json:"-"`
	ClientArtifactID string    `gorm:"size:36;uniqueIndex;not null" json:"artifact_id"`
	ObservationID    string    `gorm:"size:36;index" json:"observation_id"`
	FeedbackID       string    `gorm:"size:36" json:"feedback_id,omitempty"`
	StorageKey       string    `gorm:"size:255;not null" json:"storage_key"`
	SHA256           string    `gorm:"size:64;index;not null" json:"sha256"`
	SHA256Verified   bool      `json:"sha256_verified"`
	MimeType         string    `gorm:"size:50" json:"mime_type"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	ByteSize         int64     `json:"bytes"`
	RetentionExpires time.Time `gorm:"index" json:"retention_expires_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewSnapshot builds the first snapshot for a (warehouse, product) pair from
// its first accepted observation.
func NewSnapshot(o *Observation, productID uint, quality float64) *Snapshot {
	return &Snapshot{
		WarehouseID:      o.WarehouseID,
		ProductID:        productID,
		CurrentPrice:     o.Price,
		CurrentUnitPrice: o.UnitPrice,
		UnitMeasure:      o.UnitMeasure,
		PriceEnding:      o.PriceEnding,
		HasAsterisk:      o.HasAsterisk,
		QualityScore:     quality,
		ObservationCount: 1,
		Freshness:        FreshnessFresh,
		LastObservedAt:   o.ObservedAt,
	}
}

// Fold overwrites the snapshot's current fields with a newer accepted
// observation, increments the counter, and resets freshness. Reference
// prices are left alone; the maintenance recompute owns them.
func (s *Snapshot) Fold(o *Observation, quality float64) {
	s.CurrentPrice = o.Price
	s.CurrentUnitPrice = o.UnitPrice
	s.UnitMeasure = o.UnitMeasure
	s.PriceEnding = o.PriceEnding
	s.HasAsterisk = o.HasAsterisk
	s.QualityScore = quality
	s.ObservationCount++
	s.Freshness = FreshnessFresh
	s.LastObservedAt = o.ObservedAt
}
