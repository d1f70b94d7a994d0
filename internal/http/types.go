package http

import (
	"encoding/json"
	"time"

	"github.com/aislelabs/pricetagd/internal/decision"
	"github.com/aislelabs/pricetagd/internal/extraction"
	"github.com/aislelabs/pricetagd/internal/pricebook"
	"github.com/aislelabs/pricetagd/internal/watch"
)

// ScanResponse is the result of a successful scan or manual entry.
type ScanResponse struct {
	ScanID           string                      `json:"scan_id"`
	ObservationID    string                      `json:"observation_id"`
	Reading          extraction.CandidateReading `json:"reading"`
	Quarantined      bool                        `json:"quarantined"`
	QuarantineReason pricebook.QuarantineReason  `json:"quarantine_reason,omitempty"`
	Decision         decision.Decision           `json:"decision"`
}

// ScanFailureResponse is returned with 422 when the image could not be read.
// Partial carries whatever fields were recovered so the caller can prefill a
// manual-entry form.
type ScanFailureResponse struct {
	Error     string                      `json:"error"`
	Detail    string                      `json:"detail,omitempty"`
	RetryTips []string                    `json:"retry_tips"`
	Partial   extraction.CandidateReading `json:"partial"`
}

// retryTips is static guidance returned with every unreadable-image failure.
var retryTips = []string{
	"Hold the camera parallel to the tag and fill the frame with it",
	"Avoid glare from overhead lighting; tilt slightly if needed",
	"Make sure the item number and price digits are in focus",
	"Enter the tag manually if the photo keeps failing",
}

// ManualScanRequest is the body for POST /api/v1/scan/manual.
type ManualScanRequest struct {
	WarehouseID uint   `json:"warehouse_id"`
	ItemNumber  string `json:"item_number"`
	Price       string `json:"price"`
	Description string `json:"description,omitempty"`
	Ending      string `json:"ending,omitempty"`
	HasAsterisk bool   `json:"has_asterisk,omitempty"`
	Intent      string `json:"intent,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// WatchStatusRequest is the body for POST /api/v1/watch/status.
type WatchStatusRequest struct {
	Items []WatchItemRequest `json:"items"`
}

// WatchItemRequest identifies one watched item.
type WatchItemRequest struct {
	WarehouseID uint   `json:"warehouse_id"`
	ItemNumber  string `json:"item_number"`
}

// WatchStatusResponse carries per-item statuses in request order.
type WatchStatusResponse struct {
	Statuses []watch.ItemStatus `json:"statuses"`
}

// NearbyWarehouse is a catalog entry with its distance from the query point.
type NearbyWarehouse struct {
	pricebook.Warehouse
	DistanceKm float64 `json:"distance_km"`
}

// FeedbackRequest is the body for POST /api/v1/feedback. FeedbackID is
// client-generated and makes resubmission idempotent.
type FeedbackRequest struct {
	FeedbackID      string          `json:"feedback_id"`
	ObservationID   string          `json:"observation_id"`
	WarehouseID     uint            `json:"warehouse_id"`
	Positive        bool            `json:"is_positive"`
	Reasons         json.RawMessage `json:"reasons,omitempty"`
	OtherText       string          `json:"other_text,omitempty"`
	Corrections     json.RawMessage `json:"corrections,omitempty"`
	AppVersion      string          `json:"app_version,omitempty"`
	ClientCreatedAt *time.Time      `json:"client_created_at,omitempty"`
}

// StatusResponse is the body for GET /api/v1/status.
type StatusResponse struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Observations  int64  `json:"observations"`
	Products      int64  `json:"products"`
	Snapshots     int64  `json:"snapshots"`
	Warehouses    int64  `json:"warehouses"`
}

// HealthResponse is the body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
