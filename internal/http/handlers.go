package http

import (
	"context"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/aislelabs/pricetagd/internal/decision"
	"github.com/aislelabs/pricetagd/internal/extraction"
	"github.com/aislelabs/pricetagd/internal/ingest"
	"github.com/aislelabs/pricetagd/internal/pricebook"
	"github.com/aislelabs/pricetagd/internal/watch"
)

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleScan(c echo.Context) error {
	ctx := c.Request().Context()

	fileHeader, err := c.FormFile("image")
	if err != nil {
		if isBodyTooLarge(err) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload exceeds upload limit")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "image file is required")
	}

	warehouseID, err := parseWarehouseID(c.FormValue("warehouse_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "warehouse_id is required")
	}
	if err := s.requireWarehouse(ctx, warehouseID); err != nil {
		return err
	}

	data, err := readUpload(fileHeader)
	if err != nil {
		if isBodyTooLarge(err) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload exceeds upload limit")
		}
		s.logger.Warn("reading scan upload", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "could not read image upload")
	}

	reading := s.deps.Extractor.Extract(ctx, data)
	if !reading.Success {
		return c.JSON(http.StatusUnprocessableEntity, ScanFailureResponse{
			Error:     "unreadable_image",
			Detail:    reading.Error,
			RetryTips: retryTips,
			Partial:   reading,
		})
	}

	now := time.Now().UTC()
	receipt, err := s.deps.Ingestor.Ingest(ctx, reading, ingest.Context{
		WarehouseID: warehouseID,
		Channel:     pricebook.ChannelScan,
		SessionID:   c.FormValue("session_id"),
		ClientHash:  c.Request().Header.Get(headerClientHash),
	})
	if err != nil {
		s.logger.Error("scan ingest failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record observation")
	}

	s.captureArtifact(ctx, data, fileHeader, receipt.Observation, now)

	d, err := s.buildDecision(ctx, receipt, decision.Intent(c.FormValue("intent")), now)
	if err != nil {
		s.logger.Error("decision context lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to evaluate decision")
	}

	return c.JSON(http.StatusOK, scanResponse(receipt, reading, d))
}

func (s *Server) handleScanManual(c echo.Context) error {
	ctx := c.Request().Context()

	var req ManualScanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.requireWarehouse(ctx, req.WarehouseID); err != nil {
		return err
	}

	entry := ingest.ManualEntry{
		ItemNumber:  req.ItemNumber,
		Description: req.Description,
		Ending:      pricebook.PriceEnding(req.Ending),
		HasAsterisk: req.HasAsterisk,
	}
	if req.Price != "" {
		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "price is not a valid decimal")
		}
		entry.Price = price
	}

	now := time.Now().UTC()
	receipt, err := s.deps.Ingestor.IngestManual(ctx, entry, ingest.Context{
		WarehouseID: req.WarehouseID,
		Channel:     pricebook.ChannelManual,
		SessionID:   req.SessionID,
		ClientHash:  c.Request().Header.Get(headerClientHash),
	})
	if errors.Is(err, ingest.ErrNoPrice) || errors.Is(err, ingest.ErrNoItemNumber) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err != nil {
		s.logger.Error("manual ingest failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record observation")
	}

	d, err := s.buildDecision(ctx, receipt, decision.Intent(req.Intent), now)
	if err != nil {
		s.logger.Error("decision context lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to evaluate decision")
	}

	obs := receipt.Observation
	reading := extraction.CandidateReading{
		ItemNumber:  obs.ItemNumber,
		Price:       &obs.Price,
		Description: obs.Description,
		PriceEnding: obs.PriceEnding,
		HasAsterisk: obs.HasAsterisk,
		Confidence:  obs.Confidence,
		Success:     true,
	}
	return c.JSON(http.StatusOK, scanResponse(receipt, reading, d))
}

func (s *Server) handleWatchStatus(c echo.Context) error {
	var req WatchStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	items := make([]watch.WatchedItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, watch.WatchedItem{
			WarehouseID: it.WarehouseID,
			ItemNumber:  it.ItemNumber,
		})
	}

	statuses, err := s.deps.Watcher.Status(c.Request().Context(), items, time.Now().UTC())
	if err != nil {
		s.logger.Error("watch status failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute watch status")
	}
	return c.JSON(http.StatusOK, WatchStatusResponse{Statuses: statuses})
}

func (s *Server) handleWarehouses(c echo.Context) error {
	warehouses, err := s.deps.Store.ListWarehouses(c.Request().Context(), warehouseListLimit)
	if err != nil {
		s.logger.Error("listing warehouses failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list warehouses")
	}
	return c.JSON(http.StatusOK, warehouses)
}

func (s *Server) handleWarehousesNearby(c echo.Context) error {
	lat, err := strconv.ParseFloat(c.QueryParam("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		return echo.NewHTTPError(http.StatusBadRequest, "lat must be a latitude in degrees")
	}
	lon, err := strconv.ParseFloat(c.QueryParam("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		return echo.NewHTTPError(http.StatusBadRequest, "lon must be a longitude in degrees")
	}

	limit := 5
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(parsed, 50)
	}

	warehouses, err := s.deps.Store.ListWarehouses(c.Request().Context(), warehouseListLimit)
	if err != nil {
		s.logger.Error("listing warehouses failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list warehouses")
	}

	nearby := make([]NearbyWarehouse, 0, len(warehouses))
	for _, w := range warehouses {
		nearby = append(nearby, NearbyWarehouse{
			Warehouse:  w,
			DistanceKm: haversineKm(lat, lon, w.Latitude, w.Longitude),
		})
	}
	sort.Slice(nearby, func(i, j int) bool { return nearby[i].DistanceKm < nearby[j].DistanceKm })
	if len(nearby) > limit {
		nearby = nearby[:limit]
	}
	return c.JSON(http.StatusOK, nearby)
}

func (s *Server) handleSignalCatalog(c echo.Context) error {
	return c.JSON(http.StatusOK, pricebook.SignalCatalog)
}

func (s *Server) handleFeedback(c echo.Context) error {
	ctx := c.Request().Context()

	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.FeedbackID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "feedback_id is required")
	}

	existing, err := s.deps.Store.FeedbackByClientID(ctx, req.FeedbackID)
	if err != nil {
		s.logger.Error("feedback lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record feedback")
	}
	if existing != nil {
		return c.NoContent(http.StatusNoContent)
	}

	feedback := &pricebook.ScanFeedback{
		ClientFeedbackID: req.FeedbackID,
		ObservationID:    req.ObservationID,
		WarehouseID:      req.WarehouseID,
		Positive:         req.Positive,
		Reasons:          datatypes.JSON(req.Reasons),
		OtherText:        req.OtherText,
		Corrections:      datatypes.JSON(req.Corrections),
		AppVersion:       req.AppVersion,
		ClientCreatedAt:  req.ClientCreatedAt,
	}
	if err := s.deps.Store.InsertFeedback(ctx, feedback); err != nil {
		s.logger.Error("feedback insert failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record feedback")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()

	resp := StatusResponse{
		Version:       s.deps.Version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	var err error
	if resp.Observations, err = s.deps.Store.CountObservations(ctx); err != nil {
		return s.statusError(err)
	}
	if resp.Products, err = s.deps.Store.CountProducts(ctx); err != nil {
		return s.statusError(err)
	}
	if resp.Snapshots, err = s.deps.Store.CountSnapshots(ctx); err != nil {
		return s.statusError(err)
	}
	if resp.Warehouses, err = s.deps.Store.CountWarehouses(ctx); err != nil {
		return s.statusError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) statusError(err error) error {
	s.logger.Error("store counts failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "failed to read store counts")
}

// buildDecision assembles the decision input around an ingested observation.
// The snapshot from the fold is reused when present; quarantined readings
// fall back to whatever snapshot already exists for the pair.
func (s *Server) buildDecision(ctx context.Context, receipt *ingest.Receipt, intent decision.Intent, now time.Time) (decision.Decision, error) {
	obs := receipt.Observation
	in := decision.Input{
		ItemNumber:  obs.ItemNumber,
		Price:       obs.Price,
		Ending:      obs.PriceEnding,
		HasAsterisk: obs.HasAsterisk,
		Intent:      intent,
		Snapshot:    receipt.Snapshot,
		Now:         now,
	}

	var err error
	if in.Snapshot == nil && obs.ProductID != nil {
		if in.Snapshot, err = s.deps.Store.GetSnapshot(ctx, obs.WarehouseID, *obs.ProductID); err != nil {
			return decision.Decision{}, err
		}
	}
	if in.Sightings, err = s.deps.Store.SightingStats(ctx, obs.WarehouseID, obs.ItemNumber, now); err != nil {
		return decision.Decision{}, err
	}
	if in.Prices, err = s.deps.Store.PriceStats(ctx, obs.WarehouseID, obs.ItemNumber, obs.Price, now); err != nil {
		return decision.Decision{}, err
	}
	if in.Signals, err = s.deps.Store.ActiveSignals(ctx, obs.WarehouseID, obs.ItemNumber, now, maxDecisionSignals); err != nil {
		return decision.Decision{}, err
	}

	return s.deps.Engine.Decide(ctx, in), nil
}

// captureArtifact stores the scan image best-effort; failures are logged and
// never surfaced to the caller.
func (s *Server) captureArtifact(ctx context.Context, data []byte, header *multipart.FileHeader, obs *pricebook.Observation, now time.Time) {
	if s.deps.Vault == nil {
		return
	}

	blob, err := s.deps.Vault.Save(data)
	if err != nil {
		s.logger.Warn("saving scan artifact blob", zap.Error(err))
		return
	}

	existing, err := s.deps.Store.ArtifactBySHA256(ctx, blob.SHA256)
	if err != nil {
		s.logger.Warn("artifact lookup failed", zap.Error(err))
		return
	}
	if existing != nil {
		return
	}

	artifact := &pricebook.ScanArtifact{
		ClientArtifactID: uuid.NewString(),
		ObservationID:    obs.ObservationID,
		StorageKey:       blob.Key,
		SHA256:           blob.SHA256,
		SHA256Verified:   true,
		MimeType:         header.Header.Get(echo.HeaderContentType),
		ByteSize:         blob.Size,
		RetentionExpires: now.Add(s.deps.ArtifactRetention),
	}
	if err := s.deps.Store.InsertArtifact(ctx, artifact); err != nil {
		s.logger.Warn("artifact insert failed", zap.Error(err))
	}
}

func (s *Server) requireWarehouse(ctx context.Context, id uint) error {
	warehouse, err := s.deps.Store.WarehouseByID(ctx, id)
	if err != nil {
		s.logger.Error("warehouse lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up warehouse")
	}
	if warehouse == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown warehouse")
	}
	return nil
}

func scanResponse(receipt *ingest.Receipt, reading extraction.CandidateReading, d decision.Decision) ScanResponse {
	obs := receipt.Observation
	return ScanResponse{
		ScanID:           uuid.NewString(),
		ObservationID:    obs.ObservationID,
		Reading:          reading,
		Quarantined:      obs.Quarantined,
		QuarantineReason: obs.QuarantineReason,
		Decision:         d,
	}
}

func parseWarehouseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid warehouse id")
	}
	return uint(id), nil
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func isBodyTooLarge(err error) bool {
	var maxBytes *http.MaxBytesError
	return errors.As(err, &maxBytes)
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
