// Package refresh keeps derived pricebook state honest over time: freshness
// decay, reference-price recomputation, signal expiry, and artifact
// retention. None of it blocks the request path; everything here runs in the
// background and tolerates partial failure.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aislelabs/pricetagd/internal/events"
	"github.com/aislelabs/pricetagd/internal/pricebook"
)

const instrumentationName = "github.com/aislelabs/pricetagd/internal/refresh"

const (
	// sweepPageSize bounds snapshot memory per sweep iteration.
	sweepPageSize = 200

	// recomputeBuffer bounds queued event-triggered recomputes; beyond it
	// events fall back to the next sweep.
	recomputeBuffer = 64
)

// trendBandPct is the reference-price move, in percent, a trend must exceed
// to count as rising or falling.
var trendBandPct = decimal.RequireFromString("2")

// BlobDeleter removes stored artifact blobs. The vault implements it; tests
// use a fake.
type BlobDeleter interface {
	Remove(sha256 string) error
}

// Config tunes the worker.
type Config struct {
	Interval time.Duration
	// FreshDays and WarmDays are the freshness decay thresholds.
	FreshDays int
	WarmDays  int
	// ArtifactRetention is how long artifact blobs are kept; zero disables
	// the retention sweep.
	ArtifactRetention time.Duration
}

// pair identifies one snapshot for targeted recomputation.
type pair struct {
	warehouseID uint
	productID   uint
}

// Worker is the background maintenance scheduler.
type Worker struct {
	cfg    Config
	store  pricebook.Store
	blobs  BlobDeleter
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	recomputeCh chan pair

	tracer      trace.Tracer
	meter       metric.Meter
	sweepsTotal metric.Int64Counter
	sweepErrors metric.Int64Counter
}

// NewWorker creates the maintenance worker. blobs may be nil when artifact
// storage is disabled.
func NewWorker(cfg Config, store pricebook.Store, blobs BlobDeleter, logger *zap.Logger) (*Worker, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.FreshDays <= 0 {
		cfg.FreshDays = 7
	}
	if cfg.WarmDays <= cfg.FreshDays {
		cfg.WarmDays = cfg.FreshDays * 3
	}

	w := &Worker{
		cfg:         cfg,
		store:       store,
		blobs:       blobs,
		logger:      logger,
		recomputeCh: make(chan pair, recomputeBuffer),
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}
	w.initMetrics()
	return w, nil
}

func (w *Worker) initMetrics() {
	var err error
	w.sweepsTotal, err = w.meter.Int64Counter(
		"pricetagd.refresh.sweeps_total",
		metric.WithDescription("Maintenance sweeps completed"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		w.logger.Warn("failed to create sweeps counter", zap.Error(err))
	}
	w.sweepErrors, err = w.meter.Int64Counter(
		"pricetagd.refresh.sweep_errors_total",
		metric.WithDescription("Maintenance sweep task errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		w.logger.Warn("failed to create sweep errors counter", zap.Error(err))
	}
}

// Start launches the background loop. Idempotent: starting a running worker
// returns an error without spawning a second goroutine.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("maintenance worker already running")
	}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	w.logger.Info("maintenance worker started", zap.Duration("interval", w.cfg.Interval))
	go w.run(w.stopCh, w.doneCh)
	return nil
}

// Stop signals the loop to exit and waits for it. Safe to call when not
// running.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("maintenance worker stopped")
	return nil
}

// HandleEvent queues a targeted recompute for an accepted observation.
// Quarantined events and a full queue are ignored; the periodic sweep covers
// both.
func (w *Worker) HandleEvent(event events.ObservationEvent) {
	if event.Quarantined || event.ProductID == nil {
		return
	}
	select {
	case w.recomputeCh <- pair{warehouseID: event.WarehouseID, productID: *event.ProductID}:
	default:
		w.logger.Debug("recompute queue full, deferring to sweep",
			zap.Uint("warehouse_id", event.WarehouseID))
	}
}

func (w *Worker) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("maintenance loop panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.safeSweep()
		case p := <-w.recomputeCh:
			w.safeRecompute(p)
		case <-stopCh:
			return
		}
	}
}

func (w *Worker) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("sweep panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	w.Sweep(context.Background(), time.Now().UTC())
}

func (w *Worker) safeRecompute(p pair) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("recompute panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	if err := w.RecomputePair(context.Background(), p.warehouseID, p.productID, time.Now().UTC()); err != nil {
		w.logger.Warn("targeted recompute failed",
			zap.Uint("warehouse_id", p.warehouseID),
			zap.Uint("product_id", p.productID),
			zap.Error(err))
	}
}

// Sweep runs one full maintenance pass. Task errors are logged and counted
// but never abort the remaining tasks.
func (w *Worker) Sweep(ctx context.Context, now time.Time) {
	ctx, span := w.tracer.Start(ctx, "refresh.sweep")
	defer span.End()

	start := time.Now()
	updated, errCount := w.sweepSnapshots(ctx, now)
	errCount += w.expireSignals(ctx, now)
	errCount += w.expireArtifacts(ctx, now)

	if w.sweepsTotal != nil {
		w.sweepsTotal.Add(ctx, 1)
	}
	span.SetAttributes(
		attribute.Int("snapshots_updated", updated),
		attribute.Int("errors", errCount),
	)
	w.logger.Info("maintenance sweep complete",
		zap.Int("snapshots_updated", updated),
		zap.Int("errors", errCount),
		zap.Duration("elapsed", time.Since(start)))
}

func (w *Worker) sweepSnapshots(ctx context.Context, now time.Time) (updated, errCount int) {
	for offset := 0; ; offset += sweepPageSize {
		page, err := w.store.SnapshotPage(ctx, offset, sweepPageSize)
		if err != nil {
			w.countError(ctx, "snapshot_page")
			w.logger.Warn("snapshot page fetch failed", zap.Int("offset", offset), zap.Error(err))
			return updated, errCount + 1
		}
		if len(page) == 0 {
			return updated, errCount
		}
		for i := range page {
			if err := w.recomputeSnapshot(ctx, &page[i], now); err != nil {
				errCount++
				w.countError(ctx, "recompute")
				w.logger.Warn("snapshot recompute failed",
					zap.Uint("warehouse_id", page[i].WarehouseID),
					zap.Uint("product_id", page[i].ProductID),
					zap.Error(err))
				continue
			}
			updated++
		}
		if len(page) < sweepPageSize {
			return updated, errCount
		}
	}
}

// RecomputePair refreshes one snapshot immediately, used when an accepted
// observation event arrives.
func (w *Worker) RecomputePair(ctx context.Context, warehouseID, productID uint, now time.Time) error {
	ctx, span := w.tracer.Start(ctx, "refresh.recompute_pair",
		trace.WithAttributes(
			attribute.Int("warehouse_id", int(warehouseID)),
			attribute.Int("product_id", int(productID)),
		))
	defer span.End()

	snapshot, err := w.store.GetSnapshot(ctx, warehouseID, productID)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}
	return w.recomputeSnapshot(ctx, snapshot, now)
}

// recomputeSnapshot derives freshness, reference prices, and trend for one
// snapshot and persists them.
func (w *Worker) recomputeSnapshot(ctx context.Context, s *pricebook.Snapshot, now time.Time) error {
	ref30, err := w.store.MeanPrice(ctx, s.WarehouseID, s.ProductID, now.AddDate(0, 0, -30))
	if err != nil {
		return err
	}
	ref90, err := w.store.MeanPrice(ctx, s.WarehouseID, s.ProductID, now.AddDate(0, 0, -90))
	if err != nil {
		return err
	}

	return w.store.UpdateDerived(ctx, s.ID, ref30, ref90,
		classifyTrend(ref30, ref90),
		w.classifyFreshness(s.LastObservedAt, now))
}

func (w *Worker) classifyFreshness(lastObserved, now time.Time) pricebook.Freshness {
	age := now.Sub(lastObserved)
	switch {
	case age <= time.Duration(w.cfg.FreshDays)*24*time.Hour:
		return pricebook.FreshnessFresh
	case age <= time.Duration(w.cfg.WarmDays)*24*time.Hour:
		return pricebook.FreshnessWarm
	default:
		return pricebook.FreshnessStale
	}
}

// classifyTrend compares the 30-day reference against the 90-day one. Moves
// inside the band read as stable; missing references always do.
func classifyTrend(ref30, ref90 *decimal.Decimal) pricebook.Trend {
	if ref30 == nil || ref90 == nil || !ref90.IsPositive() {
		return pricebook.TrendStable
	}
	pct := ref30.Sub(*ref90).Div(*ref90).Mul(decimal.NewFromInt(100))
	switch {
	case pct.LessThan(trendBandPct.Neg()):
		return pricebook.TrendFalling
	case pct.GreaterThan(trendBandPct):
		return pricebook.TrendRising
	default:
		return pricebook.TrendStable
	}
}

func (w *Worker) expireSignals(ctx context.Context, now time.Time) int {
	removed, err := w.store.DeleteExpiredSignals(ctx, now)
	if err != nil {
		w.countError(ctx, "signal_expiry")
		w.logger.Warn("signal expiry failed", zap.Error(err))
		return 1
	}
	if removed > 0 {
		w.logger.Info("expired community signals removed", zap.Int64("count", removed))
	}
	return 0
}

func (w *Worker) expireArtifacts(ctx context.Context, now time.Time) int {
	if w.cfg.ArtifactRetention <= 0 {
		return 0
	}
	// Each artifact row carries its own expiry; the store compares against
	// now directly.
	expired, err := w.store.DeleteExpiredArtifacts(ctx, now)
	if err != nil {
		w.countError(ctx, "artifact_expiry")
		w.logger.Warn("artifact expiry failed", zap.Error(err))
		return 1
	}
	errCount := 0
	for _, artifact := range expired {
		if w.blobs == nil {
			continue
		}
		if err := w.blobs.Remove(artifact.SHA256); err != nil {
			errCount++
			w.countError(ctx, "blob_delete")
			w.logger.Warn("artifact blob delete failed",
				zap.String("sha256", artifact.SHA256),
				zap.Error(err))
		}
	}
	if len(expired) > 0 {
		w.logger.Info("expired artifacts removed", zap.Int("count", len(expired)))
	}
	return errCount
}

func (w *Worker) countError(ctx context.Context, task string) {
	if w.sweepErrors != nil {
		w.sweepErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
	}
}
