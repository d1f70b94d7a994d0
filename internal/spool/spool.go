// Package spool ingests tag photos dropped into a hot folder. It exists for
// kiosk and batch setups where a camera rig writes files to disk instead of
// calling the HTTP API.
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/aislelabs/pricetagd/internal/extraction"
	"github.com/aislelabs/pricetagd/internal/ingest"
	"github.com/aislelabs/pricetagd/internal/pricebook"
)

const instrumentationName = "github.com/aislelabs/pricetagd/internal/spool"

const (
	doneDir   = "done"
	failedDir = "failed"

	// settleDelay gives the producer time to finish writing before the
	// file is read. Creation events fire on open, not close.
	settleDelay = 500 * time.Millisecond

	// warehousePrefixSep splits an optional warehouse id off the front of
	// a spooled filename, as in "483__endcap.jpg".
	warehousePrefixSep = "__"
)

// Extractor is the slice of the extraction pipeline the watcher needs.
type Extractor interface {
	Extract(ctx context.Context, imageBytes []byte) extraction.CandidateReading
}

// Ingestor is the slice of the ingest pipeline the watcher needs.
type Ingestor interface {
	Ingest(ctx context.Context, candidate extraction.CandidateReading, sub ingest.Context) (*ingest.Receipt, error)
}

// Watcher feeds spooled image files through extraction and ingest.
type Watcher struct {
	dir              string
	defaultWarehouse uint
	extractor        Extractor
	ingestor         Ingestor
	logger           *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	meter          metric.Meter
	filesProcessed metric.Int64Counter
}

// NewWatcher creates a spool watcher for dir. The directory must exist.
func NewWatcher(dir string, defaultWarehouse uint, extractor Extractor, ingestor Ingestor, logger *zap.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, errors.New("spool directory cannot be empty")
	}
	if extractor == nil {
		return nil, errors.New("extractor cannot be nil")
	}
	if ingestor == nil {
		return nil, errors.New("ingestor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("spool directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("spool path %s is not a directory", dir)
	}

	w := &Watcher{
		dir:              dir,
		defaultWarehouse: defaultWarehouse,
		extractor:        extractor,
		ingestor:         ingestor,
		logger:           logger,
		meter:            otel.Meter(instrumentationName),
	}
	w.initMetrics()
	return w, nil
}

func (w *Watcher) initMetrics() {
	var err error
	w.filesProcessed, err = w.meter.Int64Counter(
		"pricetagd.spool.files_total",
		metric.WithDescription("Spool files processed, labeled by outcome"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		w.logger.Warn("failed to create spool counter", zap.Error(err))
	}
}

// Start begins watching. Files already present are processed first so a
// backlog from downtime is not stranded. Idempotent.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("spool watcher already running")
	}

	for _, sub := range []string{doneDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(w.dir); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	w.logger.Info("spool watcher started", zap.String("dir", w.dir))
	go w.run(fsWatcher, w.stopCh, w.doneCh)
	return nil
}

// Stop halts the watcher and waits for in-flight processing.
func (w *Watcher) Stop() error {
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
	w.logger.Info("spool watcher stopped")
	return nil
}

func (w *Watcher) run(fsWatcher *fsnotify.Watcher, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer fsWatcher.Close()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("spool loop panicked",
				zap.Any("panic", r),
				zap.Stack("stack"))
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
		}
	}()

	w.processBacklog()

	for {
		select {
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create && isImageFile(event.Name) {
				w.settleAndProcess(event.Name, stopCh)
			}
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		case <-stopCh:
			return
		}
	}
}

func (w *Watcher) processBacklog() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("reading spool backlog", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}
		w.processFile(filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) settleAndProcess(path string, stopCh <-chan struct{}) {
	select {
	case <-time.After(settleDelay):
	case <-stopCh:
		return
	}
	w.processFile(path)
}

// processFile runs one spooled image through the pipeline and moves it to
// done/ or failed/.
func (w *Watcher) processFile(path string) {
	ctx := context.Background()
	name := filepath.Base(path)

	imageBytes, err := os.ReadFile(path)
	if err != nil {
		// The file may have been moved or is still being written; skip
		// without relocating it.
		w.logger.Warn("spool file unreadable", zap.String("file", name), zap.Error(err))
		w.count(ctx, "unreadable")
		return
	}

	warehouseID := w.warehouseFor(name)
	reading := w.extractor.Extract(ctx, imageBytes)

	receipt, err := w.ingestor.Ingest(ctx, reading, ingest.Context{
		WarehouseID: warehouseID,
		Channel:     pricebook.ChannelAPI,
		SessionID:   "spool:" + name,
	})
	if err != nil {
		w.logger.Error("spool ingest failed", zap.String("file", name), zap.Error(err))
		w.moveTo(path, failedDir)
		w.count(ctx, "failed")
		return
	}

	outcome := "accepted"
	if receipt.Observation.Quarantined {
		outcome = string(receipt.Observation.QuarantineReason)
	}
	w.logger.Info("spool file ingested",
		zap.String("file", name),
		zap.Uint("warehouse_id", warehouseID),
		zap.String("outcome", outcome))
	w.moveTo(path, doneDir)
	w.count(ctx, "done")
}

// warehouseFor parses the optional "<warehouse>__" filename prefix, falling
// back to the configured default.
func (w *Watcher) warehouseFor(name string) uint {
	prefix, _, found := strings.Cut(name, warehousePrefixSep)
	if !found {
		return w.defaultWarehouse
	}
	id, err := strconv.ParseUint(prefix, 10, 32)
	if err != nil || id == 0 {
		return w.defaultWarehouse
	}
	return uint(id)
}

func (w *Watcher) moveTo(path, sub string) {
	target := filepath.Join(w.dir, sub, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		w.logger.Warn("spool file move failed",
			zap.String("file", filepath.Base(path)),
			zap.String("target", sub),
			zap.Error(err))
	}
}

func (w *Watcher) count(ctx context.Context, outcome string) {
	if w.filesProcessed != nil {
		w.filesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func isImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}
