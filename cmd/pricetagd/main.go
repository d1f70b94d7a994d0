// Command pricetagd runs the shelf-tag price intelligence daemon: the HTTP
// API, the maintenance worker, the optional spool watcher, and observation
// event publishing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aislelabs/pricetagd/internal/config"
	"github.com/aislelabs/pricetagd/internal/decision"
	"github.com/aislelabs/pricetagd/internal/events"
	"github.com/aislelabs/pricetagd/internal/extraction"
	"github.com/aislelabs/pricetagd/internal/http"
	"github.com/aislelabs/pricetagd/internal/ingest"
	"github.com/aislelabs/pricetagd/internal/logging"
	"github.com/aislelabs/pricetagd/internal/pricebook"
	"github.com/aislelabs/pricetagd/internal/refresh"
	"github.com/aislelabs/pricetagd/internal/spool"
	"github.com/aislelabs/pricetagd/internal/storage"
	"github.com/aislelabs/pricetagd/internal/telemetry"
	"github.com/aislelabs/pricetagd/internal/watch"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  pricetagd           Start the pricetagd daemon\n")
			fmt.Fprintf(os.Stderr, "  pricetagd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "pricetagd: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("pricetagd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until the context is cancelled or the
// server fails. Shutdown drains HTTP before stopping the workers so in-flight
// scans still reach the store.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
		}
	}()

	logger, err := logging.New(cfg.Logging, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting pricetagd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_driver", cfg.Storage.Driver))

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(logger)

	engine := newEngineHolder(engineConfig(cfg.Decision), logger)
	extractor, err := extraction.NewExtractor(cfg.Extraction, deps.recognizer, logger)
	if err != nil {
		return fmt.Errorf("initializing extractor: %w", err)
	}
	ingestor, err := ingest.NewService(cfg.Ingest, deps.store, deps.publisher, logger)
	if err != nil {
		return fmt.Errorf("initializing ingest service: %w", err)
	}
	watcher, err := watch.NewService(deps.store, logger)
	if err != nil {
		return fmt.Errorf("initializing watch service: %w", err)
	}

	worker, err := initWorker(cfg, deps, logger)
	if err != nil {
		return err
	}
	if err := worker.Start(); err != nil {
		return fmt.Errorf("starting maintenance worker: %w", err)
	}
	defer func() { _ = worker.Stop() }()

	if deps.subscriber != nil {
		if err := deps.subscriber.Subscribe(worker.HandleEvent); err != nil {
			return fmt.Errorf("subscribing to observation events: %w", err)
		}
	}

	if cfg.Spool.Dir != "" {
		spooler, err := initSpool(cfg, extractor, ingestor, logger)
		if err != nil {
			return err
		}
		if err := spooler.Start(); err != nil {
			return fmt.Errorf("starting spool watcher: %w", err)
		}
		defer func() { _ = spooler.Stop() }()
	}

	if configPath != "" {
		reloader, err := config.NewWatcher(configPath, func(dc config.DecisionConfig) {
			engine.swap(engineConfig(dc), logger)
		}, logger)
		if err != nil {
			return fmt.Errorf("initializing config watcher: %w", err)
		}
		if err := reloader.Start(); err != nil {
			return fmt.Errorf("starting config watcher: %w", err)
		}
		defer reloader.Stop()
	}

	serverDeps := http.Deps{
		Store:             deps.store,
		Extractor:         extractor,
		Ingestor:          ingestor,
		Engine:            engine,
		Watcher:           watcher,
		ArtifactRetention: time.Duration(cfg.Artifacts.RetentionDays) * 24 * time.Hour,
		Registry:          tel.Registry,
		Version:           version,
	}
	if deps.vault != nil {
		serverDeps.Vault = deps.vault
	}

	server, err := http.NewServer(cfg.Server, serverDeps, logger)
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// dependencies holds infrastructure handles with process lifetime.
type dependencies struct {
	store      pricebook.Store
	storeClose func() error
	vault      *storage.Vault
	publisher  events.Publisher
	subscriber *events.Subscriber
	recognizer *extraction.TesseractRecognizer
}

func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	store, closer, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	deps := &dependencies{
		store:      store,
		storeClose: closer,
		publisher:  events.NoOpPublisher{},
	}

	fail := func(err error) (*dependencies, error) {
		deps.Close(logger)
		return nil, err
	}

	if cfg.Artifacts.Dir != "" {
		if deps.vault, err = storage.NewVault(cfg.Artifacts.Dir); err != nil {
			return fail(fmt.Errorf("opening artifact vault: %w", err))
		}
	}

	if cfg.Events.NATSURL != "" {
		publisher, err := events.NewNATSPublisher(cfg.Events.NATSURL, logger)
		if err != nil {
			return fail(fmt.Errorf("connecting event publisher: %w", err))
		}
		deps.publisher = publisher

		if deps.subscriber, err = events.NewSubscriber(cfg.Events.NATSURL, logger); err != nil {
			return fail(fmt.Errorf("connecting event subscriber: %w", err))
		}
		logger.Info("observation events enabled", zap.String("nats_url", cfg.Events.NATSURL))
	}

	if deps.recognizer, err = extraction.NewTesseractRecognizer(
		cfg.Extraction.Languages, cfg.Extraction.TessdataPrefix); err != nil {
		return fail(fmt.Errorf("initializing tesseract: %w", err))
	}

	return deps, nil
}

// Close releases infrastructure resources in reverse dependency order.
func (d *dependencies) Close(logger *zap.Logger) {
	if d.subscriber != nil {
		if err := d.subscriber.Close(); err != nil {
			logger.Warn("closing event subscriber", zap.Error(err))
		}
	}
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			logger.Warn("closing event publisher", zap.Error(err))
		}
	}
	if d.recognizer != nil {
		if err := d.recognizer.Close(); err != nil {
			logger.Warn("closing recognizer", zap.Error(err))
		}
	}
	if d.storeClose != nil {
		if err := d.storeClose(); err != nil {
			logger.Warn("closing storage", zap.Error(err))
		}
	}
}

func initWorker(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*refresh.Worker, error) {
	workerCfg := refresh.Config{
		Interval:  cfg.Refresh.Interval.Duration(),
		FreshDays: cfg.Decision.FreshDays,
		WarmDays:  cfg.Decision.WarmDays,
	}
	if cfg.Artifacts.Dir != "" {
		workerCfg.ArtifactRetention = time.Duration(cfg.Artifacts.RetentionDays) * 24 * time.Hour
	}

	var blobs refresh.BlobDeleter
	if deps.vault != nil {
		blobs = deps.vault
	}

	worker, err := refresh.NewWorker(workerCfg, deps.store, blobs, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing maintenance worker: %w", err)
	}
	return worker, nil
}

func initSpool(cfg *config.Config, extractor *extraction.Extractor, ingestor *ingest.Service, logger *zap.Logger) (*spool.Watcher, error) {
	var defaultWarehouse uint
	if cfg.Spool.DefaultWarehouse != "" {
		parsed, err := strconv.ParseUint(cfg.Spool.DefaultWarehouse, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid spool.default_warehouse %q: %w", cfg.Spool.DefaultWarehouse, err)
		}
		defaultWarehouse = uint(parsed)
	}

	spooler, err := spool.NewWatcher(cfg.Spool.Dir, defaultWarehouse, extractor, ingestor, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing spool watcher: %w", err)
	}
	return spooler, nil
}

// engineHolder swaps decision engines atomically on config reload so the
// HTTP layer never sees a half-updated configuration.
type engineHolder struct {
	v atomic.Pointer[decision.Engine]
}

func newEngineHolder(cfg decision.Config, logger *zap.Logger) *engineHolder {
	h := &engineHolder{}
	h.v.Store(decision.NewEngine(cfg, logger))
	return h
}

func (h *engineHolder) Decide(ctx context.Context, in decision.Input) decision.Decision {
	return h.v.Load().Decide(ctx, in)
}

func (h *engineHolder) swap(cfg decision.Config, logger *zap.Logger) {
	h.v.Store(decision.NewEngine(cfg, logger))
}

// engineConfig maps the file-level decision section onto the engine tuning,
// keeping engine-internal defaults for everything the file does not expose.
func engineConfig(dc config.DecisionConfig) decision.Config {
	ec := decision.DefaultConfig()
	ec.DropThresholdPct = dc.DropThresholdPct
	ec.RiseThresholdPct = dc.RiseThresholdPct
	ec.ConfidenceHalfLifeDays = dc.ConfidenceHalfLifeDays
	return ec
}
