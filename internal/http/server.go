// Package http serves the pricetagd wire API: scan submission, manual entry,
// watch-list status, the warehouse catalog, and operational endpoints. All
// request handling is stateless; the interesting work happens in the
// extraction, ingest, decision, and watch packages this server composes.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aislelabs/pricetagd/internal/config"
	"github.com/aislelabs/pricetagd/internal/decision"
	"github.com/aislelabs/pricetagd/internal/extraction"
	"github.com/aislelabs/pricetagd/internal/ingest"
	"github.com/aislelabs/pricetagd/internal/logging"
	"github.com/aislelabs/pricetagd/internal/pricebook"
	"github.com/aislelabs/pricetagd/internal/storage"
	"github.com/aislelabs/pricetagd/internal/watch"
)

// headerClientHash carries the caller's anonymized identity. It keys the
// rate limiter and is stored (truncated) for audit.
const headerClientHash = "X-Client-Hash"

const (
	// warehouseListLimit bounds catalog responses.
	warehouseListLimit = 500
	// maxDecisionSignals bounds community signals attached to a decision.
	maxDecisionSignals = 5
	rateLimitExpiry    = 3 * time.Minute
)

// Extractor turns image bytes into a candidate reading.
type Extractor interface {
	Extract(ctx context.Context, imageBytes []byte) extraction.CandidateReading
}

// Ingestor admits candidate readings into the observation log.
type Ingestor interface {
	Ingest(ctx context.Context, candidate extraction.CandidateReading, sub ingest.Context) (*ingest.Receipt, error)
	IngestManual(ctx context.Context, entry ingest.ManualEntry, sub ingest.Context) (*ingest.Receipt, error)
}

// Watcher reports status for a caller's watched items.
type Watcher interface {
	Status(ctx context.Context, items []watch.WatchedItem, evalTime time.Time) ([]watch.ItemStatus, error)
}

// Decider computes buy/wait decisions. Taking an interface lets the daemon
// swap in a freshly tuned engine on config reload without restarting the
// server.
type Decider interface {
	Decide(ctx context.Context, in decision.Input) decision.Decision
}

// BlobSaver stores scan images; nil disables artifact capture.
type BlobSaver interface {
	Save(data []byte) (storage.StoredBlob, error)
}

// Deps bundles everything the server serves. Store, Extractor, Ingestor,
// Engine, and Watcher are required; the rest is optional.
type Deps struct {
	Store     pricebook.Store
	Extractor Extractor
	Ingestor  Ingestor
	Engine    Decider
	Watcher   Watcher

	// Vault and ArtifactRetention enable best-effort image capture on scan.
	Vault             BlobSaver
	ArtifactRetention time.Duration

	// Registry backs /metrics. Defaults to the prometheus default gatherer.
	Registry prometheus.Gatherer

	Version string
}

// Server is the pricetagd HTTP front end.
type Server struct {
	echo      *echo.Echo
	cfg       config.ServerConfig
	deps      Deps
	logger    *zap.Logger
	metrics   *Metrics
	startedAt time.Time
}

// NewServer wires routes and middleware. It does not start listening.
func NewServer(cfg config.ServerConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if deps.Extractor == nil {
		return nil, errors.New("extractor cannot be nil")
	}
	if deps.Ingestor == nil {
		return nil, errors.New("ingestor cannot be nil")
	}
	if deps.Engine == nil {
		return nil, errors.New("decision engine cannot be nil")
	}
	if deps.Watcher == nil {
		return nil, errors.New("watcher cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		metrics:   NewMetrics(logger),
		startedAt: time.Now(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(s.metrics.Middleware())
	e.Use(s.rateLimiter())
	e.Use(s.uploadLimit())

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/scan", s.handleScan)
	v1.POST("/scan/manual", s.handleScanManual)
	v1.POST("/watch/status", s.handleWatchStatus)
	v1.GET("/warehouses", s.handleWarehouses)
	v1.GET("/warehouses/nearby", s.handleWarehousesNearby)
	v1.GET("/signals/price-endings", s.handleSignalCatalog)
	v1.POST("/feedback", s.handleFeedback)
	v1.GET("/status", s.handleStatus)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			s.logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				logging.Truncated("client_hash", c.Request().Header.Get(headerClientHash)),
			)
			return err
		}
	}
}

// rateLimiter keys on the client hash header so one abusive device cannot
// starve a shared NAT, falling back to the remote IP for anonymous callers.
// Liveness and metrics scrapes are exempt.
func (s *Server) rateLimiter() echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(s.cfg.RateLimitPerMinute / 60.0),
		Burst:     int(s.cfg.RateLimitPerMinute),
		ExpiresIn: rateLimitExpiry,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Path()
			return path == "/healthz" || path == "/metrics"
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if hash := c.Request().Header.Get(headerClientHash); hash != "" {
				return hash, nil
			}
			return c.RealIP(), nil
		},
	})
}

func (s *Server) uploadLimit() echo.MiddlewareFunc {
	limit := s.cfg.MaxUploadBytes
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.ContentLength > limit {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload exceeds upload limit")
			}
			req.Body = http.MaxBytesReader(nil, req.Body, limit)
			return next(c)
		}
	}
}

// Start blocks serving until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	s.echo.Server.ReadTimeout = s.cfg.ReadTimeout.Duration()
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
