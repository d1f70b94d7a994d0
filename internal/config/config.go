// Package config provides configuration loading for pricetagd.
//
// Configuration is loaded from a YAML file merged with environment variable
// overrides (PRICETAGD_ prefix). Defaults are applied before validation, so
// an empty file and no environment yields a runnable single-node setup.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the complete pricetagd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Artifacts  ArtifactsConfig  `koanf:"artifacts"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Decision   DecisionConfig   `koanf:"decision"`
	Refresh    RefreshConfig    `koanf:"refresh"`
	Spool      SpoolConfig      `koanf:"spool"`
	Events     EventsConfig     `koanf:"events"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host               string   `koanf:"host"`
	Port               int      `koanf:"port"`
	MaxUploadBytes     int64    `koanf:"max_upload_bytes"`
	RateLimitPerMinute float64  `koanf:"rate_limit_per_minute"`
	ReadTimeout        Duration `koanf:"read_timeout"`
	ShutdownTimeout    Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	// Driver is sqlite, postgres, or memory.
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	// Seed loads the embedded warehouse catalog on first run.
	Seed bool `koanf:"seed"`
}

// ArtifactsConfig controls content-addressed image retention. An empty Dir
// disables artifact storage entirely.
type ArtifactsConfig struct {
	Dir           string `koanf:"dir"`
	RetentionDays int    `koanf:"retention_days"`
}

// ExtractionConfig tunes the OCR pipeline.
type ExtractionConfig struct {
	// MinWordConfidence is the tesseract word-level confidence floor in
	// percent; tokens below it are dropped before parsing.
	MinWordConfidence float64 `koanf:"min_word_confidence"`
	// MinWidth is the minimum working width; smaller images are upscaled.
	MinWidth int `koanf:"min_width"`
	// Languages are the tesseract language packs to load.
	Languages []string `koanf:"languages"`
	// TessdataPrefix overrides the tesseract data directory when set.
	TessdataPrefix string `koanf:"tessdata_prefix"`
}

// IngestConfig tunes quarantine and the snapshot fold.
type IngestConfig struct {
	MinConfidence  float64            `koanf:"min_confidence"`
	MinPrice       string             `koanf:"min_price"`
	MaxPrice       string             `koanf:"max_price"`
	DedupWindow    Duration           `koanf:"dedup_window"`
	ChannelWeights map[string]float64 `koanf:"channel_weights"`
	// ManualConfidence is the fixed confidence assigned to manual entries.
	ManualConfidence float64 `koanf:"manual_confidence"`
}

// MinPriceDecimal parses the configured price floor.
func (c IngestConfig) MinPriceDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MinPrice)
	if err != nil {
		return decimal.NewFromFloat(0.01)
	}
	return d
}

// MaxPriceDecimal parses the configured price ceiling.
func (c IngestConfig) MaxPriceDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MaxPrice)
	if err != nil {
		return decimal.NewFromInt(5000)
	}
	return d
}

// DecisionConfig tunes the decision engine. This section hot-reloads on
// config-file change; the rest of the file requires a restart.
type DecisionConfig struct {
	DropThresholdPct float64 `koanf:"drop_threshold_pct"`
	RiseThresholdPct float64 `koanf:"rise_threshold_pct"`
	FreshDays        int     `koanf:"fresh_days"`
	WarmDays         int     `koanf:"warm_days"`
	// ConfidenceHalfLifeDays ages the evidence behind the drop-likelihood
	// confidence tier; each full half-life since the last sighting demotes
	// it one step. Zero disables the decay.
	ConfidenceHalfLifeDays int `koanf:"confidence_half_life_days"`
}

// RefreshConfig tunes the maintenance worker.
type RefreshConfig struct {
	Interval Duration `koanf:"interval"`
}

// SpoolConfig configures the optional hot-folder watcher. An empty Dir
// disables it.
type SpoolConfig struct {
	Dir              string `koanf:"dir"`
	DefaultWarehouse string `koanf:"default_warehouse"`
}

// EventsConfig configures observation event publishing. An empty NATSURL
// disables it.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export. Prometheus metrics are
// always served at /metrics; OTLP export is added when an endpoint is set.
type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	ServiceName  string `koanf:"service_name"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8742,
			MaxUploadBytes:     10 << 20,
			RateLimitPerMinute: 30,
			ReadTimeout:        Duration(30 * time.Second),
			ShutdownTimeout:    Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			DSN:          "pricetagd.db",
			MaxOpenConns: 10,
			Seed:         true,
		},
		Artifacts: ArtifactsConfig{
			Dir:           "",
			RetentionDays: 90,
		},
		Extraction: ExtractionConfig{
			MinWordConfidence: 35,
			MinWidth:          800,
			Languages:         []string{"eng"},
		},
		Ingest: IngestConfig{
			MinConfidence: 0.50,
			MinPrice:      "0.01",
			MaxPrice:      "5000",
			DedupWindow:   Duration(24 * time.Hour),
			ChannelWeights: map[string]float64{
				"scan":    0.85,
				"manual":  1.00,
				"api":     0.95,
				"default": 0.80,
			},
			ManualConfidence: 0.70,
		},
		Decision: DecisionConfig{
			DropThresholdPct:       10,
			RiseThresholdPct:       15,
			FreshDays:              7,
			WarmDays:               21,
			ConfidenceHalfLifeDays: 12,
		},
		Refresh: RefreshConfig{
			Interval: Duration(time.Hour),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "pricetagd",
		},
	}
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	if c.Server.RateLimitPerMinute <= 0 {
		return errors.New("server.rate_limit_per_minute must be positive")
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver: %q (sqlite, postgres, or memory)", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn required for driver %q", c.Storage.Driver)
	}

	if c.Artifacts.RetentionDays < 0 {
		return errors.New("artifacts.retention_days cannot be negative")
	}

	if c.Extraction.MinWordConfidence < 0 || c.Extraction.MinWordConfidence > 100 {
		return fmt.Errorf("extraction.min_word_confidence must be 0-100, got %g", c.Extraction.MinWordConfidence)
	}
	if c.Extraction.MinWidth <= 0 {
		return errors.New("extraction.min_width must be positive")
	}

	if c.Ingest.MinConfidence < 0 || c.Ingest.MinConfidence > 1 {
		return fmt.Errorf("ingest.min_confidence must be 0-1, got %g", c.Ingest.MinConfidence)
	}
	if c.Ingest.ManualConfidence < 0 || c.Ingest.ManualConfidence > 1 {
		return fmt.Errorf("ingest.manual_confidence must be 0-1, got %g", c.Ingest.ManualConfidence)
	}
	if _, err := decimal.NewFromString(c.Ingest.MinPrice); err != nil {
		return fmt.Errorf("ingest.min_price is not a valid decimal: %w", err)
	}
	if _, err := decimal.NewFromString(c.Ingest.MaxPrice); err != nil {
		return fmt.Errorf("ingest.max_price is not a valid decimal: %w", err)
	}
	if c.Ingest.DedupWindow.Duration() <= 0 {
		return errors.New("ingest.dedup_window must be positive")
	}

	if c.Decision.DropThresholdPct <= 0 || c.Decision.RiseThresholdPct <= 0 {
		return errors.New("decision thresholds must be positive")
	}
	if c.Decision.FreshDays <= 0 || c.Decision.WarmDays <= c.Decision.FreshDays {
		return errors.New("decision.warm_days must exceed decision.fresh_days, both positive")
	}
	if c.Decision.ConfidenceHalfLifeDays < 0 {
		return errors.New("decision.confidence_half_life_days cannot be negative")
	}

	if c.Refresh.Interval.Duration() <= 0 {
		return errors.New("refresh.interval must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("telemetry.service_name required when telemetry is enabled")
	}

	return nil
}
