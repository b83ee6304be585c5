package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mhamas/big-map/pkg/mercator"
)

// DefaultStyleID is the style used when none is requested.
const DefaultStyleID = "streets-v11"

// Config defines run settings for the bigmap CLI.
type Config struct {
	Workers          int         `yaml:"workers"`
	StyleID          string      `yaml:"style_id"`
	JPEGQuality      int         `yaml:"jpeg_quality"`
	MaxDegradedRatio float64     `yaml:"max_degraded_ratio"`
	Progress         bool        `yaml:"progress"`
	Retry            RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior for tile fetches.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Workers:          8,
		StyleID:          DefaultStyleID,
		JPEGQuality:      90,
		MaxDegradedRatio: 0.5,
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Workers          int             `yaml:"workers"`
	StyleID          string          `yaml:"style_id"`
	JPEGQuality      int             `yaml:"jpeg_quality"`
	MaxDegradedRatio float64         `yaml:"max_degraded_ratio"`
	Progress         bool            `yaml:"progress"`
	Retry            yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.StyleID != "" {
		cfg.StyleID = yc.StyleID
	}
	if yc.JPEGQuality != 0 {
		cfg.JPEGQuality = yc.JPEGQuality
	}
	if yc.MaxDegradedRatio != 0 {
		cfg.MaxDegradedRatio = yc.MaxDegradedRatio
	}
	cfg.Progress = yc.Progress
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the BIGMAP_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("BIGMAP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse BIGMAP_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("BIGMAP_STYLE_ID"); v != "" {
		c.StyleID = v
	}
	if v := os.Getenv("BIGMAP_JPEG_QUALITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse BIGMAP_JPEG_QUALITY: %w", err)
		}
		c.JPEGQuality = n
	}
	if v := os.Getenv("BIGMAP_MAX_DEGRADED_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse BIGMAP_MAX_DEGRADED_RATIO: %w", err)
		}
		c.MaxDegradedRatio = f
	}
	if v := os.Getenv("BIGMAP_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("BIGMAP_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse BIGMAP_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("BIGMAP_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse BIGMAP_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("BIGMAP_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse BIGMAP_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate validates the run settings.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.StyleID == "" {
		return errors.New("config: style_id is required")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return errors.New("config: jpeg_quality must be within [1, 100]")
	}
	if c.MaxDegradedRatio <= 0 || c.MaxDegradedRatio > 1 {
		return errors.New("config: max_degraded_ratio must be within (0, 1]")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.StyleID != "" {
		c.StyleID = override.StyleID
	}
	if override.JPEGQuality != 0 {
		c.JPEGQuality = override.JPEGQuality
	}
	if override.MaxDegradedRatio != 0 {
		c.MaxDegradedRatio = override.MaxDegradedRatio
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}

// Request is the geographic run input, validated before any I/O.
type Request struct {
	LatMin         float64 `validate:"gte=-85.05112878,lte=85.05112878,ltfield=LatMax"`
	LatMax         float64 `validate:"gte=-85.05112878,lte=85.05112878"`
	LonMin         float64 `validate:"gte=-180,lte=180,ltfield=LonMax"`
	LonMax         float64 `validate:"gte=-180,lte=180"`
	WidthPx        int     `validate:"gt=0"`
	OutputDir      string  `validate:"required"`
	Token          string  `validate:"required"`
	HighResolution bool
}

var validate = validator.New()

// Validate checks the request against its struct tags.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid request: field %s fails %q", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// BoundingBox returns the request's geographic box.
func (r Request) BoundingBox() mercator.BoundingBox {
	return mercator.BoundingBox{
		LatMin: r.LatMin,
		LatMax: r.LatMax,
		LonMin: r.LonMin,
		LonMax: r.LonMax,
	}
}

// Resolution returns the request's tile resolution mode.
func (r Request) Resolution() mercator.Resolution {
	if r.HighResolution {
		return mercator.HighRes
	}
	return mercator.StandardRes
}
