// Package config defines configuration for the bigmap CLI.
//
// Run settings (worker count, retry policy, output quality) can be
// provided via:
//   - Command-line flags
//   - Environment variables (BIGMAP_ prefix)
//   - YAML configuration file
//
// The geographic request itself (bounding box, width, token) always
// comes from flags/env and is validated with struct tags before any
// network call.
//
// # Structure
//
//	type Config struct {
//	    Workers          int
//	    StyleID          string
//	    JPEGQuality      int
//	    MaxDegradedRatio float64
//	    Progress         bool
//	    Retry            RetryConfig
//	}
//
//	type RetryConfig struct {
//	    Attempts   int
//	    Backoff    time.Duration
//	    MaxBackoff time.Duration
//	}
package config
