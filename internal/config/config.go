// Package config loads and validates the backend's JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"
)

// Config is the root configuration for salesd and loadref.
//
// Environment variables in Storage.DSN are expanded with os.ExpandEnv so
// secrets can stay out of the file ("postgres://app:${PGPASS}@db/sales").
type Config struct {
	// ListenAddr is the HTTP bind address, e.g. ":8080".
	ListenAddr string `json:"listen_addr"`

	// UploadDir receives temporary upload artifacts. Created when absent.
	UploadDir string `json:"upload_dir"`

	Storage storage.Config `json:"storage"`

	Ingest IngestConfig `json:"ingest"`

	// CORSOrigin is the Access-Control-Allow-Origin value for /sales/*.
	// Empty disables CORS headers.
	CORSOrigin string `json:"cors_origin"`
}

// IngestConfig controls the upload pipeline.
type IngestConfig struct {
	// Policy is "strict" (default: abort batch on first row failure) or
	// "lenient" (commit valid rows, report per-row failures).
	Policy string `json:"policy"`

	// CSVComma is the CSV delimiter; empty means ','.
	CSVComma string `json:"csv_comma"`

	// CSVEncoding selects a legacy charset for CSV uploads; empty means UTF-8.
	CSVEncoding string `json:"csv_encoding"`
}

// Severity levels for validation issues.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one configuration validation finding.
type Issue struct {
	Severity string
	Path     string
	Message  string
}

// Load reads and decodes a config file, applies defaults, and expands
// environment references in the DSN.
func Load(path string) (Config, error) {
	var c Config

	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("config: decode: %w", err)
	}

	c.applyDefaults()
	c.Storage.DSN = os.ExpandEnv(c.Storage.DSN)
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if c.Ingest.Policy == "" {
		c.Ingest.Policy = "strict"
	}
}

// Validate reports configuration problems. Callers treat any
// SeverityError issue as fatal.
func Validate(c Config) []Issue {
	var issues []Issue

	if c.Storage.Kind == "" {
		issues = append(issues, Issue{SeverityError, "storage.kind", "must be set (sqlite or postgres)"})
	}
	if c.Storage.DSN == "" {
		issues = append(issues, Issue{SeverityError, "storage.dsn", "must be set"})
	}
	switch c.Ingest.Policy {
	case "strict", "lenient":
	default:
		issues = append(issues, Issue{SeverityError, "ingest.policy", fmt.Sprintf("unknown policy %q", c.Ingest.Policy)})
	}
	if len(c.Ingest.CSVComma) > 1 {
		issues = append(issues, Issue{SeverityError, "ingest.csv_comma", "must be a single character"})
	}
	if c.Storage.Kind == "sqlite" && c.Storage.DSN == ":memory:" {
		issues = append(issues, Issue{SeverityWarning, "storage.dsn", "in-memory database does not survive restarts"})
	}
	return issues
}

// Comma returns the configured CSV delimiter rune, or 0 for the default.
func (ic IngestConfig) Comma() rune {
	if ic.CSVComma == "" {
		return 0
	}
	return []rune(ic.CSVComma)[0]
}
