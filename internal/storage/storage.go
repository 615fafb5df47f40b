// Package storage defines the backend-agnostic persistence interface for
// sales records plus a factory registry for concrete backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sales"
)

// Sentinel errors shared across backends. Callers compare with errors.Is.
var (
	// ErrNotFound reports a referenced order identifier that does not exist.
	ErrNotFound = errors.New("storage: order not found")

	// ErrOrderLocked reports an incoming update rejected because the target
	// order is locked.
	ErrOrderLocked = errors.New("storage: order is locked")
)

// Config selects and configures a backend.
//
// Kind must match a registered backend kind ("sqlite", "postgres").
// DSN is passed through to the backend factory; validation is
// backend-specific.
type Config struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

// UpsertOptions control per-batch reconciliation behavior.
type UpsertOptions struct {
	// SkipLocked makes locked-order conflicts non-fatal: the offending rows
	// are skipped and reported in UpsertStats.LockedSkipped instead of
	// aborting the transaction.
	SkipLocked bool
}

// UpsertStats summarizes one reconciliation batch.
type UpsertStats struct {
	Inserted      int
	Updated       int
	LockedSkipped []string // unique_order_numbers skipped under SkipLocked
}

// Store is the persistence contract used by the ingest pipeline, the bulk
// loader, and the HTTP layer.
//
// IMPORTANT: UpsertOrders and ReplaceAll are transactional as a whole. Any
// failure must leave the store unchanged from before the call.
type Store interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// EnsureSchema creates the cities and orders tables when absent.
	// Safe to call on every startup.
	EnsureSchema(ctx context.Context) error

	// UpsertOrders merges normalized rows keyed by unique_order_number in a
	// single transaction. Existing unlocked orders are overwritten; locked
	// orders reject the batch with ErrOrderLocked unless opts.SkipLocked is
	// set; unknown keys are inserted with the row's own locked flag.
	UpsertOrders(ctx context.Context, orders []sales.Order, opts UpsertOptions) (UpsertStats, error)

	// ReplaceAll wipes both tables and repopulates them in one transaction.
	// City IDs are assigned in slice order starting from 1.
	ReplaceAll(ctx context.Context, cities []sales.City, orders []sales.Order) error

	// LockOrder sets locked=true on one order. Returns ErrNotFound for an
	// unknown identifier.
	LockOrder(ctx context.Context, uniqueOrderNumber string) error

	// ListOrders returns orders joined with cities, filtered per f.
	ListOrders(ctx context.Context, f sales.Filter) ([]sales.OrderWithCity, error)

	// SalesSeries returns sum(rptg_amt) grouped by calendar date and by
	// city or district name per f.GroupBy.
	SalesSeries(ctx context.Context, f sales.SeriesFilter) ([]sales.SeriesPoint, error)

	// CountOrders and CountCities report table sizes (stats endpoint, tests).
	CountOrders(ctx context.Context) (int64, error)
	CountCities(ctx context.Context) (int64, error)
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind. Call from an init() function in
// the backend package. Registering a duplicate kind panics to fail fast on
// ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Open constructs a Store using the registered factory for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
