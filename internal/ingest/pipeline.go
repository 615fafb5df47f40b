// Package ingest implements the upload-ingest-reconciliation pipeline:
// schema validation, row normalization, and the keyed upsert into storage.
package ingest

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/metrics"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sheet"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"
)

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Pipeline processes one uploaded spreadsheet end to end.
//
// The batch is all-or-nothing under PolicyStrict: any parse failure or
// locked-order conflict rolls back every change from the upload. Under
// PolicyLenient, failed and locked rows are reported in the Result while the
// valid remainder commits.
type Pipeline struct {
	Store  storage.Store
	Policy Policy
	CSV    sheet.Options
	Logger Logger
}

// Result reports what one upload did.
type Result struct {
	Rows   Stats
	Upsert storage.UpsertStats
}

// Run ingests the spreadsheet at path. The file is treated as a temporary
// artifact and removed on every exit path, success or failure.
func (p *Pipeline) Run(ctx context.Context, path string) (Result, error) {
	var res Result
	logf := p.logger()

	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logf("stage=cleanup path=%s err=%v", path, err)
		}
	}()

	start := time.Now()
	t, err := sheet.ReadFile(path, p.CSV)
	if err != nil {
		return res, err
	}

	if err := ValidateColumns(t.Columns); err != nil {
		return res, err
	}

	orders, stats, err := NormalizeTable(t, p.Policy)
	res.Rows = stats
	if err != nil {
		metrics.RowsTotal.WithLabelValues("failed").Inc()
		return res, err
	}

	upsert, err := p.Store.UpsertOrders(ctx, orders, storage.UpsertOptions{
		SkipLocked: p.Policy == PolicyLenient,
	})
	res.Upsert = upsert
	if err != nil {
		return res, err
	}

	metrics.RowsTotal.WithLabelValues("inserted").Add(float64(upsert.Inserted))
	metrics.RowsTotal.WithLabelValues("updated").Add(float64(upsert.Updated))
	metrics.RowsTotal.WithLabelValues("dropped").Add(float64(stats.Dropped))
	metrics.RowsTotal.WithLabelValues("failed").Add(float64(len(stats.Failures)))
	metrics.RowsTotal.WithLabelValues("locked_skipped").Add(float64(len(upsert.LockedSkipped)))

	logf("stage=ingest ok rows=%d inserted=%d updated=%d dropped=%d failed=%d locked_skipped=%d duration=%s",
		stats.Seen, upsert.Inserted, upsert.Updated, stats.Dropped,
		len(stats.Failures), len(upsert.LockedSkipped),
		time.Since(start).Truncate(time.Millisecond))

	return res, nil
}

func (p *Pipeline) logger() func(format string, v ...any) {
	if p.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return p.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }
