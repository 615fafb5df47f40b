// Package bulkload implements the wholesale wipe-and-repopulate path: an
// operator-triggered full reload of cities and orders from a reference
// workbook, bypassing per-row reconciliation.
package bulkload

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/ingest"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/metrics"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sales"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sheet"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"
)

// Sheet names expected in the reference workbook.
const (
	CitySheet = "city"
	DataSheet = "data"
)

// Loader runs one full reload. It must not run concurrently with itself or
// with the online reconciler; that exclusion is an operational contract, not
// enforced here.
type Loader struct {
	Store  storage.Store
	Logger ingest.Logger

	// Now is the processing-date source. The data sheet carries time of day
	// only; order_date is stamped with this date. Nil means time.Now.
	Now func() time.Time
}

// Stats reports what one reload loaded.
type Stats struct {
	Cities  int
	Orders  int
	Dropped int
}

// Run reloads the store from the workbook at path. The city and order loads
// are wrapped in one transaction: a failure between sheets leaves the prior
// state intact.
func (l *Loader) Run(ctx context.Context, path string) (Stats, error) {
	var stats Stats
	logf := l.logger()
	start := time.Now()

	sheets, err := sheet.ReadWorkbook(path, CitySheet, DataSheet)
	if err != nil {
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
		return stats, err
	}

	cities, err := readCities(sheets[CitySheet])
	if err != nil {
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
		return stats, err
	}

	orders, dropped, err := readOrders(sheets[DataSheet], l.now())
	if err != nil {
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
		return stats, err
	}

	if err := l.Store.ReplaceAll(ctx, cities, orders); err != nil {
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
		return stats, err
	}

	stats = Stats{Cities: len(cities), Orders: len(orders), Dropped: dropped}
	metrics.ReloadsTotal.WithLabelValues("ok").Inc()
	logf("stage=bulk_reload ok cities=%d orders=%d dropped=%d duration=%s",
		stats.Cities, stats.Orders, stats.Dropped, time.Since(start).Truncate(time.Millisecond))
	return stats, nil
}

func readCities(t *sheet.Table) ([]sales.City, error) {
	districtIx := t.Index("district_name")
	cityIx := t.Index("city_name")
	if districtIx < 0 || cityIx < 0 {
		return nil, fmt.Errorf("bulkload: %s sheet requires district_name and city_name columns", CitySheet)
	}

	var out []sales.City
	for _, rec := range t.Rows {
		district := t.Cell(rec, districtIx)
		city := t.Cell(rec, cityIx)
		if district == "" && city == "" {
			continue
		}
		out = append(out, sales.City{DistrictName: district, CityName: city})
	}
	return out, nil
}

// readOrders normalizes the data sheet. The sheet carries a zero-padded
// 6-digit HHMMSS "order time (PST)" field and no calendar date; order_date
// is stamped with the processing date. Rows lacking unique_order_number,
// currency_cd, or rptg_amt after normalization are dropped.
func readOrders(t *sheet.Table, processingDate time.Time) ([]sales.Order, int, error) {
	timeIx := t.Index("order_time_(pst)")
	if timeIx < 0 {
		// Double-space header variant seen in the raw feed.
		timeIx = t.Index("order_time__(pst)")
	}
	if timeIx < 0 {
		return nil, 0, fmt.Errorf("bulkload: %s sheet requires an order time (PST) column", DataSheet)
	}

	var (
		uonIx      = t.Index("unique_order_number")
		cityIx     = t.Index("district_city_id")
		amtIx      = t.Index("rptg_amt")
		currencyIx = t.Index("currency_cd")
		qtyIx      = t.Index("order_qty")
		lockedIx   = t.Index("locked")
	)

	date := time.Date(processingDate.Year(), processingDate.Month(), processingDate.Day(), 0, 0, 0, 0, time.UTC)

	var (
		out     []sales.Order
		dropped int
	)
	for i, rec := range t.Rows {
		line := i + 1

		tod, err := ingest.ParseTimeOfDay(t.Cell(rec, timeIx))
		if err != nil {
			return nil, dropped, fmt.Errorf("bulkload: row %d: order time: %w", line, err)
		}
		cityID, err := ingest.ParseIntDefault(t.Cell(rec, cityIx))
		if err != nil {
			return nil, dropped, fmt.Errorf("bulkload: row %d: district_city_id: %w", line, err)
		}
		qty, err := ingest.ParseIntDefault(t.Cell(rec, qtyIx))
		if err != nil {
			return nil, dropped, fmt.Errorf("bulkload: row %d: order_qty: %w", line, err)
		}

		locked, err := ingest.ParseTruthy(t.Cell(rec, lockedIx))
		if err != nil {
			return nil, dropped, fmt.Errorf("bulkload: row %d: locked: %w", line, err)
		}

		amt, amtOK := ingest.ParseAmount(t.Cell(rec, amtIx))
		uon := t.Cell(rec, uonIx)
		currency := t.Cell(rec, currencyIx)
		if uon == "" || currency == "" || !amtOK {
			dropped++
			continue
		}

		out = append(out, sales.Order{
			UniqueOrderNumber: uon,
			OrderDate:         date,
			OrderTime:         tod,
			DistrictCityID:    cityID,
			RptgAmt:           amt,
			CurrencyCd:        currency,
			OrderQty:          qty,
			Locked:            locked,
		})
	}
	return out, dropped, nil
}

func (l *Loader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loader) logger() func(format string, v ...any) {
	if l.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return l.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }
