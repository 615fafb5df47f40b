package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sales"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sheet"
)

// Policy controls how row-level parse failures are handled in one batch.
type Policy string

const (
	// PolicyStrict aborts the batch on the first parse failure.
	PolicyStrict Policy = "strict"

	// PolicyLenient skips failed rows, records them in Stats.Failures, and
	// lets the rest of the batch proceed.
	PolicyLenient Policy = "lenient"
)

// ParsePolicy maps a config string to a Policy. Empty means strict.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicyStrict):
		return PolicyStrict, nil
	case string(PolicyLenient):
		return PolicyLenient, nil
	default:
		return "", fmt.Errorf("unknown policy %q", s)
	}
}

// Stats summarizes one normalization pass.
//
// Dropped counts rows silently discarded for missing key fields
// (unique_order_number, currency_cd, rptg_amt). Failures holds per-row parse
// errors under PolicyLenient; under PolicyStrict the first failure is
// returned as an error instead.
type Stats struct {
	Seen     int
	Dropped  int
	Failures []*ParseError
}

// NormalizeTable coerces every data row of a validated table into a
// canonical Order. The table must have passed ValidateColumns.
func NormalizeTable(t *sheet.Table, policy Policy) ([]sales.Order, Stats, error) {
	ix := columnIndexes(t)

	var (
		out   []sales.Order
		stats Stats
	)
	for i, rec := range t.Rows {
		line := i + 1
		stats.Seen++

		o, ok, err := normalizeRow(t, ix, rec, line)
		if err != nil {
			if policy == PolicyLenient {
				stats.Failures = append(stats.Failures, err)
				continue
			}
			return nil, stats, err
		}
		if !ok {
			stats.Dropped++
			continue
		}
		out = append(out, o)
	}
	return out, stats, nil
}

type colIx struct {
	uon, date, tod, city, amt, currency, qty, locked int
}

func columnIndexes(t *sheet.Table) colIx {
	return colIx{
		uon:      t.Index("unique_order_number"),
		date:     t.Index("order_date"),
		tod:      t.Index("order_time"),
		city:     t.Index("district_city_id"),
		amt:      t.Index("rptg_amt"),
		currency: t.Index("currency_cd"),
		qty:      t.Index("order_qty"),
		locked:   t.Index("locked"),
	}
}

// normalizeRow applies the canonical coercions of one row.
//
// Returns ok=false for rows that must be dropped silently (missing
// unique_order_number, currency_cd, or rptg_amt after normalization).
func normalizeRow(t *sheet.Table, ix colIx, rec []string, line int) (sales.Order, bool, *ParseError) {
	var o sales.Order

	date, err := ParseDate(t.Cell(rec, ix.date))
	if err != nil {
		return o, false, &ParseError{Line: line, Field: "order_date", Value: t.Cell(rec, ix.date), Err: err}
	}
	tod, err := ParseTimeOfDay(t.Cell(rec, ix.tod))
	if err != nil {
		return o, false, &ParseError{Line: line, Field: "order_time", Value: t.Cell(rec, ix.tod), Err: err}
	}
	cityID, err := ParseIntDefault(t.Cell(rec, ix.city))
	if err != nil {
		return o, false, &ParseError{Line: line, Field: "district_city_id", Value: t.Cell(rec, ix.city), Err: err}
	}
	qty, err := ParseIntDefault(t.Cell(rec, ix.qty))
	if err != nil {
		return o, false, &ParseError{Line: line, Field: "order_qty", Value: t.Cell(rec, ix.qty), Err: err}
	}
	locked, err := ParseTruthy(t.Cell(rec, ix.locked))
	if err != nil {
		return o, false, &ParseError{Line: line, Field: "locked", Value: t.Cell(rec, ix.locked), Err: err}
	}

	amt, amtOK := ParseAmount(t.Cell(rec, ix.amt))
	uon := t.Cell(rec, ix.uon)
	currency := t.Cell(rec, ix.currency)

	// Missing key fields: data-quality drop, not a pipeline fault.
	if uon == "" || currency == "" || !amtOK {
		return o, false, nil
	}

	o = sales.Order{
		UniqueOrderNumber: uon,
		OrderDate:         date,
		OrderTime:         tod,
		DistrictCityID:    cityID,
		RptgAmt:           amt,
		CurrencyCd:        currency,
		OrderQty:          qty,
		Locked:            locked,
	}
	return o, true, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"01/02/2006",
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
}

// ParseDate parses a calendar date from its common spreadsheet renderings.
// Timestamp forms are accepted and truncated to their date part.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, lay := range dateLayouts {
		if d, err := time.Parse(lay, s); err == nil {
			return d, nil
		}
	}
	for _, lay := range timestampLayouts {
		if d, err := time.Parse(lay, s); err == nil {
			return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format")
}

// ParseTimeOfDay parses a time of day: "HH:MM:SS", "HH:MM", or a digit-only
// HHMMSS value (shorter digit strings are zero-padded on the left, matching
// the reference feed's 6-digit convention).
func ParseTimeOfDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if d, err := time.Parse("15:04:05", s); err == nil {
		return d, nil
	}
	if d, err := time.Parse("15:04", s); err == nil {
		return d, nil
	}
	if isDigits(s) && len(s) <= 6 {
		padded := strings.Repeat("0", 6-len(s)) + s
		if d, err := time.Parse("150405", padded); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format")
}

// ParseAmount coerces a monetary amount. The literal "undefined" and
// anything non-numeric map to missing (ok=false), never to zero.
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "undefined") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseIntDefault coerces an integer cell where missing means 0 (the
// "unassigned" sentinel). Integral floats such as "3.0" are accepted since
// spreadsheet tools emit them for integer columns.
func ParseIntDefault(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer")
	}
	return int64(f), nil
}

// ParseTruthy applies loose truthy conversion; absent means false.
func ParseTruthy(s string) (bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return false, nil
	case "1", "t", "true", "yes", "y":
		return true, nil
	case "0", "f", "false", "no", "n":
		return false, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f != 0, nil
	}
	return false, fmt.Errorf("not a boolean")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
