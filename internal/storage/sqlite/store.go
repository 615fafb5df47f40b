// Package sqlite implements storage.Store on modernc.org/sqlite.
//
// SQLite has no native DATE/TIME types: order_date and order_time are stored
// as TEXT in fixed layouts ("2006-01-02", "15:04:05"), which keeps string
// comparison in range filters correct and round-trips reliably.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sales"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"
)

// insertChunkRows bounds multi-row INSERT size to stay well under the SQLite
// bind-parameter limit (8 columns per order row).
const insertChunkRows = 100

type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cities (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  district_name TEXT NOT NULL,
  city_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
  unique_order_number TEXT PRIMARY KEY,
  order_date TEXT NOT NULL,
  order_time TEXT NOT NULL,
  district_city_id INTEGER NOT NULL DEFAULT 0,
  rptg_amt REAL NOT NULL,
  currency_cd TEXT NOT NULL,
  order_qty INTEGER NOT NULL DEFAULT 0,
  locked INTEGER NOT NULL DEFAULT 0
);
`

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return nil
}

// UpsertOrders merges rows keyed by unique_order_number in one transaction.
//
// Per row:
//   - unknown key -> INSERT with the row's own locked flag
//   - existing, unlocked -> UPDATE all mutable fields
//   - existing, locked -> ErrOrderLocked (or skip under opts.SkipLocked)
func (s *Store) UpsertOrders(ctx context.Context, orders []sales.Order, opts storage.UpsertOptions) (storage.UpsertStats, error) {
	var stats storage.UpsertStats
	if len(orders) == 0 {
		return stats, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sel, err := tx.PrepareContext(ctx, `SELECT locked FROM orders WHERE unique_order_number = ?`)
	if err != nil {
		return stats, err
	}
	defer sel.Close()

	ins, err := tx.PrepareContext(ctx, `INSERT INTO orders
  (unique_order_number, order_date, order_time, district_city_id, rptg_amt, currency_cd, order_qty, locked)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return stats, err
	}
	defer ins.Close()

	upd, err := tx.PrepareContext(ctx, `UPDATE orders SET
  order_date = ?, order_time = ?, district_city_id = ?, rptg_amt = ?, currency_cd = ?, order_qty = ?, locked = ?
  WHERE unique_order_number = ?`)
	if err != nil {
		return stats, err
	}
	defer upd.Close()

	for _, o := range orders {
		var locked bool
		err := sel.QueryRowContext(ctx, o.UniqueOrderNumber).Scan(&locked)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := ins.ExecContext(ctx,
				o.UniqueOrderNumber, formatDate(o.OrderDate), formatTime(o.OrderTime),
				o.DistrictCityID, o.RptgAmt, o.CurrencyCd, o.OrderQty, o.Locked,
			); err != nil {
				return stats, fmt.Errorf("sqlite: insert %s: %w", o.UniqueOrderNumber, err)
			}
			stats.Inserted++

		case err != nil:
			return stats, fmt.Errorf("sqlite: lookup %s: %w", o.UniqueOrderNumber, err)

		case locked:
			if opts.SkipLocked {
				stats.LockedSkipped = append(stats.LockedSkipped, o.UniqueOrderNumber)
				continue
			}
			return stats, fmt.Errorf("%s: %w", o.UniqueOrderNumber, storage.ErrOrderLocked)

		default:
			if _, err := upd.ExecContext(ctx,
				formatDate(o.OrderDate), formatTime(o.OrderTime), o.DistrictCityID,
				o.RptgAmt, o.CurrencyCd, o.OrderQty, o.Locked, o.UniqueOrderNumber,
			); err != nil {
				return stats, fmt.Errorf("sqlite: update %s: %w", o.UniqueOrderNumber, err)
			}
			stats.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("sqlite: commit: %w", err)
	}
	return stats, nil
}

// ReplaceAll wipes both tables and repopulates them in one transaction.
// City IDs are assigned in slice order starting from 1.
func (s *Store) ReplaceAll(ctx context.Context, cities []sales.City, orders []sales.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		return fmt.Errorf("sqlite: wipe orders: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cities`); err != nil {
		return fmt.Errorf("sqlite: wipe cities: %w", err)
	}

	for i, c := range cities {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cities (id, district_name, city_name) VALUES (?, ?, ?)`,
			int64(i+1), c.DistrictName, c.CityName,
		); err != nil {
			return fmt.Errorf("sqlite: insert city %q: %w", c.CityName, err)
		}
	}

	for start := 0; start < len(orders); start += insertChunkRows {
		end := start + insertChunkRows
		if end > len(orders) {
			end = len(orders)
		}
		if err := bulkInsertOrders(ctx, tx, orders[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func bulkInsertOrders(ctx context.Context, tx *sql.Tx, orders []sales.Order) error {
	if len(orders) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO orders
  (unique_order_number, order_date, order_time, district_city_id, rptg_amt, currency_cd, order_qty, locked) VALUES `)

	args := make([]any, 0, len(orders)*8)
	for i, o := range orders {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			o.UniqueOrderNumber, formatDate(o.OrderDate), formatTime(o.OrderTime),
			o.DistrictCityID, o.RptgAmt, o.CurrencyCd, o.OrderQty, o.Locked,
		)
	}

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("sqlite: bulk insert orders: %w", err)
	}
	return nil
}

func (s *Store) LockOrder(ctx context.Context, uniqueOrderNumber string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET locked = 1 WHERE unique_order_number = ?`, uniqueOrderNumber)
	if err != nil {
		return fmt.Errorf("sqlite: lock %s: %w", uniqueOrderNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", uniqueOrderNumber, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, f sales.Filter) ([]sales.OrderWithCity, error) {
	var b strings.Builder
	b.WriteString(`SELECT o.unique_order_number, o.order_date, o.order_time, o.district_city_id,
  o.rptg_amt, o.currency_cd, o.order_qty, o.locked,
  c.id, c.district_name, c.city_name
  FROM orders o LEFT JOIN cities c ON c.id = o.district_city_id`)

	where, args := buildOrderFilter(f)
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	b.WriteString(" ORDER BY o.unique_order_number")

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	defer rows.Close()

	var out []sales.OrderWithCity
	for rows.Next() {
		var (
			o         sales.OrderWithCity
			date, tod string
			cityID    sql.NullInt64
			district  sql.NullString
			cityName  sql.NullString
		)
		if err := rows.Scan(
			&o.UniqueOrderNumber, &date, &tod, &o.DistrictCityID,
			&o.RptgAmt, &o.CurrencyCd, &o.OrderQty, &o.Locked,
			&cityID, &district, &cityName,
		); err != nil {
			return nil, err
		}
		if o.OrderDate, err = parseStoredDate(date); err != nil {
			return nil, fmt.Errorf("sqlite: order %s: %w", o.UniqueOrderNumber, err)
		}
		if o.OrderTime, err = parseStoredTime(tod); err != nil {
			return nil, fmt.Errorf("sqlite: order %s: %w", o.UniqueOrderNumber, err)
		}
		if cityID.Valid {
			o.City = &sales.City{
				ID:           cityID.Int64,
				DistrictName: district.String,
				CityName:     cityName.String,
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// buildOrderFilter composes the AND-combined WHERE clause for ListOrders.
func buildOrderFilter(f sales.Filter) (string, []any) {
	var (
		parts []string
		args  []any
	)
	if f.CityName != "" {
		parts = append(parts, "c.city_name = ?")
		args = append(args, f.CityName)
	}
	if f.DistrictName != "" {
		parts = append(parts, "c.district_name = ?")
		args = append(args, f.DistrictName)
	}
	if len(f.CityNames) > 0 {
		ph := strings.TrimRight(strings.Repeat("?,", len(f.CityNames)), ",")
		parts = append(parts, "c.city_name IN ("+ph+")")
		for _, n := range f.CityNames {
			args = append(args, n)
		}
	}
	if !f.StartDate.IsZero() {
		parts = append(parts, "o.order_date >= ?")
		args = append(args, formatDate(f.StartDate))
	}
	if !f.EndDate.IsZero() {
		parts = append(parts, "o.order_date <= ?")
		args = append(args, formatDate(f.EndDate))
	}
	if !f.StartTime.IsZero() {
		parts = append(parts, "o.order_time >= ?")
		args = append(args, formatTime(f.StartTime))
	}
	if !f.EndTime.IsZero() {
		parts = append(parts, "o.order_time <= ?")
		args = append(args, formatTime(f.EndTime))
	}
	if f.QtyThreshold != nil {
		parts = append(parts, "o.order_qty >= ?")
		args = append(args, *f.QtyThreshold)
	}
	return strings.Join(parts, " AND "), args
}

func (s *Store) SalesSeries(ctx context.Context, f sales.SeriesFilter) ([]sales.SeriesPoint, error) {
	groupCol := "c.city_name"
	if f.GroupBy == sales.GroupByDistrict {
		groupCol = "c.district_name"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT %s, o.order_date, SUM(o.rptg_amt)
  FROM orders o JOIN cities c ON c.id = o.district_city_id
  WHERE o.order_date BETWEEN ? AND ?`, groupCol)
	args := []any{formatDate(f.StartDate), formatDate(f.EndDate)}

	if len(f.CityNames) > 0 {
		ph := strings.TrimRight(strings.Repeat("?,", len(f.CityNames)), ",")
		b.WriteString(" AND c.city_name IN (" + ph + ")")
		for _, n := range f.CityNames {
			args = append(args, n)
		}
	}
	if f.QtyThreshold != nil {
		b.WriteString(" AND o.order_qty >= ?")
		args = append(args, *f.QtyThreshold)
	}
	fmt.Fprintf(&b, " GROUP BY %s, o.order_date ORDER BY o.order_date, %s", groupCol, groupCol)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sales series: %w", err)
	}
	defer rows.Close()

	var out []sales.SeriesPoint
	for rows.Next() {
		var p sales.SeriesPoint
		if err := rows.Scan(&p.Group, &p.Date, &p.TotalSales); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountOrders(ctx context.Context) (int64, error) {
	return s.count(ctx, "orders")
}

func (s *Store) CountCities(ctx context.Context) (int64, error) {
	return s.count(ctx, "cities")
}

func (s *Store) count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}
	return n, nil
}

func formatDate(t time.Time) string { return t.Format(sales.DateLayout) }
func formatTime(t time.Time) string { return t.Format(sales.TimeLayout) }

func parseStoredDate(s string) (time.Time, error) {
	d, err := time.Parse(sales.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored date %q: %w", s, err)
	}
	return d, nil
}

func parseStoredTime(s string) (time.Time, error) {
	d, err := time.Parse(sales.TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored time %q: %w", s, err)
	}
	return d, nil
}
