// Package postgres implements storage.Store on pgx/v5.
//
// order_date and order_time use native DATE and TIME columns. The locked
// check in UpsertOrders uses SELECT ... FOR UPDATE so two overlapping
// batches cannot both read "unlocked" and then overwrite each other's lock
// transitions mid-transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sales"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"
)

type Store struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cities (
  id BIGSERIAL PRIMARY KEY,
  district_name TEXT NOT NULL,
  city_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
  unique_order_number TEXT PRIMARY KEY,
  order_date DATE NOT NULL,
  order_time TIME NOT NULL,
  district_city_id BIGINT NOT NULL DEFAULT 0,
  rptg_amt DOUBLE PRECISION NOT NULL,
  currency_cd TEXT NOT NULL,
  order_qty BIGINT NOT NULL DEFAULT 0,
  locked BOOLEAN NOT NULL DEFAULT FALSE
);
`

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) UpsertOrders(ctx context.Context, orders []sales.Order, opts storage.UpsertOptions) (storage.UpsertStats, error) {
	var stats storage.UpsertStats
	if len(orders) == 0 {
		return stats, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, o := range orders {
		var locked bool
		err := tx.QueryRow(ctx,
			`SELECT locked FROM orders WHERE unique_order_number = $1 FOR UPDATE`,
			o.UniqueOrderNumber,
		).Scan(&locked)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if _, err := tx.Exec(ctx, `INSERT INTO orders
  (unique_order_number, order_date, order_time, district_city_id, rptg_amt, currency_cd, order_qty, locked)
  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				o.UniqueOrderNumber, o.OrderDate, o.OrderTime, o.DistrictCityID,
				o.RptgAmt, o.CurrencyCd, o.OrderQty, o.Locked,
			); err != nil {
				return stats, fmt.Errorf("postgres: insert %s: %w", o.UniqueOrderNumber, err)
			}
			stats.Inserted++

		case err != nil:
			return stats, fmt.Errorf("postgres: lookup %s: %w", o.UniqueOrderNumber, err)

		case locked:
			if opts.SkipLocked {
				stats.LockedSkipped = append(stats.LockedSkipped, o.UniqueOrderNumber)
				continue
			}
			return stats, fmt.Errorf("%s: %w", o.UniqueOrderNumber, storage.ErrOrderLocked)

		default:
			if _, err := tx.Exec(ctx, `UPDATE orders SET
  order_date = $1, order_time = $2, district_city_id = $3, rptg_amt = $4,
  currency_cd = $5, order_qty = $6, locked = $7
  WHERE unique_order_number = $8`,
				o.OrderDate, o.OrderTime, o.DistrictCityID, o.RptgAmt,
				o.CurrencyCd, o.OrderQty, o.Locked, o.UniqueOrderNumber,
			); err != nil {
				return stats, fmt.Errorf("postgres: update %s: %w", o.UniqueOrderNumber, err)
			}
			stats.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("postgres: commit: %w", err)
	}
	return stats, nil
}

func (s *Store) ReplaceAll(ctx context.Context, cities []sales.City, orders []sales.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `TRUNCATE orders`); err != nil {
		return fmt.Errorf("postgres: wipe orders: %w", err)
	}
	if _, err := tx.Exec(ctx, `TRUNCATE cities RESTART IDENTITY`); err != nil {
		return fmt.Errorf("postgres: wipe cities: %w", err)
	}

	for i, c := range cities {
		if _, err := tx.Exec(ctx,
			`INSERT INTO cities (id, district_name, city_name) VALUES ($1, $2, $3)`,
			int64(i+1), c.DistrictName, c.CityName,
		); err != nil {
			return fmt.Errorf("postgres: insert city %q: %w", c.CityName, err)
		}
	}
	if len(cities) > 0 {
		if _, err := tx.Exec(ctx,
			`SELECT setval(pg_get_serial_sequence('cities', 'id'), $1)`, int64(len(cities)),
		); err != nil {
			return fmt.Errorf("postgres: reset cities sequence: %w", err)
		}
	}

	if len(orders) > 0 {
		rows := make([][]any, 0, len(orders))
		for _, o := range orders {
			rows = append(rows, []any{
				o.UniqueOrderNumber, o.OrderDate, o.OrderTime, o.DistrictCityID,
				o.RptgAmt, o.CurrencyCd, o.OrderQty, o.Locked,
			})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"orders"},
			[]string{"unique_order_number", "order_date", "order_time", "district_city_id",
				"rptg_amt", "currency_cd", "order_qty", "locked"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("postgres: bulk insert orders: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) LockOrder(ctx context.Context, uniqueOrderNumber string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET locked = TRUE WHERE unique_order_number = $1`, uniqueOrderNumber)
	if err != nil {
		return fmt.Errorf("postgres: lock %s: %w", uniqueOrderNumber, err)
	}
	if tag.RowsAffected() == 0 {
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

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var out []sales.OrderWithCity
	for rows.Next() {
		var (
			o         sales.OrderWithCity
			date, tod time.Time
			cityID    *int64
			district  *string
			cityName  *string
		)
		if err := rows.Scan(
			&o.UniqueOrderNumber, &date, &tod, &o.DistrictCityID,
			&o.RptgAmt, &o.CurrencyCd, &o.OrderQty, &o.Locked,
			&cityID, &district, &cityName,
		); err != nil {
			return nil, err
		}
		o.OrderDate = date
		o.OrderTime = tod
		if cityID != nil {
			o.City = &sales.City{ID: *cityID, DistrictName: deref(district), CityName: deref(cityName)}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// buildOrderFilter composes the AND-combined WHERE clause with numbered
// placeholders.
func buildOrderFilter(f sales.Filter) (string, []any) {
	var (
		parts []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		parts = append(parts, fmt.Sprintf(expr, len(args)))
	}

	if f.CityName != "" {
		add("c.city_name = $%d", f.CityName)
	}
	if f.DistrictName != "" {
		add("c.district_name = $%d", f.DistrictName)
	}
	if len(f.CityNames) > 0 {
		add("c.city_name = ANY($%d)", f.CityNames)
	}
	if !f.StartDate.IsZero() {
		add("o.order_date >= $%d", f.StartDate)
	}
	if !f.EndDate.IsZero() {
		add("o.order_date <= $%d", f.EndDate)
	}
	if !f.StartTime.IsZero() {
		add("o.order_time >= $%d", f.StartTime)
	}
	if !f.EndTime.IsZero() {
		add("o.order_time <= $%d", f.EndTime)
	}
	if f.QtyThreshold != nil {
		add("o.order_qty >= $%d", *f.QtyThreshold)
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
  WHERE o.order_date BETWEEN $1 AND $2`, groupCol)
	args := []any{f.StartDate, f.EndDate}

	if len(f.CityNames) > 0 {
		args = append(args, f.CityNames)
		fmt.Fprintf(&b, " AND c.city_name = ANY($%d)", len(args))
	}
	if f.QtyThreshold != nil {
		args = append(args, *f.QtyThreshold)
		fmt.Fprintf(&b, " AND o.order_qty >= $%d", len(args))
	}
	fmt.Fprintf(&b, " GROUP BY %s, o.order_date ORDER BY o.order_date, %s", groupCol, groupCol)

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: sales series: %w", err)
	}
	defer rows.Close()

	var out []sales.SeriesPoint
	for rows.Next() {
		var (
			p    sales.SeriesPoint
			date time.Time
		)
		if err := rows.Scan(&p.Group, &date, &p.TotalSales); err != nil {
			return nil, err
		}
		p.Date = date.Format(sales.DateLayout)
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
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", table, err)
	}
	return n, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
