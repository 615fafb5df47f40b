package bulkload

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sales"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage/sqlite"
)

func openLoaderStore(t *testing.T) storage.Store {
	t.Helper()

	ctx := context.Background()
	st, err := sqlite.New(ctx, storage.Config{
		Kind: "sqlite",
		DSN:  "file:" + filepath.Join(t.TempDir(), "bulkload.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return st
}

// writeWorkbook builds a two-sheet reference workbook in the raw feed's
// header style.
func writeWorkbook(t *testing.T, cityRows, dataRows [][]any) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", CitySheet); err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewSheet(DataSheet); err != nil {
		t.Fatal(err)
	}

	writeRows := func(name string, header []any, rows [][]any) {
		if err := f.SetSheetRow(name, "A1", &header); err != nil {
			t.Fatal(err)
		}
		for i := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.SetSheetRow(name, cell, &rows[i]); err != nil {
				t.Fatal(err)
			}
		}
	}

	writeRows(CitySheet, []any{"District Name", "City Name"}, cityRows)
	writeRows(DataSheet, []any{
		"Unique Order Number", "Order Time (PST)", "District City Id",
		"Rptg Amt", "Currency Cd", "Order Qty", "Locked",
	}, dataRows)

	path := filepath.Join(t.TempDir(), "reference.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoaderRun_LoadsCitiesAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openLoaderStore(t)

	// Pre-existing rows must be wiped by the reload.
	seed := []sales.Order{{
		UniqueOrderNumber: "OLD-1",
		OrderDate:         time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
		OrderTime:         time.Date(0, 1, 1, 9, 0, 0, 0, time.UTC),
		RptgAmt:           1, CurrencyCd: "USD",
	}}
	if _, err := st.UpsertOrders(ctx, seed, storage.UpsertOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	path := writeWorkbook(t,
		[][]any{
			{"North", "Springfield"},
			{"South", "Shelbyville"},
		},
		[][]any{
			{"R1", "101500", 1, 99.5, "USD", 2, "false"},
			{"R2", "93005", 2, 10, "USD", 1, "true"},
			// Undefined amount: dropped.
			{"R3", "101500", 1, "undefined", "USD", 1, "false"},
			// Missing currency: dropped.
			{"R4", "101500", 1, 5, "", 1, "false"},
			{"R5", "120000", 0, 25, "EUR", 3, ""},
		},
	)

	today := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	l := &Loader{Store: st, Now: func() time.Time { return today }}

	stats, err := l.Run(ctx, path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Cities != 2 || stats.Orders != 3 || stats.Dropped != 2 {
		t.Fatalf("stats=%+v, want 2 cities, 3 orders, 2 dropped", stats)
	}

	got, err := st.ListOrders(ctx, sales.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("orders=%d, want reload to wipe OLD-1 and load 3", len(got))
	}
	for _, o := range got {
		if o.UniqueOrderNumber == "OLD-1" {
			t.Fatal("OLD-1 survived the reload")
		}
		if o.DateString() != "2024-03-15" {
			t.Fatalf("%s order_date=%s, want processing date", o.UniqueOrderNumber, o.DateString())
		}
	}

	r1 := got[0]
	if r1.UniqueOrderNumber != "R1" || r1.TimeString() != "10:15:00" || r1.RptgAmt != 99.5 {
		t.Fatalf("R1=%+v", r1.Order)
	}
	if r1.City == nil || r1.City.CityName != "Springfield" || r1.City.DistrictName != "North" {
		t.Fatalf("R1 city=%+v, want Springfield/North", r1.City)
	}

	r2 := got[1]
	if r2.TimeString() != "09:30:05" || !r2.Locked {
		t.Fatalf("R2=%+v, want padded HHMMSS time and locked", r2.Order)
	}
	if r2.City == nil || r2.City.CityName != "Shelbyville" {
		t.Fatalf("R2 city=%+v", r2.City)
	}

	// R5 has city id 0: joins to no city.
	r5 := got[2]
	if r5.UniqueOrderNumber != "R5" || r5.City != nil {
		t.Fatalf("R5=%+v city=%+v, want nil city", r5.Order, r5.City)
	}

	nCities, err := st.CountCities(ctx)
	if err != nil {
		t.Fatalf("count cities: %v", err)
	}
	if nCities != 2 {
		t.Fatalf("cities=%d want 2", nCities)
	}
}

func TestLoaderRun_MissingCityColumns(t *testing.T) {
	t.Parallel()

	st := openLoaderStore(t)

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", CitySheet); err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewSheet(DataSheet); err != nil {
		t.Fatal(err)
	}
	hdr := []any{"Name"}
	if err := f.SetSheetRow(CitySheet, "A1", &hdr); err != nil {
		t.Fatal(err)
	}
	dataHdr := []any{"Unique Order Number", "Order Time (PST)"}
	if err := f.SetSheetRow(DataSheet, "A1", &dataHdr); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "bad.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	l := &Loader{Store: st}
	if _, err := l.Run(context.Background(), path); err == nil {
		t.Fatal("want error for missing city columns")
	}

	// Prior state untouched on failure.
	n, err := st.CountOrders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("orders=%d want 0", n)
	}
}

func TestLoaderRun_MissingTimeColumn(t *testing.T) {
	t.Parallel()

	st := openLoaderStore(t)

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", CitySheet); err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewSheet(DataSheet); err != nil {
		t.Fatal(err)
	}
	cityHdr := []any{"District Name", "City Name"}
	if err := f.SetSheetRow(CitySheet, "A1", &cityHdr); err != nil {
		t.Fatal(err)
	}
	dataHdr := []any{"Unique Order Number", "Rptg Amt"}
	if err := f.SetSheetRow(DataSheet, "A1", &dataHdr); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "no_time.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	l := &Loader{Store: st}
	if _, err := l.Run(context.Background(), path); err == nil {
		t.Fatal("want error for missing order time column")
	}
}
