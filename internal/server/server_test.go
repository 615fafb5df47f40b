package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/ingest"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage/sqlite"
)

const uploadCSVHeader = "unique_order_number,order_date,order_time,district_city_id,rptg_amt,currency_cd,order_qty,locked\n"

func newTestServer(t *testing.T, opts Options) (*Server, storage.Store) {
	t.Helper()

	ctx := context.Background()
	st, err := sqlite.New(ctx, storage.Config{
		Kind: "sqlite",
		DSN:  "file:" + filepath.Join(t.TempDir(), "server.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	if opts.UploadDir == "" {
		opts.UploadDir = t.TempDir()
	}
	if opts.Policy == "" {
		opts.Policy = ingest.PolicyStrict
	}
	opts.Logger = log.New(io.Discard, "", 0)
	return New(st, opts), st
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/sales/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func doJSON(t *testing.T, s *Server, req *http.Request, wantStatus int, out any) {
	t.Helper()

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("%s %s: status=%d want %d body=%s",
			req.Method, req.URL.Path, rec.Code, wantStatus, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode body %q: %v", rec.Body.String(), err)
		}
	}
}

func uploadCSV(t *testing.T, s *Server, csv string) map[string]any {
	t.Helper()

	var body map[string]any
	doJSON(t, s, multipartUpload(t, "sales.csv", csv), http.StatusOK, &body)
	return body
}

func TestUpload_ProcessesAndLists(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})

	body := uploadCSV(t, s, uploadCSVHeader+
		"U1,2024-04-01,101500,1,50,USD,2,false\n"+
		"U2,2024-04-01,93000,1,undefined,USD,1,false\n")
	if body["inserted"] != float64(1) || body["dropped"] != float64(1) {
		t.Fatalf("upload body=%v, want inserted=1 dropped=1", body)
	}

	var orders []map[string]any
	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/sales/", nil), http.StatusOK, &orders)
	if len(orders) != 1 {
		t.Fatalf("orders=%v, want 1", orders)
	}
	o := orders[0]
	if o["unique_order_number"] != "U1" || o["order_date"] != "2024-04-01" || o["order_time"] != "10:15:00" {
		t.Fatalf("order=%v", o)
	}
	if _, hasCity := o["city"]; hasCity {
		t.Fatalf("unresolved city must be omitted, got %v", o)
	}
}

func TestUpload_Reupload_Updates(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})

	uploadCSV(t, s, uploadCSVHeader+"U1,2024-04-01,101500,1,50,USD,2,false\n")
	body := uploadCSV(t, s, uploadCSVHeader+"U1,2024-04-01,101500,1,75,USD,2,false\n")
	if body["inserted"] != float64(0) || body["updated"] != float64(1) {
		t.Fatalf("re-upload body=%v, want updated=1", body)
	}

	var orders []map[string]any
	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/sales/", nil), http.StatusOK, &orders)
	if orders[0]["rptg_amt"] != float64(75) {
		t.Fatalf("order=%v, want amount overwritten to 75", orders[0])
	}
}

func TestUpload_BadExtension(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	var body map[string]string
	doJSON(t, s, multipartUpload(t, "sales.pdf", "x"), http.StatusBadRequest, &body)
	if body["error"] != "file type not allowed" {
		t.Fatalf("body=%v", body)
	}
}

func TestUpload_NoFilePart(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/sales/upload", strings.NewReader("plain"))
	doJSON(t, s, req, http.StatusBadRequest, nil)
}

func TestUpload_MissingColumn(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	var body map[string]string
	doJSON(t, s, multipartUpload(t, "sales.csv",
		"unique_order_number,order_date,order_time,district_city_id,rptg_amt,order_qty,locked\n"),
		http.StatusBadRequest, &body)
	if !strings.Contains(body["error"], "currency_cd") {
		t.Fatalf("error=%q, want missing currency_cd named", body["error"])
	}
}

func TestUpload_LockedConflict(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})

	uploadCSV(t, s, uploadCSVHeader+"U1,2024-04-01,101500,1,50,USD,2,false\n")

	lock := httptest.NewRequest(http.MethodPost, "/sales/lock",
		strings.NewReader(`{"unique_order_number":"U1"}`))
	doJSON(t, s, lock, http.StatusOK, nil)

	doJSON(t, s, multipartUpload(t, "sales.csv",
		uploadCSVHeader+"U1,2024-04-01,101500,1,999,USD,2,false\n"),
		http.StatusConflict, nil)

	// The locked row keeps its original amount.
	var orders []map[string]any
	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/sales/", nil), http.StatusOK, &orders)
	if orders[0]["rptg_amt"] != float64(50) || orders[0]["locked"] != true {
		t.Fatalf("order=%v, want amount 50 and locked", orders[0])
	}
}

func TestUpload_LenientReportsSkipped(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{Policy: ingest.PolicyLenient})

	uploadCSV(t, s, uploadCSVHeader+"U1,2024-04-01,101500,1,50,USD,2,true\n")
	body := uploadCSV(t, s, uploadCSVHeader+
		"U1,2024-04-01,101500,1,999,USD,2,false\n"+
		"U2,bad-date,101500,1,10,USD,1,false\n"+
		"U3,2024-04-01,101500,1,20,USD,1,false\n")

	skipped, _ := body["locked_skipped"].([]any)
	if len(skipped) != 1 || skipped[0] != "U1" {
		t.Fatalf("locked_skipped=%v", body["locked_skipped"])
	}
	failed, _ := body["failed_rows"].([]any)
	if len(failed) != 1 {
		t.Fatalf("failed_rows=%v", body["failed_rows"])
	}
	if body["inserted"] != float64(1) {
		t.Fatalf("body=%v, want inserted=1 (U3)", body)
	}
}

func TestLock_NotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/sales/lock",
		strings.NewReader(`{"unique_order_number":"missing"}`))
	doJSON(t, s, req, http.StatusNotFound, nil)
}

func TestLock_BadBody(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	doJSON(t, s, httptest.NewRequest(http.MethodPost, "/sales/lock", strings.NewReader("{")),
		http.StatusBadRequest, nil)
	doJSON(t, s, httptest.NewRequest(http.MethodPost, "/sales/lock", strings.NewReader(`{}`)),
		http.StatusBadRequest, nil)
}

func TestList_Filters(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	uploadCSV(t, s, uploadCSVHeader+
		"U1,2024-04-01,090000,1,50,USD,2,false\n"+
		"U2,2024-04-02,180000,1,75,USD,9,false\n")

	var orders []map[string]any
	doJSON(t, s, httptest.NewRequest(http.MethodGet,
		"/sales/?start_date=2024-04-02&end_date=2024-04-02", nil), http.StatusOK, &orders)
	if len(orders) != 1 || orders[0]["unique_order_number"] != "U2" {
		t.Fatalf("orders=%v, want only U2", orders)
	}

	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/sales/?qty_threshold=5", nil),
		http.StatusOK, &orders)
	if len(orders) != 1 || orders[0]["unique_order_number"] != "U2" {
		t.Fatalf("orders=%v, want only U2 above threshold", orders)
	}

	doJSON(t, s, httptest.NewRequest(http.MethodGet,
		"/sales/?start_time=08:00:00&end_time=10:00:00", nil), http.StatusOK, &orders)
	if len(orders) != 1 || orders[0]["unique_order_number"] != "U1" {
		t.Fatalf("orders=%v, want only U1 in morning window", orders)
	}
}

func TestList_BadParams(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/sales/?start_date=04-01-2024", nil),
		http.StatusBadRequest, nil)
	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/sales/?qty_threshold=lots", nil),
		http.StatusBadRequest, nil)
	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/sales/?start_time=9am", nil),
		http.StatusBadRequest, nil)
}

func TestList_EmptyIsJSONArray(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sales/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body=%q, want empty JSON array", got)
	}
}

func TestSeries_RequiresDateRange(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/sales/time_series/cities", nil),
		http.StatusBadRequest, nil)
	doJSON(t, s, httptest.NewRequest(http.MethodGet,
		"/sales/time_series/cities?start_date=2024-04-01", nil), http.StatusBadRequest, nil)
	doJSON(t, s, httptest.NewRequest(http.MethodGet,
		"/sales/time_series/cities?start_date=nope&end_date=2024-04-02", nil),
		http.StatusBadRequest, nil)
}

func TestSeries_Empty(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	var points []map[string]any
	doJSON(t, s, httptest.NewRequest(http.MethodGet,
		"/sales/time_series/districts?start_date=2024-04-01&end_date=2024-04-30", nil),
		http.StatusOK, &points)
	if points == nil || len(points) != 0 {
		t.Fatalf("points=%v, want empty array", points)
	}
}

func TestDownload_CSV(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	uploadCSV(t, s, uploadCSVHeader+"U1,2024-04-01,101500,1,50,USD,2,false\n")

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sales/download?format=csv", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content-type=%q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "sales_data.csv") {
		t.Fatalf("content-disposition=%q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "U1,2024-04-01,10:15:00") {
		t.Fatalf("csv=%q", rec.Body.String())
	}
}

func TestDownload_XLSXDefault(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sales/download", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "sales_data.xlsx") {
		t.Fatalf("content-disposition=%q", cd)
	}
	// XLSX is a zip container.
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatal("body is not an xlsx workbook")
	}
}

func TestDownload_BadFormat(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/sales/download?format=ods", nil),
		http.StatusBadRequest, nil)
}

func TestStatsAndHealthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	uploadCSV(t, s, uploadCSVHeader+"U1,2024-04-01,101500,1,50,USD,2,false\n")

	var stats map[string]int64
	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/sales/stats", nil), http.StatusOK, &stats)
	if stats["orders"] != 1 || stats["cities"] != 0 {
		t.Fatalf("stats=%v", stats)
	}

	var health map[string]string
	doJSON(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusOK, &health)
	if health["status"] != "ok" {
		t.Fatalf("health=%v", health)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{CORSOrigin: "http://localhost:3000"})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/sales/upload", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status=%d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow-origin=%q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("preflight missing allow-methods")
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sales/", nil))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("GET allow-origin=%q", got)
	}

	// Non-sales endpoints carry no CORS headers.
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("healthz must not carry CORS headers")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, Options{})
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sales/upload", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want 405", rec.Code)
	}
}
