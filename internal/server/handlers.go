package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/ingest"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/metrics"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sales"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/sheet"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"
)

// maxUploadBytes bounds one multipart upload (spreadsheets, not bulk data).
const maxUploadBytes = 64 << 20

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	timer := metrics.QueryDuration.WithLabelValues("list")
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := s.store.ListOrders(r.Context(), f)
	if err != nil {
		s.serverError(w, "list orders", err)
		return
	}
	if orders == nil {
		orders = []sales.OrderWithCity{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleSeriesCities(w http.ResponseWriter, r *http.Request) {
	s.handleSeries(w, r, sales.GroupByCity)
}

func (s *Server) handleSeriesDistricts(w http.ResponseWriter, r *http.Request) {
	s.handleSeries(w, r, sales.GroupByDistrict)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request, group sales.SeriesGroup) {
	timer := metrics.QueryDuration.WithLabelValues("time_series")
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	q := r.URL.Query()
	if q.Get("start_date") == "" || q.Get("end_date") == "" {
		writeError(w, http.StatusBadRequest, "start_date and end_date are required")
		return
	}

	f := sales.SeriesFilter{GroupBy: group, CityNames: splitCSV(q.Get("city_names"))}
	var err error
	if f.StartDate, err = time.Parse(sales.DateLayout, q.Get("start_date")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start_date: %v", err))
		return
	}
	if f.EndDate, err = time.Parse(sales.DateLayout, q.Get("end_date")); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end_date: %v", err))
		return
	}
	if f.QtyThreshold, err = parseQty(q.Get("qty_threshold")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := s.store.SalesSeries(r.Context(), f)
	if err != nil {
		s.serverError(w, "sales series", err)
		return
	}
	if points == nil {
		points = []sales.SeriesPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

var exportColumns = []string{
	"unique_order_number", "order_date", "order_time", "district_city_id",
	"rptg_amt", "currency_cd", "order_qty", "locked", "city_name", "district_name",
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	timer := metrics.QueryDuration.WithLabelValues("download")
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := s.store.ListOrders(r.Context(), f)
	if err != nil {
		s.serverError(w, "download", err)
		return
	}

	rows := make([][]any, 0, len(orders))
	for _, o := range orders {
		cityName, districtName := "", ""
		if o.City != nil {
			cityName, districtName = o.City.CityName, o.City.DistrictName
		}
		rows = append(rows, []any{
			o.UniqueOrderNumber, o.DateString(), o.TimeString(), o.DistrictCityID,
			o.RptgAmt, o.CurrencyCd, o.OrderQty, o.Locked, cityName, districtName,
		})
	}

	switch format := r.URL.Query().Get("format"); format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename=sales_data.csv`)
		if err := sheet.WriteCSV(w, exportColumns, rows); err != nil {
			s.logger.Printf("stage=http op=download err=%v", err)
		}
	case "", "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename=sales_data.xlsx`)
		if err := sheet.WriteXLSX(w, "Sales Data", exportColumns, rows); err != nil {
			s.logger.Printf("stage=http op=download err=%v", err)
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file part")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "no selected file")
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".csv" && ext != ".xlsx" {
		writeError(w, http.StatusBadRequest, "file type not allowed")
		return
	}

	path, err := s.saveUpload(file, ext)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("storage_error").Inc()
		s.serverError(w, "save upload", err)
		return
	}

	res, err := s.pipeline.Run(r.Context(), path)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "file processed successfully",
		"inserted":       res.Upsert.Inserted,
		"updated":        res.Upsert.Updated,
		"dropped":        res.Rows.Dropped,
		"failed_rows":    failureMessages(res.Rows.Failures),
		"locked_skipped": res.Upsert.LockedSkipped,
	})
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var (
		schemaErr *ingest.SchemaError
		parseErr  *ingest.ParseError
	)
	switch {
	case errors.As(err, &schemaErr):
		metrics.UploadsTotal.WithLabelValues("schema_error").Inc()
		writeError(w, http.StatusBadRequest, schemaErr.Error())
	case errors.As(err, &parseErr):
		metrics.UploadsTotal.WithLabelValues("parse_error").Inc()
		writeError(w, http.StatusBadRequest, parseErr.Error())
	case errors.Is(err, storage.ErrOrderLocked):
		metrics.UploadsTotal.WithLabelValues("locked_conflict").Inc()
		writeError(w, http.StatusConflict, err.Error())
	default:
		metrics.UploadsTotal.WithLabelValues("storage_error").Inc()
		s.serverError(w, "upload", err)
	}
}

func (s *Server) saveUpload(src io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return "", err
	}
	dst, err := os.CreateTemp(s.opts.UploadDir, "upload-*"+ext)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UniqueOrderNumber string `json:"unique_order_number"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.UniqueOrderNumber == "" {
		writeError(w, http.StatusBadRequest, "unique order number required")
		return
	}

	err := s.store.LockOrder(r.Context(), body.UniqueOrderNumber)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case err != nil:
		s.serverError(w, "lock", err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
	}
}

// parseFilter reads the common list/export filter parameters.
func parseFilter(r *http.Request) (sales.Filter, error) {
	q := r.URL.Query()
	f := sales.Filter{
		CityName:     q.Get("city"),
		DistrictName: q.Get("district"),
		CityNames:    splitCSV(q.Get("city_names")),
	}

	var err error
	if f.StartDate, err = parseDateParam(q.Get("start_date")); err != nil {
		return f, fmt.Errorf("invalid start_date: %v", err)
	}
	if f.EndDate, err = parseDateParam(q.Get("end_date")); err != nil {
		return f, fmt.Errorf("invalid end_date: %v", err)
	}
	if f.StartTime, err = parseTimeParam(q.Get("start_time")); err != nil {
		return f, fmt.Errorf("invalid start_time: %v", err)
	}
	if f.EndTime, err = parseTimeParam(q.Get("end_time")); err != nil {
		return f, fmt.Errorf("invalid end_time: %v", err)
	}
	if f.QtyThreshold, err = parseQty(q.Get("qty_threshold")); err != nil {
		return f, err
	}
	return f, nil
}

func parseDateParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(sales.DateLayout, s)
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(sales.TimeLayout, s)
}

func parseQty(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid qty_threshold: %v", err)
	}
	return &v, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func failureMessages(failures []*ingest.ParseError) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.Error())
	}
	return out
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
