// Package server exposes the HTTP surface: upload ingestion, record
// locking, filtered queries, time-series aggregation, and spreadsheet
// export.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/ingest"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/metrics"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"
)

// Options configure a Server.
type Options struct {
	UploadDir  string
	CORSOrigin string
	Policy     ingest.Policy
	CSVComma   rune
	CSVCharset string
	Logger     *log.Logger
}

// Server routes the /sales API plus health and metrics endpoints.
type Server struct {
	store    storage.Store
	pipeline *ingest.Pipeline
	opts     Options
	mux      *http.ServeMux
	logger   *log.Logger
}

// New constructs the HTTP server around a Store.
func New(store storage.Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		store: store,
		pipeline: &ingest.Pipeline{
			Store:  store,
			Policy: opts.Policy,
			Logger: logger,
		},
		opts:   opts,
		logger: logger,
	}
	s.pipeline.CSV.Comma = opts.CSVComma
	s.pipeline.CSV.Encoding = opts.CSVCharset

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sales/{$}", s.handleList)
	mux.HandleFunc("GET /sales/time_series/cities", s.handleSeriesCities)
	mux.HandleFunc("GET /sales/time_series/districts", s.handleSeriesDistricts)
	mux.HandleFunc("GET /sales/download", s.handleDownload)
	mux.HandleFunc("POST /sales/upload", s.handleUpload)
	mux.HandleFunc("POST /sales/lock", s.handleLock)
	mux.HandleFunc("GET /sales/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.opts.CORSOrigin != "" && strings.HasPrefix(r.URL.Path, "/sales/") {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.opts.CORSOrigin)
		h.Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.CountOrders(r.Context())
	if err != nil {
		s.serverError(w, "count orders", err)
		return
	}
	cities, err := s.store.CountCities(r.Context())
	if err != nil {
		s.serverError(w, "count cities", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"orders": orders, "cities": cities})
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Printf("stage=http op=%s err=%v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
