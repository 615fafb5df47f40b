// Command salesd serves the retail sales HTTP API: spreadsheet upload
// ingestion, record locking, filtered queries, and exports.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/config"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/ingest"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/server"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"

	// register all backends with the storage factory.
	// config specifies which to use but we build in support for all of them.
	_ "github.com/andrewthenedi/sales-data-analysis-backend/internal/storage/all"
)

func main() {
	var (
		cfgPath  string
		validate bool
	)
	flag.StringVar(&cfgPath, "config", "configs/salesd.json", "config JSON path")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	policy, err := ingest.ParsePolicy(cfg.Ingest.Policy)
	if err != nil {
		fatalf("ingest policy: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fatalf("open storage: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		fatalf("ensure schema: %v", err)
	}

	srv := server.New(store, server.Options{
		UploadDir:  cfg.UploadDir,
		CORSOrigin: cfg.CORSOrigin,
		Policy:     policy,
		CSVComma:   cfg.Ingest.Comma(),
		CSVCharset: cfg.Ingest.CSVEncoding,
		Logger:     log.Default(),
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	if *verbose {
		log.Printf("listening addr=%s storage=%s policy=%s", cfg.ListenAddr, cfg.Storage.Kind, policy)
	}
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatalf("serve: %v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
