// Command loadref performs the wholesale wipe-and-reload of cities and
// orders from a reference workbook. It bypasses per-row reconciliation and
// must not run concurrently with the online ingest service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/andrewthenedi/sales-data-analysis-backend/internal/bulkload"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/config"
	"github.com/andrewthenedi/sales-data-analysis-backend/internal/storage"

	// register all backends with the storage factory.
	_ "github.com/andrewthenedi/sales-data-analysis-backend/internal/storage/all"
)

func main() {
	var (
		cfgPath  string
		workbook string
	)
	flag.StringVar(&cfgPath, "config", "configs/salesd.json", "config JSON path")
	flag.StringVar(&workbook, "workbook", "data/rawdata.xlsx", "reference workbook path")
	verbose := flag.Bool("v", false, "enable verbose logs")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	hasError := false
	for _, iss := range config.Validate(cfg) {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		os.Exit(1)
	}

	ctx := context.Background()
	start := time.Now()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fatalf("open storage: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		fatalf("ensure schema: %v", err)
	}

	loader := &bulkload.Loader{Store: store, Logger: log.Default()}
	stats, err := loader.Run(ctx, workbook)
	if err != nil {
		fatalf("reload: %v", err)
	}

	log.Printf("reload ok cities=%d orders=%d dropped=%d", stats.Cities, stats.Orders, stats.Dropped)
	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
