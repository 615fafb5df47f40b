// Package all registers every storage backend with the factory.
// Import for side effects from binaries that select a backend via config.
package all

import (
	_ "github.com/andrewthenedi/sales-data-analysis-backend/internal/storage/postgres"
	_ "github.com/andrewthenedi/sales-data-analysis-backend/internal/storage/sqlite"
)
