// Command audit-prune deletes audit logs older than the retention window.
//
// Usage:
//
//	set -a && source .env && set +a && go run ./cmd/audit-prune
//
//	# Or with an explicit window
//	AUDIT_RETENTION_DAYS=30 go run ./cmd/audit-prune
//
// The server runs the same prune on its own schedule; this is for one-off
// cleanups while it is stopped.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strefethen/tunegate/internal/audit"
	"github.com/strefethen/tunegate/internal/db"
)

func main() {
	dbPath := os.Getenv("SQLITE_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/tunegate.db"
	}

	retentionDays := audit.DefaultRetentionDays
	if raw := os.Getenv("AUDIT_RETENTION_DAYS"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			log.Fatalf("AUDIT_RETENTION_DAYS must be a positive integer, got %q", raw)
		}
		retentionDays = days
	}

	log.Printf("Audit Prune: Opening database at %s", dbPath)
	dbPair, err := db.Init(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer dbPair.Close()

	repo := audit.NewRepository(dbPair)
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	log.Printf("Deleting audit logs before %s", cutoff.Format(time.RFC3339))
	deleted, err := repo.PruneBefore(cutoff)
	if err != nil {
		log.Fatalf("Failed to prune audit logs: %v", err)
	}

	_, remaining, err := repo.QueryLogs(audit.LogQueryFilters{Limit: 1})
	if err != nil {
		log.Fatalf("Failed to count audit logs: %v", err)
	}

	fmt.Printf("\nPrune complete: %d deleted, %d remaining\n", deleted, remaining)
}
