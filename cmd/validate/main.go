// Command validate performs integrity checks on the configured subscription
// store: row well-formedness, schedule alignment, and consistency between
// full scans and the location and owner indexes.
//
// Usage:
//
//	STORE_DRIVER=sqlite SQLITE_PATH=notifier.db go run ./cmd/validate
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/adapter/sqlstore"
	"github.com/couchcryptid/weather-push-notifier/internal/config"
	"github.com/joho/godotenv"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	_ = godotenv.Load()
	if code := run(); code != 0 {
		os.Exit(code)
	}
}

func run() int {
	cfg, err := config.LoadStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	var driver, dsn string
	switch cfg.Driver {
	case config.DriverSQLite:
		driver, dsn = sqlstore.DriverSQLite, cfg.SQLitePath
	case config.DriverPostgres:
		driver, dsn = sqlstore.DriverPostgres, cfg.DatabaseURL
	default:
		fmt.Fprintf(os.Stderr, "FATAL: store driver %q has nothing to validate\n", cfg.Driver)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}
	defer store.Close()

	fmt.Println("=== Subscription Store Integrity Validation ===")
	fmt.Println()

	records, err := store.Records(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load records: %v\n", err)
		return 1
	}

	// ── Run validation phases ──
	phases := []*phase{
		validateRecords(records),
		validateSchedule(records),
		validateIndexes(ctx, store, records),
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Subscriptions: %d (driver %s)\n", len(records), cfg.Driver)

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}
