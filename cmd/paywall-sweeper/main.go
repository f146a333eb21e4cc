// Command paywall-sweeper removes expired grace period records on a
// schedule. The API server also deletes expired records lazily when it
// reads them; this job cleans up the ones nobody reads.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/paywall/pkg/docstore"
	"github.com/platinummonkey/paywall/pkg/entitlement"
	"github.com/platinummonkey/paywall/pkg/observability"
)

var (
	dbURL    = flag.String("db-url", getEnv("PAYWALL_POSTGRES_URL", "postgres://localhost/paywall?sslmode=disable"), "PostgreSQL connection URL")
	schedule = flag.String("schedule", "0 * * * *", "Cron schedule for the grace period sweep (default: every hour)")
	runOnce  = flag.Bool("run-once", false, "Run one sweep and exit")
)

func main() {
	flag.Parse()

	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)

	store, err := docstore.NewPostgresStore(docstore.PostgresConfig{
		URL:     *dbURL,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	sweeper := entitlement.NewSweeper(store, logger)

	if *runOnce {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		removed, err := sweeper.Sweep(ctx)
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		logger.Infof("sweep removed %d expired grace periods", removed)
		return
	}

	if err := sweeper.Start(*schedule); err != nil {
		log.Fatalf("Failed to start sweeper: %v", err)
	}
	logger.Infof("grace period sweeper started with schedule %q", *schedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	sweeper.Stop()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
