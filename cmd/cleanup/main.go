package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/FormVault/intake-service/internal/cleanup"
	"github.com/FormVault/intake-service/internal/db"
	"github.com/FormVault/intake-service/internal/messaging"
	"github.com/FormVault/intake-service/internal/scheduler"
	"github.com/FormVault/intake-service/internal/telemetry"
)

func main() {
	log.Println("Session Cleanup Job - Starting")

	cfg, err := cleanup.LoadConfig()
	if err != nil {
		// Fatal before any deletion is attempted.
		log.Fatalf("Configuration error: %v", err)
	}
	log.Printf("Retention Policy: %s", cfg.Retention)
	if cfg.DryRun {
		log.Println("Dry-run mode: nothing will be deleted")
	}

	job := scheduler.NewJobDescriptorFromEnv()
	log.Printf("Run ID: %s", job.RunID)

	timeout := 10 * time.Minute
	if v := os.Getenv("CLEANUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Telemetry is best effort; the job runs fine without a collector.
	provider, err := telemetry.InitProvider(ctx, telemetry.LoadConfig())
	if err != nil {
		log.Printf("Warning: telemetry disabled: %v", err)
	} else {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			provider.Shutdown(shutdownCtx)
		}()
	}

	var metrics *telemetry.Metrics
	if provider != nil {
		if metrics, err = telemetry.InitMetrics(); err != nil {
			log.Printf("Warning: failed to initialize metrics: %v", err)
			metrics = nil
		}
	}

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	publisher, err := messaging.NewPublisher()
	if err != nil {
		log.Printf("Warning: event publishing disabled: %v", err)
		publisher = nil
	} else {
		defer publisher.Close()
	}

	reporter := scheduler.NewPostgresReporter(database)
	service := cleanup.NewService(cleanup.NewRepository(database), publisher, metrics, cfg)

	count, err := service.CountExpired(ctx, time.Now().UTC())
	if err != nil {
		reportFailed(reporter, job, err)
		log.Fatalf("Failed to count expired tokens: %v", err)
	}
	log.Printf("Found %d tokens eligible for cleanup", count)

	summary, err := service.Run(ctx, job.RunID)
	if err != nil {
		reportFailed(reporter, job, err)
		log.Fatalf("Cleanup run failed: %v", err)
	}

	if err := reporter.ReportCompleted(ctx, job, summary); err != nil {
		log.Printf("Warning: failed to report completed status: %v", err)
	}

	log.Printf("✓ Cleanup completed: %d candidates, %d purged, %d live skipped, %d errors",
		summary.CandidatesSeen, summary.Deleted, summary.SkippedLive, summary.Errors)
	log.Println("Session Cleanup Job - Finished")
}

func reportFailed(reporter scheduler.StatusReporter, job scheduler.JobDescriptor, runErr error) {
	// The run context may already be cancelled; give the status write its
	// own short deadline so the failure still lands in the status table.
	reportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := reporter.ReportFailed(reportCtx, job, runErr); err != nil {
		log.Printf("Warning: failed to report failed status: %v", err)
	}
}
