// Package main provides the ciwatch build-event ingester.
//
// The ingester consumes build lifecycle events from kafka, scans finished
// builds for test failures, and persists the scan results for the API
// service to serve.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ciwatch-io/ciwatch/internal/buildkite"
	"github.com/ciwatch-io/ciwatch/internal/config"
	"github.com/ciwatch-io/ciwatch/internal/ingest"
	"github.com/ciwatch-io/ciwatch/internal/owners"
	"github.com/ciwatch-io/ciwatch/internal/scan"
	"github.com/ciwatch-io/ciwatch/internal/storage"
	"github.com/ciwatch-io/ciwatch/internal/triage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logLevel := config.GetEnvLogLevel("CIWATCH_INGESTER_LOG_LEVEL", slog.LevelInfo)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("Starting ciwatch ingester",
		slog.String("service", name),
		slog.String("version", version),
	)

	consumerConfig := ingest.LoadConsumerConfig()

	logger.Info("Loaded consumer configuration",
		slog.Any("brokers", consumerConfig.Brokers),
		slog.String("topic", consumerConfig.Topic),
		slog.String("group_id", consumerConfig.GroupID),
	)

	// Scanner is mandatory here: an ingester that cannot scan has no job.
	client, err := buildkite.NewClient(buildkite.LoadConfig())
	if err != nil {
		logger.Error("Failed to create buildkite client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	configPath := config.GetEnvStr(triage.ConfigPathEnvVar, triage.DefaultConfigPath)
	triageConfig := triage.LoadConfig(configPath)
	resolver := owners.NewResolver(owners.LoadConfig(configPath).Rules())

	scanner := scan.NewScanner(client,
		scan.WithClassifierInputs(triageConfig.ClassifierInputs(nil)),
		scan.WithOwnerResolver(resolver),
		scan.WithLogger(logger),
	)

	// Persistence is optional: without a database the ingester still scans
	// and logs results.
	var store ingest.ScanWriter

	storageConfig := storage.LoadConfig()
	if storageConfig.Validate() == nil {
		dbConn, err := storage.NewConnection(storageConfig)
		if err != nil {
			logger.Error("Failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}

		defer func() {
			_ = dbConn.Close()
		}()

		scanStore, err := storage.NewScanStore(dbConn)
		if err != nil {
			logger.Error("Failed to create scan store", slog.String("error", err.Error()))

			_ = dbConn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		store = scanStore

		logger.Info("Scan persistence enabled",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("DATABASE_URL not set - scan results will not be persisted")
	}

	consumer, err := ingest.NewConsumer(consumerConfig, scanner, store, logger)
	if err != nil {
		logger.Error("Failed to create consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := consumer.Run(ctx)

	if err := consumer.Close(); err != nil {
		logger.Error("Failed to close consumer", slog.String("error", err.Error()))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Consumer stopped with error", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("ciwatch ingester stopped")
}
