// Package main provides the ciwatch CI triage API service.
//
// The service stores scan results for failed builds, serves triage and
// test-history queries over HTTP, and accepts build events that trigger
// scans directly.
package main

import (
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ciwatch-io/ciwatch/internal/api"
	"github.com/ciwatch-io/ciwatch/internal/api/middleware"
	"github.com/ciwatch-io/ciwatch/internal/buildkite"
	"github.com/ciwatch-io/ciwatch/internal/config"
	"github.com/ciwatch-io/ciwatch/internal/owners"
	"github.com/ciwatch-io/ciwatch/internal/scan"
	"github.com/ciwatch-io/ciwatch/internal/storage"
	"github.com/ciwatch-io/ciwatch/internal/triage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ciwatch"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting ciwatch service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Rate limiter (graceful shutdown handled by server.shutdown())
	middlewareConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
		slog.Int("unauth_burst", middlewareConfig.UnAuthBurst),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	var keyStore storage.KeyStore

	authEnabled := config.GetEnvBool("CIWATCH_AUTH_ENABLED", false)
	if authEnabled {
		keyStore, err = storage.NewPersistentKeyStore(dbConn)
		if err != nil {
			logger.Error("Failed to connect to persistent key store", slog.String("error", err.Error()))

			_ = dbConn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		logger.Info("Client authentication enabled",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("Client authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set CIWATCH_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	scanStore, err := storage.NewScanStore(dbConn)
	if err != nil {
		logger.Error("Failed to create scan store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Scan store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	deps := api.Dependencies{
		KeyStore:    keyStore,
		RateLimiter: rateLimiter,
		Scans:       scanStore,
		ScanWriter:  scanStore,
		Timelines:   scanStore,
		Health:      dbConn,
	}

	// The scanner needs a Buildkite token; without one the service still
	// serves stored scans, but ingest and history endpoints return 503.
	scanner, err := buildScanner(logger)
	if err != nil {
		if errors.Is(err, buildkite.ErrMissingToken) {
			logger.Warn("Buildkite token not configured - live scanning disabled",
				slog.String("note", "Set BUILDKITE_TOKEN to enable ingest and history endpoints"),
			)
		} else {
			logger.Error("Failed to create scanner", slog.String("error", err.Error()))

			_ = dbConn.Close()
			os.Exit(1)
		}
	} else {
		deps.Scanner = scanner
	}

	server := api.NewServer(serverConfig, deps)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("ciwatch service stopped")
}

// buildScanner assembles a scanner from the Buildkite client, the triage
// pattern configuration, and the ownership rules.
func buildScanner(logger *slog.Logger) (*scan.Scanner, error) {
	client, err := buildkite.NewClient(buildkite.LoadConfig())
	if err != nil {
		return nil, err
	}

	configPath := config.GetEnvStr(triage.ConfigPathEnvVar, triage.DefaultConfigPath)
	triageConfig := triage.LoadConfig(configPath)
	ownersConfig := owners.LoadConfig(configPath)

	resolver := owners.NewResolver(ownersConfig.Rules())

	logger.Info("Scanner initialized",
		slog.String("config_path", configPath),
		slog.Int("infra_patterns", len(triageConfig.InfraPatterns)),
		slog.Int("flaky_indicators", len(triageConfig.FlakyIndicators)),
		slog.Int("ownership_rules", resolver.RuleCount()),
	)

	return scan.NewScanner(client,
		scan.WithClassifierInputs(triageConfig.ClassifierInputs(nil)),
		scan.WithOwnerResolver(resolver),
		scan.WithLogger(logger),
	), nil
}
