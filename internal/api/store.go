// Package api provides the HTTP API server for the ciwatch service.
package api

import (
	"context"

	"github.com/ciwatch-io/ciwatch/internal/history"
	"github.com/ciwatch-io/ciwatch/internal/scan"
	"github.com/ciwatch-io/ciwatch/internal/storage"
)

// The API layer defines the interfaces it needs from the rest of the
// service; storage and scan provide the implementations. Handlers depend on
// these interfaces so tests can substitute in-memory fakes without a
// database or a Buildkite token.
type (
	// ScanReader serves stored scan results to read endpoints.
	ScanReader interface {
		// GetScan returns the stored scan for one build, or
		// storage.ErrScanNotFound when that build was never scanned.
		GetScan(ctx context.Context, pipeline string, buildNumber int) (*scan.Result, error)

		// ListScans returns up to limit most recent scans for a pipeline,
		// newest first.
		ListScans(ctx context.Context, pipeline string, limit int) ([]*scan.Result, error)
	}

	// ScanWriter persists scan results produced by the ingest endpoint.
	ScanWriter interface {
		// StoreScan persists a scan result. The boolean reports whether an
		// earlier scan of the same build was replaced.
		StoreScan(ctx context.Context, result *scan.Result) (bool, error)
	}

	// ScanTrigger runs live scans against the CI system. Implemented by
	// scan.Scanner; nil disables the ingest and history endpoints.
	ScanTrigger interface {
		ScanBuild(ctx context.Context, pipeline string, buildNumber int) (*scan.Result, error)
		TestHistory(ctx context.Context, pipeline, testID string, opts scan.HistoryOptions) (*scan.HistoryResult, error)
	}

	// TimelineWriter caches assessed test timelines after history scans.
	TimelineWriter interface {
		StoreTimeline(ctx context.Context, pipeline, testID string, timeline history.Timeline) error
	}

	// HealthChecker verifies a backing service is reachable. Implemented by
	// storage.Connection for the readiness probe.
	HealthChecker interface {
		Ping(ctx context.Context) error
	}
)

// Compile-time checks that the concrete implementations satisfy the
// handler-facing interfaces.
var (
	_ ScanReader     = (*storage.ScanStore)(nil)
	_ ScanWriter     = (*storage.ScanStore)(nil)
	_ TimelineWriter = (*storage.ScanStore)(nil)
	_ ScanTrigger    = (*scan.Scanner)(nil)
	_ HealthChecker  = (*storage.Connection)(nil)
)
