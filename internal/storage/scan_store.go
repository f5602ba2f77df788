package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ciwatch-io/ciwatch/internal/config"
	"github.com/ciwatch-io/ciwatch/internal/scan"
	"github.com/ciwatch-io/ciwatch/internal/triage"
)

// Sentinel errors for scan result storage operations.
var (
	// ErrScanStoreFailed is returned when a scan persistence operation fails.
	ErrScanStoreFailed = errors.New("scan result storage failed")

	// ErrScanNotFound is returned when no stored scan matches the query.
	ErrScanNotFound = errors.New("scan result not found")
)

// ScanStore persists build scan results and test timelines in PostgreSQL.
// One store handles both concerns; timeline methods live in
// timeline_store.go.
type ScanStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewScanStore creates a PostgreSQL-backed scan store.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewScanStore(conn *Connection) (*ScanStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ScanStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Close closes the underlying connection pool. Safe to call multiple times.
func (s *ScanStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}

	return nil
}

// StoreScan stores one build scan result with UPSERT behavior.
//
// Returns (duplicate, error) where duplicate=true means a scan for the same
// pipeline and build already existed and was replaced. Rescanning a build is
// routine (for example after a retry), so replacement is not an error.
func (s *ScanStore) StoreScan(ctx context.Context, result *scan.Result) (bool, error) {
	startTime := time.Now()

	failuresJSON, err := json.Marshal(result.Failures)
	if err != nil {
		return false, fmt.Errorf("%w: failed to marshal failures: %w", ErrScanStoreFailed, err)
	}

	warningsJSON, err := json.Marshal(result.Warnings)
	if err != nil {
		return false, fmt.Errorf("%w: failed to marshal warnings: %w", ErrScanStoreFailed, err)
	}

	// RETURNING (xmax = 0) detects INSERT vs UPDATE:
	//   - xmax = 0: New row inserted
	//   - xmax != 0: Existing row updated (UPSERT occurred)
	query := `
		INSERT INTO scan_results (
			pipeline,
			build_number,
			build_url,
			branch,
			commit_sha,
			build_state,
			total_jobs,
			failed_jobs,
			partial,
			failures,
			warnings,
			scanned_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (pipeline, build_number)
		DO UPDATE SET
			build_url = EXCLUDED.build_url,
			branch = EXCLUDED.branch,
			commit_sha = EXCLUDED.commit_sha,
			build_state = EXCLUDED.build_state,
			total_jobs = EXCLUDED.total_jobs,
			failed_jobs = EXCLUDED.failed_jobs,
			partial = EXCLUDED.partial,
			failures = EXCLUDED.failures,
			warnings = EXCLUDED.warnings,
			scanned_at = EXCLUDED.scanned_at,
			updated_at = CURRENT_TIMESTAMP
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool

	err = s.conn.QueryRowContext(ctx, query,
		result.Build.Pipeline,
		result.Build.Number,
		result.Build.URL,
		result.Build.Branch,
		result.Build.Commit,
		result.Build.State,
		result.TotalJobs,
		result.FailedJobs,
		result.Partial,
		failuresJSON,
		warningsJSON,
		result.ScannedAt,
	).Scan(&inserted)
	if err != nil {
		s.logger.Error("Scan result storage failed",
			"error", err,
			"pipeline", result.Build.Pipeline,
			"build", result.Build.Number,
			"duration_ms", time.Since(startTime).Milliseconds(),
		)

		return false, fmt.Errorf("%w: %w", ErrScanStoreFailed, err)
	}

	operation := "inserted"
	if !inserted {
		operation = "updated"
	}

	s.logger.Info("Scan result stored",
		"pipeline", result.Build.Pipeline,
		"build", result.Build.Number,
		"failures", len(result.Failures),
		"operation", operation,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return !inserted, nil
}

// GetScan retrieves the stored scan result for one build.
// Returns ErrScanNotFound when the build has not been scanned.
func (s *ScanStore) GetScan(ctx context.Context, pipeline string, buildNumber int) (*scan.Result, error) {
	query := `
		SELECT build_url, branch, commit_sha, build_state,
		       total_jobs, failed_jobs, partial, failures, warnings, scanned_at
		FROM scan_results
		WHERE pipeline = $1 AND build_number = $2
	`

	result := &scan.Result{
		Build: scan.BuildSummary{Pipeline: pipeline, Number: buildNumber},
	}

	var failuresJSON, warningsJSON []byte

	err := s.conn.QueryRowContext(ctx, query, pipeline, buildNumber).Scan(
		&result.Build.URL,
		&result.Build.Branch,
		&result.Build.Commit,
		&result.Build.State,
		&result.TotalJobs,
		&result.FailedJobs,
		&result.Partial,
		&failuresJSON,
		&warningsJSON,
		&result.ScannedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s#%d", ErrScanNotFound, pipeline, buildNumber)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanStoreFailed, err)
	}

	if err := unmarshalScanPayload(failuresJSON, warningsJSON, result); err != nil {
		return nil, err
	}

	return result, nil
}

// ListScans returns the most recently scanned builds for a pipeline, newest
// first.
func (s *ScanStore) ListScans(ctx context.Context, pipeline string, limit int) ([]*scan.Result, error) {
	query := `
		SELECT build_number, build_url, branch, commit_sha, build_state,
		       total_jobs, failed_jobs, partial, failures, warnings, scanned_at
		FROM scan_results
		WHERE pipeline = $1
		ORDER BY build_number DESC
		LIMIT $2
	`

	rows, err := s.conn.QueryContext(ctx, query, pipeline, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var results []*scan.Result

	for rows.Next() {
		result := &scan.Result{
			Build: scan.BuildSummary{Pipeline: pipeline},
		}

		var failuresJSON, warningsJSON []byte

		err := rows.Scan(
			&result.Build.Number,
			&result.Build.URL,
			&result.Build.Branch,
			&result.Build.Commit,
			&result.Build.State,
			&result.TotalJobs,
			&result.FailedJobs,
			&result.Partial,
			&failuresJSON,
			&warningsJSON,
			&result.ScannedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanStoreFailed, err)
		}

		if err := unmarshalScanPayload(failuresJSON, warningsJSON, result); err != nil {
			return nil, err
		}

		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScanStoreFailed, err)
	}

	return results, nil
}

func unmarshalScanPayload(failuresJSON, warningsJSON []byte, result *scan.Result) error {
	if len(failuresJSON) > 0 {
		if err := json.Unmarshal(failuresJSON, &result.Failures); err != nil {
			return fmt.Errorf("%w: failed to unmarshal failures: %w", ErrScanStoreFailed, err)
		}
	}

	if result.Failures == nil {
		result.Failures = []*triage.DeduplicatedFailure{}
	}

	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &result.Warnings); err != nil {
			return fmt.Errorf("%w: failed to unmarshal warnings: %w", ErrScanStoreFailed, err)
		}
	}

	return nil
}
