package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ciwatch-io/ciwatch/internal/history"
	"github.com/ciwatch-io/ciwatch/internal/logparse"
)

// Sentinel errors for timeline storage operations.
var (
	// ErrTimelineStoreFailed is returned when a timeline persistence operation fails.
	ErrTimelineStoreFailed = errors.New("timeline storage failed")
)

// StoreTimeline stores the per-build outcome entries for one test with UPSERT
// behavior per entry. Re-scanning a build replaces that build's entry; other
// entries are untouched, so a cached timeline grows incrementally as new
// builds are scanned.
func (s *ScanStore) StoreTimeline(ctx context.Context, pipeline, testID string, timeline history.Timeline) error {
	startTime := time.Now()

	query := `
		INSERT INTO timeline_entries (
			pipeline,
			test_id,
			build_number,
			commit_sha,
			build_url,
			build_created_at,
			test_found,
			status,
			fingerprints
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pipeline, test_id, build_number)
		DO UPDATE SET
			commit_sha = EXCLUDED.commit_sha,
			build_url = EXCLUDED.build_url,
			build_created_at = EXCLUDED.build_created_at,
			test_found = EXCLUDED.test_found,
			status = EXCLUDED.status,
			fingerprints = EXCLUDED.fingerprints,
			updated_at = CURRENT_TIMESTAMP
	`

	// Per-entry statements rather than one batch transaction: one bad entry
	// must not discard the rest of the timeline.
	stored := 0

	for _, entry := range timeline.Entries {
		fingerprintsJSON, err := json.Marshal(entry.Fingerprints)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal fingerprints: %w", ErrTimelineStoreFailed, err)
		}

		_, err = s.conn.ExecContext(ctx, query,
			pipeline,
			testID,
			entry.BuildNumber,
			entry.CommitSHA,
			entry.BuildURL,
			entry.CreatedAt,
			entry.TestFound,
			string(entry.Status),
			fingerprintsJSON,
		)
		if err != nil {
			s.logger.Error("Timeline entry storage failed",
				"error", err,
				"test_id", testID,
				"build", entry.BuildNumber,
			)

			return fmt.Errorf("%w: build %d: %w", ErrTimelineStoreFailed, entry.BuildNumber, err)
		}

		stored++
	}

	s.logger.Info("Timeline stored",
		"pipeline", pipeline,
		"test_id", testID,
		"entries", stored,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return nil
}

// GetTimeline retrieves the most recent stored timeline entries for one test,
// oldest first, limited to lookback builds. An empty timeline is not an
// error; assessment of an empty timeline yields INSUFFICIENT_DATA anyway.
func (s *ScanStore) GetTimeline(ctx context.Context, pipeline, testID string, lookback int) (history.Timeline, error) {
	// Newest N entries, then flipped into chronological order.
	query := `
		SELECT build_number, commit_sha, build_url, build_created_at, test_found, status, fingerprints
		FROM (
			SELECT build_number, commit_sha, build_url, build_created_at, test_found, status, fingerprints
			FROM timeline_entries
			WHERE pipeline = $1 AND test_id = $2
			ORDER BY build_number DESC
			LIMIT $3
		) recent
		ORDER BY build_number ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, pipeline, testID, lookback)
	if err != nil {
		return history.Timeline{}, fmt.Errorf("%w: %w", ErrTimelineStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var entries []history.Entry

	for rows.Next() {
		var (
			entry            history.Entry
			status           string
			fingerprintsJSON []byte
		)

		err := rows.Scan(
			&entry.BuildNumber,
			&entry.CommitSHA,
			&entry.BuildURL,
			&entry.CreatedAt,
			&entry.TestFound,
			&status,
			&fingerprintsJSON,
		)
		if err != nil {
			return history.Timeline{}, fmt.Errorf("%w: %w", ErrTimelineStoreFailed, err)
		}

		entry.Status = logparse.Status(status)

		if len(fingerprintsJSON) > 0 {
			if err := json.Unmarshal(fingerprintsJSON, &entry.Fingerprints); err != nil {
				return history.Timeline{}, fmt.Errorf("%w: failed to unmarshal fingerprints: %w", ErrTimelineStoreFailed, err)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return history.Timeline{}, fmt.Errorf("%w: %w", ErrTimelineStoreFailed, err)
	}

	return history.Timeline{Entries: entries}, nil
}
