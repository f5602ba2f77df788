package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ciwatch-io/ciwatch/internal/history"
	"github.com/ciwatch-io/ciwatch/internal/logparse"
	"github.com/ciwatch-io/ciwatch/internal/scan"
	"github.com/ciwatch-io/ciwatch/internal/triage"
)

func integrationScanResult(buildNumber int) *scan.Result {
	failure := &triage.DeduplicatedFailure{
		Identity:    "deadbeef01234567",
		TestID:      "tests/samplers/test_sampler.py::test_logit_bias",
		JobName:     "Samplers Test",
		Fingerprint: "assertionerror::logit_bias_mismatch",
		Occurrences: []logparse.FailureRecord{
			{
				TestID:       "tests/samplers/test_sampler.py::test_logit_bias",
				JobName:      "Samplers Test",
				ErrorType:    "AssertionError",
				ErrorMessage: "logit bias mismatch",
			},
		},
	}

	_ = failure.SetClassification(triage.Classification{
		Category:   triage.CategoryNewRegression,
		Confidence: 0.5,
		Reason:     "no known issue or pattern matched",
	})

	return &scan.Result{
		Build: scan.BuildSummary{
			Number:    buildNumber,
			URL:       "https://buildkite.com/vllm/ci/builds/1234",
			Pipeline:  "vllm/ci",
			Branch:    "main",
			Commit:    "abc1234def567890000011112222333344445555",
			State:     "failed",
			CreatedAt: time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
		},
		Jobs: []scan.JobSummary{
			{Name: "Samplers Test", State: "failed", Passed: false},
			{Name: "Engine Test", State: "passed", Passed: true},
		},
		TotalJobs:  2,
		FailedJobs: 1,
		Failures:   []*triage.DeduplicatedFailure{failure},
		Warnings:   []string{"failed to fetch logs for Docs Build, skipped"},
		Partial:    true,
		ScannedAt:  time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC),
	}
}

func TestScanStoreStoreAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	store, err := NewScanStore(conn)
	if err != nil {
		t.Fatalf("NewScanStore() error = %v", err)
	}

	result := integrationScanResult(1234)

	duplicate, err := store.StoreScan(ctx, result)
	if err != nil {
		t.Fatalf("StoreScan() error = %v", err)
	}

	if duplicate {
		t.Error("StoreScan() first insert reported duplicate = true")
	}

	stored, err := store.GetScan(ctx, "vllm/ci", 1234)
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}

	if stored.Build.Number != 1234 || stored.Build.Commit != result.Build.Commit {
		t.Errorf("GetScan() build = %+v, want number 1234 commit %s", stored.Build, result.Build.Commit)
	}

	if !stored.Partial {
		t.Error("GetScan() Partial = false, want true")
	}

	if len(stored.Failures) != 1 {
		t.Fatalf("GetScan() failures = %d, want 1", len(stored.Failures))
	}

	got := stored.Failures[0]
	if got.TestID != "tests/samplers/test_sampler.py::test_logit_bias" {
		t.Errorf("GetScan() failure test = %q", got.TestID)
	}

	if got.Category() != triage.CategoryNewRegression {
		t.Errorf("GetScan() failure category = %q, want NEW_REGRESSION", got.Category())
	}

	if len(stored.Warnings) != 1 {
		t.Errorf("GetScan() warnings = %v, want one entry", stored.Warnings)
	}

	t.Run("rescan replaces row", func(t *testing.T) {
		rescan := integrationScanResult(1234)
		rescan.Partial = false
		rescan.Warnings = nil

		duplicate, err := store.StoreScan(ctx, rescan)
		if err != nil {
			t.Fatalf("StoreScan() error = %v", err)
		}

		if !duplicate {
			t.Error("StoreScan() rescan reported duplicate = false")
		}

		stored, err := store.GetScan(ctx, "vllm/ci", 1234)
		if err != nil {
			t.Fatalf("GetScan() error = %v", err)
		}

		if stored.Partial {
			t.Error("GetScan() after rescan Partial = true, want false")
		}
	})

	t.Run("unscanned build not found", func(t *testing.T) {
		_, err := store.GetScan(ctx, "vllm/ci", 9999)
		if !errors.Is(err, ErrScanNotFound) {
			t.Errorf("GetScan() = %v, want ErrScanNotFound", err)
		}
	})
}

func TestScanStoreListScans(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	store, err := NewScanStore(conn)
	if err != nil {
		t.Fatalf("NewScanStore() error = %v", err)
	}

	for _, buildNumber := range []int{1201, 1202, 1203} {
		if _, err := store.StoreScan(ctx, integrationScanResult(buildNumber)); err != nil {
			t.Fatalf("StoreScan(%d) error = %v", buildNumber, err)
		}
	}

	scans, err := store.ListScans(ctx, "vllm/ci", 2)
	if err != nil {
		t.Fatalf("ListScans() error = %v", err)
	}

	if len(scans) != 2 {
		t.Fatalf("ListScans() = %d scans, want 2", len(scans))
	}

	// Newest build first.
	if scans[0].Build.Number != 1203 || scans[1].Build.Number != 1202 {
		t.Errorf("ListScans() order = [%d, %d], want [1203, 1202]",
			scans[0].Build.Number, scans[1].Build.Number)
	}

	other, err := store.ListScans(ctx, "vllm/nightly", 10)
	if err != nil {
		t.Fatalf("ListScans() error = %v", err)
	}

	if len(other) != 0 {
		t.Errorf("ListScans() for unscanned pipeline = %d scans, want 0", len(other))
	}
}

func TestScanStoreTimelineRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	store, err := NewScanStore(conn)
	if err != nil {
		t.Fatalf("NewScanStore() error = %v", err)
	}

	const testID = "tests/engine/test_scheduler.py::test_preempt"

	timeline := history.Timeline{
		Entries: []history.Entry{
			{
				BuildNumber: 1201,
				CommitSHA:   "aaa1111",
				BuildURL:    "https://buildkite.com/vllm/ci/builds/1201",
				CreatedAt:   time.Date(2026, 3, 13, 10, 0, 0, 0, time.UTC),
				TestFound:   true,
				Status:      logparse.StatusPass,
			},
			{
				BuildNumber: 1202,
				CommitSHA:   "bbb2222",
				BuildURL:    "https://buildkite.com/vllm/ci/builds/1202",
				CreatedAt:   time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
				TestFound:   false,
				Status:      logparse.StatusUnknown,
			},
			{
				BuildNumber: 1203,
				CommitSHA:   "ccc3333",
				BuildURL:    "https://buildkite.com/vllm/ci/builds/1203",
				CreatedAt:   time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
				TestFound:   true,
				Status:      logparse.StatusFail,
				Fingerprints: []string{
					"runtimeerror::worker_died",
				},
			},
		},
	}

	if err := store.StoreTimeline(ctx, "vllm/ci", testID, timeline); err != nil {
		t.Fatalf("StoreTimeline() error = %v", err)
	}

	stored, err := store.GetTimeline(ctx, "vllm/ci", testID, 10)
	if err != nil {
		t.Fatalf("GetTimeline() error = %v", err)
	}

	if len(stored.Entries) != 3 {
		t.Fatalf("GetTimeline() = %d entries, want 3", len(stored.Entries))
	}

	// Chronological order, oldest first.
	for i, wantBuild := range []int{1201, 1202, 1203} {
		if stored.Entries[i].BuildNumber != wantBuild {
			t.Errorf("GetTimeline() entry %d build = %d, want %d",
				i, stored.Entries[i].BuildNumber, wantBuild)
		}
	}

	if stored.Entries[0].Status != logparse.StatusPass {
		t.Errorf("GetTimeline() entry 0 status = %q, want pass", stored.Entries[0].Status)
	}

	if stored.Entries[1].TestFound {
		t.Error("GetTimeline() entry 1 TestFound = true, want false")
	}

	last := stored.Entries[2]
	if last.Status != logparse.StatusFail {
		t.Errorf("GetTimeline() entry 2 status = %q, want fail", last.Status)
	}

	if len(last.Fingerprints) != 1 || last.Fingerprints[0] != "runtimeerror::worker_died" {
		t.Errorf("GetTimeline() entry 2 fingerprints = %v", last.Fingerprints)
	}

	t.Run("lookback keeps newest builds", func(t *testing.T) {
		stored, err := store.GetTimeline(ctx, "vllm/ci", testID, 2)
		if err != nil {
			t.Fatalf("GetTimeline() error = %v", err)
		}

		if len(stored.Entries) != 2 {
			t.Fatalf("GetTimeline() = %d entries, want 2", len(stored.Entries))
		}

		if stored.Entries[0].BuildNumber != 1202 || stored.Entries[1].BuildNumber != 1203 {
			t.Errorf("GetTimeline() lookback window = [%d, %d], want [1202, 1203]",
				stored.Entries[0].BuildNumber, stored.Entries[1].BuildNumber)
		}
	})

	t.Run("rescan updates entry in place", func(t *testing.T) {
		updated := history.Timeline{
			Entries: []history.Entry{
				{
					BuildNumber: 1202,
					CommitSHA:   "bbb2222",
					BuildURL:    "https://buildkite.com/vllm/ci/builds/1202",
					CreatedAt:   time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
					TestFound:   true,
					Status:      logparse.StatusPass,
				},
			},
		}

		if err := store.StoreTimeline(ctx, "vllm/ci", testID, updated); err != nil {
			t.Fatalf("StoreTimeline() error = %v", err)
		}

		stored, err := store.GetTimeline(ctx, "vllm/ci", testID, 10)
		if err != nil {
			t.Fatalf("GetTimeline() error = %v", err)
		}

		if len(stored.Entries) != 3 {
			t.Fatalf("GetTimeline() = %d entries, want 3", len(stored.Entries))
		}

		if !stored.Entries[1].TestFound || stored.Entries[1].Status != logparse.StatusPass {
			t.Errorf("GetTimeline() entry 1 after rescan = %+v, want found pass", stored.Entries[1])
		}
	})

	t.Run("unknown test yields empty timeline", func(t *testing.T) {
		stored, err := store.GetTimeline(ctx, "vllm/ci", "tests/unknown.py::test_missing", 10)
		if err != nil {
			t.Fatalf("GetTimeline() error = %v", err)
		}

		if len(stored.Entries) != 0 {
			t.Errorf("GetTimeline() = %d entries, want 0", len(stored.Entries))
		}
	})
}
