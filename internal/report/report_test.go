package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciwatch-io/ciwatch/internal/history"
	"github.com/ciwatch-io/ciwatch/internal/logparse"
	"github.com/ciwatch-io/ciwatch/internal/scan"
	"github.com/ciwatch-io/ciwatch/internal/triage"
)

func classifiedFailure(t *testing.T, testID, jobName string, category triage.Category) *triage.DeduplicatedFailure {
	t.Helper()

	failure := &triage.DeduplicatedFailure{
		Identity: "abc123",
		TestID:   testID,
		JobName:  jobName,
		Occurrences: []logparse.FailureRecord{{
			TestID:       testID,
			JobName:      jobName,
			ErrorType:    "RuntimeError",
			ErrorMessage: "engine core initialization failed",
		}},
	}

	require.NoError(t, failure.SetClassification(triage.Classification{
		Category:   category,
		Confidence: 0.5,
		Reason:     "no matching known issue",
	}))

	return failure
}

func scanResult(t *testing.T, failures ...*triage.DeduplicatedFailure) *scan.Result {
	t.Helper()

	return &scan.Result{
		Build: scan.BuildSummary{
			Number: 12345,
			URL:    "https://buildkite.com/vllm/ci/builds/12345",
			Branch: "main",
			Commit: "abc1234def5678",
			State:  "failed",
		},
		Jobs: []scan.JobSummary{
			{Name: "Engine Test", State: "failed"},
			{Name: "Optional Model Test", State: "failed", SoftFailed: true},
			{Name: "Lint", State: "passed", Passed: true},
		},
		TotalJobs:  3,
		FailedJobs: 2,
		Failures:   failures,
		ScannedAt:  time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC),
	}
}

func TestDailyFindings_SummarySection(t *testing.T) {
	result := scanResult(t,
		classifiedFailure(t, "tests/test_engine.py::test_init", "Engine Test", triage.CategoryNewRegression))

	out := DailyFindings(result)

	assert.Contains(t, out, "# Daily Findings - 2026-08-29")
	assert.Contains(t, out, "- **Build**: [12345](https://buildkite.com/vllm/ci/builds/12345)")
	assert.Contains(t, out, "- **Commit**: `abc1234d`")
	assert.Contains(t, out, "**Total Jobs**: 3, **Failed**: 2 (1 hard / 1 soft)")
	assert.Contains(t, out, "**Unique Failures**: 1 (1 hard / 0 soft)")
}

func TestDailyFindings_HardFailureDetail(t *testing.T) {
	result := scanResult(t,
		classifiedFailure(t, "tests/test_engine.py::test_init", "Engine Test", triage.CategoryNewRegression))

	out := DailyFindings(result)

	assert.Contains(t, out, "## Hard Failures (blocking builds) (1)")
	assert.Contains(t, out, "### NEW_REGRESSION (1 failures)")
	assert.Contains(t, out, "- **tests/test_engine.py::test_init** in `Engine Test`")
	assert.Contains(t, out, "Error: `RuntimeError: engine core initialization failed`")
	assert.Contains(t, out, "Reason: no matching known issue")
	assert.Contains(t, out, "Confidence: 50%")
}

func TestDailyFindings_SoftFailuresCompact(t *testing.T) {
	result := scanResult(t,
		classifiedFailure(t, "tests/test_model.py::test_opt", "Optional Model Test", triage.CategoryFlakySuspected))

	out := DailyFindings(result)

	assert.Contains(t, out, "## Hard Failures (blocking builds) (0)")
	assert.Contains(t, out, "(none)")
	assert.Contains(t, out, "## Soft Failures (optional tests, allowed to fail) (1)")
	assert.Contains(t, out, "- **tests/test_model.py::test_opt** in `Optional Model Test`")
	// Compact entries carry no reason line.
	assert.NotContains(t, out, "Reason: no matching known issue")
}

func TestDailyFindings_PartialCoverageNote(t *testing.T) {
	result := scanResult(t)
	result.Partial = true
	result.Warnings = []string{"failed to fetch logs for Engine Test, skipped"}

	out := DailyFindings(result)

	assert.Contains(t, out, "partial, some job logs could not be fetched")
	assert.Contains(t, out, "## Warnings")
	assert.Contains(t, out, "failed to fetch logs for Engine Test, skipped")
}

func TestStandupSummary_FailedBuild(t *testing.T) {
	result := scanResult(t,
		classifiedFailure(t, "tests/test_engine.py::test_init", "Engine Test", triage.CategoryNewRegression),
		classifiedFailure(t, "tests/test_net.py::test_conn", "Engine Test", triage.CategoryInfraSuspected))

	out := StandupSummary(result)

	assert.Contains(t, out, "Nightly build [12345](https://buildkite.com/vllm/ci/builds/12345) FAILED")
	assert.Contains(t, out, "2 unique failures (2 hard / 0 soft)")
	assert.Contains(t, out, "1 NEW_REGRESSION")
	assert.Contains(t, out, "1 INFRA_SUSPECTED")
	assert.Contains(t, out, "Key NEW_REGRESSION tests: test_init")
}

func TestStandupSummary_PassedWithSoftFailures(t *testing.T) {
	result := scanResult(t,
		classifiedFailure(t, "tests/test_model.py::test_opt", "Optional Model Test", triage.CategoryFlakySuspected))
	result.Build.State = "passed"

	out := StandupSummary(result)

	assert.Contains(t, out, "PASSED with 1 soft-failed (optional) tests")
	assert.Contains(t, out, "1 FLAKY_SUSPECTED")
	assert.NotContains(t, out, "unique failures")
}

func TestTestHistorySummary(t *testing.T) {
	transition := 10

	entries := []history.Entry{
		{
			BuildNumber: 9, CommitSHA: "aaa1111bbb", BuildURL: "https://buildkite.com/vllm/ci/builds/9",
			TestFound: true, Status: logparse.StatusPass,
		},
		{
			BuildNumber: 10, CommitSHA: "bbb2222ccc", BuildURL: "https://buildkite.com/vllm/ci/builds/10",
			CreatedAt: time.Date(2026, 8, 27, 2, 0, 0, 0, time.UTC),
			TestFound: true, Status: logparse.StatusPass,
		},
		{
			BuildNumber: 11, CommitSHA: "ccc3333ddd", BuildURL: "https://buildkite.com/vllm/ci/builds/11",
			TestFound: true, Status: logparse.StatusFail,
			Fingerprints: []string{"RuntimeError: engine core died"},
		},
	}

	result := &scan.HistoryResult{
		TestID:   "tests/test_engine.py::test_init",
		Timeline: history.Timeline{Entries: entries},
		Assessment: history.Assessment{
			Classification:  history.ClassificationRegression,
			Confidence:      history.ConfidenceMedium,
			TransitionBuild: &transition,
			Notes:           []string{"fail rate jumped after build 10"},
		},
	}

	out := TestHistorySummary(result)

	assert.Contains(t, out, "## Test History: `tests/test_engine.py::test_init`")
	assert.Contains(t, out, "**Classification:** REGRESSION (confidence: MEDIUM)")
	assert.Contains(t, out, "- fail rate jumped after build 10")
	assert.Contains(t, out, "**Last passing build:**")
	assert.Contains(t, out, "- Build: [10](https://buildkite.com/vllm/ci/builds/10)")
	assert.Contains(t, out, "- Commit: bbb2222c")
	assert.Contains(t, out, "**Timeline summary:** 3 builds scanned")
	assert.Contains(t, out, "- Passed: 2")
	assert.Contains(t, out, "- Failed: 1")
	assert.Contains(t, out, "FAIL Build [11]")
}

func TestTestHistorySummary_NoFoundEntries(t *testing.T) {
	result := &scan.HistoryResult{
		TestID: "tests/test_engine.py::test_init",
		Timeline: history.Timeline{Entries: []history.Entry{
			{BuildNumber: 1, Status: logparse.StatusUnknown},
		}},
		Assessment: history.Assessment{
			Classification: history.ClassificationInsufficientData,
			Confidence:     history.ConfidenceLow,
		},
	}

	out := TestHistorySummary(result)

	assert.Contains(t, out, "INSUFFICIENT_DATA")
	assert.NotContains(t, out, "Timeline summary")
}
