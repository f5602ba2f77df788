package scan

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ciwatch-io/ciwatch/internal/buildkite"
	"github.com/ciwatch-io/ciwatch/internal/fingerprint"
	"github.com/ciwatch-io/ciwatch/internal/history"
	"github.com/ciwatch-io/ciwatch/internal/logparse"
)

// DefaultLookbackBuilds is how many recent builds a history scan examines
// when the caller does not say otherwise.
const DefaultLookbackBuilds = 50

type (
	// HistoryOptions controls a test history scan.
	HistoryOptions struct {
		// Branch restricts the scan to builds on one branch.
		Branch string

		// LookbackBuilds is how many recent builds to examine. Defaults
		// to DefaultLookbackBuilds.
		LookbackBuilds int

		// JobFilter restricts the search to jobs whose name contains
		// this substring, case-insensitively. Useful when the test only
		// runs in a known job.
		JobFilter string
	}

	// HistoryResult is the outcome of tracking one test across builds.
	HistoryResult struct {
		TestID     string             `json:"test_id"`
		Timeline   history.Timeline   `json:"timeline"`
		Assessment history.Assessment `json:"assessment"`
	}
)

// TestHistory tracks a test's outcome across recent builds on a branch and
// assesses the resulting timeline.
//
// The scan is budget-bounded: it downloads at most the configured log byte
// budget across all builds, prioritizing failed jobs within each build. When
// the budget runs out mid-scan the timeline is marked partial and the
// assessment confidence is downgraded accordingly.
func (s *Scanner) TestHistory(ctx context.Context, pipeline, testID string, opts HistoryOptions) (*HistoryResult, error) {
	lookback := opts.LookbackBuilds
	if lookback <= 0 {
		lookback = DefaultLookbackBuilds
	}

	builds, err := s.client.ListBuilds(ctx, pipeline, buildkite.ListBuildsOptions{
		Branch: opts.Branch,
		Limit:  lookback,
	})
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}

	if len(builds) == 0 {
		return nil, fmt.Errorf("no builds on branch %s: %w", opts.Branch, ErrNoBuilds)
	}

	// Oldest first so the timeline reads chronologically.
	sort.Slice(builds, func(i, j int) bool {
		return builds[i].Number < builds[j].Number
	})

	s.logger.Info("scanning test history",
		"pipeline", pipeline,
		"test", testID,
		"builds", len(builds))

	budget := logparse.NewBudget()

	var entries []history.Entry

	for _, build := range builds {
		if budget.Exhausted() {
			budget.AddWarning(fmt.Sprintf("stopped scanning after %d builds", len(entries)))

			break
		}

		entries = append(entries, s.findTestInBuild(ctx, pipeline, build, testID, opts.JobFilter, budget))
	}

	timeline := history.Timeline{
		Entries:  entries,
		Partial:  budget.Exhausted(),
		Warnings: budget.Warnings(),
	}

	return &HistoryResult{
		TestID:     testID,
		Timeline:   timeline,
		Assessment: history.Assess(timeline),
	}, nil
}

// findTestInBuild searches one build's job logs for the test. Failed jobs
// are searched first since they are the likeliest to contain the test when
// it failed; passed jobs are only consulted when the test was not found in
// any failed job.
func (s *Scanner) findTestInBuild(
	ctx context.Context,
	pipeline string,
	build buildkite.Build,
	testID, jobFilter string,
	budget *logparse.Budget,
) history.Entry {
	entry := history.Entry{
		BuildNumber: build.Number,
		CommitSHA:   build.Commit,
		BuildURL:    build.URL,
		CreatedAt:   build.CreatedAt,
		Status:      logparse.StatusUnknown,
	}

	detail, err := s.client.GetBuild(ctx, pipeline, build.Number)
	if err != nil {
		s.logger.Warn("build not accessible, skipping",
			"build", build.Number,
			"error", err)

		return entry
	}

	failed, passed := splitJobsByOutcome(filterJobsByName(detail.Jobs, jobFilter))

	// Failed jobs first, passed jobs filling the remaining slots.
	candidates := failed
	if len(candidates) > budget.MaxJobsPerBuild {
		candidates = candidates[:budget.MaxJobsPerBuild]
	}

	remaining := budget.MaxJobsPerBuild - len(candidates)
	if remaining > len(passed) {
		remaining = len(passed)
	}

	searchJobs := func(jobs []buildkite.Job) {
		for _, job := range jobs {
			if !budget.CanFetchLog(logparse.EstimatedLogSizePerJob) {
				return
			}

			logText, err := s.client.GetJobLog(ctx, pipeline, build.Number, job.ID)
			if err != nil {
				continue
			}

			budget.RecordLogFetch(len(logText))

			outcome := logparse.FindTestOutcome(logText, testID)
			if !outcome.Found {
				continue
			}

			entry.TestFound = true

			// Fail takes precedence over pass when the test ran in
			// several jobs.
			if outcome.Status == logparse.StatusFail {
				entry.Status = logparse.StatusFail
				entry.Fingerprints = append(entry.Fingerprints,
					fingerprint.NormalizeMessage(outcome.ErrorMessage))
			} else if entry.Status == logparse.StatusUnknown {
				entry.Status = outcome.Status
			}
		}
	}

	searchJobs(candidates)

	if !entry.TestFound && !budget.Exhausted() {
		searchJobs(passed[:remaining])
	}

	return entry
}

func splitJobsByOutcome(jobs []buildkite.Job) (failed, passed []buildkite.Job) {
	for _, job := range jobs {
		switch {
		case job.Failed():
			failed = append(failed, job)
		case job.Passed:
			passed = append(passed, job)
		}
	}

	return failed, passed
}

func filterJobsByName(jobs []buildkite.Job, filter string) []buildkite.Job {
	if filter == "" {
		return jobs
	}

	filter = strings.ToLower(filter)

	matched := make([]buildkite.Job, 0, len(jobs))

	for _, job := range jobs {
		if strings.Contains(strings.ToLower(job.Name), filter) {
			matched = append(matched, job)
		}
	}

	return matched
}
