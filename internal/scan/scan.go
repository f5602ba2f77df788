// Package scan orchestrates the triage pipeline for CI builds: it fetches
// build and job data from Buildkite, extracts test failures from job logs,
// deduplicates them, classifies each unique failure, and attributes owners.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ciwatch-io/ciwatch/internal/buildkite"
	"github.com/ciwatch-io/ciwatch/internal/logparse"
	"github.com/ciwatch-io/ciwatch/internal/owners"
	"github.com/ciwatch-io/ciwatch/internal/triage"
)

// Sentinel errors for scan operations.
var (
	// ErrNoBuilds indicates no builds matched the scan criteria.
	ErrNoBuilds = errors.New("no builds found")
)

// Scan limits.
const (
	// DefaultMaxFailedJobs caps how many failed jobs a single build scan
	// downloads logs for.
	DefaultMaxFailedJobs = 10

	// nightlyListLimit is how many recent builds are examined when looking
	// for the latest nightly build.
	nightlyListLimit = 30
)

type (
	// BuildClient is the subset of the Buildkite client the scanner needs.
	BuildClient interface {
		ListBuilds(ctx context.Context, pipeline string, opts buildkite.ListBuildsOptions) ([]buildkite.Build, error)
		GetBuild(ctx context.Context, pipeline string, buildNumber int) (*buildkite.Build, error)
		GetJobLog(ctx context.Context, pipeline string, buildNumber int, jobID string) (string, error)
	}

	// Scanner runs the parse, deduplicate, classify, attribute pipeline
	// against builds fetched through a BuildClient.
	Scanner struct {
		client        BuildClient
		inputs        triage.Inputs
		resolver      *owners.Resolver
		logger        *slog.Logger
		maxFailedJobs int
	}

	// Option configures a Scanner.
	Option func(*Scanner)

	// BuildSummary carries the build metadata attached to a scan result.
	BuildSummary struct {
		Number     int        `json:"build_number"`
		URL        string     `json:"build_url"`
		Pipeline   string     `json:"pipeline"`
		Branch     string     `json:"branch"`
		Commit     string     `json:"commit"`
		State      string     `json:"state"`
		CreatedAt  time.Time  `json:"created_at"`
		FinishedAt *time.Time `json:"finished_at,omitempty"`
	}

	// JobSummary carries per-job state for report rendering, notably
	// whether the job was allowed to fail.
	JobSummary struct {
		Name       string `json:"job_name"`
		State      string `json:"state"`
		Passed     bool   `json:"passed"`
		SoftFailed bool   `json:"soft_failed"`
	}

	// Result is the complete outcome of scanning one build.
	Result struct {
		Build       BuildSummary                  `json:"build_info"`
		Jobs        []JobSummary                  `json:"jobs,omitempty"`
		TotalJobs   int                           `json:"total_jobs"`
		FailedJobs  int                           `json:"failed_jobs"`
		Failures    []*triage.DeduplicatedFailure `json:"failures"`
		Suggestions []triage.SuggestedPattern     `json:"suggested_patterns,omitempty"`
		Partial     bool                          `json:"partial"`
		Warnings    []string                      `json:"warnings,omitempty"`
		ScannedAt   time.Time                     `json:"scan_timestamp"`
	}
)

var _ BuildClient = (*buildkite.Client)(nil)

// WithClassifierInputs sets the known-issue index and classification
// patterns used for triage.
func WithClassifierInputs(inputs triage.Inputs) Option {
	return func(s *Scanner) {
		s.inputs = inputs
	}
}

// WithOwnerResolver enables owner attribution on classified failures.
func WithOwnerResolver(resolver *owners.Resolver) Option {
	return func(s *Scanner) {
		s.resolver = resolver
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithMaxFailedJobs overrides the per-build failed-job processing cap.
func WithMaxFailedJobs(limit int) Option {
	return func(s *Scanner) {
		if limit > 0 {
			s.maxFailedJobs = limit
		}
	}
}

// NewScanner creates a Scanner backed by the given build client.
func NewScanner(client BuildClient, opts ...Option) *Scanner {
	s := &Scanner{
		client:        client,
		logger:        slog.Default(),
		maxFailedJobs: DefaultMaxFailedJobs,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ScanLatestNightly finds the most recent nightly build on a branch and
// scans it.
//
// Returns ErrNoBuilds when the branch has no nightly builds among its recent
// history.
func (s *Scanner) ScanLatestNightly(ctx context.Context, pipeline, branch string) (*Result, error) {
	builds, err := s.client.ListBuilds(ctx, pipeline, buildkite.ListBuildsOptions{
		Branch: branch,
		Limit:  nightlyListLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}

	for _, build := range builds {
		if strings.Contains(strings.ToLower(build.Message), "nightly") {
			s.logger.Info("found latest nightly build",
				"pipeline", pipeline,
				"branch", branch,
				"build", build.Number)

			return s.ScanBuild(ctx, pipeline, build.Number)
		}
	}

	return nil, fmt.Errorf("no nightly builds on branch %s: %w", branch, ErrNoBuilds)
}

// ScanBuild runs the full triage pipeline against one build.
//
// Log fetch failures for individual jobs do not abort the scan; affected jobs
// are skipped, the result is marked partial, and a warning is recorded.
func (s *Scanner) ScanBuild(ctx context.Context, pipeline string, buildNumber int) (*Result, error) {
	build, err := s.client.GetBuild(ctx, pipeline, buildNumber)
	if err != nil {
		return nil, fmt.Errorf("fetch build: %w", err)
	}

	failedJobs := filterFailedJobs(build.Jobs)

	s.logger.Info("scanning build",
		"pipeline", pipeline,
		"build", build.Number,
		"total_jobs", len(build.Jobs),
		"failed_jobs", len(failedJobs))

	result := &Result{
		Build:      buildSummary(pipeline, build),
		Jobs:       summarizeJobs(build.Jobs),
		TotalJobs:  len(build.Jobs),
		FailedJobs: len(failedJobs),
		ScannedAt:  time.Now().UTC(),
	}

	process := failedJobs
	if len(process) > s.maxFailedJobs {
		process = process[:s.maxFailedJobs]
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("processing first %d of %d failed jobs", s.maxFailedJobs, len(failedJobs)))
	}

	var records []logparse.FailureRecord

	for _, job := range process {
		logText, err := s.client.GetJobLog(ctx, pipeline, build.Number, job.ID)
		if err != nil {
			s.logger.Warn("log fetch failed, skipping job",
				"job", job.Name,
				"error", err)

			result.Partial = true
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("failed to fetch logs for %s, skipped", job.Name))

			continue
		}

		extracted := logparse.ExtractFailures(logText, job.Name)
		records = append(records, extracted...)

		s.logger.Debug("extracted failures from job",
			"job", job.Name,
			"failures", len(extracted))
	}

	result.Failures = s.triageFailures(records)
	result.Suggestions = triage.SuggestPatterns(result.Failures)

	s.logger.Info("scan complete",
		"build", build.Number,
		"raw_failures", len(records),
		"unique_failures", len(result.Failures))

	return result, nil
}

// triageFailures deduplicates raw failure records, classifies each unique
// failure, and attributes an owner when a resolver is configured. Results
// are ordered by test ID, then job name.
func (s *Scanner) triageFailures(records []logparse.FailureRecord) []*triage.DeduplicatedFailure {
	deduplicated := triage.Deduplicate(records)

	failures := make([]*triage.DeduplicatedFailure, 0, len(deduplicated))

	for _, failure := range deduplicated {
		classification := triage.Classify(failure, s.inputs)

		// The failure came straight out of Deduplicate, so it cannot be
		// classified yet.
		_ = failure.SetClassification(classification)

		if s.resolver != nil {
			if resolution, ok := s.resolver.Resolve(failure.TestID); ok {
				failure.Owner = &triage.OwnerRef{
					Owner:      resolution.Owner,
					Confidence: resolution.Confidence,
				}
			}
		}

		failures = append(failures, failure)
	}

	sort.Slice(failures, func(i, j int) bool {
		if failures[i].TestID != failures[j].TestID {
			return failures[i].TestID < failures[j].TestID
		}

		return failures[i].JobName < failures[j].JobName
	})

	return failures
}

func filterFailedJobs(jobs []buildkite.Job) []buildkite.Job {
	failed := make([]buildkite.Job, 0, len(jobs))

	for _, job := range jobs {
		if job.Failed() {
			failed = append(failed, job)
		}
	}

	return failed
}

func summarizeJobs(jobs []buildkite.Job) []JobSummary {
	summaries := make([]JobSummary, 0, len(jobs))

	for _, job := range jobs {
		summaries = append(summaries, JobSummary{
			Name:       job.Name,
			State:      job.State,
			Passed:     job.Passed,
			SoftFailed: job.SoftFailed,
		})
	}

	return summaries
}

func buildSummary(pipeline string, build *buildkite.Build) BuildSummary {
	return BuildSummary{
		Number:     build.Number,
		URL:        build.URL,
		Pipeline:   pipeline,
		Branch:     build.Branch,
		Commit:     build.Commit,
		State:      build.State,
		CreatedAt:  build.CreatedAt,
		FinishedAt: build.FinishedAt,
	}
}
