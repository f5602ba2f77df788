// Package report renders scan and history results as markdown for humans:
// the detailed daily findings report, the one-line standup summary, and the
// per-test history summary.
package report

import (
	"fmt"
	"strings"

	"github.com/ciwatch-io/ciwatch/internal/history"
	"github.com/ciwatch-io/ciwatch/internal/logparse"
	"github.com/ciwatch-io/ciwatch/internal/scan"
	"github.com/ciwatch-io/ciwatch/internal/triage"
)

// errorPreviewLength bounds error messages shown inline in reports.
const errorPreviewLength = 100

// maxRecentBuilds is how many timeline entries the history summary lists.
const maxRecentBuilds = 5

// maxKeyRegressions caps the regression tests named in the standup line.
const maxKeyRegressions = 3

// categoryOrder fixes the rendering order, most actionable first.
var categoryOrder = []triage.Category{
	triage.CategoryNewRegression,
	triage.CategoryFlakySuspected,
	triage.CategoryInfraSuspected,
	triage.CategoryKnownTracked,
	triage.CategoryNeedsHumanTriage,
}

// summaryCategories are the categories called out in standup counts.
var summaryCategories = []triage.Category{
	triage.CategoryNewRegression,
	triage.CategoryFlakySuspected,
	triage.CategoryInfraSuspected,
}

// DailyFindings renders the detailed daily report for one build scan. Hard
// failures come first with full detail; soft failures (from jobs allowed to
// fail) follow in compact form.
func DailyFindings(result *scan.Result) string {
	var b strings.Builder

	hard, soft := splitBySoftness(result)
	hardJobs, softJobs := countFailedJobs(result)

	fmt.Fprintf(&b, "# Daily Findings - %s\n\n", result.ScannedAt.Format("2006-01-02"))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Build**: [%d](%s)\n", result.Build.Number, result.Build.URL)
	fmt.Fprintf(&b, "- **Branch**: %s\n", result.Build.Branch)
	fmt.Fprintf(&b, "- **Commit**: `%s`\n", shortCommit(result.Build.Commit))
	fmt.Fprintf(&b, "- **Total Jobs**: %d, **Failed**: %d (%d hard / %d soft)\n",
		result.TotalJobs, result.FailedJobs, hardJobs, softJobs)
	fmt.Fprintf(&b, "- **Unique Failures**: %d (%d hard / %d soft)\n",
		len(result.Failures), len(hard), len(soft))

	if result.Build.State == "passed" && len(soft) > 0 && len(hard) == 0 {
		b.WriteString("- **Build Status**: PASSED (all failures are optional)\n")
	}

	if result.Partial {
		b.WriteString("- **Coverage**: partial, some job logs could not be fetched\n")
	}

	b.WriteString("\n")

	renderFailureSection(&b, hard, "Hard Failures (blocking builds)", false)
	renderFailureSection(&b, soft, "Soft Failures (optional tests, allowed to fail)", true)

	if len(result.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")

		for _, warning := range result.Warnings {
			fmt.Fprintf(&b, "- %s\n", warning)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// StandupSummary renders a one-to-two line summary suitable for pasting into
// a standup update.
func StandupSummary(result *scan.Result) string {
	hard, soft := splitBySoftness(result)

	var b strings.Builder

	if result.Build.State == "passed" && len(soft) > 0 && len(hard) == 0 {
		fmt.Fprintf(&b, "Nightly build [%d](%s) PASSED with %d soft-failed (optional) tests",
			result.Build.Number, result.Build.URL, len(soft))

		if counts := categoryCounts(soft); counts != "" {
			b.WriteString(": " + counts)
		}
	} else {
		fmt.Fprintf(&b, "Nightly build [%d](%s) %s with %d unique failures (%d hard / %d soft)",
			result.Build.Number, result.Build.URL,
			strings.ToUpper(result.Build.State), len(result.Failures), len(hard), len(soft))

		if counts := categoryCounts(hard); counts != "" {
			b.WriteString(": " + counts + ".")
		}
	}

	if regressions := keyRegressions(hard); len(regressions) > 0 {
		fmt.Fprintf(&b, " Key NEW_REGRESSION tests: %s", strings.Join(regressions, ", "))
	}

	return b.String()
}

// TestHistorySummary renders the assessment of one test's timeline.
func TestHistorySummary(result *scan.HistoryResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Test History: `%s`\n\n", result.TestID)
	fmt.Fprintf(&b, "**Classification:** %s (confidence: %s)\n\n",
		result.Assessment.Classification, result.Assessment.Confidence)

	if len(result.Assessment.Notes) > 0 {
		b.WriteString("**Analysis:**\n")

		for _, note := range result.Assessment.Notes {
			fmt.Fprintf(&b, "- %s\n", note)
		}

		b.WriteString("\n")
	}

	if result.Assessment.TransitionBuild != nil {
		renderTransition(&b, *result.Assessment.TransitionBuild, result.Timeline.Entries)
	}

	renderTimelineSummary(&b, result.Timeline.Entries)

	if len(result.Timeline.Warnings) > 0 {
		b.WriteString("**Warnings:**\n")

		for _, warning := range result.Timeline.Warnings {
			fmt.Fprintf(&b, "- %s\n", warning)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderFailureSection(b *strings.Builder, failures []*triage.DeduplicatedFailure, title string, compact bool) {
	fmt.Fprintf(b, "## %s (%d)\n\n", title, len(failures))

	if len(failures) == 0 {
		b.WriteString("(none)\n\n")

		return
	}

	grouped := make(map[triage.Category][]*triage.DeduplicatedFailure)
	for _, failure := range failures {
		grouped[failure.Category()] = append(grouped[failure.Category()], failure)
	}

	for _, category := range categoryOrder {
		group := grouped[category]
		if len(group) == 0 {
			continue
		}

		fmt.Fprintf(b, "### %s (%d failures)\n\n", category, len(group))

		for _, failure := range group {
			if compact {
				renderCompactFailure(b, failure)
			} else {
				renderDetailedFailure(b, failure)
			}
		}

		b.WriteString("\n")
	}
}

func renderDetailedFailure(b *strings.Builder, failure *triage.DeduplicatedFailure) {
	fmt.Fprintf(b, "- **%s** in `%s`\n", failure.TestID, failure.JobName)

	if message := failureErrorMessage(failure); message != "" {
		fmt.Fprintf(b, "  - Error: `%s`\n", previewError(message))
	}

	if n := len(failure.Occurrences); n > 1 {
		fmt.Fprintf(b, "  - Occurrences: %d\n", n)
	}

	if c := failure.Classification; c != nil {
		fmt.Fprintf(b, "  - Reason: %s\n", c.Reason)
		fmt.Fprintf(b, "  - Confidence: %.0f%%\n", c.Confidence*100)

		if c.IssueURL != "" {
			fmt.Fprintf(b, "  - Tracked: %s\n", c.IssueURL)
		}
	}

	if failure.Owner != nil {
		fmt.Fprintf(b, "  - Owner: %s (confidence: %.0f%%)\n",
			failure.Owner.Owner, failure.Owner.Confidence*100)
	}
}

func renderCompactFailure(b *strings.Builder, failure *triage.DeduplicatedFailure) {
	issue := ""
	if c := failure.Classification; c != nil && c.IssueURL != "" {
		issue = fmt.Sprintf(" - [%s](%s)", c.IssueURL, c.IssueURL)
	}

	fmt.Fprintf(b, "- **%s** in `%s`%s\n", failure.TestID, failure.JobName, issue)
}

func renderTransition(b *strings.Builder, transitionBuild int, entries []history.Entry) {
	for _, entry := range entries {
		if entry.BuildNumber != transitionBuild {
			continue
		}

		b.WriteString("**Last passing build:**\n")
		fmt.Fprintf(b, "- Build: [%d](%s)\n", transitionBuild, entry.BuildURL)
		fmt.Fprintf(b, "- Commit: %s\n", shortCommit(entry.CommitSHA))

		if !entry.CreatedAt.IsZero() {
			fmt.Fprintf(b, "- Time: %s\n", entry.CreatedAt.Format("2006-01-02 15:04 MST"))
		}

		b.WriteString("\n")

		return
	}
}

func renderTimelineSummary(b *strings.Builder, entries []history.Entry) {
	var found []history.Entry

	passed, failed := 0, 0

	for _, entry := range entries {
		if !entry.TestFound {
			continue
		}

		found = append(found, entry)

		switch entry.Status {
		case logparse.StatusPass:
			passed++
		case logparse.StatusFail:
			failed++
		}
	}

	if len(found) == 0 {
		return
	}

	fmt.Fprintf(b, "**Timeline summary:** %d builds scanned\n", len(found))
	fmt.Fprintf(b, "- Passed: %d\n", passed)
	fmt.Fprintf(b, "- Failed: %d\n\n", failed)

	b.WriteString("**Recent builds:**\n")

	recent := found
	if len(recent) > maxRecentBuilds {
		recent = recent[len(recent)-maxRecentBuilds:]
	}

	// Newest first.
	for i := len(recent) - 1; i >= 0; i-- {
		entry := recent[i]

		marker := "FAIL"
		if entry.Status == logparse.StatusPass {
			marker = "PASS"
		}

		fmt.Fprintf(b, "- %s Build [%d](%s) (commit %s)\n",
			marker, entry.BuildNumber, entry.BuildURL, shortCommit(entry.CommitSHA))
	}
}

// splitBySoftness partitions failures by whether their job was allowed to
// fail. Without job data everything counts as hard.
func splitBySoftness(result *scan.Result) (hard, soft []*triage.DeduplicatedFailure) {
	softJobs := make(map[string]bool, len(result.Jobs))
	for _, job := range result.Jobs {
		if job.SoftFailed {
			softJobs[job.Name] = true
		}
	}

	for _, failure := range result.Failures {
		if softJobs[failure.JobName] {
			soft = append(soft, failure)
		} else {
			hard = append(hard, failure)
		}
	}

	return hard, soft
}

func countFailedJobs(result *scan.Result) (hard, soft int) {
	if len(result.Jobs) == 0 {
		return result.FailedJobs, 0
	}

	for _, job := range result.Jobs {
		if job.Passed {
			continue
		}

		switch {
		case job.SoftFailed:
			soft++
		case job.State == "failed" || job.State == "broken" || job.State == "timed_out" || job.State == "canceled":
			hard++
		}
	}

	return hard, soft
}

func categoryCounts(failures []*triage.DeduplicatedFailure) string {
	counts := make(map[triage.Category]int)
	for _, failure := range failures {
		counts[failure.Category()]++
	}

	var parts []string

	for _, category := range summaryCategories {
		if counts[category] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[category], category))
		}
	}

	return strings.Join(parts, ", ")
}

func keyRegressions(failures []*triage.DeduplicatedFailure) []string {
	var names []string

	for _, failure := range failures {
		if failure.Category() != triage.CategoryNewRegression {
			continue
		}

		names = append(names, testName(failure.TestID))

		if len(names) == maxKeyRegressions {
			break
		}
	}

	return names
}

// testName returns the bare test name from a pytest node ID.
func testName(testID string) string {
	if idx := strings.LastIndex(testID, "::"); idx >= 0 {
		return testID[idx+2:]
	}

	return testID
}

func failureErrorMessage(failure *triage.DeduplicatedFailure) string {
	if len(failure.Occurrences) == 0 {
		return ""
	}

	first := failure.Occurrences[0]
	if first.ErrorType != "" && first.ErrorMessage != "" {
		return first.ErrorType + ": " + first.ErrorMessage
	}

	if first.ErrorMessage != "" {
		return first.ErrorMessage
	}

	return first.ErrorType
}

func previewError(message string) string {
	if len(message) > errorPreviewLength {
		return message[:errorPreviewLength] + "..."
	}

	return message
}

func shortCommit(sha string) string {
	if sha == "" {
		return "unknown"
	}

	if len(sha) > 8 {
		return sha[:8]
	}

	return sha
}
