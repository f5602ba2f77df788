// Package logparse extracts structured test failures from raw CI job logs.
//
// The parser understands pytest-style output ("path::test[params] FAILED" in
// either column order, failure sections delimited by underscore runs, and the
// "short test summary info" block) and tolerates truncated or non-standard
// logs: unparseable segments are skipped, never fatal. When no per-test
// output can be recognized at all, a single job-level failure record is
// produced so the job is still visible downstream.
//
// All functions are pure transforms over the supplied text. Resource limits
// for multi-job scans are tracked by a Budget supplied by the caller.
package logparse

import (
	"regexp"
	"strings"
)

// Status is the outcome of a test in one build's logs.
type Status string

// Test outcome statuses.
const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusUnknown Status = "unknown"
)

// Parsing limits. Excerpts are bounded to cap memory use and downstream
// report size; oversized content is truncated, never rejected.
const (
	MaxLogExcerptLength   = 500
	MaxErrorMessageLength = 200

	// JobLevelFailureMessage is the error message attached to the synthetic
	// record emitted when a failed job produced no recognizable test output.
	JobLevelFailureMessage = "job failed without pytest test names"
)

// FailureRecord is one observed test failure inside one job's log.
// Immutable after creation.
type FailureRecord struct {
	// TestID is the canonical test identifier: file path, test name and
	// parametrization suffix (e.g. "tests/test_foo.py::test_bar[cuda]").
	TestID string

	// JobName is the raw job label as reported by the build system.
	JobName string

	// ErrorType is the exception or assertion class name. May be empty when
	// no signature line could be recognized.
	ErrorType string

	// ErrorMessage is the first line of the failure detail, bounded to
	// MaxErrorMessageLength.
	ErrorMessage string

	// LogExcerpt is a bounded raw text snippet retained for display.
	LogExcerpt string
}

// Outcome is the result of searching a single job log for one specific test.
type Outcome struct {
	Found        bool
	Status       Status
	ErrorMessage string
	LogExcerpt   string
}

var (
	// ansiEscapePattern strips terminal color codes, with or without the
	// leading ESC byte (truncated logs sometimes lose it).
	ansiEscapePattern = regexp.MustCompile(`\x1b\[[0-9;]*m|\[[0-9;]*m`)

	// bkTimestampPattern strips Buildkite inline timestamp markers.
	bkTimestampPattern = regexp.MustCompile(`_bk;t=[0-9]+\x07`)

	// Failure lines appear in two layouts depending on pytest version and
	// flags: "FAILED path::test" and "path::test FAILED". ANSI codes may sit
	// between the columns. One of the two capture groups is always empty.
	failedPattern = regexp.MustCompile(`(?m)(?:FAILED[\s\x1b\[0-9;m]+([\w/.-]+::\S+)|([\w/.-]+::\S+)[\s\x1b\[0-9;m]+FAILED)`)
	errorPattern  = regexp.MustCompile(`(?m)(?:ERROR[\s\x1b\[0-9;m]+([\w/.-]+::\S+)|([\w/.-]+::\S+)[\s\x1b\[0-9;m]+ERROR)`)

	// shortSummaryPattern locates the "short test summary info" section that
	// pytest prints at the end of a run.
	shortSummaryPattern = regexp.MustCompile(`(?ms)={3,}\s*short test summary info\s*={3,}(.*?)(?:={3,}|\z)`)

	// summaryLinePattern extracts FAILED/ERROR entries inside the summary.
	summaryLinePattern = regexp.MustCompile(`(?m)^(?:FAILED|ERROR)\s+([\w/.-]+::\S+)`)

	// errorSignaturePatterns recognize the exception line of a traceback.
	// Evaluated in order; the generic \w+Error rule comes first so specific
	// classes (AssertionError, RuntimeError, ...) share one code path, with
	// non-"Error" suffixed exceptions covered by the later rules.
	errorSignaturePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\w+Error): (.+?)(?:\n|$)`),
		regexp.MustCompile(`(\w+Exception): (.+?)(?:\n|$)`),
		regexp.MustCompile(`(Timeout|KeyboardInterrupt|SystemExit): (.+?)(?:\n|$)`),
	}
)

// StripANSI removes ANSI escape codes and Buildkite timestamp markers.
func StripANSI(text string) string {
	text = ansiEscapePattern.ReplaceAllString(text, "")

	return bkTimestampPattern.ReplaceAllString(text, "")
}

// ExtractFailures parses a job log and returns one FailureRecord per failed
// or errored test, in first-seen order.
//
// Strategy:
//  1. Collect FAILED and ERROR test node IDs (both pytest layouts)
//  2. Fall back to the "short test summary info" section
//  3. If nothing pytest-shaped is found, return a single job-level record
//
// For each test, the underscore-delimited failure section is searched for an
// exception signature line and a bounded excerpt. Logs that defeat every
// heuristic still produce records; missing detail fields stay empty.
func ExtractFailures(logText, jobName string) []FailureRecord {
	testIDs := collectFailedTests(logText)

	if len(testIDs) == 0 {
		return []FailureRecord{jobLevelFailure(logText, jobName)}
	}

	failures := make([]FailureRecord, 0, len(testIDs))

	for _, testID := range testIDs {
		record := FailureRecord{TestID: testID, JobName: jobName}

		section, ok := failureSection(logText, testID)
		if ok {
			record.ErrorType, record.ErrorMessage = extractErrorSignature(section)
			record.LogExcerpt = truncate(section, MaxLogExcerptLength)
		} else if excerpt, found := testContext(logText, testID); found {
			record.LogExcerpt = truncate(excerpt, MaxLogExcerptLength)
		}

		if record.ErrorType == "" && record.ErrorMessage == "" {
			if detail, found := summaryFailureDetail(logText, testID); found {
				record.ErrorType, record.ErrorMessage = extractErrorSignature(detail)
				if record.ErrorType == "" {
					record.ErrorMessage = truncate(detail, MaxErrorMessageLength)
				}
			}
		}

		failures = append(failures, record)
	}

	return failures
}

// FindTestOutcome searches a job log for one specific test and reports
// whether it passed, failed, or was not found.
func FindTestOutcome(logText, testID string) Outcome {
	escaped := regexp.QuoteMeta(testID)

	for _, verb := range []string{"FAILED", "ERROR"} {
		pattern := regexp.MustCompile(`(?m)(?:^` + verb + ` ` + escaped + `|^` + escaped + `\s+` + verb + `)`)
		if !pattern.MatchString(logText) {
			continue
		}

		outcome := Outcome{Found: true, Status: StatusFail}

		// Reuse the failure extractor to pick up error detail when present.
		for _, failure := range ExtractFailures(logText, "") {
			if failure.TestID == testID {
				outcome.ErrorMessage = failure.ErrorMessage
				if failure.ErrorType != "" {
					outcome.ErrorMessage = failure.ErrorType + ": " + failure.ErrorMessage
				}

				outcome.LogExcerpt = failure.LogExcerpt

				break
			}
		}

		return outcome
	}

	passedPattern := regexp.MustCompile(`(?m)(?:^PASSED ` + escaped + `|^` + escaped + `\s+PASSED)`)
	if passedPattern.MatchString(logText) {
		return Outcome{Found: true, Status: StatusPass}
	}

	return Outcome{Status: StatusUnknown}
}

// collectFailedTests returns FAILED and ERROR node IDs in discovery order,
// de-duplicated, with ANSI noise stripped from captures.
func collectFailedTests(logText string) []string {
	var raw []string

	for _, pattern := range []*regexp.Regexp{failedPattern, errorPattern} {
		for _, match := range pattern.FindAllStringSubmatch(logText, -1) {
			if match[1] != "" {
				raw = append(raw, StripANSI(match[1]))
			} else {
				raw = append(raw, StripANSI(match[2]))
			}
		}
	}

	seen := make(map[string]struct{}, len(raw))
	unique := make([]string, 0, len(raw))

	for _, testID := range raw {
		if _, ok := seen[testID]; ok {
			continue
		}

		seen[testID] = struct{}{}
		unique = append(unique, testID)
	}

	if len(unique) > 0 {
		return unique
	}

	// Fallback: the summary section survives even when per-test progress
	// lines were truncated away.
	summary := shortSummaryPattern.FindStringSubmatch(logText)
	if summary == nil {
		return nil
	}

	for _, line := range summaryLinePattern.FindAllStringSubmatch(summary[1], -1) {
		testID := line[1]
		if _, ok := seen[testID]; ok {
			continue
		}

		seen[testID] = struct{}{}
		unique = append(unique, testID)
	}

	return unique
}

// jobLevelFailure builds the synthetic record for a failed job whose log
// contains no recognizable pytest output. The excerpt keeps the log tail,
// where the terminal error usually is.
func jobLevelFailure(logText, jobName string) FailureRecord {
	excerpt := logText
	if len(excerpt) > MaxLogExcerptLength {
		excerpt = excerpt[len(excerpt)-MaxLogExcerptLength:]
	}

	return FailureRecord{
		TestID:       jobName,
		JobName:      jobName,
		ErrorMessage: JobLevelFailureMessage,
		LogExcerpt:   excerpt,
	}
}

// failureSection extracts the per-test section pytest delimits with runs of
// underscores. The banner usually carries only the bare test name (the last
// "::" segment of the node id), but full node ids show up in some plugin
// output, so both forms are tried.
func failureSection(logText, testID string) (string, bool) {
	candidates := []string{testID}
	if idx := strings.LastIndex(testID, "::"); idx >= 0 {
		candidates = append(candidates, testID[idx+2:])
	}

	for _, name := range candidates {
		escaped := regexp.QuoteMeta(name)

		pattern, err := regexp.Compile(`(?s)_{10,}\s+` + escaped + `\s+_{10,}(.*?)(?:_{10,}|\z)`)
		if err != nil {
			continue
		}

		if match := pattern.FindStringSubmatch(logText); match != nil {
			return match[1], true
		}
	}

	return "", false
}

// summaryFailureDetail pulls the "- Error: message" suffix pytest appends to
// entries in the short test summary section. Used when no underscore-banner
// section survives for the test (truncated logs, -q runs).
func summaryFailureDetail(logText, testID string) (string, bool) {
	escaped := regexp.QuoteMeta(testID)

	pattern, err := regexp.Compile(`(?m)^(?:FAILED|ERROR)\s+` + escaped + `\s+-\s+(.+)$`)
	if err != nil {
		return "", false
	}

	match := pattern.FindStringSubmatch(logText)
	if match == nil {
		return "", false
	}

	return strings.TrimSpace(match[1]), true
}

// testContext grabs a few lines surrounding the test id when no delimited
// section exists.
func testContext(logText, testID string) (string, bool) {
	idx := strings.Index(logText, testID)
	if idx < 0 {
		return "", false
	}

	end := idx
	for lines := 0; end < len(logText) && lines < 10; end++ {
		if logText[end] == '\n' {
			lines++
		}
	}

	return logText[idx:end], true
}

// extractErrorSignature finds the exception class and first message line in
// a failure section. Both return values are empty when nothing matches.
func extractErrorSignature(section string) (errorType, errorMessage string) {
	for _, pattern := range errorSignaturePatterns {
		match := pattern.FindStringSubmatch(section)
		if match == nil {
			continue
		}

		return match[1], truncate(strings.TrimSpace(match[2]), MaxErrorMessageLength)
	}

	return "", ""
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit]
}
