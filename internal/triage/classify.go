package triage

import (
	"regexp"
	"strings"

	"github.com/ciwatch-io/ciwatch/internal/logparse"
)

type (
	// Pattern is one curated matching rule with a short description used in
	// classification reasons.
	Pattern struct {
		Expr        *regexp.Regexp
		Description string
	}

	// IssueMatch is a known-issue lookup hit.
	IssueMatch struct {
		URL        string
		Title      string
		Confidence float64
		Reason     string
	}

	// IssueIndex looks up open tracked issues by test id or fingerprint.
	// Implementations are optional collaborators: a nil IssueIndex simply
	// disables the KNOWN_TRACKED rule.
	IssueIndex interface {
		Match(testID, failureFingerprint string) (IssueMatch, bool)
	}

	// Inputs carries the optional side inputs consulted by Classify. The
	// zero value is valid and degrades every rule to its fallback.
	Inputs struct {
		KnownIssues   IssueIndex
		InfraPatterns []Pattern
		FlakyPatterns []Pattern
	}

	// rule is one predicate-to-label entry of the classification table.
	rule struct {
		category Category
		apply    func(d *DeduplicatedFailure, in Inputs) (Classification, bool)
	}
)

// classificationRules is the priority-ordered rule table. Evaluation walks
// the table top to bottom and stops at the first rule that fires; the final
// rule always fires. The ordering is part of the contract: known-issue and
// infra signals suppress weaker guesses.
var classificationRules = []rule{
	{CategoryKnownTracked, matchKnownIssue},
	{CategoryInfraSuspected, matchInfraPattern},
	{CategoryFlakySuspected, matchFlakyIndicator},
	{CategoryNewRegression, matchNewRegression},
	{CategoryNeedsHumanTriage, matchFallback},
}

// Classify applies the rule table to a deduplicated failure.
//
// Never errors and never panics on missing side inputs: an empty or nil
// issue index and empty pattern lists fall through to NEW_REGRESSION or
// NEEDS_HUMAN_TRIAGE.
func Classify(d *DeduplicatedFailure, in Inputs) Classification {
	for _, r := range classificationRules {
		if c, ok := r.apply(d, in); ok {
			return c
		}
	}

	// Unreachable: matchFallback always fires. Kept so the function is
	// total even if the table is edited.
	return Classification{
		Category:   CategoryNeedsHumanTriage,
		Confidence: needsTriageConfidence,
		Reason:     "no classification rule fired",
	}
}

func matchKnownIssue(d *DeduplicatedFailure, in Inputs) (Classification, bool) {
	if in.KnownIssues == nil {
		return Classification{}, false
	}

	match, ok := in.KnownIssues.Match(d.TestID, d.Fingerprint)
	if !ok || match.Confidence < MinMatchConfidence {
		return Classification{}, false
	}

	return Classification{
		Category:   CategoryKnownTracked,
		Confidence: match.Confidence,
		Reason:     match.Reason,
		IssueURL:   match.URL,
	}, true
}

func matchInfraPattern(d *DeduplicatedFailure, in Inputs) (Classification, bool) {
	combined := d.combinedText()

	for _, pattern := range in.InfraPatterns {
		if pattern.Expr.MatchString(combined) {
			return Classification{
				Category:   CategoryInfraSuspected,
				Confidence: infraConfidence,
				Reason:     "infrastructure issue detected: " + pattern.Description,
			}, true
		}
	}

	return Classification{}, false
}

func matchFlakyIndicator(d *DeduplicatedFailure, in Inputs) (Classification, bool) {
	combined := d.combinedText()

	for _, pattern := range in.FlakyPatterns {
		if pattern.Expr.MatchString(d.TestID) || pattern.Expr.MatchString(combined) {
			return Classification{
				Category:   CategoryFlakySuspected,
				Confidence: flakyConfidence,
				Reason:     "flaky test indicator: " + pattern.Description,
			}, true
		}
	}

	return Classification{}, false
}

func matchNewRegression(d *DeduplicatedFailure, _ Inputs) (Classification, bool) {
	if first := d.firstOccurrence(); first.ErrorMessage == "" {
		return Classification{}, false
	}

	return Classification{
		Category:   CategoryNewRegression,
		Confidence: newRegressionConfidence,
		Reason:     "new failure with no known pattern",
	}, true
}

func matchFallback(_ *DeduplicatedFailure, _ Inputs) (Classification, bool) {
	return Classification{
		Category:   CategoryNeedsHumanTriage,
		Confidence: needsTriageConfidence,
		Reason:     "insufficient data for automatic classification",
	}, true
}

// combinedText joins the searchable text of the first occurrence: error
// type, message, and the retained log excerpt. Infra and flaky patterns are
// matched case-insensitively by construction (see config.go), so the text is
// passed through unchanged.
func (d *DeduplicatedFailure) combinedText() string {
	first := d.firstOccurrence()

	parts := make([]string, 0, 3)
	for _, part := range []string{first.ErrorType, first.ErrorMessage, first.LogExcerpt} {
		if part != "" {
			parts = append(parts, part)
		}
	}

	return strings.Join(parts, "\n")
}

func (d *DeduplicatedFailure) firstOccurrence() logparse.FailureRecord {
	if len(d.Occurrences) == 0 {
		return logparse.FailureRecord{}
	}

	return d.Occurrences[0]
}
