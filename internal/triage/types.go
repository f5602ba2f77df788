// Package triage provides failure deduplication and classification for CI
// build scans.
//
// A build's parsed failures are collapsed into logical failures keyed by a
// stable identity (normalized job name + test id + fingerprint), then each
// logical failure is assigned one category from a fixed, priority-ordered
// taxonomy. Classification side inputs (known-issue index, infra and flaky
// pattern sets) are optional collaborators; their absence degrades rules to
// their fallbacks, never to an error.
package triage

import (
	"errors"

	"github.com/ciwatch-io/ciwatch/internal/logparse"
)

// Category is a failure classification label.
type Category string

// Classification taxonomy, in strict priority order. Known-issue and infra
// signals are authoritative and suppress the weaker "new regression" guess;
// flaky detection is textual and must not override a known-issue match.
const (
	CategoryKnownTracked     Category = "KNOWN_TRACKED"
	CategoryInfraSuspected   Category = "INFRA_SUSPECTED"
	CategoryFlakySuspected   Category = "FLAKY_SUSPECTED"
	CategoryNewRegression    Category = "NEW_REGRESSION"
	CategoryNeedsHumanTriage Category = "NEEDS_HUMAN_TRIAGE"
)

// Classification confidence bands.
const (
	ExactMatchConfidence = 0.9
	FuzzyMatchConfidence = 0.7
	WeakMatchConfidence  = 0.5
	MinMatchConfidence   = 0.6

	infraConfidence         = 0.7
	flakyConfidence         = 0.6
	newRegressionConfidence = 0.5
	needsTriageConfidence   = 0.3
)

// ErrAlreadyClassified is returned when a category is assigned to a failure
// that already has one. The category is mutable exactly once.
var ErrAlreadyClassified = errors.New("failure already classified")

type (
	// Classification is the result of applying the rule table to one failure.
	Classification struct {
		Category   Category
		Confidence float64
		// Reason is a short human-readable justification.
		Reason string
		// IssueURL references the tracked issue for KNOWN_TRACKED results.
		IssueURL string
	}

	// OwnerRef is a resolved owner with its confidence, attached by the
	// owner resolution step.
	OwnerRef struct {
		Owner      string
		Confidence float64
	}

	// DeduplicatedFailure is one logical failure within a single build.
	DeduplicatedFailure struct {
		// Identity is a stable hash over (normalized job name, test id,
		// fingerprint). A pure function of those inputs; never time- or
		// order-dependent.
		Identity string

		// TestID and JobName are taken from the first contributing record.
		TestID  string
		JobName string

		// Fingerprint is the normalized failure signature shared by all
		// occurrences.
		Fingerprint string

		// Occurrences lists every contributing record in first-seen order.
		// Always non-empty.
		Occurrences []logparse.FailureRecord

		// Classification is assigned after creation, exactly once.
		Classification *Classification

		// Owner is the optionally resolved responsible party.
		Owner *OwnerRef
	}
)

// SetClassification assigns the category. Returns ErrAlreadyClassified if a
// classification is already present.
func (d *DeduplicatedFailure) SetClassification(c Classification) error {
	if d.Classification != nil {
		return ErrAlreadyClassified
	}

	d.Classification = &c

	return nil
}

// Category returns the assigned category, or NEEDS_HUMAN_TRIAGE when the
// failure has not been classified yet.
func (d *DeduplicatedFailure) Category() Category {
	if d.Classification == nil {
		return CategoryNeedsHumanTriage
	}

	return d.Classification.Category
}
