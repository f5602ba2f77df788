// Package history classifies a test's cross-build failure pattern.
//
// Given an ordered timeline of per-build outcomes for one test, the assessor
// decides whether the pattern is a regression, the onset of flakiness, a
// persistent failure, sporadic noise, or too thin to call — and for a
// regression, locates the last-known-good build before the onset.
//
// Assessment is a pure classification over a finite, already-materialized
// sequence: no I/O, no external state, fully deterministic given its input.
// Timelines are assembled by the caller (one scan per build) and must be
// sorted by build number ascending; an unsorted timeline is a caller bug and
// fails fast.
package history

import (
	"fmt"
	"time"

	"github.com/ciwatch-io/ciwatch/internal/fingerprint"
	"github.com/ciwatch-io/ciwatch/internal/logparse"
)

// Classification is the overall trend of a test's timeline.
type Classification string

// Timeline classifications.
const (
	ClassificationRegression       Classification = "REGRESSION"
	ClassificationFlakeOnset       Classification = "FLAKE_ONSET"
	ClassificationPersistentFail   Classification = "PERSISTENT_FAIL"
	ClassificationSporadic         Classification = "SPORADIC"
	ClassificationInsufficientData Classification = "INSUFFICIENT_DATA"
)

// Confidence is the strength of an assessment.
type Confidence string

// Assessment confidence levels.
const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Thresholds for trend classification. A fail rate at or below the sporadic
// threshold is background noise; at or above the persistent threshold the
// test is considered broken outright; strictly between, the shape of the
// timeline decides.
const (
	// MinSampleSize is the minimum number of found entries required to
	// classify at all.
	MinSampleSize = 3

	sporadicMaxRate   = 0.2
	persistentMinRate = 0.8

	// fingerprintConsistencyRate is the share of failures that must carry
	// the dominant fingerprint for a failing run to count as "consistent".
	fingerprintConsistencyRate = 0.8

	// highConfidenceFailingRun is the failing-suffix length at which a
	// single-fingerprint regression earns HIGH confidence.
	highConfidenceFailingRun = 5
)

type (
	// Entry is one build's outcome for the tracked test.
	Entry struct {
		// BuildNumber is monotonically increasing across the timeline.
		BuildNumber int

		// CommitSHA may be empty when unavailable.
		CommitSHA string

		// BuildURL links back to the build for reports.
		BuildURL string

		// CreatedAt is when the build started.
		CreatedAt time.Time

		// TestFound reports whether the test was identifiable in this
		// build's logs at all.
		TestFound bool

		// Status is pass/fail/unknown; unknown when not found or ambiguous.
		Status logparse.Status

		// Fingerprints holds the normalized failure signatures observed in
		// this build's matching jobs. Present only for failures; usually a
		// single element.
		Fingerprints []string
	}

	// Timeline is the unit of input to Assess: entries sorted by build
	// number ascending, plus the partial-scan marker recorded by the caller
	// when the scan budget ran out.
	Timeline struct {
		Entries  []Entry
		Partial  bool
		Warnings []string
	}

	// Assessment is the result of analyzing a timeline.
	Assessment struct {
		Classification Classification
		Confidence     Confidence

		// TransitionBuild is the last-known-good build number immediately
		// preceding a detected failure onset. Nil unless a regression was
		// found.
		TransitionBuild *int

		// Notes are short human-readable justifications, in order.
		Notes []string
	}
)

// Assess classifies a test's cross-build trend.
//
// Entries with TestFound false are excluded from the statistical sample but
// retain their position for transition search. Panics if the timeline is not
// sorted by build number ascending — that is a caller contract violation,
// not bad external data.
func Assess(timeline Timeline) Assessment {
	assertSorted(timeline.Entries)

	found := foundEntries(timeline.Entries)

	if len(found) < MinSampleSize {
		return Assessment{
			Classification: ClassificationInsufficientData,
			Confidence:     ConfidenceLow,
			Notes: []string{
				fmt.Sprintf("test found in only %d builds", len(found)),
				fmt.Sprintf("need at least %d builds to detect patterns", MinSampleSize),
			},
		}
	}

	rate := failRate(found)

	switch {
	case rate <= sporadicMaxRate:
		return assessSporadic(timeline, found, rate)
	case rate >= persistentMinRate:
		return assessPersistent(timeline, found, rate)
	}

	if transition := findTransitionIndex(found); transition > 0 && consistentFingerprintAfter(found, transition) {
		return assessRegression(timeline, found, transition)
	}

	return assessFlakeOnset(timeline, found, rate)
}

func assessSporadic(timeline Timeline, found []Entry, rate float64) Assessment {
	return Assessment{
		Classification: ClassificationSporadic,
		Confidence:     downgradeIfPartial(timeline, ConfidenceHigh),
		Notes: []string{
			fmt.Sprintf("rare failures: %.1f%% fail rate over %d builds", rate*100, len(found)),
			"test is mostly stable with occasional failures",
		},
	}
}

func assessPersistent(timeline Timeline, found []Entry, rate float64) Assessment {
	consistent := consistentFingerprintAfter(found, 0)

	return Assessment{
		Classification: ClassificationPersistentFail,
		Confidence:     downgradeIfPartial(timeline, ConfidenceHigh),
		Notes: []string{
			fmt.Sprintf("failing in %.1f%% of %d recent builds", rate*100, len(found)),
			fmt.Sprintf("consistent fingerprint: %t", consistent),
			"test has been broken for an extended period",
		},
	}
}

func assessRegression(timeline Timeline, found []Entry, transition int) Assessment {
	lastGood := found[transition-1]
	firstBad := found[transition]
	failingRun := len(found) - transition

	confidence := ConfidenceMedium
	if failingRun >= highConfidenceFailingRun && uniqueFingerprintCount(found[transition:]) == 1 {
		confidence = ConfidenceHigh
	}

	transitionBuild := lastGood.BuildNumber

	return Assessment{
		Classification:  ClassificationRegression,
		Confidence:      downgradeIfPartial(timeline, confidence),
		TransitionBuild: &transitionBuild,
		Notes: []string{
			fmt.Sprintf("clear transition after build %d (first failure in build %d, commit %s)",
				lastGood.BuildNumber, firstBad.BuildNumber, shortSHA(firstBad.CommitSHA)),
			fmt.Sprintf("consistent failure fingerprint across %d builds after transition", failingRun),
			fmt.Sprintf("fail rate before: %.1f%%", failRate(found[:transition])*100),
			fmt.Sprintf("fail rate after: %.1f%%", failRate(found[transition:])*100),
		},
	}
}

func assessFlakeOnset(timeline Timeline, found []Entry, rate float64) Assessment {
	unique := uniqueFingerprintCount(found)

	notes := []string{
		fmt.Sprintf("intermittent failures: %.1f%% fail rate over %d builds", rate*100, len(found)),
		"test alternates between passing and failing",
	}

	if unique > 1 {
		notes = append(notes, fmt.Sprintf("%d different failure fingerprints detected", unique))
	}

	return Assessment{
		Classification: ClassificationFlakeOnset,
		Confidence:     downgradeIfPartial(timeline, ConfidenceMedium),
		Notes:          notes,
	}
}

// assertSorted fails fast on an unsorted timeline. Sorting is the caller's
// documented obligation; silently reordering here would mask caller bugs.
func assertSorted(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		if entries[i].BuildNumber < entries[i-1].BuildNumber {
			panic(fmt.Sprintf("history: timeline not sorted by build number (%d before %d)",
				entries[i-1].BuildNumber, entries[i].BuildNumber))
		}
	}
}

func foundEntries(entries []Entry) []Entry {
	found := make([]Entry, 0, len(entries))

	for _, entry := range entries {
		if entry.TestFound {
			found = append(found, entry)
		}
	}

	return found
}

// failRate computes the share of failing entries. Entries must already be
// filtered to TestFound.
func failRate(entries []Entry) float64 {
	if len(entries) == 0 {
		return 0
	}

	failed := 0

	for _, entry := range entries {
		if entry.Status == logparse.StatusFail {
			failed++
		}
	}

	return float64(failed) / float64(len(entries))
}

// findTransitionIndex locates the split where the timeline flips from a
// passing prefix to a failing suffix: the first index i where the fail rate
// before is below the sporadic threshold and the fail rate from i on exceeds
// the persistent threshold. Returns 0 when no clean transition exists.
func findTransitionIndex(found []Entry) int {
	if len(found) < MinSampleSize {
		return 0
	}

	for i := 1; i < len(found); i++ {
		if failRate(found[:i]) >= sporadicMaxRate || failRate(found[i:]) <= persistentMinRate {
			continue
		}

		// The split can land one or two entries before the onset when the
		// suffix rate already clears the threshold; advance to the first
		// actual failure so the boundary is exact.
		for i < len(found) && found[i].Status != logparse.StatusFail {
			i++
		}

		if i == len(found) {
			return 0
		}

		return i
	}

	return 0
}

// consistentFingerprintAfter reports whether the failures from start on are
// dominated by a single fingerprint.
func consistentFingerprintAfter(found []Entry, start int) bool {
	counts := fingerprintCounts(found[start:])
	if len(counts) == 0 {
		return false
	}

	total, most := 0, 0

	for _, count := range counts {
		total += count
		if count > most {
			most = count
		}
	}

	return float64(most)/float64(total) > fingerprintConsistencyRate
}

func uniqueFingerprintCount(entries []Entry) int {
	return len(fingerprintCounts(entries))
}

func fingerprintCounts(entries []Entry) map[string]int {
	counts := make(map[string]int)

	for _, entry := range entries {
		if entry.Status != logparse.StatusFail {
			continue
		}

		// The empty-signature placeholder marks a failure with no extractable
		// message; it must never certify two failures as the same fault.
		for _, fp := range entry.Fingerprints {
			if fp != "" && fp != fingerprint.EmptySignature {
				counts[fp]++
			}
		}
	}

	return counts
}

// downgradeIfPartial lowers confidence one level when the scan budget ran
// out mid-collection: partial data must never be reported as if the scan
// were complete.
func downgradeIfPartial(timeline Timeline, confidence Confidence) Confidence {
	if !timeline.Partial {
		return confidence
	}

	switch confidence {
	case ConfidenceHigh:
		return ConfidenceMedium
	case ConfidenceMedium:
		return ConfidenceLow
	default:
		return ConfidenceLow
	}
}

func shortSHA(sha string) string {
	if sha == "" {
		return "unknown"
	}

	if len(sha) > 7 {
		return sha[:7]
	}

	return sha
}
