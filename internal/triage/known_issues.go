package triage

import "strings"

type (
	// KnownIssue is one open tracked issue as recorded by the issue-tracker
	// collaborator.
	KnownIssue struct {
		URL string
		// Title of the issue, used for substring matching.
		Title string
		// TestID is the test the issue tracks, when recorded.
		TestID string
		// Fingerprint is the normalized failure signature the issue tracks,
		// when recorded.
		Fingerprint string
	}

	// StaticIssueIndex is an IssueIndex over a caller-supplied snapshot of
	// open issues. Immutable after construction; safe for concurrent use.
	StaticIssueIndex struct {
		byTestID      map[string][]KnownIssue
		byFingerprint map[string][]KnownIssue
		all           []KnownIssue
	}
)

// NewStaticIssueIndex builds an index over a snapshot of open issues. An
// empty snapshot is valid input and yields an index that never matches.
func NewStaticIssueIndex(issues []KnownIssue) *StaticIssueIndex {
	idx := &StaticIssueIndex{
		byTestID:      make(map[string][]KnownIssue),
		byFingerprint: make(map[string][]KnownIssue),
		all:           issues,
	}

	for _, issue := range issues {
		if issue.TestID != "" {
			idx.byTestID[issue.TestID] = append(idx.byTestID[issue.TestID], issue)
		}

		if issue.Fingerprint != "" {
			idx.byFingerprint[issue.Fingerprint] = append(idx.byFingerprint[issue.Fingerprint], issue)
		}
	}

	return idx
}

// Match finds the best tracked issue for a failure.
//
// Match quality, best first:
//  1. Recorded test id equals the failure's test id (exact confidence)
//  2. Recorded fingerprint equals the failure's fingerprint (exact)
//  3. The test id (or its path/name parts longer than 3 chars) appears in an
//     issue title (fuzzy confidence)
//
// Returns false when no candidate reaches any band.
func (idx *StaticIssueIndex) Match(testID, failureFingerprint string) (IssueMatch, bool) {
	if issues, ok := idx.byTestID[testID]; ok {
		issue := issues[0]

		return IssueMatch{
			URL:        issue.URL,
			Title:      issue.Title,
			Confidence: ExactMatchConfidence,
			Reason:     "open issue tracks this test: " + issue.Title,
		}, true
	}

	if failureFingerprint != "" {
		if issues, ok := idx.byFingerprint[failureFingerprint]; ok {
			issue := issues[0]

			return IssueMatch{
				URL:        issue.URL,
				Title:      issue.Title,
				Confidence: ExactMatchConfidence,
				Reason:     "open issue tracks this failure signature: " + issue.Title,
			}, true
		}
	}

	return idx.matchByTitle(testID)
}

// matchByTitle scans issue titles for the test id or its parts. Parts of 3
// characters or fewer are skipped to avoid matching path fragments like
// "py" or "v1".
func (idx *StaticIssueIndex) matchByTitle(testID string) (IssueMatch, bool) {
	loweredTestID := strings.ToLower(testID)
	parts := strings.Split(loweredTestID, "::")

	for _, issue := range idx.all {
		title := strings.ToLower(issue.Title)
		if title == "" {
			continue
		}

		if strings.Contains(title, loweredTestID) {
			return IssueMatch{
				URL:        issue.URL,
				Title:      issue.Title,
				Confidence: ExactMatchConfidence,
				Reason:     "issue title references this test: " + issue.Title,
			}, true
		}

		for _, part := range parts {
			if len(part) > 3 && strings.Contains(title, part) {
				return IssueMatch{
					URL:        issue.URL,
					Title:      issue.Title,
					Confidence: FuzzyMatchConfidence,
					Reason:     "issue title references part of this test: " + issue.Title,
				}, true
			}
		}
	}

	return IssueMatch{}, false
}
