package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/ciwatch-io/ciwatch/internal/fingerprint"
	"github.com/ciwatch-io/ciwatch/internal/logparse"
)

// identityLength is the number of hex characters kept from the SHA-256
// digest. 16 chars (64 bits) keeps collision risk negligible at the scale of
// failures per build while staying readable in reports and URLs.
const identityLength = 16

// Environment-specific job label suffixes stripped before identity
// computation, so retries and shards of the same job merge.
var jobSuffixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*\(retry\s*#?\d+\)$`),
	regexp.MustCompile(`(?i)\s*\(shard\s*\d+(?:\s*/\s*\d+)?\)$`),
	regexp.MustCompile(`(?i)\s*\(attempt\s*\d+\)$`),
	regexp.MustCompile(`\s+\d+/\d+$`),
}

// NormalizeJobName canonicalizes a raw job label for identity computation:
// environment-specific suffixes (shard indices, retry counters) are stripped,
// the result is lowercased, and whitespace runs become single underscores.
//
// Examples:
//   - "Engine Test (shard 2/4)" → "engine_test"
//   - "Kernels Test 3/8"        → "kernels_test"
func NormalizeJobName(jobName string) string {
	normalized := strings.TrimSpace(jobName)

	for _, pattern := range jobSuffixPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.ToLower(strings.TrimSpace(normalized))

	return strings.Join(strings.Fields(normalized), "_")
}

// Identity computes the stable deduplication identity for a failure.
//
// A pure function of (normalized job name, test id, fingerprint): identical
// inputs always yield the same value, independent of time or input order.
// Two records collide iff all three components are equal.
func Identity(jobName, testID, failureFingerprint string) string {
	keyString := strings.Join([]string{
		NormalizeJobName(jobName),
		testID,
		failureFingerprint,
	}, "::")

	sum := sha256.Sum256([]byte(keyString))

	return hex.EncodeToString(sum[:])[:identityLength]
}

// Deduplicate collapses one build's failure records into logical failures
// keyed by identity. Occurrences retain first-seen order within each entry;
// no ordering guarantee is imposed on the map of identities.
//
// Idempotent: deduplicating records drawn from an already-deduplicated build
// yields the same identity set and occurrence counts.
func Deduplicate(records []logparse.FailureRecord) map[string]*DeduplicatedFailure {
	failures := make(map[string]*DeduplicatedFailure, len(records))

	for _, record := range records {
		fp := fingerprint.Normalize(record.ErrorType, record.ErrorMessage)
		identity := Identity(record.JobName, record.TestID, fp)

		existing, ok := failures[identity]
		if !ok {
			failures[identity] = &DeduplicatedFailure{
				Identity:    identity,
				TestID:      record.TestID,
				JobName:     record.JobName,
				Fingerprint: fp,
				Occurrences: []logparse.FailureRecord{record},
			}

			continue
		}

		existing.Occurrences = append(existing.Occurrences, record)
	}

	return failures
}
