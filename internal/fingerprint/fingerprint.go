// Package fingerprint provides failure signature normalization for deduplication.
//
// Fingerprints enable grouping of test failures across jobs and builds by
// replacing variable content (numbers, addresses, identifiers, paths) with
// fixed placeholder tokens, so that two occurrences of the same underlying
// failure compare equal even when incidental values differ.
//
// This package provides pure utility functions that operate on primitives
// (strings) rather than domain types, making it reusable across single-build
// deduplication and cross-build history comparison.
//
// Key functions:
//   - Normalize: Builds a normalized signature from error type + message
//   - NormalizeMessage: Normalizes a raw error message on its own
package fingerprint

import (
	"regexp"
	"strings"
)

const (
	// MaxFingerprintLength is the maximum length of a normalized signature.
	// Longer signatures are truncated, never rejected.
	MaxFingerprintLength = 300

	// EmptySignature is the canonical placeholder for failures that carry
	// no usable error text. Normalization is a total function; empty input
	// yields this value rather than an error.
	EmptySignature = "<EMPTY>"
)

// normalizationPatterns are applied in order. Specific patterns come first:
// UUIDs and timestamps must be masked before the bare integer rule would
// otherwise split them into meaningless fragments.
//
// The rules are intentionally conservative. Under-merging (treating two
// variants of the same failure as distinct) is preferred over over-merging,
// because downstream triage treats an equal fingerprint as "the same failure
// we've already seen."
var normalizationPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	// UUIDs: 550e8400-e29b-41d4-a716-446655440000 -> <UUID>
	{regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), "<UUID>"},
	// Timestamps: 2024-01-22T10:00:00 or 2024-01-22 10:00:00 -> <TIMESTAMP>
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`), "<TIMESTAMP>"},
	// Memory addresses: 0x7f8a3c -> <ADDR>
	{regexp.MustCompile(`0x[0-9a-fA-F]+`), "<ADDR>"},
	// Floats: 0.590 -> <NUM>
	{regexp.MustCompile(`\b\d+\.\d+\b`), "<NUM>"},
	// Integers: 123 -> <NUM>
	{regexp.MustCompile(`\b\d+\b`), "<NUM>"},
	// Long bare hex tokens (git SHAs, content hashes): cafef00dcafef00d -> <HEX>
	{regexp.MustCompile(`\b[0-9a-f]{12,}\b`), "<HEX>"},
	// Absolute file-system paths keep only the final segment:
	// /tmp/build/workdir/test_foo.py -> <PATH>/test_foo.py
	// Segments may already contain placeholder tokens from earlier rules.
	{regexp.MustCompile(`(?:/[\w.+<>-]+)+/([\w.+<>-]+)`), "<PATH>/$1"},
}

// whitespaceRun matches any run of whitespace for collapsing.
var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize builds a normalized failure signature from an error type and
// message.
//
// The error type (exception or assertion class name) and message are joined
// as "Type: message" when both are present; either part may be empty. Empty
// input yields EmptySignature.
//
// Normalization rules, applied in order:
//  1. Collapse runs of whitespace to a single space
//  2. Mask UUIDs and timestamps
//  3. Mask hexadecimal tokens (addresses, hashes)
//  4. Mask decimal and floating-point literals
//  5. Mask absolute paths, retaining only the final segment
//  6. Truncate to MaxFingerprintLength
//
// Deterministic and total: the same inputs always produce the same
// signature, and no input causes an error.
//
// Examples:
//   - Normalize("AssertionError", "expected 5, got 3") → "AssertionError: expected <NUM>, got <NUM>"
//   - Normalize("AssertionError", "expected 9, got 1") → "AssertionError: expected <NUM>, got <NUM>"
//   - Normalize("", "") → "<EMPTY>"
func Normalize(errorType, errorMessage string) string {
	errorType = strings.TrimSpace(errorType)
	errorMessage = strings.TrimSpace(errorMessage)

	var raw string

	switch {
	case errorType == "" && errorMessage == "":
		return EmptySignature
	case errorType == "":
		raw = errorMessage
	case errorMessage == "":
		raw = errorType
	default:
		raw = errorType + ": " + errorMessage
	}

	return NormalizeMessage(raw)
}

// NormalizeMessage applies the normalization rules to a raw error message.
// Total function: empty input yields EmptySignature.
func NormalizeMessage(message string) string {
	normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(message, " "))
	if normalized == "" {
		return EmptySignature
	}

	for _, rule := range normalizationPatterns {
		normalized = rule.pattern.ReplaceAllString(normalized, rule.replacement)
	}

	if len(normalized) > MaxFingerprintLength {
		normalized = normalized[:MaxFingerprintLength]
	}

	return normalized
}
