package logparse

import "fmt"

// Budget defaults for multi-build history scans. Chosen so a 50-build
// lookback stays within interactive latency on typical log sizes.
const (
	DefaultMaxJobsPerBuild = 20
	DefaultMaxLogBytes     = 200_000
	EstimatedLogSizePerJob = 10_000
)

// Budget tracks and enforces resource limits while a caller scans job logs.
//
// The parser itself is pure; the budget is the counter the caller threads
// through fetch-and-parse loops. When the budget is exhausted mid-scan the
// scan stops and returns what it has — exhaustion is surfaced through
// Exhausted and Warnings, never as an error, and the caller must mark the
// resulting data as partial.
//
// Not safe for concurrent use; one Budget belongs to one scan.
type Budget struct {
	MaxJobsPerBuild int
	MaxLogBytes     int

	totalLogBytes int
	exhausted     bool
	warnings      []string
}

// NewBudget returns a Budget with the default history-scan limits.
func NewBudget() *Budget {
	return &Budget{
		MaxJobsPerBuild: DefaultMaxJobsPerBuild,
		MaxLogBytes:     DefaultMaxLogBytes,
	}
}

// CanFetchLog reports whether another log of the estimated size fits in the
// remaining byte budget. The first refusal records a warning and latches the
// exhausted flag.
func (b *Budget) CanFetchLog(estimatedSize int) bool {
	if b.totalLogBytes+estimatedSize > b.MaxLogBytes {
		if !b.exhausted {
			b.warnings = append(b.warnings,
				fmt.Sprintf("log budget exhausted: %d/%d bytes", b.totalLogBytes, b.MaxLogBytes))
			b.exhausted = true
		}

		return false
	}

	return true
}

// RecordLogFetch records the actual size of a fetched log.
func (b *Budget) RecordLogFetch(actualSize int) {
	b.totalLogBytes += actualSize
}

// Exhausted reports whether any limit has been hit.
func (b *Budget) Exhausted() bool {
	return b.exhausted
}

// AddWarning appends a caller-supplied warning (e.g. "stopped after N builds").
func (b *Budget) AddWarning(warning string) {
	b.warnings = append(b.warnings, warning)
}

// Warnings returns the accumulated budget warnings in order.
func (b *Budget) Warnings() []string {
	return b.warnings
}

// TotalLogBytes returns the bytes consumed so far.
func (b *Budget) TotalLogBytes() int {
	return b.totalLogBytes
}
