package api

import (
	"time"

	"github.com/ciwatch-io/ciwatch/internal/scan"
)

//nolint:tagliatelle // API responses use snake_case per the public contract
type (
	// ScanSummary is the condensed form of a scan result returned by the
	// list endpoint. Full failure detail comes from the single-scan
	// endpoint.
	ScanSummary struct {
		BuildNumber  int       `json:"build_number"`
		BuildURL     string    `json:"build_url"`
		Pipeline     string    `json:"pipeline"`
		Branch       string    `json:"branch"`
		Commit       string    `json:"commit"`
		State        string    `json:"state"`
		TotalJobs    int       `json:"total_jobs"`
		FailedJobs   int       `json:"failed_jobs"`
		FailureCount int       `json:"failure_count"`
		Partial      bool      `json:"partial"`
		ScannedAt    time.Time `json:"scan_timestamp"`
	}

	// ScanListResponse is the payload of GET /api/v1/scans/{org}/{pipeline}.
	ScanListResponse struct {
		Pipeline string        `json:"pipeline"`
		Count    int           `json:"count"`
		Scans    []ScanSummary `json:"scans"`
	}

	// BuildEventResponse acknowledges an ingested build event. When the
	// event triggered a scan the scan outcome is summarized inline.
	BuildEventResponse struct {
		EventID       string `json:"event_id"`
		Status        string `json:"status"`
		Pipeline      string `json:"pipeline,omitempty"`
		BuildNumber   int    `json:"build_number,omitempty"`
		Failures      int    `json:"failures,omitempty"`
		Partial       bool   `json:"partial,omitempty"`
		Duplicate     bool   `json:"duplicate,omitempty"`
		CorrelationID string `json:"correlation_id"`
	}
)

// Ingest statuses reported by BuildEventResponse.
const (
	eventStatusScanned = "scanned"
	eventStatusSkipped = "skipped"
)

// newScanSummary condenses a full scan result for the list endpoint.
func newScanSummary(result *scan.Result) ScanSummary {
	return ScanSummary{
		BuildNumber:  result.Build.Number,
		BuildURL:     result.Build.URL,
		Pipeline:     result.Build.Pipeline,
		Branch:       result.Build.Branch,
		Commit:       result.Build.Commit,
		State:        result.Build.State,
		TotalJobs:    result.TotalJobs,
		FailedJobs:   result.FailedJobs,
		FailureCount: len(result.Failures),
		Partial:      result.Partial,
		ScannedAt:    result.ScannedAt,
	}
}
