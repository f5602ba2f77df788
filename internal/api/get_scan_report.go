package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ciwatch-io/ciwatch/internal/api/middleware"
	"github.com/ciwatch-io/ciwatch/internal/report"
	"github.com/ciwatch-io/ciwatch/internal/storage"
)

// Report formats accepted by the format query parameter.
const (
	reportFormatDaily   = "daily"
	reportFormatStandup = "standup"
)

// handleGetScanReport handles GET /api/v1/scans/{org}/{pipeline}/builds/{number}/report.
// Renders a stored scan as markdown.
//
// Query Parameters:
//   - format: "daily" (default) for the full findings report, "standup" for
//     the one-line summary
func (s *Server) handleGetScanReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if s.deps.Scans == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Scan storage is not configured"))

		return
	}

	pipeline := pipelineSlug(r)

	buildNumber, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || buildNumber <= 0 {
		WriteErrorResponse(w, r, s.logger,
			BadRequest((&paramError{param: "number", msg: "must be a positive integer"}).Error()))

		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = reportFormatDaily
	}

	if format != reportFormatDaily && format != reportFormatStandup {
		WriteErrorResponse(w, r, s.logger,
			BadRequest((&paramError{param: "format", msg: "must be 'daily' or 'standup'"}).Error()))

		return
	}

	result, err := s.deps.Scans.GetScan(ctx, pipeline, buildNumber)
	if err != nil {
		if errors.Is(err, storage.ErrScanNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("No scan recorded for this build"))

			return
		}

		s.logger.ErrorContext(ctx, "Failed to load scan",
			"correlation_id", correlationID,
			"pipeline", pipeline,
			"build_number", buildNumber,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load scan"))

		return
	}

	var rendered string
	if format == reportFormatStandup {
		rendered = report.StandupSummary(result)
	} else {
		rendered = report.DailyFindings(result)
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(rendered)); err != nil {
		s.logger.Error("Failed to write report response",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
	}
}
