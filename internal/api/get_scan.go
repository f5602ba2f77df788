package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ciwatch-io/ciwatch/internal/api/middleware"
	"github.com/ciwatch-io/ciwatch/internal/storage"
)

// paramError represents a parameter validation error.
type paramError struct {
	param string
	msg   string
}

const (
	// Pagination defaults and limits.
	defaultLimit = 20
	maxLimit     = 100
	minLimit     = 1
)

func (e *paramError) Error() string {
	return "Invalid parameter '" + e.param + "': " + e.msg
}

// handleGetScan handles GET /api/v1/scans/{org}/{pipeline}/builds/{number}.
// Returns the stored scan result for one build, with full failure detail.
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
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

	writeJSONResponse(w, r, s.logger, result)
}

// handleListScans handles GET /api/v1/scans/{org}/{pipeline}.
// Returns condensed summaries of recent scans, newest first.
//
// Query Parameters:
//   - limit: 1-100 (default: 20)
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if s.deps.Scans == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Scan storage is not configured"))

		return
	}

	pipeline := pipelineSlug(r)

	limit, err := parseLimitParam(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	results, err := s.deps.Scans.ListScans(ctx, pipeline, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list scans",
			"correlation_id", correlationID,
			"pipeline", pipeline,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list scans"))

		return
	}

	summaries := make([]ScanSummary, 0, len(results))
	for _, result := range results {
		summaries = append(summaries, newScanSummary(result))
	}

	response := ScanListResponse{
		Pipeline: pipeline,
		Count:    len(summaries),
		Scans:    summaries,
	}

	writeJSONResponse(w, r, s.logger, response)
}

// pipelineSlug reassembles the org/slug pipeline identifier from its two
// path segments.
func pipelineSlug(r *http.Request) string {
	return r.PathValue("org") + "/" + r.PathValue("pipeline")
}

// parseLimitParam parses and validates the limit query parameter.
func parseLimitParam(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, &paramError{param: "limit", msg: "must be a valid integer"}
	}

	if limit < minLimit || limit > maxLimit {
		return 0, &paramError{param: "limit", msg: "must be between 1 and 100"}
	}

	return limit, nil
}

// writeJSONResponse marshals v and writes it as a 200 JSON response,
// reporting marshal failures as RFC 7807 errors.
func writeJSONResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to marshal response",
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
