package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ciwatch-io/ciwatch/internal/api/middleware"
	"github.com/ciwatch-io/ciwatch/internal/scan"
)

// Lookback bounds for history scans. Each examined build may cost several
// log downloads, so the ceiling is deliberately conservative.
const maxLookbackBuilds = 200

// historyParams holds parsed query parameters for a test history scan.
type historyParams struct {
	branch    string
	lookback  int
	jobFilter string
}

// handleTestHistory handles GET /api/v1/history/{org}/{pipeline}/{test...}.
// Runs a live history scan tracking one test across recent builds and
// returns the timeline with its assessment.
//
// The test identifier is the trailing path remainder because identifiers
// contain "::" and "/" (e.g. "tests/models/test_llama.py::test_generate").
//
// Query Parameters:
//   - branch: restrict to builds on one branch (default: all branches)
//   - lookback: 1-200 builds to examine (default: 50)
//   - job_filter: case-insensitive substring match against job names
func (s *Server) handleTestHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if s.deps.Scanner == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Build scanning is not configured"))

		return
	}

	pipeline := pipelineSlug(r)

	testID := r.PathValue("test")
	if testID == "" {
		WriteErrorResponse(w, r, s.logger,
			BadRequest((&paramError{param: "test", msg: "test identifier is required"}).Error()))

		return
	}

	params, err := parseHistoryParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	result, err := s.deps.Scanner.TestHistory(ctx, pipeline, testID, scan.HistoryOptions{
		Branch:         params.branch,
		LookbackBuilds: params.lookback,
		JobFilter:      params.jobFilter,
	})
	if err != nil {
		if errors.Is(err, scan.ErrNoBuilds) {
			WriteErrorResponse(w, r, s.logger, NotFound("No builds found for this pipeline and branch"))

			return
		}

		s.logger.ErrorContext(ctx, "Test history scan failed",
			"correlation_id", correlationID,
			"pipeline", pipeline,
			"test_id", testID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Test history scan failed"))

		return
	}

	// Best effort: a cache miss next time is cheaper than failing this
	// response now.
	if s.deps.Timelines != nil {
		if err := s.deps.Timelines.StoreTimeline(ctx, pipeline, testID, result.Timeline); err != nil {
			s.logger.WarnContext(ctx, "Failed to cache timeline",
				"correlation_id", correlationID,
				"pipeline", pipeline,
				"test_id", testID,
				"error", err.Error(),
			)
		}
	}

	writeJSONResponse(w, r, s.logger, result)
}

// parseHistoryParams parses and validates history query parameters.
func parseHistoryParams(r *http.Request) (*historyParams, error) {
	q := r.URL.Query()

	params := &historyParams{
		branch:    q.Get("branch"),
		jobFilter: q.Get("job_filter"),
	}

	if lookbackStr := q.Get("lookback"); lookbackStr != "" {
		lookback, err := strconv.Atoi(lookbackStr)
		if err != nil {
			return nil, &paramError{param: "lookback", msg: "must be a valid integer"}
		}

		if lookback < 1 || lookback > maxLookbackBuilds {
			return nil, &paramError{param: "lookback", msg: "must be between 1 and 200"}
		}

		params.lookback = lookback
	}

	return params, nil
}
