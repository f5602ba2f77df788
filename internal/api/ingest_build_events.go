package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ciwatch-io/ciwatch/internal/api/middleware"
	"github.com/ciwatch-io/ciwatch/internal/ingest"
)

// buildEventValidator is shared across requests; it is stateless.
var buildEventValidator = ingest.NewValidator()

// handleBuildEvent handles CI build event ingestion.
// POST /api/v1/events/build - Ingest a single build lifecycle event
//
// Build events arriving over HTTP follow the same contract as the Kafka
// ingester: a failed finished build triggers a scan whose result is
// persisted, anything else is acknowledged and skipped.
//
// Request validation (returns 4xx):
//   - 405 Method Not Allowed: Only POST is allowed (handled by route pattern)
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body or invalid JSON
//   - 422 Unprocessable Entity: Event fails validation
//
// Success responses:
//   - 200 OK: Scan completed and (when storage is configured) persisted
//   - 202 Accepted: Event acknowledged but not scannable (skipped)
func (s *Server) handleBuildEvent(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if s.deps.Scanner == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Build scanning is not configured"))

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	event, problem := s.parseBuildEventRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if err := buildEventValidator.ValidateBuildEvent(event); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("Invalid build event: "+err.Error()))

		return
	}

	event.EnsureEventID()

	if !event.ShouldScan() {
		s.logger.Info("Build event skipped",
			slog.String("correlation_id", correlationID),
			slog.String("event_id", event.EventID),
			slog.String("pipeline", event.Pipeline),
			slog.Int("build_number", event.BuildNumber),
			slog.String("state", event.State),
		)

		s.writeBuildEventResponse(w, r, http.StatusAccepted, BuildEventResponse{
			EventID:       event.EventID,
			Status:        eventStatusSkipped,
			Pipeline:      event.Pipeline,
			BuildNumber:   event.BuildNumber,
			CorrelationID: correlationID,
		})

		return
	}

	result, err := s.deps.Scanner.ScanBuild(ctx, event.Pipeline, event.BuildNumber)
	if err != nil {
		s.logger.ErrorContext(ctx, "Build scan failed",
			"correlation_id", correlationID,
			"event_id", event.EventID,
			"pipeline", event.Pipeline,
			"build_number", event.BuildNumber,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Build scan failed"))

		return
	}

	var duplicate bool

	if s.deps.ScanWriter != nil {
		duplicate, err = s.deps.ScanWriter.StoreScan(ctx, result)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to store scan",
				"correlation_id", correlationID,
				"event_id", event.EventID,
				"pipeline", event.Pipeline,
				"build_number", event.BuildNumber,
				"error", err.Error(),
			)
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to store scan"))

			return
		}
	}

	s.logger.Info("Build event processed",
		slog.String("correlation_id", correlationID),
		slog.String("event_id", event.EventID),
		slog.String("pipeline", event.Pipeline),
		slog.Int("build_number", event.BuildNumber),
		slog.Int("failures", len(result.Failures)),
		slog.Bool("partial", result.Partial),
		slog.Bool("duplicate", duplicate),
		slog.Duration("duration", time.Since(startTime)),
	)

	s.writeBuildEventResponse(w, r, http.StatusOK, BuildEventResponse{
		EventID:       event.EventID,
		Status:        eventStatusScanned,
		Pipeline:      event.Pipeline,
		BuildNumber:   event.BuildNumber,
		Failures:      len(result.Failures),
		Partial:       result.Partial,
		Duplicate:     duplicate,
		CorrelationID: correlationID,
	})
}

// parseBuildEventRequest parses and size-checks the HTTP request body.
// Returns the decoded event or a ProblemDetail if parsing fails.
func (s *Server) parseBuildEventRequest(r *http.Request) (*ingest.BuildEvent, *ProblemDetail) {
	// Fail fast for known oversized requests; unknown sizes (-1) pass
	// through to the limited reader below.
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var event ingest.BuildEvent

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&event); err != nil {
		return nil, BadRequest("Invalid JSON: " + err.Error())
	}

	return &event, nil
}

// writeBuildEventResponse marshals and writes an ingest acknowledgement.
func (s *Server) writeBuildEventResponse(w http.ResponseWriter, r *http.Request, statusCode int, response BuildEventResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to marshal build event response",
			"correlation_id", response.CorrelationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}
