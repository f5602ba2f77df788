// Package ingest provides build-event validation.
package ingest

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Sentinel errors for validation failures.
var (
	ErrNilEvent           = errors.New("event cannot be nil")
	ErrInvalidEventType   = errors.New("invalid event_type")
	ErrInvalidEventID     = errors.New("event_id must be a UUID")
	ErrMissingOccurredAt  = errors.New("occurred_at is required")
	ErrMissingPipeline    = errors.New("pipeline is required")
	ErrInvalidPipeline    = errors.New("pipeline must be in org/slug form")
	ErrInvalidBuildNumber = errors.New("build_number must be positive")
	ErrMissingState       = errors.New("state is required")
	ErrUnknownBuildState  = errors.New("unknown build state")
)

// pipelineSlugPattern validates the "org/slug" pipeline reference used
// throughout the Buildkite REST API. Both segments are lowercase slugs.
var pipelineSlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-_]*/[a-z0-9][a-z0-9-_]*$`)

// Validator performs semantic validation of incoming build events.
// Validation strategy is unmarshal + business rules; there is no formal
// schema for the build-events topic.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBuildEvent validates that a BuildEvent carries everything a scan
// needs.
//
// Required fields:
//   - event_type: must be a known notification type
//   - occurred_at: must not be zero value
//   - pipeline: must be in "org/slug" form
//   - build_number: must be positive
//   - state: must be a known terminal build state
//
// Optional fields:
//   - event_id: assigned by the consumer when absent, but must be a valid
//     UUID when present
//   - branch, commit: informational only
func (v *Validator) ValidateBuildEvent(event *BuildEvent) error {
	if event == nil {
		return ErrNilEvent
	}

	if !event.EventType.IsValid() {
		return fmt.Errorf(
			"%w: %s (valid: %s, %s)",
			ErrInvalidEventType, event.EventType, EventBuildFinished, EventBuildFailing,
		)
	}

	if event.EventID != "" {
		if _, err := uuid.Parse(event.EventID); err != nil {
			return fmt.Errorf("%w, got: %s", ErrInvalidEventID, event.EventID)
		}
	}

	if event.OccurredAt.IsZero() {
		return ErrMissingOccurredAt
	}

	if event.Pipeline == "" {
		return ErrMissingPipeline
	}

	if !pipelineSlugPattern.MatchString(event.Pipeline) {
		return fmt.Errorf("%w, got: %s", ErrInvalidPipeline, event.Pipeline)
	}

	if event.BuildNumber <= 0 {
		return fmt.Errorf("%w, got: %d", ErrInvalidBuildNumber, event.BuildNumber)
	}

	if event.State == "" {
		return ErrMissingState
	}

	if !knownBuildStates[event.State] {
		return fmt.Errorf("%w: %s", ErrUnknownBuildState, event.State)
	}

	return nil
}
