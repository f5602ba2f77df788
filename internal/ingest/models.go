// Package ingest provides build-event domain models and the kafka consumer
// that turns finished-build notifications into triage scans.
package ingest

import (
	"time"

	"github.com/google/uuid"
)

type (
	// BuildEvent represents a build lifecycle notification from the CI
	// system. Events arrive on the build-events topic (or through the
	// ingest API endpoint) whenever a build reaches a terminal state.
	//
	// EventID is a UUID assigned by the producer. Consumers use it for
	// idempotency when the same notification is delivered more than once.
	BuildEvent struct {
		EventID     string    `json:"event_id"`     //nolint: tagliatelle
		EventType   EventType `json:"event_type"`   //nolint: tagliatelle
		OccurredAt  time.Time `json:"occurred_at"`  //nolint: tagliatelle
		Pipeline    string    `json:"pipeline"`     // "org/slug" form
		BuildNumber int       `json:"build_number"` //nolint: tagliatelle
		Branch      string    `json:"branch"`
		Commit      string    `json:"commit,omitempty"`
		State       string    `json:"state"` // terminal build state
	}

	// EventType classifies a build notification.
	EventType string
)

// Build notification types.
const (
	// EventBuildFinished signals a build reached a terminal state.
	EventBuildFinished EventType = "build.finished"

	// EventBuildFailing signals a build is still running but already has
	// failed jobs. Emitted by pipelines configured for early notification.
	EventBuildFailing EventType = "build.failing"
)

// Terminal build states as reported by Buildkite.
const (
	StatePassed   = "passed"
	StateFailed   = "failed"
	StateCanceled = "canceled"
	StateBlocked  = "blocked"
)

// IsValid reports whether the event type is one this service understands.
func (et EventType) IsValid() bool {
	switch et {
	case EventBuildFinished, EventBuildFailing:
		return true
	default:
		return false
	}
}

// knownBuildStates is the set of build states accepted from producers.
var knownBuildStates = map[string]bool{ //nolint: gochecknoglobals
	StatePassed:   true,
	StateFailed:   true,
	StateCanceled: true,
	StateBlocked:  true,
}

// ShouldScan reports whether this event warrants a triage scan.
//
// Failed and failing builds are always scanned. Passed builds are scanned
// too: a passing build can still carry soft-failed jobs whose failures feed
// the flake timeline. Canceled and blocked builds carry no useful signal.
func (e *BuildEvent) ShouldScan() bool {
	switch e.State {
	case StateFailed, StatePassed:
		return true
	case StateCanceled, StateBlocked:
		return false
	default:
		return e.EventType == EventBuildFailing
	}
}

// EnsureEventID assigns a fresh UUID when the producer did not set one.
// Returns the event ID in use after the call.
func (e *BuildEvent) EnsureEventID() string {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}

	return e.EventID
}
