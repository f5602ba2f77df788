package buildkite

import "time"

type (
	// Build represents a Buildkite build as returned by the REST API.
	Build struct {
		Number     int        `json:"number"`
		URL        string     `json:"web_url"`
		Branch     string     `json:"branch"`
		Commit     string     `json:"commit"`
		State      string     `json:"state"`
		Message    string     `json:"message"`
		CreatedAt  time.Time  `json:"created_at"`
		FinishedAt *time.Time `json:"finished_at"`
		Jobs       []Job      `json:"jobs"`
	}

	// Job represents a single job within a build.
	Job struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		State      string `json:"state"`
		ExitStatus *int   `json:"exit_status"`
		Passed     bool   `json:"passed"`
		SoftFailed bool   `json:"soft_failed"`
	}

	// AnalyticsTest represents a test tracked by the Test Analytics API.
	AnalyticsTest struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Scope    string `json:"scope"`
		Location string `json:"location"`
		URL      string `json:"web_url"`
	}

	// TestRun represents a single execution of a test in Test Analytics.
	TestRun struct {
		ID        string    `json:"id"`
		Branch    string    `json:"branch"`
		CommitSHA string    `json:"commit_sha"`
		CreatedAt time.Time `json:"created_at"`
		Result    string    `json:"result"`
		URL       string    `json:"url"`
	}
)

// Failed reports whether the job finished unsuccessfully. Jobs that are still
// running, were skipped, or are non-command waiter steps do not count.
func (j Job) Failed() bool {
	if j.Passed {
		return false
	}

	switch j.State {
	case "failed", "broken", "timed_out", "canceled":
		return true
	default:
		return false
	}
}
