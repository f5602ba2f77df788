package buildkite

import (
	"time"

	"github.com/ciwatch-io/ciwatch/internal/config"
)

// Default endpoints and client behaviour. The base URLs are overridable so
// tests can point the client at a local httptest server.
const (
	DefaultBaseURL      = "https://api.buildkite.com/v2"
	DefaultOrgSlug      = "vllm"
	DefaultTimeout      = 30 * time.Second
	DefaultLogTimeout   = 60 * time.Second
	DefaultRequestsRate = 5.0
)

// Config holds the settings needed to talk to the Buildkite REST and Test
// Analytics APIs.
type Config struct {
	// Token is the Buildkite API access token. Required.
	Token string

	// OrgSlug is the default organization used when a pipeline reference
	// carries no organization prefix.
	OrgSlug string

	// BaseURL is the root of the Buildkite REST API.
	BaseURL string

	// Timeout applies to metadata requests (builds, jobs, analytics).
	Timeout time.Duration

	// LogTimeout applies to raw log downloads, which can be much larger
	// than metadata responses.
	LogTimeout time.Duration

	// RequestsPerSecond caps the client-side request rate.
	RequestsPerSecond float64
}

// LoadConfig reads client settings from environment variables.
//
// BUILDKITE_TOKEN is the primary token variable; BUILDKITE_API_TOKEN is
// accepted as a fallback for compatibility with the official CLI tooling.
func LoadConfig() Config {
	token := config.GetEnvStr("BUILDKITE_TOKEN", "")
	if token == "" {
		token = config.GetEnvStr("BUILDKITE_API_TOKEN", "")
	}

	timeout := config.GetEnvDuration("BUILDKITE_TIMEOUT", DefaultTimeout)

	return Config{
		Token:             token,
		OrgSlug:           config.GetEnvStr("BUILDKITE_ORG", DefaultOrgSlug),
		BaseURL:           config.GetEnvStr("BUILDKITE_BASE_URL", DefaultBaseURL),
		Timeout:           timeout,
		LogTimeout:        config.GetEnvDuration("BUILDKITE_LOG_TIMEOUT", DefaultLogTimeout),
		RequestsPerSecond: DefaultRequestsRate,
	}
}

// applyDefaults fills zero-value fields so a partially populated Config is
// still usable.
func (c Config) applyDefaults() Config {
	if c.OrgSlug == "" {
		c.OrgSlug = DefaultOrgSlug
	}

	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	if c.LogTimeout <= 0 {
		c.LogTimeout = DefaultLogTimeout
	}

	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsRate
	}

	return c
}
