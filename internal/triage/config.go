package triage

import (
	"errors"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default location for the ciwatch configuration
// file. Hidden-file format following common tool conventions (.eslintrc,
// .golangci.yml, etc.).
const DefaultConfigPath = ".ciwatch.yaml"

// ConfigPathEnvVar is the environment variable name for a custom config path.
const ConfigPathEnvVar = "CIWATCH_CONFIG_PATH"

type (
	// PatternConfig is one pattern entry as written in .ciwatch.yaml.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	PatternConfig struct {
		Pattern     string `yaml:"pattern"`
		Description string `yaml:"description"`
	}

	// Config holds the triage pattern sets loaded from .ciwatch.yaml.
	// Pattern sets are configuration data, not hardcoded logic, so the
	// classification rules stay swappable and testable in isolation.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	Config struct {
		InfraPatterns   []PatternConfig `yaml:"infra_patterns"`
		FlakyIndicators []PatternConfig `yaml:"flaky_indicators"`
	}
)

// defaultInfraPatterns cover the infrastructure failure classes scanned for
// before any repo-specific configuration exists: timeouts, network errors,
// OOM (including accelerator memory), disk exhaustion, and forced process
// termination.
var defaultInfraPatterns = []PatternConfig{
	{Pattern: `timeout|timed out`, Description: "timeout detected"},
	{Pattern: `connection refused|network error`, Description: "network issue"},
	{Pattern: `no space left on device|disk full`, Description: "disk space"},
	{Pattern: `out of memory|OOM|CUDA out of memory`, Description: "OOM"},
	{Pattern: `killed by signal|SIGKILL`, Description: "process killed"},
	{Pattern: `cannot allocate memory`, Description: "memory allocation"},
	{Pattern: `failed to download|download error`, Description: "download failure"},
	{Pattern: `agent lost|lost connection to agent`, Description: "agent connection lost"},
}

var defaultFlakyIndicators = []PatternConfig{
	{Pattern: `flaky`, Description: "test name contains 'flaky'"},
	{Pattern: `intermittent`, Description: "intermittent failure"},
	{Pattern: `passed on retry`, Description: "passed on retry"},
}

// DefaultConfig returns the built-in pattern sets.
func DefaultConfig() *Config {
	return &Config{
		InfraPatterns:   defaultInfraPatterns,
		FlakyIndicators: defaultFlakyIndicators,
	}
}

// LoadConfig loads triage pattern configuration from a YAML file.
//
// Behavior:
//   - Returns the built-in defaults (not an error) if the file doesn't exist
//   - Returns the defaults + logs a warning if the YAML is invalid
//   - File-supplied pattern lists replace the corresponding default list;
//     an omitted list keeps its defaults
//
// Graceful degradation keeps scans working without any configuration, since
// the pattern sets are an optional collaborator of the classifier.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read triage config, using defaults",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}

		return cfg
	}

	if len(data) == 0 {
		return cfg
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		slog.Warn("Failed to parse triage config, using defaults",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg
	}

	if len(fileCfg.InfraPatterns) > 0 {
		cfg.InfraPatterns = fileCfg.InfraPatterns
	}

	if len(fileCfg.FlakyIndicators) > 0 {
		cfg.FlakyIndicators = fileCfg.FlakyIndicators
	}

	return cfg
}

// CompilePatterns compiles pattern configs case-insensitively. Invalid
// expressions are skipped with a warning rather than failing the whole set:
// one bad pattern must not disable triage.
func CompilePatterns(configs []PatternConfig) []Pattern {
	patterns := make([]Pattern, 0, len(configs))

	for _, pc := range configs {
		expr, err := regexp.Compile(`(?i)` + pc.Pattern)
		if err != nil {
			slog.Warn("Skipping invalid triage pattern",
				slog.String("pattern", pc.Pattern),
				slog.String("error", err.Error()))

			continue
		}

		patterns = append(patterns, Pattern{Expr: expr, Description: pc.Description})
	}

	return patterns
}

// ClassifierInputs compiles the config into the side inputs consumed by
// Classify. The issue index, an independent collaborator, is supplied by the
// caller and may be nil.
func (c *Config) ClassifierInputs(issues IssueIndex) Inputs {
	return Inputs{
		KnownIssues:   issues,
		InfraPatterns: CompilePatterns(c.InfraPatterns),
		FlakyPatterns: CompilePatterns(c.FlakyIndicators),
	}
}
