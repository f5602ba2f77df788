package owners

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// RuleConfig is one ownership rule as written in .ciwatch.yaml.
	RuleConfig struct {
		Pattern string `yaml:"pattern"`
		Owner   string `yaml:"owner"`
	}

	// Config holds ownership rules loaded from .ciwatch.yaml.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	Config struct {
		OwnershipRules []RuleConfig `yaml:"ownership_rules"`
	}
)

// LoadConfig loads ownership rules from a YAML file.
//
// Behavior mirrors the other optional config loaders: a missing file returns
// an empty config, an unreadable or invalid file logs a warning and returns
// an empty config. Ownership rules are an optional collaborator; the
// resolver degrades to historical attribution (or "no owner") without them.
func LoadConfig(path string) *Config {
	cfg := &Config{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read ownership config, continuing without rules",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}

		return cfg
	}

	if len(data) == 0 {
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse ownership config, continuing without rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{}
	}

	return cfg
}

// Rules converts the config into resolver rules.
func (c *Config) Rules() []Rule {
	rules := make([]Rule, 0, len(c.OwnershipRules))

	for _, rc := range c.OwnershipRules {
		rules = append(rules, Rule{Pattern: rc.Pattern, Owner: rc.Owner})
	}

	return rules
}
