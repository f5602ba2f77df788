package triage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	require.NotNil(t, cfg)
	assert.Equal(t, DefaultConfig().InfraPatterns, cfg.InfraPatterns)
	assert.Equal(t, DefaultConfig().FlakyIndicators, cfg.FlakyIndicators)
}

func TestLoadConfig_InvalidYAMLReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ciwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("infra_patterns: [unclosed"), 0o600))

	cfg := LoadConfig(path)

	require.NotNil(t, cfg)
	assert.Equal(t, DefaultConfig().InfraPatterns, cfg.InfraPatterns)
}

func TestLoadConfig_FilePatternsReplaceDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ciwatch.yaml")
	content := `
infra_patterns:
  - pattern: "node preempted"
    description: "spot instance preemption"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := LoadConfig(path)

	require.Len(t, cfg.InfraPatterns, 1)
	assert.Equal(t, "spot instance preemption", cfg.InfraPatterns[0].Description)
	// Omitted list keeps its defaults.
	assert.Equal(t, DefaultConfig().FlakyIndicators, cfg.FlakyIndicators)
}

func TestLoadConfig_EmptyFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ciwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	cfg := LoadConfig(path)

	assert.Equal(t, DefaultConfig().InfraPatterns, cfg.InfraPatterns)
}

func TestClassifierInputs_CompilesCaseInsensitive(t *testing.T) {
	in := DefaultConfig().ClassifierInputs(nil)

	require.NotEmpty(t, in.InfraPatterns)
	assert.True(t, in.InfraPatterns[0].Expr.MatchString("TIMED OUT"))
}
