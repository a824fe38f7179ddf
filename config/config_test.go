package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/config"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
providers:
  anthropic:
    token: "sk-ant-xxx"
    model: "claude-sonnet-4-5"
compaction:
  enabled: true
  reserveTokens: 2000
  keepRecentTokens: 8000
policy:
  maxReminderChars: 4000
  steeringDrain: all
  followUpDrain: one_at_a_time
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-xxx", cfg.Providers["anthropic"].Token)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Providers["anthropic"].Model)
	assert.True(t, cfg.Compaction.Enabled)
	assert.Equal(t, 8000, cfg.Compaction.KeepRecentTokens)
	assert.Equal(t, "all", cfg.Policy.SteeringDrain)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDotenvFillsOnlyMissingCredentials(t *testing.T) {
	dir := t.TempDir()
	dotenv := writeFile(t, dir, ".env", "ANTHROPIC_API_KEY=from-dotenv\nOPENAI_API_KEY=from-dotenv-openai\n")

	cfg := config.Config{Providers: map[string]config.ProviderCredentials{
		"anthropic": {Token: "already-set"},
	}}

	os.Unsetenv("ANTHROPIC_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")

	got, err := config.LoadDotenv(cfg, dotenv)
	require.NoError(t, err)
	assert.Equal(t, "already-set", got.Providers["anthropic"].Token)
	assert.Equal(t, "from-dotenv-openai", got.Providers["openai"].Token)
	assert.Equal(t, "from-dotenv-openai", got.Providers["openai-codex"].Token)
}

func TestLoadDotenvMissingFileIsNotAnError(t *testing.T) {
	cfg := config.Config{Providers: map[string]config.ProviderCredentials{}}
	_, err := config.LoadDotenv(cfg, filepath.Join(t.TempDir(), "no-such.env"))
	assert.NoError(t, err)
}

func TestLoadDotenvEmptyPathSkipsFileLoad(t *testing.T) {
	cfg := config.Config{Providers: map[string]config.ProviderCredentials{}}
	_, err := config.LoadDotenv(cfg, "")
	assert.NoError(t, err)
}
