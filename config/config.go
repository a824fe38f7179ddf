// Package config implements the ambient configuration layer SPEC_FULL.md
// §A.4 describes: a YAML file for provider credentials, model defaults, and
// compaction/policy thresholds, overlaid by a .env-sourced environment for
// secrets. Grounded on intelligencedev-manifold/internal/config/loader.go
// (godotenv + explicit env-var overlay) and the teacher's direct dependency
// on gopkg.in/yaml.v3 for the structured half.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	agentcore "github.com/conversant-ai/agentcore"
)

// ProviderCredentials holds one vendor's API key and optional base URL
// override. OAuth bearer tokens are out of scope here (spec §1, §C.6);
// Token, when set, is a static API key only.
type ProviderCredentials struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
}

// CompactionPolicy mirrors compaction.Settings on disk.
type CompactionPolicy struct {
	Enabled          bool `yaml:"enabled"`
	ReserveTokens    int  `yaml:"reserveTokens"`
	KeepRecentTokens int  `yaml:"keepRecentTokens"`
}

// PolicyCaps bounds agentloop behavior a deployment wants enforced
// independent of any single Agent's Config (e.g. a CLI's default
// steering/follow-up drain mode).
type PolicyCaps struct {
	MaxReminderChars int    `yaml:"maxReminderChars"`
	SteeringDrain    string `yaml:"steeringDrain"` // "one_at_a_time" | "all"
	FollowUpDrain    string `yaml:"followUpDrain"`
}

// Config is the top-level YAML document shape loaded by Load.
type Config struct {
	Providers  map[string]ProviderCredentials `yaml:"providers"`
	Compaction CompactionPolicy               `yaml:"compaction"`
	Policy     PolicyCaps                     `yaml:"policy"`
}

// Load reads and parses a YAML config file at path (spec §A.4
// "config.Load(path)").
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, agentcore.Wrap(agentcore.KindSession, err, "config: read %q", path)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, agentcore.Wrap(agentcore.KindSession, err, "config: parse %q", path)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderCredentials)
	}
	return cfg, nil
}

// LoadDotenv overlays ANTHROPIC_API_KEY / OPENAI_API_KEY / GEMINI_API_KEY
// from a .env file (via godotenv) onto cfg's provider credentials, without
// overwriting a value the YAML document already set explicitly (spec §A.4:
// "then config.LoadDotenv overlays ... from a .env file"). Secrets are
// never logged by this function or any caller of it in this module.
func LoadDotenv(cfg Config, dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return cfg, agentcore.Wrap(agentcore.KindSession, err, "config: load .env %q", dotenvPath)
		}
	}
	overlay := map[string]string{
		"anthropic":       "ANTHROPIC_API_KEY",
		"openai":          "OPENAI_API_KEY",
		"openai-codex":    "OPENAI_API_KEY",
		"openai-responses": "OPENAI_API_KEY",
		"gemini-cli":      "GEMINI_API_KEY",
		"bedrock":         "AWS_BEARER_TOKEN_BEDROCK",
	}
	for providerID, envVar := range overlay {
		v := strings.TrimSpace(os.Getenv(envVar))
		if v == "" {
			continue
		}
		creds := cfg.Providers[providerID]
		if creds.Token == "" {
			creds.Token = v
			cfg.Providers[providerID] = creds
		}
	}
	return cfg, nil
}
