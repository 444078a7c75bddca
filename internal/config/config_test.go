package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "api_key: ${TEST_LLM_KEY}",
			envVars:  map[string]string{"TEST_LLM_KEY": "key_123"},
			expected: "api_key: key_123",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
		{
			name:     "mixed static and env vars",
			input:    "model: gpt\napi_key: ${TEST_KEY}",
			envVars:  map[string]string{"TEST_KEY": "dynamic_key"},
			expected: "model: gpt\napi_key: dynamic_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `app:
  market_type: futures
  reference_market: USDT
exchange:
  name: paper
  leverage: 3
llm:
  enabled: true
  api_key: "${TEST_LLM_API_KEY}"
  model: test-model
team:
  enabled: true
  manager: ai
  max_iterations: 2
  agents:
    - {name: ta, type: signal}
    - {name: summary, type: summary}
  relations:
    - {source: ta, target: summary}
rebalance:
  selected_profile: aggressive
  index:
    - {asset: BTC, weight: 60}
    - {asset: ETH, weight: 40}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TEST_LLM_API_KEY", "sk-from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, Secret("sk-from-env"), cfg.LLM.APIKey)
	assert.Equal(t, "futures", cfg.App.MarketType)
	assert.Equal(t, 60, cfg.Rebalance.FillTimeoutSeconds, "defaults survive partial files")

	profile, err := cfg.SelectedTriggerProfile()
	require.NoError(t, err)
	assert.Equal(t, 1.0, profile.MinRatioDeviationPercent)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad market type", func(c *Config) { c.App.MarketType = "margin" }, "app.market_type"},
		{"unknown profile", func(c *Config) { c.Rebalance.SelectedProfile = "yolo" }, "rebalance.selected_profile"},
		{"bad cron", func(c *Config) { c.Rebalance.Schedule = "every day" }, "rebalance.schedule"},
		{"weights above 100", func(c *Config) {
			c.Rebalance.Index = []IndexEntryConfig{{Asset: "BTC", Weight: 70}, {Asset: "ETH", Weight: 40}}
		}, "rebalance.index"},
		{"reference in index", func(c *Config) {
			c.Rebalance.Index = []IndexEntryConfig{{Asset: "usdt", Weight: 10}}
		}, "rebalance.index[0].asset"},
		{"ai manager without llm", func(c *Config) {
			c.Team.Enabled = true
			c.Team.Manager = "ai"
			c.Team.Agents = []AgentConfig{{Name: "a", Type: "signal"}}
		}, "team.manager"},
		{"relation to unknown channel", func(c *Config) {
			c.Team.Enabled = true
			c.Team.Agents = []AgentConfig{{Name: "a", Type: "signal"}}
			c.Team.Relations = []RelationConfig{{Source: "a", Target: "ghost"}}
		}, "team.relations[0].target"},
		{"bad log level", func(c *Config) { c.System.LogLevel = "LOUD" }, "system.log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "'"+tt.field+"'")
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = Secret("my_super_secret_api_key")

	output := cfg.String()
	assert.Contains(t, output, "[REDACTED]")
	assert.False(t, strings.Contains(output, "my_super_secret_api_key"))
}
