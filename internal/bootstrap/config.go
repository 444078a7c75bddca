package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"index_trader/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Pre-flight Checks
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if len(cfg.Rebalance.Index) == 0 {
		return fmt.Errorf("rebalance.index must list at least one asset")
	}

	if cfg.App.DatabasePath != "" {
		dir := filepath.Dir(cfg.App.DatabasePath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("database directory %s: %w", dir, err)
		}
	}

	if cfg.Team.Enabled && cfg.LLM.Enabled && !cfg.LLM.APIKey.IsSet() {
		fmt.Fprintln(os.Stderr, "WARNING: llm.api_key is empty, requests are sent unauthenticated")
	}
	return nil
}
