// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	LLM         LLMConfig         `yaml:"llm"`
	Team        TeamConfig        `yaml:"team"`
	Rebalance   RebalanceConfig   `yaml:"rebalance"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Alerts      AlertsConfig      `yaml:"alerts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name            string `yaml:"name"`
	MarketType      string `yaml:"market_type"`      // spot or futures
	ReferenceMarket string `yaml:"reference_market"` // e.g. USDT
	DatabasePath    string `yaml:"database_path"`    // empty disables run history
}

// ExchangeConfig configures the paper exchange
type ExchangeConfig struct {
	Name              string             `yaml:"name"`
	TakerFee          float64            `yaml:"taker_fee"`
	MakerFee          float64            `yaml:"maker_fee"`
	Leverage          float64            `yaml:"leverage"`
	OrdersPerSecond   float64            `yaml:"orders_per_second"`
	OrderMaxRetries   int                `yaml:"order_max_retries"`
	MinCost           float64            `yaml:"min_cost"`
	QuantityDecimals  int32              `yaml:"quantity_decimals"`
	PriceDecimals     int32              `yaml:"price_decimals"`
	InitialBalances   map[string]float64 `yaml:"initial_balances"`
	Prices            map[string]float64 `yaml:"prices"`
	MaxPositionNotion float64            `yaml:"max_position_notional"` // futures margin cap per order, 0 = unlimited
}

// LLMConfig configures the OpenAI-compatible completion service
type LLMConfig struct {
	Enabled           bool    `yaml:"enabled"`
	BaseURL           string  `yaml:"base_url"`
	APIKey            Secret  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxAttempts       int     `yaml:"max_attempts"`
}

// AgentConfig declares one team member
type AgentConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"`
	Channel string            `yaml:"channel"`
	Prompt  string            `yaml:"prompt"`
	Params  map[string]string `yaml:"params"`
}

// RelationConfig declares that Target consumes Source's output
type RelationConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// TeamConfig configures the agent team
type TeamConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Agents        []AgentConfig    `yaml:"agents"`
	Relations     []RelationConfig `yaml:"relations"`
	Manager       string           `yaml:"manager"` // default or ai
	Instructions  string           `yaml:"instructions"`
	MaxIterations int              `yaml:"max_iterations"`
	OutputAgent   string           `yaml:"output_agent"` // agent whose output carries distribution instructions
}

// TriggerProfileConfig is a named rebalance threshold set
type TriggerProfileConfig struct {
	Name                         string  `yaml:"name"`
	MinRatioDeviationPercent     float64 `yaml:"min_ratio_deviation_percent"`
	MinSwapRatioDeviationPercent float64 `yaml:"min_swap_ratio_deviation_percent"`
}

// IndexEntryConfig is one asset of the static index content
type IndexEntryConfig struct {
	Asset  string  `yaml:"asset"`
	Weight float64 `yaml:"weight"` // 0 means share the remainder uniformly
}

// RebalanceConfig contains rebalance engine settings
type RebalanceConfig struct {
	Schedule                         string                 `yaml:"schedule"`
	RunOnStart                       bool                   `yaml:"run_on_start"`
	TriggerProfiles                  []TriggerProfileConfig `yaml:"trigger_profiles"`
	SelectedProfile                  string                 `yaml:"selected_profile"`
	FillTimeoutSeconds               int                    `yaml:"fill_timeout_seconds"`
	MarketOrderPriceThresholdPercent float64                `yaml:"market_order_price_threshold_percent"`
	AllowSwaps                       bool                   `yaml:"allow_swaps"`
	Index                            []IndexEntryConfig     `yaml:"index"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing"`
	// ExportFile receives exported spans and log records; empty means stdout
	ExportFile string `yaml:"export_file"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	AgentPoolSize   int `yaml:"agent_pool_size"`
	AgentPoolBuffer int `yaml:"agent_pool_buffer"`
}

// AlertsConfig configures operator notifications. Empty values disable a channel.
type AlertsConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of DefaultConfig and validates the result
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []ValidationError

	errs = append(errs, c.validateAppConfig()...)
	errs = append(errs, c.validateExchangeConfig()...)
	errs = append(errs, c.validateLLMConfig()...)
	errs = append(errs, c.validateTeamConfig()...)
	errs = append(errs, c.validateRebalanceConfig()...)
	errs = append(errs, c.validateSystemConfig()...)

	if len(errs) > 0 {
		lines := make([]string, len(errs))
		for i, e := range errs {
			lines[i] = e.Error()
		}
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(lines, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() []ValidationError {
	var errs []ValidationError
	if c.App.MarketType != "spot" && c.App.MarketType != "futures" {
		errs = append(errs, ValidationError{Field: "app.market_type", Value: c.App.MarketType, Message: "must be spot or futures"})
	}
	if strings.TrimSpace(c.App.ReferenceMarket) == "" {
		errs = append(errs, ValidationError{Field: "app.reference_market", Value: c.App.ReferenceMarket, Message: "is required"})
	}
	return errs
}

func (c *Config) validateExchangeConfig() []ValidationError {
	var errs []ValidationError
	if c.Exchange.Name != "paper" {
		errs = append(errs, ValidationError{Field: "exchange.name", Value: c.Exchange.Name, Message: "only the paper exchange is supported"})
	}
	if c.Exchange.TakerFee < 0 || c.Exchange.TakerFee >= 1 {
		errs = append(errs, ValidationError{Field: "exchange.taker_fee", Value: c.Exchange.TakerFee, Message: "must be in [0, 1)"})
	}
	if c.Exchange.MakerFee < 0 || c.Exchange.MakerFee >= 1 {
		errs = append(errs, ValidationError{Field: "exchange.maker_fee", Value: c.Exchange.MakerFee, Message: "must be in [0, 1)"})
	}
	if c.App.MarketType == "futures" && c.Exchange.Leverage < 1 {
		errs = append(errs, ValidationError{Field: "exchange.leverage", Value: c.Exchange.Leverage, Message: "must be >= 1 for futures"})
	}
	if c.Exchange.OrdersPerSecond <= 0 {
		errs = append(errs, ValidationError{Field: "exchange.orders_per_second", Value: c.Exchange.OrdersPerSecond, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateLLMConfig() []ValidationError {
	if !c.LLM.Enabled {
		return nil
	}
	var errs []ValidationError
	if c.LLM.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "llm.base_url", Value: c.LLM.BaseURL, Message: "is required when llm is enabled"})
	}
	if c.LLM.Model == "" {
		errs = append(errs, ValidationError{Field: "llm.model", Value: c.LLM.Model, Message: "is required when llm is enabled"})
	}
	if c.LLM.MaxAttempts < 1 || c.LLM.MaxAttempts > 10 {
		errs = append(errs, ValidationError{Field: "llm.max_attempts", Value: c.LLM.MaxAttempts, Message: "must be between 1 and 10"})
	}
	if c.LLM.RequestsPerSecond <= 0 {
		errs = append(errs, ValidationError{Field: "llm.requests_per_second", Value: c.LLM.RequestsPerSecond, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateTeamConfig() []ValidationError {
	if !c.Team.Enabled {
		return nil
	}
	var errs []ValidationError
	if c.Team.Manager != "default" && c.Team.Manager != "ai" {
		errs = append(errs, ValidationError{Field: "team.manager", Value: c.Team.Manager, Message: "must be default or ai"})
	}
	if c.Team.Manager == "ai" && !c.LLM.Enabled {
		errs = append(errs, ValidationError{Field: "team.manager", Value: c.Team.Manager, Message: "ai manager requires llm.enabled"})
	}
	if c.Team.MaxIterations < 1 {
		errs = append(errs, ValidationError{Field: "team.max_iterations", Value: c.Team.MaxIterations, Message: "must be at least 1"})
	}
	if len(c.Team.Agents) == 0 {
		errs = append(errs, ValidationError{Field: "team.agents", Value: 0, Message: "at least one agent is required"})
	}

	names := make(map[string]bool)
	channels := make(map[string]bool)
	for i, a := range c.Team.Agents {
		field := fmt.Sprintf("team.agents[%d]", i)
		if a.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Value: a.Name, Message: "is required"})
		}
		if names[a.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Value: a.Name, Message: "duplicate agent name"})
		}
		names[a.Name] = true
		channel := a.Channel
		if channel == "" {
			channel = a.Name
		}
		channels[channel] = true
		if a.Type == "" {
			errs = append(errs, ValidationError{Field: field + ".type", Value: a.Type, Message: "is required"})
		}
	}
	for i, r := range c.Team.Relations {
		field := fmt.Sprintf("team.relations[%d]", i)
		if !channels[r.Source] {
			errs = append(errs, ValidationError{Field: field + ".source", Value: r.Source, Message: "unknown channel"})
		}
		if !channels[r.Target] {
			errs = append(errs, ValidationError{Field: field + ".target", Value: r.Target, Message: "unknown channel"})
		}
	}
	if c.Team.OutputAgent != "" && !names[c.Team.OutputAgent] {
		errs = append(errs, ValidationError{Field: "team.output_agent", Value: c.Team.OutputAgent, Message: "unknown agent"})
	}
	return errs
}

func (c *Config) validateRebalanceConfig() []ValidationError {
	var errs []ValidationError
	r := c.Rebalance

	if r.Schedule != "" {
		if _, err := cron.ParseStandard(r.Schedule); err != nil {
			errs = append(errs, ValidationError{Field: "rebalance.schedule", Value: r.Schedule, Message: err.Error()})
		}
	}

	if _, err := c.SelectedTriggerProfile(); err != nil {
		errs = append(errs, ValidationError{Field: "rebalance.selected_profile", Value: r.SelectedProfile, Message: err.Error()})
	}
	for i, p := range r.TriggerProfiles {
		if p.MinRatioDeviationPercent < 0 || p.MinSwapRatioDeviationPercent < 0 {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("rebalance.trigger_profiles[%d]", i), Value: p.Name, Message: "thresholds must be non-negative"})
		}
	}

	if r.FillTimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{Field: "rebalance.fill_timeout_seconds", Value: r.FillTimeoutSeconds, Message: "must be positive"})
	}
	if r.MarketOrderPriceThresholdPercent < 0 {
		errs = append(errs, ValidationError{Field: "rebalance.market_order_price_threshold_percent", Value: r.MarketOrderPriceThresholdPercent, Message: "must be non-negative"})
	}

	total := 0.0
	seen := make(map[string]bool)
	for i, e := range r.Index {
		asset := strings.ToUpper(strings.TrimSpace(e.Asset))
		if asset == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("rebalance.index[%d].asset", i), Value: e.Asset, Message: "is required"})
		}
		if seen[asset] {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("rebalance.index[%d].asset", i), Value: e.Asset, Message: "duplicate asset"})
		}
		seen[asset] = true
		if strings.EqualFold(asset, c.App.ReferenceMarket) {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("rebalance.index[%d].asset", i), Value: e.Asset, Message: "reference market cannot be an index asset"})
		}
		if e.Weight < 0 {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("rebalance.index[%d].weight", i), Value: e.Weight, Message: "must be non-negative"})
		}
		total += e.Weight
	}
	if total > 100.01 {
		errs = append(errs, ValidationError{Field: "rebalance.index", Value: total, Message: "weights sum above 100"})
	}
	return errs
}

func (c *Config) validateSystemConfig() []ValidationError {
	switch strings.ToUpper(c.System.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
		return nil
	}
	return []ValidationError{{Field: "system.log_level", Value: c.System.LogLevel, Message: "must be one of DEBUG INFO WARN ERROR FATAL"}}
}

// SelectedTriggerProfile returns the trigger profile named by selected_profile
func (c *Config) SelectedTriggerProfile() (TriggerProfileConfig, error) {
	for _, p := range c.Rebalance.TriggerProfiles {
		if p.Name == c.Rebalance.SelectedProfile {
			return p, nil
		}
	}
	return TriggerProfileConfig{}, fmt.Errorf("unknown trigger profile %q", c.Rebalance.SelectedProfile)
}

// String returns YAML with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

// DefaultConfig returns a paper-trading spot configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:            "index_trader",
			MarketType:      "spot",
			ReferenceMarket: "USDT",
		},
		Exchange: ExchangeConfig{
			Name:             "paper",
			TakerFee:         0.001,
			MakerFee:         0.001,
			Leverage:         1,
			OrdersPerSecond:  10,
			OrderMaxRetries:  3,
			MinCost:          5,
			QuantityDecimals: 6,
			PriceDecimals:    2,
			InitialBalances:  map[string]float64{"USDT": 10000},
			Prices:           map[string]float64{},
		},
		LLM: LLMConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			MaxTokens:         2000,
			Temperature:       0.2,
			TimeoutSeconds:    60,
			RequestsPerSecond: 1,
			MaxAttempts:       3,
		},
		Team: TeamConfig{
			Manager:       "default",
			MaxIterations: 1,
		},
		Rebalance: RebalanceConfig{
			Schedule:   "0 */4 * * *",
			RunOnStart: true,
			TriggerProfiles: []TriggerProfileConfig{
				{Name: "conservative", MinRatioDeviationPercent: 5, MinSwapRatioDeviationPercent: 10},
				{Name: "balanced", MinRatioDeviationPercent: 2.5, MinSwapRatioDeviationPercent: 5},
				{Name: "aggressive", MinRatioDeviationPercent: 1, MinSwapRatioDeviationPercent: 2},
			},
			SelectedProfile:                  "balanced",
			FillTimeoutSeconds:               60,
			MarketOrderPriceThresholdPercent: 1,
			AllowSwaps:                       true,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		Concurrency: ConcurrencyConfig{
			AgentPoolSize:   4,
			AgentPoolBuffer: 64,
		},
	}
}
