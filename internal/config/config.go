// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig                 `yaml:"app"`
	Exchanges   map[string]ExchangeConfig `yaml:"exchanges"`
	Replication ReplicationConfig         `yaml:"replication"`
	Sync        SyncConfig                `yaml:"sync"`
	Concurrency ConcurrencyConfig         `yaml:"concurrency"`
	System      SystemConfig              `yaml:"system"`
	Telemetry   TelemetryConfig           `yaml:"telemetry"`
	Alerts      AlertConfig               `yaml:"alerts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	LeaderUserID    string `yaml:"leader_user_id"`
	LeaderExchange  string `yaml:"leader_exchange"`
	CredentialsFile string `yaml:"credentials_file"`
	EncryptionKey   Secret `yaml:"encryption_key"` // base64, 32 bytes decoded
}

// ExchangeConfig contains exchange-specific configuration for the leader
// account. Follower credentials come from the credential store instead.
type ExchangeConfig struct {
	APIKey     Secret `yaml:"api_key"`
	SecretKey  Secret `yaml:"secret_key"`
	Passphrase Secret `yaml:"passphrase"` // Required for some exchanges
	BaseURL    string `yaml:"base_url"`   // Optional override for API URL
	WSURL      string `yaml:"ws_url"`     // Optional override for stream URL
}

// ReplicationConfig contains the sizing parameters
type ReplicationConfig struct {
	BudgetUsage      float64 `yaml:"budget_usage"`      // fraction of follower equity usable as margin
	MaxLeverage      int     `yaml:"max_leverage"`      // hard cap on elevated leverage
	LeverageHeadroom int     `yaml:"leverage_headroom"` // added on top of the minimum feasible leverage
	MinEquityUSDT    float64 `yaml:"min_equity_usdt"`   // accounts at or below are skipped
}

// SyncConfig contains the reconciliation loop settings
type SyncConfig struct {
	Enabled            bool    `yaml:"enabled"`
	IntervalSeconds    int     `yaml:"interval_seconds"`
	MaxPriceDriftPct   float64 `yaml:"max_price_drift_pct"`   // late-join gate, percent
	MaxPositionAgeMins int     `yaml:"max_position_age_mins"` // late-join gate, minutes
	DryRun             bool    `yaml:"dry_run"`
}

// ConcurrencyConfig contains worker pool settings for follower fan-out
type ConcurrencyConfig struct {
	FollowerPoolSize   int `yaml:"follower_pool_size"`
	FollowerPoolBuffer int `yaml:"follower_pool_buffer"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// AlertConfig configures operator notification channels. Empty credentials
// disable the corresponding channel.
type AlertConfig struct {
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

// knownExchanges lists the adapter implementations the factory can build.
var knownExchanges = []string{"binance", "mock"}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// expandEnvVars expands ${VAR} and $VAR references in the YAML content
func expandEnvVars(content string) string {
	return os.Expand(content, func(name string) string {
		return os.Getenv(name)
	})
}

func (c *Config) applyDefaults() {
	if c.Replication.BudgetUsage == 0 {
		c.Replication.BudgetUsage = 0.90
	}
	if c.Replication.MaxLeverage == 0 {
		c.Replication.MaxLeverage = 50
	}
	if c.Replication.LeverageHeadroom == 0 {
		c.Replication.LeverageHeadroom = 2
	}
	if c.Replication.MinEquityUSDT == 0 {
		c.Replication.MinEquityUSDT = 1.0
	}
	if c.Sync.IntervalSeconds == 0 {
		c.Sync.IntervalSeconds = 20
	}
	if c.Sync.MaxPriceDriftPct == 0 {
		c.Sync.MaxPriceDriftPct = 0.75
	}
	if c.Sync.MaxPositionAgeMins == 0 {
		c.Sync.MaxPositionAgeMins = 30
	}
	if c.Concurrency.FollowerPoolSize == 0 {
		c.Concurrency.FollowerPoolSize = 10
	}
	if c.Concurrency.FollowerPoolBuffer == 0 {
		c.Concurrency.FollowerPoolBuffer = 100
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9091
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateAppConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExchanges(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateReplicationConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSyncConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if c.App.LeaderExchange == "" {
		return ValidationError{
			Field:   "app.leader_exchange",
			Message: "leader exchange must be set",
		}
	}
	if !contains(knownExchanges, strings.ToLower(c.App.LeaderExchange)) {
		return ValidationError{
			Field:   "app.leader_exchange",
			Value:   c.App.LeaderExchange,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(knownExchanges, ", ")),
		}
	}
	return nil
}

func (c *Config) validateExchanges() error {
	leader := strings.ToLower(c.App.LeaderExchange)
	if leader == "mock" {
		return nil
	}
	exCfg, ok := c.Exchanges[leader]
	if !ok {
		return ValidationError{
			Field:   "exchanges",
			Value:   leader,
			Message: "missing configuration for leader exchange",
		}
	}
	if exCfg.APIKey == "" || exCfg.SecretKey == "" {
		return ValidationError{
			Field:   "exchanges." + leader,
			Message: "api_key and secret_key are required",
		}
	}
	return nil
}

func (c *Config) validateReplicationConfig() error {
	r := c.Replication
	if r.BudgetUsage <= 0 || r.BudgetUsage > 1 {
		return ValidationError{
			Field:   "replication.budget_usage",
			Value:   r.BudgetUsage,
			Message: "must be in (0, 1]",
		}
	}
	if r.MaxLeverage < 1 || r.MaxLeverage > 125 {
		return ValidationError{
			Field:   "replication.max_leverage",
			Value:   r.MaxLeverage,
			Message: "must be between 1 and 125",
		}
	}
	if r.LeverageHeadroom < 0 || r.LeverageHeadroom > 10 {
		return ValidationError{
			Field:   "replication.leverage_headroom",
			Value:   r.LeverageHeadroom,
			Message: "must be between 0 and 10",
		}
	}
	return nil
}

func (c *Config) validateSyncConfig() error {
	s := c.Sync
	if s.IntervalSeconds < 1 || s.IntervalSeconds > 3600 {
		return ValidationError{
			Field:   "sync.interval_seconds",
			Value:   s.IntervalSeconds,
			Message: "must be between 1 and 3600",
		}
	}
	if s.MaxPriceDriftPct <= 0 || s.MaxPriceDriftPct > 100 {
		return ValidationError{
			Field:   "sync.max_price_drift_pct",
			Value:   s.MaxPriceDriftPct,
			Message: "must be in (0, 100]",
		}
	}
	if s.MaxPositionAgeMins < 1 {
		return ValidationError{
			Field:   "sync.max_position_age_mins",
			Value:   s.MaxPositionAgeMins,
			Message: "must be at least 1",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// String renders the config for logging with all secrets masked.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "app: leader_user_id=%s leader_exchange=%s credentials_file=%s encryption_key=%s\n",
		c.App.LeaderUserID, c.App.LeaderExchange, c.App.CredentialsFile, maskString(string(c.App.EncryptionKey)))
	for name, ex := range c.Exchanges {
		fmt.Fprintf(&b, "exchange %s: api_key=%s secret_key=%s base_url=%s\n",
			name, maskString(string(ex.APIKey)), maskString(string(ex.SecretKey)), ex.BaseURL)
	}
	fmt.Fprintf(&b, "replication: budget_usage=%.2f max_leverage=%d leverage_headroom=%d min_equity_usdt=%.2f\n",
		c.Replication.BudgetUsage, c.Replication.MaxLeverage, c.Replication.LeverageHeadroom, c.Replication.MinEquityUSDT)
	fmt.Fprintf(&b, "sync: enabled=%t interval=%ds drift=%.2f%% age=%dm dry_run=%t\n",
		c.Sync.Enabled, c.Sync.IntervalSeconds, c.Sync.MaxPriceDriftPct, c.Sync.MaxPositionAgeMins, c.Sync.DryRun)
	fmt.Fprintf(&b, "alerts: slack=%t telegram=%t\n",
		c.Alerts.SlackWebhookURL != "", c.Alerts.TelegramBotToken != "" && c.Alerts.TelegramChatID != "")
	return b.String()
}

// maskString hides a secret completely while hinting at its presence
func maskString(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a configuration with sensible test defaults
func DefaultConfig() *Config {
	cfg := &Config{
		App: AppConfig{
			LeaderUserID:    "leader",
			LeaderExchange:  "mock",
			CredentialsFile: "api_keys.json",
		},
		Exchanges: map[string]ExchangeConfig{},
		System: SystemConfig{
			LogLevel: "INFO",
		},
	}
	cfg.applyDefaults()
	return cfg
}
