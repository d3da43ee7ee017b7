// Package config loads the YAML configuration of the workshop server.
//
// ${VAR} references in the file are expanded from the environment before
// parsing, so secrets such as the database DSN can live in a .env file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/workshop-engine/workshop"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Events   EventsConfig   `yaml:"events"`
	Engine   EngineConfig   `yaml:"engine"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// DatabaseConfig selects the record store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 or postgres
	DSN    string `yaml:"dsn"`    // file path for sqlite3, connection URL for postgres
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
}

// EventsConfig holds the RabbitMQ connection used for domain events.
type EventsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	QueueSize     int           `yaml:"queue_size"` // events buffered ahead of the broker
}

// EngineConfig holds the business settings of the accounting engine.
type EngineConfig struct {
	OverheadCostPerHour float64              `yaml:"overhead_cost_per_hour"`
	CatalystItemID      string               `yaml:"catalyst_item_id"`
	CatalystRules       []CatalystRuleConfig `yaml:"catalyst_rules"`
	LiveRefreshInterval time.Duration        `yaml:"live_refresh_interval"`
	TransactionRetries  int                  `yaml:"transaction_retries"`
}

// CatalystRuleConfig is one temperature band: at or below TemperatureMax,
// Percentage percent of the base quantity is added as catalyst.
type CatalystRuleConfig struct {
	TemperatureMax float64 `yaml:"temperature_max"`
	Percentage     float64 `yaml:"percentage"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite3" {
		c.Database.DSN = "workshop.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Events.Exchange.Type == "" {
		c.Events.Exchange.Type = "topic"
	}
	if c.Events.Connection.RetryAttempts == 0 {
		c.Events.Connection.RetryAttempts = 5
	}
	if c.Events.Connection.RetryInterval == 0 {
		c.Events.Connection.RetryInterval = 2 * time.Second
	}
	if c.Events.Publish.QueueSize == 0 {
		c.Events.Publish.QueueSize = 256
	}
	if c.Engine.CatalystRules == nil {
		for _, r := range workshop.DefaultCatalystRules() {
			pct, _ := r.Percentage.Float64()
			c.Engine.CatalystRules = append(c.Engine.CatalystRules, CatalystRuleConfig{TemperatureMax: r.TemperatureMax, Percentage: pct})
		}
	}
	if c.Engine.LiveRefreshInterval == 0 {
		c.Engine.LiveRefreshInterval = time.Second
	}
	if c.Engine.TransactionRetries == 0 {
		c.Engine.TransactionRetries = 3
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	if c.Events.Enabled {
		if c.Events.Host == "" {
			return fmt.Errorf("events host is required")
		}
		if c.Events.Port < MinPort || c.Events.Port > MaxPort {
			return fmt.Errorf("invalid events port: %d (must be between %d and %d)", c.Events.Port, MinPort, MaxPort)
		}
		if c.Events.Exchange.Name == "" {
			return fmt.Errorf("events exchange name is required")
		}
	}

	if c.Engine.OverheadCostPerHour < 0 {
		return fmt.Errorf("overhead_cost_per_hour must not be negative")
	}
	if c.Engine.TransactionRetries < 1 {
		return fmt.Errorf("transaction_retries must be at least 1")
	}
	for i, r := range c.Engine.CatalystRules {
		if r.Percentage < 0 || r.Percentage > 100 {
			return fmt.Errorf("catalyst rule %d: percentage must be between 0 and 100", i)
		}
		if i > 0 && r.TemperatureMax <= c.Engine.CatalystRules[i-1].TemperatureMax {
			return fmt.Errorf("catalyst rule %d: temperature_max must be ascending", i)
		}
	}

	return nil
}

// Settings converts the engine section into immutable engine settings.
func (e EngineConfig) Settings() (workshop.Settings, error) {
	rules := make([]workshop.CatalystRule, 0, len(e.CatalystRules))
	for _, r := range e.CatalystRules {
		rules = append(rules, workshop.CatalystRule{
			TemperatureMax: r.TemperatureMax,
			Percentage:     decimal.NewFromFloat(r.Percentage),
		})
	}
	return workshop.NewSettings(workshop.SettingsInput{
		OverheadCostPerHour: decimal.NewFromFloat(e.OverheadCostPerHour),
		CatalystItemID:      workshop.ItemID(e.CatalystItemID),
		CatalystRules:       rules,
		LiveRefresh:         e.LiveRefreshInterval,
		TransactionRetries:  e.TransactionRetries,
	})
}
