// Package config provides configuration management for the spread bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultQuantity is the contract count when order.quantity is unset.
	defaultQuantity = 1
	// defaultLimit is the limit price when order.limit is unset.
	defaultLimit = 5.0
	// defaultExpiryTimezone decides which calendar day a same-day expiration
	// falls on.
	defaultExpiryTimezone = "America/Los_Angeles"
	// defaultPort is the webhook listen port.
	defaultPort = 5555
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Order       OrderConfig       `yaml:"order"`
	Server      ServerConfig      `yaml:"server"`
	Signal      SignalConfig      `yaml:"signal"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // sandbox | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines brokerage API settings.
type BrokerConfig struct {
	// BaseURL overrides the sandbox/live default when set.
	BaseURL   string `yaml:"base_url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	AccountID string `yaml:"account_id"`
	Timeout   string `yaml:"timeout"` // HTTP round-trip timeout, e.g. "10s"
}

// OrderConfig defines the fixed terms of every spread order.
type OrderConfig struct {
	Underlying     string  `yaml:"underlying"`
	OptionType     string  `yaml:"option_type"`  // call | put
	Quantity       int     `yaml:"quantity"`     // contracts per leg
	Limit          float64 `yaml:"limit"`        // limit price per spread
	PriceEffect    string  `yaml:"price_effect"` // credit | debit
	ExpiryTimezone string  `yaml:"expiry_timezone"`
}

// ServerConfig defines the webhook server settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// SignalConfig filters relayed chat messages.
type SignalConfig struct {
	Channel string `yaml:"channel"`
	Author  string `yaml:"author"`
	Mention string `yaml:"mention"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent. It
// also normalizes unset order fields to their defaults.
func (c *Config) Validate() error {
	// Environment validation. Sandbox vs live is an explicit mode, never
	// inferred from a debug flag.
	if c.Environment.Mode != "sandbox" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'sandbox' or 'live'")
	}

	// Broker validation
	if c.Broker.Username == "" {
		return fmt.Errorf("broker.username is required")
	}
	if c.Broker.Password == "" {
		return fmt.Errorf("broker.password is required")
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("broker.account_id is required")
	}
	if c.Broker.Timeout != "" {
		if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
			return fmt.Errorf("broker.timeout invalid: %w", err)
		}
	}

	c.normalizeOrderConfig()

	// Order validation
	if c.Order.Underlying == "" {
		return fmt.Errorf("order.underlying is required")
	}
	switch strings.ToLower(c.Order.OptionType) {
	case "call", "c", "put", "p":
	default:
		return fmt.Errorf("order.option_type must be 'call' or 'put'")
	}
	if c.Order.Quantity <= 0 {
		return fmt.Errorf("order.quantity must be > 0")
	}
	if c.Order.Limit <= 0 {
		return fmt.Errorf("order.limit must be > 0")
	}
	switch strings.ToLower(c.Order.PriceEffect) {
	case "credit", "debit":
	default:
		return fmt.Errorf("order.price_effect must be 'credit' or 'debit'")
	}
	if _, err := time.LoadLocation(c.Order.ExpiryTimezone); err != nil {
		return fmt.Errorf("order.expiry_timezone invalid: %w", err)
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}

	return nil
}

// IsSandbox returns true if the bot targets the certification environment.
func (c *Config) IsSandbox() bool {
	return c.Environment.Mode == "sandbox"
}

// GetBrokerTimeout returns the configured HTTP timeout, zero when unset so
// the broker package applies its own default.
func (c *Config) GetBrokerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GetExpiryLocation returns the zone whose calendar day picks the expiration.
func (c *Config) GetExpiryLocation() *time.Location {
	loc, err := time.LoadLocation(c.Order.ExpiryTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// normalizeOrderConfig sets default values for unset order and server fields.
func (c *Config) normalizeOrderConfig() {
	if c.Order.OptionType == "" {
		c.Order.OptionType = "put"
	}
	if c.Order.Quantity == 0 {
		c.Order.Quantity = defaultQuantity
	}
	if c.Order.Limit == 0 {
		c.Order.Limit = defaultLimit
	}
	if c.Order.PriceEffect == "" {
		c.Order.PriceEffect = "credit"
	}
	if c.Order.ExpiryTimezone == "" {
		c.Order.ExpiryTimezone = defaultExpiryTimezone
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
}
