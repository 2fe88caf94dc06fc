package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/simbroker/broker"
)

// Config represents the complete simulator configuration
type Config struct {
	Account     Account                   `json:"account" yaml:"account"`
	Data        Data                      `json:"data" yaml:"data"`
	Store       Store                     `json:"store" yaml:"store"`
	Commissions broker.CommissionSchedule `json:"commissions,omitempty" yaml:"commissions,omitempty"`
}

// Account contains account initialization parameters
type Account struct {
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance,omitempty" yaml:"balance,omitempty"`
}

// Data locates the historical bar files
type Data struct {
	Dir string `json:"dir" yaml:"dir"`
}

// Store contains ledger persistence parameters
type Store struct {
	Type string `json:"type" yaml:"type"` // "memory" or "sqlite"
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LoadFromFile loads configuration from a file (JSON or YAML based on extension)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Balance < 0 {
		return fmt.Errorf("account.balance must not be negative")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Store.Type != "memory" && c.Store.Type != "sqlite" {
		return fmt.Errorf("store.type must be 'memory' or 'sqlite'")
	}
	if c.Store.Type == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store.path required for sqlite type")
	}
	for i, rate := range c.Commissions {
		if rate.PerQuant < 0 || rate.Minimum < 0 {
			return fmt.Errorf("commissions[%d]: rates must not be negative", i)
		}
	}
	return nil
}

// Schedule returns the configured commission schedule, or the default when
// none is given.
func (c *Config) Schedule() broker.CommissionSchedule {
	if len(c.Commissions) > 0 {
		return c.Commissions
	}
	return broker.DefaultCommissions
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: Account{
			Currency: "USD",
		},
		Data: Data{
			Dir: "./data",
		},
		Store: Store{
			Type: "sqlite",
			Path: "./simbroker.db",
		},
	}
}
