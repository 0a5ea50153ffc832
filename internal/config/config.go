// Package config loads the marketplace daemon configuration from a YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the marketplace daemon configuration.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format"`

	// Owner administers the marketplace components.
	Owner string `yaml:"owner"`
	// Account holds escrow and custody. Defaults to owner.
	Account string `yaml:"account"`
	// WorkerAccount is the batch worker identity.
	WorkerAccount string `yaml:"worker_account"`
	// Attestant may sign fee overrides.
	Attestant string `yaml:"attestant"`

	Royalty  RoyaltyConfig  `yaml:"royalty"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RoyaltyConfig is the initial fee schedule. Amounts are base-10
// strings in the currency's smallest unit.
type RoyaltyConfig struct {
	Recipient      string `yaml:"recipient"`
	MarketplaceBps uint32 `yaml:"marketplace_bps"`
	ListingFee     string `yaml:"listing_fee"`
	OfferFee       string `yaml:"offer_fee"`
}

// PostgresConfig selects the persistence backend. An empty DSN keeps
// the in-memory stores.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Listen:    ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the YAML file at path, falling back to defaults when the
// path is empty or missing, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if cfg.Owner == "" {
		return Config{}, fmt.Errorf("owner account is required (MARKET_OWNER)")
	}
	if cfg.Royalty.Recipient == "" {
		cfg.Royalty.Recipient = cfg.Owner
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Listen, "MARKET_LISTEN")
	setString(&cfg.LogLevel, "MARKET_LOG_LEVEL")
	setString(&cfg.LogFormat, "MARKET_LOG_FORMAT")
	setString(&cfg.Owner, "MARKET_OWNER")
	setString(&cfg.Account, "MARKET_ACCOUNT")
	setString(&cfg.WorkerAccount, "MARKET_WORKER_ACCOUNT")
	setString(&cfg.Attestant, "MARKET_ATTESTANT")
	setString(&cfg.Royalty.Recipient, "MARKET_FEE_RECIPIENT")
	setString(&cfg.Royalty.ListingFee, "MARKET_LISTING_FEE")
	setString(&cfg.Royalty.OfferFee, "MARKET_OFFER_FEE")
	setString(&cfg.Postgres.DSN, "MARKET_POSTGRES_DSN")
	if raw := os.Getenv("MARKET_FEE_BPS"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil {
			cfg.Royalty.MarketplaceBps = uint32(v)
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
