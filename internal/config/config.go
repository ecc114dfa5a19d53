// Package config loads daemon configuration: defaults, then an optional
// TOML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is looked for in the working directory when no explicit
// path is given.
const DefaultFile = "todochain.toml"

// Config is the full daemon configuration.
type Config struct {
	ListenAddr    string `toml:"listen_addr"`
	DBPath        string `toml:"db_path"`
	LogLevel      string `toml:"log_level"`
	ListName      string `toml:"list_name"`
	RPCEndpoint   string `toml:"rpc_endpoint"`
	WSEndpoint    string `toml:"ws_endpoint"`
	AggregatorURL string `toml:"aggregator_url"`
	PackageID     string `toml:"package_id"`
	ModuleName    string `toml:"module_name"`
	StructName    string `toml:"struct_name"`

	CacheTTL             duration `toml:"cache_ttl"`
	SessionTimeout       duration `toml:"session_timeout"`
	SessionCheckInterval duration `toml:"session_check_interval"`

	Retry RetryConfig `toml:"retry"`
}

// RetryConfig bounds the fetch retry loop.
type RetryConfig struct {
	MaxAttempts  int      `toml:"max_attempts"`
	InitialDelay duration `toml:"initial_delay"`
	Multiplier   float64  `toml:"multiplier"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}

	d.Duration = parsed

	return nil
}

// Load builds the configuration. path may be empty, in which case the
// default file is used if present; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

// StructType is the full on-chain type signature todo objects carry.
func (c *Config) StructType() string {
	return c.PackageID + "::" + c.ModuleName + "::" + c.StructName
}

func defaults() *Config {
	return &Config{
		ListenAddr:           ":8095",
		DBPath:               "todochain.db",
		LogLevel:             "info",
		ListName:             "todos",
		RPCEndpoint:          "https://fullnode.testnet.sui.io:443",
		WSEndpoint:           "wss://fullnode.testnet.sui.io:443",
		AggregatorURL:        "https://aggregator.walrus-testnet.walrus.space",
		PackageID:            "0x0",
		ModuleName:           "todo_nft",
		StructName:           "TodoNFT",
		CacheTTL:             duration{5 * time.Minute},
		SessionTimeout:       duration{30 * time.Minute},
		SessionCheckInterval: duration{time.Minute},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: duration{time.Second},
			Multiplier:   2,
		},
	}
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"TODOCHAIN_LISTEN":     &cfg.ListenAddr,
		"TODOCHAIN_DB":         &cfg.DBPath,
		"TODOCHAIN_LOG_LEVEL":  &cfg.LogLevel,
		"TODOCHAIN_RPC_URL":    &cfg.RPCEndpoint,
		"TODOCHAIN_WS_URL":     &cfg.WSEndpoint,
		"TODOCHAIN_AGGREGATOR": &cfg.AggregatorURL,
		"TODOCHAIN_PACKAGE_ID": &cfg.PackageID,
	}

	for key, target := range overrides {
		if value := os.Getenv(key); value != "" {
			*target = value
		}
	}
}
