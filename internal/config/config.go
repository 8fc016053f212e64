// Package config defines the configuration of the marketplace daemon and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CELOMARKET_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Confirm  ConfirmConfig  `toml:"confirm"`
	Approval ApprovalConfig `toml:"approval"`
	Cache    CacheConfig    `toml:"cache"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing key sources. Either may be empty; the
// wallet is then connected later through the API.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// AutoConnect connects the wallet at startup instead of on first use.
	AutoConnect bool `toml:"auto_connect"`
}

// ChainConfig identifies the ledger and the contracts on it.
type ChainConfig struct {
	RPCURL             string `toml:"rpc_url"`
	ChainID            int64  `toml:"chain_id"`
	MarketplaceAddress string `toml:"marketplace_address"`
	TokenAddress       string `toml:"token_address"`
	ExplorerURL        string `toml:"explorer_url"`
}

// ConfirmConfig controls how transactions are awaited.
type ConfirmConfig struct {
	MinConfirmations uint64   `toml:"min_confirmations"`
	PollInterval     duration `toml:"poll_interval"`
	Timeout          duration `toml:"timeout"`
}

// ApprovalConfig controls the token approval step of a purchase.
type ApprovalConfig struct {
	// ReuseStandingAllowance skips approve when the on-chain allowance
	// already covers the price.
	ReuseStandingAllowance bool `toml:"reuse_standing_allowance"`
}

// CacheConfig controls the listing read-through cache and intent locks.
type CacheConfig struct {
	TTL     duration `toml:"ttl"`
	LockTTL duration `toml:"lock_ttl"`
}

// RedisConfig holds Redis connection parameters. When disabled the cache,
// locks, bus and rate limiter are process-local.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds the intent journal database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old journal entries to object storage.
type ArchiveConfig struct {
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	Prefix        string   `toml:"prefix"`
	BatchSize     int      `toml:"batch_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// IntentRateLimit is the number of intent requests a client may make
	// per IntentRateWindow. Zero disables limiting.
	IntentRateLimit  int      `toml:"intent_rate_limit"`
	IntentRateWindow duration `toml:"intent_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:       "https://alfajores-forno.celo-testnet.org",
			ChainID:      44787,
			TokenAddress: "0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1",
			ExplorerURL:  "https://explorer.celo.org/alfajores",
		},
		Confirm: ConfirmConfig{
			MinConfirmations: 1,
			PollInterval:     duration{2 * time.Second},
			Timeout:          duration{2 * time.Minute},
		},
		Cache: CacheConfig{
			TTL:     duration{5 * time.Minute},
			LockTTL: duration{5 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "celomarket:",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "celomarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "celomarket-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
			Prefix:        "archive",
			BatchSize:     1000,
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			IntentRateLimit:  30,
			IntentRateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"done", "failed"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
	"migrate": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.AutoConnect && c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: auto_connect needs private_key or encrypted_key_path")
	}

	// Chain
	if mode == "serve" {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if !common.IsHexAddress(c.Chain.MarketplaceAddress) {
			errs = append(errs, fmt.Sprintf("chain: marketplace_address %q is not a hex address", c.Chain.MarketplaceAddress))
		}
		if !common.IsHexAddress(c.Chain.TokenAddress) {
			errs = append(errs, fmt.Sprintf("chain: token_address %q is not a hex address", c.Chain.TokenAddress))
		}
	}

	// Confirm
	if c.Confirm.MinConfirmations < 1 {
		errs = append(errs, "confirm: min_confirmations must be >= 1")
	}
	if c.Confirm.PollInterval.Duration <= 0 {
		errs = append(errs, "confirm: poll_interval must be > 0")
	}
	if c.Confirm.Timeout.Duration <= 0 {
		errs = append(errs, "confirm: timeout must be > 0")
	}
	// A purchase holds its lock across two confirmation waits.
	if c.Cache.LockTTL.Duration > 0 && c.Cache.LockTTL.Duration < 2*c.Confirm.Timeout.Duration {
		errs = append(errs, "cache: lock_ttl must be at least twice confirm.timeout")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled || mode == "migrate" || mode == "archive" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3 + archive
	if c.S3.Enabled || mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}
	if mode == "archive" && !c.S3.Enabled {
		errs = append(errs, "archive mode requires s3.enabled")
	}

	// Server
	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.IntentRateLimit > 0 && c.Server.IntentRateWindow.Duration <= 0 {
			errs = append(errs, "server: intent_rate_window must be > 0 when intent_rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
