// Package config defines the node configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by OPTIONSD_* environment
// variables.
type Config struct {
	Contract ContractConfig `toml:"contract"`
	Chain    ChainConfig    `toml:"chain"`
	Custody  CustodyConfig  `toml:"custody"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Feeder   FeederConfig   `toml:"feeder"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ContractConfig fixes the genesis parameters of the options contract.
type ContractConfig struct {
	Owner             string `toml:"owner"`
	InitialPrice      uint64 `toml:"initial_price"`
	PriceScale        uint64 `toml:"price_scale"`
	CallCollateralBps uint64 `toml:"call_collateral_bps"`
	PutCollateralBps  uint64 `toml:"put_collateral_bps"`
}

// ChainConfig controls block production.
type ChainConfig struct {
	BlockInterval    duration `toml:"block_interval"`
	MaxTxPerBlock    int      `toml:"max_tx_per_block"`
	MineEmpty        bool     `toml:"mine_empty"`
	MempoolSize      int      `toml:"mempool_size"`
	DedupTTL         duration `toml:"dedup_ttl"`
	LockTTL          duration `toml:"lock_ttl"`
	CheckInvariants  bool     `toml:"check_invariants"`
	ReceiptCacheSize int      `toml:"receipt_cache_size"`
	// RequireSignatures rejects calls without a valid secp256k1 signature.
	RequireSignatures bool `toml:"require_signatures"`
}

// CustodyConfig selects where external sBTC wallets live.
type CustodyConfig struct {
	// Backend is "memory" or "redis".
	Backend   string `toml:"backend"`
	Namespace string `toml:"namespace"`
	// Faucet funds wallets at startup (memory backend, or an empty redis
	// vault). Keys are principals.
	Faucet map[string]uint64 `toml:"faucet"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules block exports to S3.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	BatchSize uint64   `toml:"batch_size"`
	// Lag keeps the newest blocks out of the archive.
	Lag uint64 `toml:"lag"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	HMACSecret  string   `toml:"hmac_secret"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	// ManualMining enables POST /api/blocks/mine.
	ManualMining bool `toml:"manual_mining"`
}

// FeederConfig drives the oracle price feeder. A ws:// or wss:// SourceURL
// is streamed instead of polled; Subscribe is sent once connected and ticks
// older than MaxAge are not published.
type FeederConfig struct {
	NodeURL      string   `toml:"node_url"`
	SourceURL    string   `toml:"source_url"`
	PriceField   string   `toml:"price_field"`
	Subscribe    string   `toml:"subscribe"`
	MaxAge       duration `toml:"max_age"`
	Multiplier   string   `toml:"multiplier"`
	PollInterval duration `toml:"poll_interval"`
	MinChangeBps int64    `toml:"min_change_bps"`
	Heartbeat    duration `toml:"heartbeat"`

	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`

	APIKey     string `toml:"api_key"`
	HMACSecret string `toml:"hmac_secret"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// config.example.toml documents the same values.
func Defaults() Config {
	return Config{
		Contract: ContractConfig{
			PriceScale:        100,
			CallCollateralBps: 10_000,
			PutCollateralBps:  10_000,
		},
		Chain: ChainConfig{
			BlockInterval:    duration{5 * time.Second},
			MaxTxPerBlock:    500,
			MempoolSize:      10_000,
			DedupTTL:         duration{10 * time.Minute},
			LockTTL:          duration{30 * time.Second},
			CheckInvariants:  true,
			ReceiptCacheSize: 50_000,
		},
		Custody: CustodyConfig{
			Backend:   "memory",
			Namespace: "sbtc",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "optionsd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "optionsd-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:  duration{time.Hour},
			BatchSize: 1000,
			Lag:       100,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Feeder: FeederConfig{
			NodeURL:      "http://localhost:8000",
			PriceField:   "price",
			Multiplier:   "1",
			PollInterval: duration{15 * time.Second},
			MinChangeBps: 25,
			Heartbeat:    duration{10 * time.Minute},
			MaxAge:       duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				domain.EventOptionExercised,
				domain.EventOracleChanged,
				domain.EventInvariantBroken,
				domain.EventChainHalted,
			},
		},
		Mode:     "node",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"node":   true,
	"feeder": true,
	"replay": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: node, feeder, replay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Contract
	if mode != "feeder" {
		if err := domain.Principal(c.Contract.Owner).Validate(); err != nil {
			errs = append(errs, "contract: owner must be a valid principal")
		}
	}
	if c.Contract.PriceScale == 0 {
		errs = append(errs, "contract: price_scale must be > 0")
	}
	if c.Contract.CallCollateralBps == 0 {
		errs = append(errs, "contract: call_collateral_bps must be > 0")
	}
	if c.Contract.PutCollateralBps < 10_000 {
		errs = append(errs, "contract: put_collateral_bps must be >= 10000")
	}

	// Chain
	if c.Chain.BlockInterval.Duration <= 0 {
		errs = append(errs, "chain: block_interval must be > 0")
	}
	if c.Chain.MaxTxPerBlock < 1 {
		errs = append(errs, "chain: max_tx_per_block must be >= 1")
	}
	if c.Chain.MempoolSize < c.Chain.MaxTxPerBlock {
		errs = append(errs, "chain: mempool_size must be >= max_tx_per_block")
	}

	// Custody
	switch c.Custody.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "custody: backend redis requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("custody: unknown backend %q (valid: memory, redis)", c.Custody.Backend))
	}
	for p := range c.Custody.Faucet {
		if err := domain.Principal(p).Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("custody: faucet principal %q is invalid", p))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive / replay need S3; archive also needs the block store.
	if c.Archive.Enabled || mode == "replay" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Feeder
	if mode == "feeder" {
		if c.Feeder.SourceURL == "" {
			errs = append(errs, "feeder: source_url must not be empty")
		}
		if c.Feeder.NodeURL == "" {
			errs = append(errs, "feeder: node_url must not be empty")
		}
		if c.Feeder.PrivateKey == "" && c.Feeder.EncryptedKeyPath == "" {
			errs = append(errs, "feeder: either private_key or encrypted_key_path must be set")
		}
		if c.Feeder.EncryptedKeyPath != "" && c.Feeder.KeyPassword == "" {
			errs = append(errs, "feeder: key_password is required when encrypted_key_path is set")
		}
		if m, err := decimal.NewFromString(c.Feeder.Multiplier); err != nil || !m.IsPositive() {
			errs = append(errs, fmt.Sprintf("feeder: multiplier %q must be a positive decimal", c.Feeder.Multiplier))
		}
		if c.Feeder.PollInterval.Duration <= 0 {
			errs = append(errs, "feeder: poll_interval must be > 0")
		}
		if c.Feeder.MinChangeBps < 0 {
			errs = append(errs, "feeder: min_change_bps must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
