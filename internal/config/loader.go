package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path on top of Defaults and applies OPTIONSD_*
// environment overrides. An empty path skips the file. The result has NOT
// been validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return &cfg, nil
}

// applyEnvOverrides copies set OPTIONSD_* variables over the loaded values
// so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Contract ──
	setStr(&cfg.Contract.Owner, "OPTIONSD_CONTRACT_OWNER")
	setUint64(&cfg.Contract.InitialPrice, "OPTIONSD_CONTRACT_INITIAL_PRICE")
	setUint64(&cfg.Contract.PriceScale, "OPTIONSD_CONTRACT_PRICE_SCALE")
	setUint64(&cfg.Contract.CallCollateralBps, "OPTIONSD_CONTRACT_CALL_COLLATERAL_BPS")
	setUint64(&cfg.Contract.PutCollateralBps, "OPTIONSD_CONTRACT_PUT_COLLATERAL_BPS")

	// ── Chain ──
	setDuration(&cfg.Chain.BlockInterval, "OPTIONSD_CHAIN_BLOCK_INTERVAL")
	setInt(&cfg.Chain.MaxTxPerBlock, "OPTIONSD_CHAIN_MAX_TX_PER_BLOCK")
	setBool(&cfg.Chain.MineEmpty, "OPTIONSD_CHAIN_MINE_EMPTY")
	setInt(&cfg.Chain.MempoolSize, "OPTIONSD_CHAIN_MEMPOOL_SIZE")
	setDuration(&cfg.Chain.DedupTTL, "OPTIONSD_CHAIN_DEDUP_TTL")
	setDuration(&cfg.Chain.LockTTL, "OPTIONSD_CHAIN_LOCK_TTL")
	setBool(&cfg.Chain.CheckInvariants, "OPTIONSD_CHAIN_CHECK_INVARIANTS")
	setInt(&cfg.Chain.ReceiptCacheSize, "OPTIONSD_CHAIN_RECEIPT_CACHE_SIZE")
	setBool(&cfg.Chain.RequireSignatures, "OPTIONSD_CHAIN_REQUIRE_SIGNATURES")

	// ── Custody ──
	setStr(&cfg.Custody.Backend, "OPTIONSD_CUSTODY_BACKEND")
	setStr(&cfg.Custody.Namespace, "OPTIONSD_CUSTODY_NAMESPACE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "OPTIONSD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "OPTIONSD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "OPTIONSD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OPTIONSD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OPTIONSD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OPTIONSD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OPTIONSD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OPTIONSD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OPTIONSD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OPTIONSD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OPTIONSD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "OPTIONSD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "OPTIONSD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPTIONSD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPTIONSD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPTIONSD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPTIONSD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPTIONSD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OPTIONSD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPTIONSD_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPTIONSD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPTIONSD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPTIONSD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OPTIONSD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OPTIONSD_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OPTIONSD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "OPTIONSD_ARCHIVE_INTERVAL")
	setUint64(&cfg.Archive.BatchSize, "OPTIONSD_ARCHIVE_BATCH_SIZE")
	setUint64(&cfg.Archive.Lag, "OPTIONSD_ARCHIVE_LAG")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OPTIONSD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OPTIONSD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OPTIONSD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OPTIONSD_SERVER_API_KEY")
	setStr(&cfg.Server.HMACSecret, "OPTIONSD_SERVER_HMAC_SECRET")
	setInt(&cfg.Server.RateLimit, "OPTIONSD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "OPTIONSD_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.ManualMining, "OPTIONSD_SERVER_MANUAL_MINING")

	// ── Feeder ──
	setStr(&cfg.Feeder.NodeURL, "OPTIONSD_FEEDER_NODE_URL")
	setStr(&cfg.Feeder.SourceURL, "OPTIONSD_FEEDER_SOURCE_URL")
	setStr(&cfg.Feeder.PriceField, "OPTIONSD_FEEDER_PRICE_FIELD")
	setStr(&cfg.Feeder.Subscribe, "OPTIONSD_FEEDER_SUBSCRIBE")
	setDuration(&cfg.Feeder.MaxAge, "OPTIONSD_FEEDER_MAX_AGE")
	setStr(&cfg.Feeder.Multiplier, "OPTIONSD_FEEDER_MULTIPLIER")
	setDuration(&cfg.Feeder.PollInterval, "OPTIONSD_FEEDER_POLL_INTERVAL")
	setInt64(&cfg.Feeder.MinChangeBps, "OPTIONSD_FEEDER_MIN_CHANGE_BPS")
	setDuration(&cfg.Feeder.Heartbeat, "OPTIONSD_FEEDER_HEARTBEAT")
	setStr(&cfg.Feeder.PrivateKey, "OPTIONSD_FEEDER_PRIVATE_KEY")
	setStr(&cfg.Feeder.EncryptedKeyPath, "OPTIONSD_FEEDER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Feeder.KeyPassword, "OPTIONSD_FEEDER_KEY_PASSWORD")
	setStr(&cfg.Feeder.APIKey, "OPTIONSD_FEEDER_API_KEY")
	setStr(&cfg.Feeder.HMACSecret, "OPTIONSD_FEEDER_HMAC_SECRET")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OPTIONSD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPTIONSD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OPTIONSD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OPTIONSD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OPTIONSD_MODE")
	setStr(&cfg.LogLevel, "OPTIONSD_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// set, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
