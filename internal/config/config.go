package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds server settings. Values come from an optional TOML file named
// by CASTBOARD_CONFIG, then from CASTBOARD_* environment variables, which win.
type Config struct {
	DatabaseURL string `toml:"database_url"` // CASTBOARD_DATABASE_URL (required)
	HTTPAddr    string `toml:"http_addr"`    // CASTBOARD_HTTP_ADDR (default ":8080")
	GRPCAddr    string `toml:"grpc_addr"`    // CASTBOARD_GRPC_ADDR (default ":9090"; health only)
	NATSURL     string `toml:"nats_url"`     // CASTBOARD_NATS_URL (optional, empty = no events)

	// Broadcaster is the account the dashboard and poller are about.
	Broadcaster string `toml:"broadcaster"` // CASTBOARD_BROADCASTER

	// Upstream APIs
	EventsURL     string        `toml:"events_url"`     // CASTBOARD_EVENTS_URL (tokenized Events API URL; empty = poller off)
	EventsRate    float64       `toml:"events_rate"`    // CASTBOARD_EVENTS_RATE (requests/sec, default 2)
	AffiliateURL  string        `toml:"affiliate_url"`  // CASTBOARD_AFFILIATE_URL (default "https://chaturbate.com")
	AffiliateWM   string        `toml:"affiliate_wm"`   // CASTBOARD_AFFILIATE_WM (affiliate campaign code)
	StatbateURL   string        `toml:"statbate_url"`   // CASTBOARD_STATBATE_URL (default "https://plus.statbate.com")
	StatbateToken string        `toml:"statbate_token"` // CASTBOARD_STATBATE_TOKEN (empty = Statbate disabled)
	HTTPTimeout   time.Duration `toml:"http_timeout"`   // CASTBOARD_HTTP_TIMEOUT (default 15s)

	// Summaries
	LLMURL   string `toml:"llm_url"`   // CASTBOARD_LLM_URL (Ollama base URL; empty = summaries disabled)
	LLMModel string `toml:"llm_model"` // CASTBOARD_LLM_MODEL (default "llama3.1")

	// Object storage
	S3Bucket   string `toml:"s3_bucket"`   // CASTBOARD_S3_BUCKET (enables media and backup uploads)
	S3Endpoint string `toml:"s3_endpoint"` // CASTBOARD_S3_ENDPOINT (custom endpoint for MinIO)
	S3Region   string `toml:"s3_region"`   // CASTBOARD_S3_REGION (default "us-east-1")
	S3Prefix   string `toml:"s3_prefix"`   // CASTBOARD_S3_PREFIX (default "profiles/")

	// Backup
	BackupInterval time.Duration `toml:"backup_interval"` // CASTBOARD_BACKUP_INTERVAL (default 1h; 0 = disabled)
	BackupKey      string        `toml:"backup_key"`      // CASTBOARD_BACKUP_KEY (default "castboard/backup.jsonl")

	// Auth
	SessionTTL     time.Duration `toml:"session_ttl"`      // CASTBOARD_SESSION_TTL (default 720h)
	CookieSecure   bool          `toml:"cookie_secure"`    // CASTBOARD_COOKIE_SECURE (default false)
	LoginRateLimit int           `toml:"login_rate_limit"` // CASTBOARD_LOGIN_RATE_LIMIT (attempts/min per IP, default 10)
	CORSOrigins    []string      `toml:"cors_origins"`     // CASTBOARD_CORS_ORIGINS (comma-separated)
}

// Defaults returns a Config populated with default values only.
func Defaults() *Config {
	return &Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       ":9090",
		EventsRate:     2,
		AffiliateURL:   "https://chaturbate.com",
		StatbateURL:    "https://plus.statbate.com",
		HTTPTimeout:    15 * time.Second,
		LLMModel:       "llama3.1",
		S3Region:       "us-east-1",
		S3Prefix:       "profiles/",
		BackupInterval: time.Hour,
		BackupKey:      "castboard/backup.jsonl",
		SessionTTL:     30 * 24 * time.Hour,
		LoginRateLimit: 10,
	}
}

func Load() (*Config, error) {
	c := Defaults()

	if path := os.Getenv("CASTBOARD_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("CASTBOARD_CONFIG: %w", err)
		}
	}

	c.DatabaseURL = envOrDefault("CASTBOARD_DATABASE_URL", c.DatabaseURL)
	c.HTTPAddr = envOrDefault("CASTBOARD_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = envOrDefault("CASTBOARD_GRPC_ADDR", c.GRPCAddr)
	c.NATSURL = envOrDefault("CASTBOARD_NATS_URL", c.NATSURL)
	c.Broadcaster = strings.ToLower(envOrDefault("CASTBOARD_BROADCASTER", c.Broadcaster))
	c.EventsURL = envOrDefault("CASTBOARD_EVENTS_URL", c.EventsURL)
	c.AffiliateURL = envOrDefault("CASTBOARD_AFFILIATE_URL", c.AffiliateURL)
	c.AffiliateWM = envOrDefault("CASTBOARD_AFFILIATE_WM", c.AffiliateWM)
	c.StatbateURL = envOrDefault("CASTBOARD_STATBATE_URL", c.StatbateURL)
	c.StatbateToken = envOrDefault("CASTBOARD_STATBATE_TOKEN", c.StatbateToken)
	c.LLMURL = envOrDefault("CASTBOARD_LLM_URL", c.LLMURL)
	c.LLMModel = envOrDefault("CASTBOARD_LLM_MODEL", c.LLMModel)
	c.S3Bucket = envOrDefault("CASTBOARD_S3_BUCKET", c.S3Bucket)
	c.S3Endpoint = envOrDefault("CASTBOARD_S3_ENDPOINT", c.S3Endpoint)
	c.S3Region = envOrDefault("CASTBOARD_S3_REGION", c.S3Region)
	c.S3Prefix = envOrDefault("CASTBOARD_S3_PREFIX", c.S3Prefix)
	c.BackupKey = envOrDefault("CASTBOARD_BACKUP_KEY", c.BackupKey)

	if v := os.Getenv("CASTBOARD_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	var err error
	if c.HTTPTimeout, err = envDuration("CASTBOARD_HTTP_TIMEOUT", c.HTTPTimeout); err != nil {
		return nil, err
	}
	if c.BackupInterval, err = envDuration("CASTBOARD_BACKUP_INTERVAL", c.BackupInterval); err != nil {
		return nil, err
	}
	if c.SessionTTL, err = envDuration("CASTBOARD_SESSION_TTL", c.SessionTTL); err != nil {
		return nil, err
	}
	if c.LoginRateLimit, err = envInt("CASTBOARD_LOGIN_RATE_LIMIT", c.LoginRateLimit); err != nil {
		return nil, err
	}
	if c.CookieSecure, err = envBool("CASTBOARD_COOKIE_SECURE", c.CookieSecure); err != nil {
		return nil, err
	}
	if v := os.Getenv("CASTBOARD_EVENTS_RATE"); v != "" {
		if c.EventsRate, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("CASTBOARD_EVENTS_RATE: %w", err)
		}
	}

	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("CASTBOARD_DATABASE_URL is required")
	}
	if c.SessionTTL <= 0 {
		return nil, fmt.Errorf("CASTBOARD_SESSION_TTL must be positive")
	}
	return c, nil
}

// S3Enabled reports whether object storage is configured.
func (c *Config) S3Enabled() bool { return c.S3Bucket != "" }

// SummariesEnabled reports whether an LLM endpoint is configured.
func (c *Config) SummariesEnabled() bool { return c.LLMURL != "" }

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
