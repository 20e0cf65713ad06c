package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// allEnvVars lists every variable Load reads; each test starts with all of them empty.
var allEnvVars = []string{
	"CASTBOARD_CONFIG", "CASTBOARD_DATABASE_URL", "CASTBOARD_HTTP_ADDR", "CASTBOARD_GRPC_ADDR",
	"CASTBOARD_NATS_URL", "CASTBOARD_BROADCASTER", "CASTBOARD_EVENTS_URL", "CASTBOARD_EVENTS_RATE",
	"CASTBOARD_AFFILIATE_URL", "CASTBOARD_AFFILIATE_WM", "CASTBOARD_STATBATE_URL",
	"CASTBOARD_STATBATE_TOKEN", "CASTBOARD_HTTP_TIMEOUT", "CASTBOARD_LLM_URL", "CASTBOARD_LLM_MODEL",
	"CASTBOARD_S3_BUCKET", "CASTBOARD_S3_ENDPOINT", "CASTBOARD_S3_REGION", "CASTBOARD_S3_PREFIX",
	"CASTBOARD_BACKUP_INTERVAL", "CASTBOARD_BACKUP_KEY", "CASTBOARD_SESSION_TTL",
	"CASTBOARD_COOKIE_SECURE", "CASTBOARD_LOGIN_RATE_LIMIT", "CASTBOARD_CORS_ORIGINS",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "DefaultAddresses",
			env:          map[string]string{"CASTBOARD_DATABASE_URL": "postgres://localhost/castboard"},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"CASTBOARD_DATABASE_URL": "postgres://db:5432/castboard",
				"CASTBOARD_GRPC_ADDR":    ":5050",
				"CASTBOARD_HTTP_ADDR":    ":3000",
				"CASTBOARD_NATS_URL":     "nats://localhost:4222",
			},
			wantGRPCAddr: ":5050",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name: "InvalidSessionTTL",
			env: map[string]string{
				"CASTBOARD_DATABASE_URL": "postgres://localhost/castboard",
				"CASTBOARD_SESSION_TTL":  "-1h",
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["CASTBOARD_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["CASTBOARD_DATABASE_URL"])
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CASTBOARD_DATABASE_URL", "postgres://localhost/castboard")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackupInterval != time.Hour {
		t.Errorf("BackupInterval = %v, want 1h", cfg.BackupInterval)
	}
	if cfg.S3Region != "us-east-1" {
		t.Errorf("S3Region = %q, want %q", cfg.S3Region, "us-east-1")
	}
	if cfg.S3Prefix != "profiles/" {
		t.Errorf("S3Prefix = %q, want %q", cfg.S3Prefix, "profiles/")
	}
	if cfg.SessionTTL != 720*time.Hour {
		t.Errorf("SessionTTL = %v, want 720h", cfg.SessionTTL)
	}
	if cfg.LoginRateLimit != 10 {
		t.Errorf("LoginRateLimit = %d, want 10", cfg.LoginRateLimit)
	}
	if cfg.S3Enabled() || cfg.SummariesEnabled() {
		t.Error("S3 and summaries should be disabled by default")
	}
}

func TestLoadCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CASTBOARD_DATABASE_URL", "postgres://localhost/castboard")
	t.Setenv("CASTBOARD_BROADCASTER", "Hudson")
	t.Setenv("CASTBOARD_BACKUP_INTERVAL", "10m")
	t.Setenv("CASTBOARD_S3_BUCKET", "my-bucket")
	t.Setenv("CASTBOARD_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("CASTBOARD_COOKIE_SECURE", "true")
	t.Setenv("CASTBOARD_LOGIN_RATE_LIMIT", "3")
	t.Setenv("CASTBOARD_EVENTS_RATE", "0.5")
	t.Setenv("CASTBOARD_CORS_ORIGINS", "http://localhost:5173, https://panel.example.com,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Broadcaster != "hudson" {
		t.Errorf("Broadcaster = %q, want lowercased", cfg.Broadcaster)
	}
	if cfg.BackupInterval != 10*time.Minute {
		t.Errorf("BackupInterval = %v, want 10m", cfg.BackupInterval)
	}
	if !cfg.S3Enabled() || cfg.S3Endpoint != "http://minio:9000" {
		t.Errorf("S3 = %q %q", cfg.S3Bucket, cfg.S3Endpoint)
	}
	if !cfg.CookieSecure || cfg.LoginRateLimit != 3 || cfg.EventsRate != 0.5 {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://panel.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	for _, key := range []string{
		"CASTBOARD_BACKUP_INTERVAL", "CASTBOARD_HTTP_TIMEOUT", "CASTBOARD_LOGIN_RATE_LIMIT",
		"CASTBOARD_COOKIE_SECURE", "CASTBOARD_EVENTS_RATE",
	} {
		t.Run(key, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv("CASTBOARD_DATABASE_URL", "postgres://localhost/castboard")
			t.Setenv(key, "not-a-value")
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}

func TestLoadBackupDisabled(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CASTBOARD_DATABASE_URL", "postgres://localhost/castboard")
	t.Setenv("CASTBOARD_BACKUP_INTERVAL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackupInterval != 0 {
		t.Errorf("BackupInterval = %v, want 0 (disabled)", cfg.BackupInterval)
	}
}

func TestLoadFile(t *testing.T) {
	clearAllEnv(t)
	path := filepath.Join(t.TempDir(), "castboard.toml")
	body := `
database_url = "postgres://file/castboard"
http_addr = ":7000"
broadcaster = "hudson"
llm_url = "http://ollama:11434"
backup_interval = "30m"
cors_origins = ["http://localhost:5173"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CASTBOARD_CONFIG", path)
	t.Setenv("CASTBOARD_HTTP_ADDR", ":7001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://file/castboard" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.HTTPAddr != ":7001" {
		t.Errorf("HTTPAddr = %q, env should override file", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, default should survive", cfg.GRPCAddr)
	}
	if !cfg.SummariesEnabled() || cfg.BackupInterval != 30*time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadFileMissing(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("CASTBOARD_CONFIG", filepath.Join(t.TempDir(), "nope.toml"))
	t.Setenv("CASTBOARD_DATABASE_URL", "postgres://localhost/castboard")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}
