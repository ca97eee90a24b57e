package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"marketpulse/internal/domain"
)

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "STORAGE_FORMAT", "SQLITE_PATH", "HOST", "PORT", "GRPC_PORT",
		"EQUITY_SOURCE", "COINGECKO_KEY", "COINGECKO_BASE_URL",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "ALPACA_DATA_URL", "ALPACA_FEED",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "UPDATE_EVERY", "RUN_ON_START",
		"REDIS_ADDR", "REDIS_PASSWORD", "S3_BUCKET", "S3_ENDPOINT", "S3_REGION",
		"S3_ACCESS_KEY", "S3_SECRET_KEY", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "marketpulse.yaml", `
storage:
  data_dir: "/srv/marketpulse"
  format: parquet
server:
  port: 8080
equities:
  source: alpaca
  max_concurrent: 5
  min_time: 500ms
  lookback_days: 365
crypto:
  api_key: "CG-yaml"
  min_time: 15s
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
schedule:
  interval: 2h
  run_on_start: false
universe:
  stocks: [AAPL, MSFT]
  etfs: [SPY]
  cryptos: [bitcoin]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/srv/marketpulse" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/srv/marketpulse")
	}
	if cfg.Storage.Format != "parquet" {
		t.Errorf("Storage.Format = %q, want parquet", cfg.Storage.Format)
	}
	if got := cfg.Storage.SnapshotPath(); got != "/srv/marketpulse/market_data.json" {
		t.Errorf("SnapshotPath() = %q", got)
	}

	// -- Server (defaults kept where unset) --
	if cfg.Server.Port != 8080 || cfg.Server.GRPCPort != 9090 {
		t.Errorf("Server = %+v", cfg.Server)
	}

	// -- Lanes --
	if cfg.Equities.MaxConcurrent != 5 || cfg.Equities.MinTime != 500*time.Millisecond || cfg.Equities.LookbackDays != 365 {
		t.Errorf("Equities = %+v", cfg.Equities)
	}
	if cfg.Equities.RequestTimeout != 10*time.Second {
		t.Errorf("Equities.RequestTimeout = %v, want default 10s", cfg.Equities.RequestTimeout)
	}
	if cfg.Crypto.MinTime != 15*time.Second || cfg.Crypto.MaxConcurrent != 1 {
		t.Errorf("Crypto = %+v", cfg.Crypto)
	}

	// -- Schedule --
	if cfg.Schedule.Interval != 2*time.Hour || cfg.Schedule.RunOnStart {
		t.Errorf("Schedule = %+v", cfg.Schedule)
	}

	if got := len(cfg.Universe.Assets()); got != 4 {
		t.Errorf("len(Assets()) = %d, want 4", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "marketpulse.toml", `
[storage]
data_dir = "/var/lib/marketpulse"

[crypto]
api_key = "CG-toml"
lookback_days = 30

[schedule]
interval = "30m"

[publish.redis]
addr = "localhost:6379"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Storage.DataDir != "/var/lib/marketpulse" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Crypto.APIKey != "CG-toml" || cfg.Crypto.LookbackDays != 30 {
		t.Errorf("Crypto = %+v", cfg.Crypto)
	}
	if cfg.Schedule.Interval != 30*time.Minute {
		t.Errorf("Schedule.Interval = %v, want 30m", cfg.Schedule.Interval)
	}
	if cfg.Publish.Redis.Addr != "localhost:6379" || cfg.Publish.Redis.Key != "marketpulse:snapshot" {
		t.Errorf("Publish.Redis = %+v", cfg.Publish.Redis)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server.Port != 3001 || cfg.Schedule.Interval != 4*time.Hour {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Equities.MaxConcurrent != 3 || cfg.Equities.MinTime != 1300*time.Millisecond {
		t.Errorf("Equities = %+v", cfg.Equities)
	}
	if cfg.Crypto.MaxConcurrent != 1 || cfg.Crypto.MinTime != 12500*time.Millisecond {
		t.Errorf("Crypto = %+v", cfg.Crypto)
	}
	if got := len(cfg.Universe.Assets()); got != 76 {
		t.Errorf("default universe has %d assets, want 76", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "marketpulse.yaml", `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("COINGECKO_KEY", "CG-env")
	t.Setenv("PORT", "4000")
	t.Setenv("UPDATE_EVERY", "90m")
	t.Setenv("APCA_API_SECRET_KEY", "sdk-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "sdk-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (SDK env var)", cfg.Alpaca.APISecret, "sdk-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Crypto.APIKey != "CG-env" || cfg.Server.Port != 4000 || cfg.Schedule.Interval != 90*time.Minute {
		t.Errorf("overrides not applied: key %q port %d interval %v", cfg.Crypto.APIKey, cfg.Server.Port, cfg.Schedule.Interval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing crypto key", func(c *Config) { c.Crypto.APIKey = "" }, "COINGECKO_KEY"},
		{"alpaca without keys", func(c *Config) { c.Equities.Source = "alpaca" }, "alpaca.api_key"},
		{"unknown source", func(c *Config) { c.Equities.Source = "bloomberg" }, "equities.source"},
		{"unknown format", func(c *Config) { c.Storage.Format = "csv" }, "storage.format"},
		{"zero interval", func(c *Config) { c.Schedule.Interval = 0 }, "schedule.interval"},
		{"empty universe", func(c *Config) { c.Universe = Universe{} }, "universe is empty"},
		{"zero concurrency", func(c *Config) { c.Crypto.MaxConcurrent = 0 }, "crypto.max_concurrent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Crypto.APIKey = "CG-test"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestUniverse(t *testing.T) {
	u := Universe{
		Stocks:  []string{"AAPL", " MSFT ", "", "aapl"},
		ETFs:    []string{"SPY", "AAPL"},
		Cryptos: []string{"bitcoin"},
	}
	assets := u.Assets()
	want := []domain.Asset{
		{Symbol: "AAPL", Class: domain.AssetClassStock},
		{Symbol: "MSFT", Class: domain.AssetClassStock},
		{Symbol: "SPY", Class: domain.AssetClassETF},
		{Symbol: "bitcoin", Class: domain.AssetClassCrypto},
	}
	if len(assets) != len(want) {
		t.Fatalf("Assets() = %+v, want %+v", assets, want)
	}
	for i := range want {
		if assets[i] != want[i] {
			t.Errorf("Assets()[%d] = %+v, want %+v", i, assets[i], want[i])
		}
	}

	if a, ok := u.Resolve("Bitcoin"); !ok || a.Symbol != "bitcoin" {
		t.Errorf("Resolve(Bitcoin) = %+v, %v", a, ok)
	}
	if _, ok := u.Resolve("DOGE"); ok {
		t.Error("Resolve(DOGE) found an asset")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("MARKETPULSE_CONFIG", "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("MARKETPULSE_CONFIG", "/etc/marketpulse.toml")
	if got := Path(); got != "/etc/marketpulse.toml" {
		t.Errorf("Path() = %q", got)
	}
}
