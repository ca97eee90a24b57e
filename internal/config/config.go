package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"marketpulse/internal/domain"
	"marketpulse/internal/util"
)

// DefaultPath is the config file read when MARKETPULSE_CONFIG is unset.
const DefaultPath = "config/marketpulse.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for marketpulse.
type Config struct {
	Storage  Storage  `yaml:"storage" toml:"storage"`
	Server   Server   `yaml:"server" toml:"server"`
	Equities Equities `yaml:"equities" toml:"equities"`
	Crypto   Crypto   `yaml:"crypto" toml:"crypto"`
	Alpaca   Alpaca   `yaml:"alpaca" toml:"alpaca"`
	Retry    Retry    `yaml:"retry" toml:"retry"`
	Schedule Schedule `yaml:"schedule" toml:"schedule"`
	Metrics  Metrics  `yaml:"metrics" toml:"metrics"`
	Universe Universe `yaml:"universe" toml:"universe"`
	Publish  Publish  `yaml:"publish" toml:"publish"`
	Logging  Logging  `yaml:"logging" toml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir      string `yaml:"data_dir" toml:"data_dir"`
	Format       string `yaml:"format" toml:"format"` // json or parquet
	SQLitePath   string `yaml:"sqlite_path" toml:"sqlite_path"`
	SnapshotFile string `yaml:"snapshot_file" toml:"snapshot_file"`
}

// SeriesDir is where per-symbol series files live.
func (s Storage) SeriesDir() string {
	return filepath.Join(s.DataDir, "timeseries")
}

// SnapshotPath resolves the snapshot file against the data directory.
func (s Storage) SnapshotPath() string {
	if filepath.IsAbs(s.SnapshotFile) {
		return s.SnapshotFile
	}
	return filepath.Join(s.DataDir, s.SnapshotFile)
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	GRPCPort int    `yaml:"grpc_port" toml:"grpc_port"`
}

// Lane is the request budget of one provider.
type Lane struct {
	MaxConcurrent  int           `yaml:"max_concurrent" toml:"max_concurrent"`
	MinTime        time.Duration `yaml:"min_time" toml:"min_time"`
	LookbackDays   int           `yaml:"lookback_days" toml:"lookback_days"`
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`
}

// Equities configures the stock and ETF provider.
type Equities struct {
	Source  string `yaml:"source" toml:"source"` // yahoo or alpaca
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Lane    `yaml:",inline"`
}

// Crypto configures the CoinGecko provider.
type Crypto struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	Lane    `yaml:",inline"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key" toml:"api_key"`
	APISecret string `yaml:"api_secret" toml:"api_secret"`
	DataURL   string `yaml:"data_url" toml:"data_url"`
	Feed      string `yaml:"feed" toml:"feed"`
}

// Retry configures provider call retries.
type Retry struct {
	MaxRetries       int           `yaml:"max_retries" toml:"max_retries"`
	TransientDelay   time.Duration `yaml:"transient_delay" toml:"transient_delay"`
	RateLimitedDelay time.Duration `yaml:"rate_limited_delay" toml:"rate_limited_delay"`
}

// Schedule configures the periodic update driver.
type Schedule struct {
	Interval   time.Duration `yaml:"interval" toml:"interval"`
	RunOnStart bool          `yaml:"run_on_start" toml:"run_on_start"`
}

// Metrics configures the risk metrics engine.
type Metrics struct {
	RiskFreeRate float64 `yaml:"risk_free_rate" toml:"risk_free_rate"`
	Benchmark    string  `yaml:"benchmark" toml:"benchmark"`
}

// Publish configures the optional snapshot sinks. A sink is enabled by
// setting its address or bucket.
type Publish struct {
	Redis RedisPublish `yaml:"redis" toml:"redis"`
	S3    S3Publish    `yaml:"s3" toml:"s3"`
}

// RedisPublish configures the Redis snapshot publisher.
type RedisPublish struct {
	Addr     string        `yaml:"addr" toml:"addr"`
	Password string        `yaml:"password" toml:"password"`
	DB       int           `yaml:"db" toml:"db"`
	TLS      bool          `yaml:"tls" toml:"tls"`
	Key      string        `yaml:"key" toml:"key"`
	Channel  string        `yaml:"channel" toml:"channel"`
	TTL      time.Duration `yaml:"ttl" toml:"ttl"`
}

// S3Publish configures the S3 snapshot archiver.
type S3Publish struct {
	Endpoint       string `yaml:"endpoint" toml:"endpoint"`
	Region         string `yaml:"region" toml:"region"`
	Bucket         string `yaml:"bucket" toml:"bucket"`
	AccessKey      string `yaml:"access_key" toml:"access_key"`
	SecretKey      string `yaml:"secret_key" toml:"secret_key"`
	Prefix         string `yaml:"prefix" toml:"prefix"`
	ForcePathStyle bool   `yaml:"force_path_style" toml:"force_path_style"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Defaults returns the built-in configuration. Budgets follow the providers'
// free-tier quotas.
func Defaults() Config {
	retry := util.DefaultRetryPolicy()
	return Config{
		Storage: Storage{
			DataDir:      "data",
			Format:       "json",
			SQLitePath:   "data/marketpulse.db",
			SnapshotFile: "market_data.json",
		},
		Server: Server{Host: "0.0.0.0", Port: 3001, GRPCPort: 9090},
		Equities: Equities{
			Source: "yahoo",
			Lane: Lane{
				MaxConcurrent:  3,
				MinTime:        1300 * time.Millisecond,
				LookbackDays:   730,
				RequestTimeout: 10 * time.Second,
			},
		},
		Crypto: Crypto{
			Lane: Lane{
				MaxConcurrent:  1,
				MinTime:        12500 * time.Millisecond,
				LookbackDays:   90,
				RequestTimeout: 10 * time.Second,
			},
		},
		Alpaca: Alpaca{Feed: "iex"},
		Retry: Retry{
			MaxRetries:       retry.MaxRetries,
			TransientDelay:   retry.TransientDelay,
			RateLimitedDelay: retry.RateLimitedDelay,
		},
		Schedule: Schedule{Interval: 4 * time.Hour, RunOnStart: true},
		Metrics:  Metrics{RiskFreeRate: 0.02, Benchmark: "SPY"},
		Universe: DefaultUniverse(),
		Publish: Publish{
			Redis: RedisPublish{Key: "marketpulse:snapshot", Channel: "marketpulse:snapshots"},
			S3:    S3Publish{Region: "us-east-1", Prefix: "marketpulse"},
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file path from MARKETPULSE_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("MARKETPULSE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the configuration file at path on top of Defaults and then
// applies environment variable overrides. Files ending in .toml are decoded
// as TOML, everything else as YAML. A missing file is not an error. The
// returned Config has not been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		case strings.EqualFold(filepath.Ext(path), ".toml"):
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", path, err)
			}
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", path, err)
			}
		}
	}

	// Load .env file if present.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Storage.DataDir, "DATA_DIR")
	setStr(&cfg.Storage.Format, "STORAGE_FORMAT")
	setStr(&cfg.Storage.SQLitePath, "SQLITE_PATH")

	setStr(&cfg.Server.Host, "HOST")
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.GRPCPort, "GRPC_PORT")

	setStr(&cfg.Equities.Source, "EQUITY_SOURCE")
	setStr(&cfg.Crypto.APIKey, "COINGECKO_KEY")
	setStr(&cfg.Crypto.BaseURL, "COINGECKO_BASE_URL")

	setStr(&cfg.Alpaca.APIKey, "ALPACA_API_KEY")
	setStr(&cfg.Alpaca.APISecret, "ALPACA_API_SECRET")
	setStr(&cfg.Alpaca.DataURL, "ALPACA_DATA_URL")
	setStr(&cfg.Alpaca.Feed, "ALPACA_FEED")
	// Standard Alpaca env vars (canonical names used by the SDK) win.
	setStr(&cfg.Alpaca.APIKey, "APCA_API_KEY_ID")
	setStr(&cfg.Alpaca.APISecret, "APCA_API_SECRET_KEY")

	setDuration(&cfg.Schedule.Interval, "UPDATE_EVERY")
	setBool(&cfg.Schedule.RunOnStart, "RUN_ON_START")

	setStr(&cfg.Publish.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Publish.Redis.Password, "REDIS_PASSWORD")
	setStr(&cfg.Publish.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.Publish.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.Publish.S3.Region, "S3_REGION")
	setStr(&cfg.Publish.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.Publish.S3.SecretKey, "S3_SECRET_KEY")

	setStr(&cfg.Logging.Level, "LOG_LEVEL")
	setStr(&cfg.Logging.Format, "LOG_FORMAT")
}

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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate reports every configuration problem that would prevent the
// service from starting. A missing crypto API key is always fatal.
func (c *Config) Validate() error {
	var errs []error
	if c.Crypto.APIKey == "" {
		errs = append(errs, errors.New("crypto.api_key (COINGECKO_KEY) is required"))
	}
	switch c.Equities.Source {
	case "yahoo":
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			errs = append(errs, errors.New("alpaca.api_key and alpaca.api_secret are required when equities.source is alpaca"))
		}
	default:
		errs = append(errs, fmt.Errorf("equities.source %q: want yahoo or alpaca", c.Equities.Source))
	}
	switch c.Storage.Format {
	case "json", "parquet":
	default:
		errs = append(errs, fmt.Errorf("storage.format %q: want json or parquet", c.Storage.Format))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}
	if c.Schedule.Interval <= 0 {
		errs = append(errs, errors.New("schedule.interval must be positive"))
	}
	for name, lane := range map[string]Lane{"equities": c.Equities.Lane, "crypto": c.Crypto.Lane} {
		if lane.MaxConcurrent < 1 {
			errs = append(errs, fmt.Errorf("%s.max_concurrent must be at least 1", name))
		}
		if lane.LookbackDays < 1 {
			errs = append(errs, fmt.Errorf("%s.lookback_days must be at least 1", name))
		}
	}
	if len(c.Universe.Assets()) == 0 {
		errs = append(errs, errors.New("universe is empty"))
	}
	if c.Publish.S3.Bucket != "" && c.Publish.S3.Region == "" {
		errs = append(errs, errors.New("publish.s3.region is required with a bucket"))
	}
	return errors.Join(errs...)
}

// LaneFor returns the budget of a provider class.
func (c *Config) LaneFor(class domain.ProviderClass) Lane {
	if class == domain.ProviderCrypto {
		return c.Crypto.Lane
	}
	return c.Equities.Lane
}
