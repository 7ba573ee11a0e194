package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	General  GeneralConfig  `toml:"general"`
	Schedule ScheduleConfig `toml:"schedule"`
	Scan     ScanConfig     `toml:"scan"`
	Analyze  AnalyzeConfig  `toml:"analyze"`
	Source   SourceConfig   `toml:"source"`
}

type GeneralConfig struct {
	DBPath   string `toml:"db_path" envconfig:"DB_PATH"`
	LogLevel string `toml:"log_level" envconfig:"LOG_LEVEL"`
}

type ScheduleConfig struct {
	ActiveScanInterval Duration `toml:"active_scan_interval" envconfig:"ACTIVE_SCAN_INTERVAL"`
	FullScanInterval   Duration `toml:"full_scan_interval" envconfig:"FULL_SCAN_INTERVAL"`
}

type ScanConfig struct {
	MarketLimit    int `toml:"market_limit" envconfig:"MARKET_LIMIT"`
	PageSize       int `toml:"page_size" envconfig:"PAGE_SIZE"`
	PriceBatchSize int `toml:"price_batch_size" envconfig:"PRICE_BATCH_SIZE"`
}

type AnalyzeConfig struct {
	ChangeThresholdPct float64 `toml:"change_threshold_pct" envconfig:"CHANGE_THRESHOLD_PCT"`
	WindowMinutes      int     `toml:"window_minutes" envconfig:"WINDOW_MINUTES"`
	DefaultLimit       int     `toml:"default_limit" envconfig:"DEFAULT_LIMIT"`
}

type SourceConfig struct {
	ClobHost       string   `toml:"clob_host" envconfig:"CLOB_HOST"`
	RequestTimeout Duration `toml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxRetries     int      `toml:"max_retries" envconfig:"MAX_RETRIES"`
	RetryBackoff   Duration `toml:"retry_backoff" envconfig:"RETRY_BACKOFF"`
}

// Duration wraps time.Duration for TOML and env unmarshaling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Load reads the TOML file at path on top of the built-in defaults, then
// applies POLYSCAN_* environment variable overrides. A missing config file
// is not an error; the defaults plus environment are enough to run.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Load .env if present; absence is normal in production.
	_ = godotenv.Load()

	if err := envconfig.Process("POLYSCAN", cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DBPath:   "./data/polyscan.db",
			LogLevel: "info",
		},
		Schedule: ScheduleConfig{
			ActiveScanInterval: Duration{5 * time.Minute},
			FullScanInterval:   Duration{6 * time.Hour},
		},
		Scan: ScanConfig{
			MarketLimit:    0, // 0 = no cap
			PageSize:       500,
			PriceBatchSize: 100,
		},
		Analyze: AnalyzeConfig{
			ChangeThresholdPct: 5.0,
			WindowMinutes:      60,
			DefaultLimit:       50,
		},
		Source: SourceConfig{
			ClobHost:       "https://clob.polymarket.com",
			RequestTimeout: Duration{30 * time.Second},
			MaxRetries:     3,
			RetryBackoff:   Duration{time.Second},
		},
	}
}
