package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		TickSeconds int    `toml:"tick_seconds"`
		MetricsAddr string `toml:"metrics_addr"` // empty disables the endpoint
		StreamAddr  string `toml:"stream_addr"`  // empty disables the websocket hub
	} `toml:"app"`

	Limits struct {
		RequestsPerWindow  int     `toml:"requests_per_window"`
		WindowSeconds      int     `toml:"window_seconds"`
		MinIntervalSeconds float64 `toml:"min_interval_seconds"`
		TimeoutSeconds     int     `toml:"timeout_seconds"`
		RetryAttempts      int     `toml:"retry_attempts"`
		RetryBaseSeconds   int     `toml:"retry_base_seconds"`
		RetryMultiplier    float64 `toml:"retry_multiplier"`
	} `toml:"limits"`

	Scan struct {
		BatchSize             int `toml:"batch_size"`
		PairConcurrency       int `toml:"pair_concurrency"`
		PairDelaySeconds      int `toml:"pair_delay_seconds"`
		BucketParallelism     int `toml:"bucket_parallelism"`
		FastCadenceSeconds    int `toml:"fast_cadence_seconds"`
		SourceCooldownSeconds int `toml:"source_cooldown_seconds"`
		SourceProbeMin        int `toml:"source_probe_min"`
	} `toml:"scan"`

	Spread struct {
		Tier2Percent       float64 `toml:"tier2_percent"`
		Tier3Percent       float64 `toml:"tier3_percent"`
		CloseCutoffPercent float64 `toml:"close_cutoff_percent"`
	} `toml:"spread"`

	Queue struct {
		MaxPerDrain      int `toml:"max_per_drain"`
		SendDelaySeconds int `toml:"send_delay_seconds"`
	} `toml:"queue"`

	SQLite struct {
		Path string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`

	Redis struct {
		Enabled       bool   `toml:"enabled"`
		Addr          string `toml:"addr"`
		Password      string `toml:"password"`
		DB            int    `toml:"db"`
		Prefix        string `toml:"prefix"`
		SignalStream  string `toml:"signal_stream"`
		SignalChannel string `toml:"signal_channel"`
	} `toml:"redis"`

	Sources []SourceConfig `toml:"sources"`
	Pairs   []PairConfig   `toml:"pairs"`
}

type SourceConfig struct {
	Name     string `toml:"name"`
	BaseURL  string `toml:"base_url"`
	Priority int    `toml:"priority"`
}

type PairConfig struct {
	Underlying    string  `toml:"underlying"`
	Derivative    string  `toml:"derivative"`
	ScaleFactor   float64 `toml:"scale_factor"`
	UnderlyingLot int     `toml:"underlying_lot"`
	DerivativeLot int     `toml:"derivative_lot"`
}

// Load reads the TOML file, layers env overrides on top, applies defaults
// and validates. A .env file next to the process is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets stay out of the TOML file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SPREADWATCH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SPREADWATCH_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.TickSeconds <= 0 {
		cfg.App.TickSeconds = 1
	}

	if cfg.Limits.RequestsPerWindow <= 0 {
		cfg.Limits.RequestsPerWindow = 15
	}
	if cfg.Limits.WindowSeconds <= 0 {
		cfg.Limits.WindowSeconds = 60
	}
	if cfg.Limits.MinIntervalSeconds <= 0 {
		cfg.Limits.MinIntervalSeconds = 5
	}
	if cfg.Limits.TimeoutSeconds <= 0 {
		cfg.Limits.TimeoutSeconds = 30
	}
	if cfg.Limits.RetryAttempts <= 0 {
		cfg.Limits.RetryAttempts = 3
	}
	if cfg.Limits.RetryBaseSeconds <= 0 {
		cfg.Limits.RetryBaseSeconds = 8
	}
	if cfg.Limits.RetryMultiplier <= 1 {
		cfg.Limits.RetryMultiplier = 4
	}

	if cfg.Scan.BatchSize <= 0 {
		cfg.Scan.BatchSize = 5
	}
	if cfg.Scan.PairConcurrency <= 0 {
		cfg.Scan.PairConcurrency = 1
	}
	if cfg.Scan.PairDelaySeconds <= 0 {
		cfg.Scan.PairDelaySeconds = 5
	}
	if cfg.Scan.BucketParallelism <= 0 {
		cfg.Scan.BucketParallelism = 1
	}
	if cfg.Scan.FastCadenceSeconds <= 0 {
		cfg.Scan.FastCadenceSeconds = 300
	}
	if cfg.Scan.SourceCooldownSeconds <= 0 {
		cfg.Scan.SourceCooldownSeconds = 60
	}
	if cfg.Scan.SourceProbeMin <= 0 {
		cfg.Scan.SourceProbeMin = 30
	}

	if cfg.Spread.Tier2Percent <= 0 {
		cfg.Spread.Tier2Percent = 2.0
	}
	if cfg.Spread.Tier3Percent <= 0 {
		cfg.Spread.Tier3Percent = 3.0
	}
	if cfg.Spread.CloseCutoffPercent <= 0 {
		cfg.Spread.CloseCutoffPercent = 0.5
	}

	if cfg.Queue.MaxPerDrain <= 0 {
		cfg.Queue.MaxPerDrain = 3
	}
	if cfg.Queue.SendDelaySeconds <= 0 {
		cfg.Queue.SendDelaySeconds = 3
	}

	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "spreadwatch.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "spreadwatch"
	}

	if len(cfg.Sources) == 0 {
		cfg.Sources = []SourceConfig{{Name: "moex", BaseURL: "https://iss.moex.com"}}
	}

	for i := range cfg.Pairs {
		if cfg.Pairs[i].ScaleFactor <= 0 {
			cfg.Pairs[i].ScaleFactor = 1
		}
		if cfg.Pairs[i].UnderlyingLot <= 0 {
			cfg.Pairs[i].UnderlyingLot = 1
		}
		if cfg.Pairs[i].DerivativeLot <= 0 {
			cfg.Pairs[i].DerivativeLot = 1
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Pairs) == 0 {
		return errors.New("pairs is empty")
	}
	seen := map[string]struct{}{}
	for i := range cfg.Pairs {
		p := &cfg.Pairs[i]
		p.Underlying = strings.ToUpper(strings.TrimSpace(p.Underlying))
		p.Derivative = strings.ToUpper(strings.TrimSpace(p.Derivative))
		if p.Underlying == "" || p.Derivative == "" {
			return fmt.Errorf("pairs[%d]: underlying and derivative are required", i)
		}
		key := p.Underlying + "_" + p.Derivative
		if _, dup := seen[key]; dup {
			return fmt.Errorf("pairs[%d]: duplicate pair %s", i, key)
		}
		seen[key] = struct{}{}
	}

	names := map[string]struct{}{}
	for i, s := range cfg.Sources {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("sources[%d]: duplicate source %s", i, s.Name)
		}
		names[s.Name] = struct{}{}
		if strings.TrimSpace(s.BaseURL) == "" {
			return fmt.Errorf("sources[%d]: base_url is required", i)
		}
	}

	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn empty but enabled")
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	if cfg.Spread.Tier3Percent < cfg.Spread.Tier2Percent {
		return errors.New("spread.tier3_percent below tier2_percent")
	}
	return nil
}

// Durations derived from the integer fields.

func (c *Config) Tick() time.Duration { return time.Duration(c.App.TickSeconds) * time.Second }

func (c *Config) Window() time.Duration {
	return time.Duration(c.Limits.WindowSeconds) * time.Second
}

func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.Limits.MinIntervalSeconds * float64(time.Second))
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Limits.TimeoutSeconds) * time.Second
}

func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Limits.RetryBaseSeconds) * time.Second
}
func (c *Config) PairDelay() time.Duration {
	return time.Duration(c.Scan.PairDelaySeconds) * time.Second
}

func (c *Config) SourceCooldown() time.Duration {
	return time.Duration(c.Scan.SourceCooldownSeconds) * time.Second
}
func (c *Config) SourceProbeEvery() time.Duration {
	return time.Duration(c.Scan.SourceProbeMin) * time.Minute
}
func (c *Config) SendDelay() time.Duration {
	return time.Duration(c.Queue.SendDelaySeconds) * time.Second
}
