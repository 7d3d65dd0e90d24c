package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backend identifiers
const (
	StorageRedis = "redis"
	StorageFile  = "file"
)

// Fabric backend identifiers
const (
	FabricMemory = "memory"
	FabricSocket = "socket"
	FabricRedis  = "redis"
)

// Cache reuse modes
const (
	CacheOff   = "off"
	CacheOn    = "on"
	CacheNodes = "nodes"
)

// Config holds the process-wide configuration resolved at startup
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Log struct {
		Level      string `mapstructure:"level"`
		JSONOutput bool   `mapstructure:"json"`
	} `mapstructure:"log"`

	API struct {
		Addr       string `mapstructure:"addr"`
		EnableCORS bool   `mapstructure:"enable_cors"`
	} `mapstructure:"api"`

	Storage struct {
		Backend  string `mapstructure:"backend"` // redis | file
		RedisURL string `mapstructure:"redis_url"`
	} `mapstructure:"storage"`

	Fabric struct {
		Backend  string `mapstructure:"backend"` // memory | socket | redis
		RedisURL string `mapstructure:"redis_url"`
	} `mapstructure:"fabric"`

	Control struct {
		PollInterval     time.Duration `mapstructure:"poll_interval"`
		CheckpointMaxAge time.Duration `mapstructure:"checkpoint_max_age"`
	} `mapstructure:"control"`

	Cache struct {
		Mode     string   `mapstructure:"mode"` // off | on | nodes
		Nodes    []string `mapstructure:"nodes"`
		SleepMin float64  `mapstructure:"sleep_min"` // seconds
		SleepMax float64  `mapstructure:"sleep_max"`
	} `mapstructure:"cache"`

	Estimate struct {
		BaseSeconds float64 `mapstructure:"base_seconds"`
		// PerAnalystSeconds and DepthMultipliers are indexed by research depth 1..5
		PerAnalystSeconds   []float64          `mapstructure:"per_analyst_seconds"`
		DepthMultipliers    []float64          `mapstructure:"depth_multipliers"`
		ProviderMultipliers map[string]float64 `mapstructure:"provider_multipliers"`
	} `mapstructure:"estimate"`
}

// Load reads stockpulse.yaml (if present) plus STOCKPULSE_* environment
// overrides and returns the resolved configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STOCKPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("stockpulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/stockpulse")
		if err := v.ReadInConfig(); err != nil {
			// Missing config file is fine; defaults plus env apply
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching disk or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("api.addr", ":8620")
	v.SetDefault("api.enable_cors", true)
	v.SetDefault("storage.backend", StorageFile)
	v.SetDefault("storage.redis_url", "redis://localhost:6379/0")
	v.SetDefault("fabric.backend", FabricMemory)
	v.SetDefault("fabric.redis_url", "redis://localhost:6379/0")
	v.SetDefault("control.poll_interval", 500*time.Millisecond)
	v.SetDefault("control.checkpoint_max_age", 24*time.Hour)
	v.SetDefault("cache.mode", CacheOff)
	v.SetDefault("cache.nodes", []string{})
	v.SetDefault("cache.sleep_min", 2.0)
	v.SetDefault("cache.sleep_max", 10.0)
	v.SetDefault("estimate.base_seconds", 60.0)
	v.SetDefault("estimate.per_analyst_seconds", []float64{30, 45, 60, 75, 90})
	v.SetDefault("estimate.depth_multipliers", []float64{0.8, 1.0, 1.3, 1.6, 2.0})
	v.SetDefault("estimate.provider_multipliers", map[string]float64{})
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case StorageRedis, StorageFile:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Fabric.Backend {
	case FabricMemory, FabricSocket, FabricRedis:
	default:
		return fmt.Errorf("unknown fabric backend %q", c.Fabric.Backend)
	}
	switch c.Cache.Mode {
	case CacheOff, CacheOn, CacheNodes:
	default:
		return fmt.Errorf("unknown cache mode %q", c.Cache.Mode)
	}
	if c.Cache.SleepMin < 0 || c.Cache.SleepMax < c.Cache.SleepMin {
		return fmt.Errorf("invalid cache sleep bounds [%v, %v]", c.Cache.SleepMin, c.Cache.SleepMax)
	}
	if len(c.Estimate.PerAnalystSeconds) != 5 || len(c.Estimate.DepthMultipliers) != 5 {
		return fmt.Errorf("estimate tables must cover depths 1..5")
	}
	return nil
}

// PerAnalyst returns the per-analyst seconds for a research depth (1..5).
func (c *Config) PerAnalyst(depth int) float64 {
	return indexDepth(c.Estimate.PerAnalystSeconds, depth)
}

// DepthMultiplier returns the duration multiplier for a research depth.
func (c *Config) DepthMultiplier(depth int) float64 {
	return indexDepth(c.Estimate.DepthMultipliers, depth)
}

// ProviderMultiplier returns the duration multiplier for an LLM provider,
// defaulting to 1.0 for unknown providers.
func (c *Config) ProviderMultiplier(provider string) float64 {
	if m, ok := c.Estimate.ProviderMultipliers[strings.ToLower(provider)]; ok && m > 0 {
		return m
	}
	return 1.0
}

func indexDepth(table []float64, depth int) float64 {
	if depth < 1 {
		depth = 1
	}
	if depth > len(table) {
		depth = len(table)
	}
	return table[depth-1]
}
