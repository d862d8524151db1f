// Package config provides runtime configuration management, backed by
// settings.json plus environment overrides and hot-reloaded via fsnotify.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/lofyer/warp-multiproxy-go/internal/logging"
)

// Selection strategy names, matching the closed set the pool selector accepts.
const (
	StrategyRoundRobin = "round-robin"
	StrategyRandom     = "random"
	StrategyLeastUsed  = "least-used"
	StrategyQuotaAware = "quota-aware"
)

var ValidStrategies = []string{StrategyRoundRobin, StrategyRandom, StrategyLeastUsed, StrategyQuotaAware}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// PoolConfig holds account-pool policy knobs.
type PoolConfig struct {
	Strategy          string `mapstructure:"strategy"`
	AccountsDir       string `mapstructure:"accounts_dir"`
	AutoSave          bool   `mapstructure:"auto_save"`
	Retry429Minutes   int    `mapstructure:"retry_429_interval"`
	MaxHistoryMsgs    int    `mapstructure:"max_history_messages"`
	MaxToolResults    int    `mapstructure:"max_tool_results"`
	SplitToolResult   bool   `mapstructure:"split_toolcall_result"`
	DisableWarpTools  bool   `mapstructure:"disable_warp_tools"`
}

// RetryConfig governs the dispatcher's bounded retry/backoff.
type RetryConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
}

// CircuitConfig governs the per-account circuit breaker.
type CircuitConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full runtime configuration tree.
type Config struct {
	mu sync.RWMutex

	APIKey  string        `mapstructure:"api_key"`
	DevMode bool          `mapstructure:"dev_mode"`
	Server  ServerConfig  `mapstructure:"server"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Circuit CircuitConfig `mapstructure:"circuit"`
	Logging LoggingConfig `mapstructure:"logging"`

	InsecureTLS   bool `mapstructure:"-"`
	ShowLoginInfo bool `mapstructure:"-"`

	v *viper.Viper
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Pool: PoolConfig{
			Strategy:         StrategyRoundRobin,
			AccountsDir:      "config/accounts/warp",
			AutoSave:         true,
			Retry429Minutes:  1,
			MaxHistoryMsgs:   20,
			MaxToolResults:   10,
			SplitToolResult:  false,
			DisableWarpTools: false,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			RequestTimeout:  60 * time.Second,
			RefreshInterval: time.Second,
		},
		Circuit: CircuitConfig{
			Enabled:          true,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads config/settings.json (if present) and environment overrides
// into the given Config, then arms an fsnotify watch so a later
// POST /accounts/reload (or any other external edit) is picked up live.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.AutomaticEnv()
	v.SetEnvPrefix("WARP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		logging.L().Warn().Str("path", path).Msg("no settings.json found, using defaults")
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.InsecureTLS = v.GetBool("insecure_tls")
	cfg.ShowLoginInfo = v.GetBool("show_login_info")
	cfg.v = v

	v.OnConfigChange(func(e fsnotify.Event) {
		logging.L().Info().Str("file", e.Name).Msg("settings.json changed on disk")
	})
	v.WatchConfig()

	return cfg, nil
}

// Reload re-reads the backing file into place, used by the
// POST /accounts/reload admin operation.
func (c *Config) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.v == nil {
		return nil
	}
	if err := c.v.ReadInConfig(); err != nil {
		return err
	}
	return c.v.Unmarshal(c)
}

// Snapshot returns a redacted copy safe for the admin /stats surface.
func (c *Config) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	apiKey := ""
	if c.APIKey != "" {
		apiKey = "********"
	}
	return map[string]any{
		"apiKey":   apiKey,
		"devMode":  c.DevMode,
		"server":   c.Server,
		"pool":     c.Pool,
		"retry":    c.Retry,
		"circuit":  c.Circuit,
		"logging":  c.Logging,
	}
}
