package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListenAddress = ":8545"
	DefaultDataDir       = "./stake-data"
	DefaultMetricsPath   = "/metrics"
	DefaultEventDriver   = "sqlite"
)

type Config struct {
	ListenAddress string          `toml:"ListenAddress"`
	DataDir       string          `toml:"DataDir"`
	GenesisFile   string          `toml:"GenesisFile"`
	Environment   string          `toml:"Environment"`
	LogFile       string          `toml:"LogFile"`
	LogLevel      string          `toml:"LogLevel"`
	ReadTimeout   int             `toml:"ReadTimeout"`
	WriteTimeout  int             `toml:"WriteTimeout"`
	DevMint       bool            `toml:"DevMint"`
	Auth          AuthConfig      `toml:"Auth"`
	RateLimit     RateLimitConfig `toml:"RateLimit"`
	EventLog      EventLogConfig  `toml:"EventLog"`
	Metrics       MetricsConfig   `toml:"Metrics"`
}

// AuthConfig enables JWT bearer authentication on the RPC server. The secret
// may be supplied inline or through the environment variable named by
// HMACSecretEnv.
type AuthConfig struct {
	Enabled          bool   `toml:"Enabled"`
	HMACSecret       string `toml:"HMACSecret"`
	HMACSecretEnv    string `toml:"HMACSecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
	Burst             int `toml:"Burst"`
}

// EventLogConfig selects the SQL backend of the event index. An empty DSN
// disables the index.
type EventLogConfig struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"Enabled"`
	Path    string `toml:"Path"`
}

// Load loads the configuration from the given path. A default file is written
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{
		ListenAddress: DefaultListenAddress,
		DataDir:       DefaultDataDir,
		Environment:   "local",
		LogLevel:      "info",
		RateLimit:     RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
		Metrics:       MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
	}
	cfg.normalize()
	return cfg
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	cfg.GenesisFile = strings.TrimSpace(cfg.GenesisFile)
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15
	}
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	cfg.Auth.HMACSecretEnv = strings.TrimSpace(cfg.Auth.HMACSecretEnv)
	if cfg.Auth.HMACSecret == "" && cfg.Auth.HMACSecretEnv != "" {
		cfg.Auth.HMACSecret = os.Getenv(cfg.Auth.HMACSecretEnv)
	}
	if cfg.Auth.ClockSkewSeconds <= 0 {
		cfg.Auth.ClockSkewSeconds = 30
	}
	cfg.EventLog.Driver = strings.ToLower(strings.TrimSpace(cfg.EventLog.Driver))
	if cfg.EventLog.Driver == "" {
		cfg.EventLog.Driver = DefaultEventDriver
	}
	cfg.EventLog.DSN = strings.TrimSpace(cfg.EventLog.DSN)
	cfg.Metrics.Path = strings.TrimSpace(cfg.Metrics.Path)
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		cfg.Metrics.Path = "/" + cfg.Metrics.Path
	}
}

// ClockSkew returns the tolerated JWT clock drift.
func (a AuthConfig) ClockSkew() time.Duration {
	return time.Duration(a.ClockSkewSeconds) * time.Second
}

// ReadTimeoutDuration returns the HTTP read timeout.
func (cfg *Config) ReadTimeoutDuration() time.Duration {
	return time.Duration(cfg.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the HTTP write timeout.
func (cfg *Config) WriteTimeoutDuration() time.Duration {
	return time.Duration(cfg.WriteTimeout) * time.Second
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
