package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"bazaar/core/types"
)

// RateLimit bounds request throughput for one gateway route group.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// GatewayConfig controls the HTTP facade.
type GatewayConfig struct {
	AuthEnabled bool                 `toml:"AuthEnabled"`
	JWTSecret   string               `toml:"JWTSecret"`
	Issuer      string               `toml:"Issuer"`
	Audience    string               `toml:"Audience"`
	RateLimits  map[string]RateLimit `toml:"RateLimits"`
}

// ObservabilityConfig toggles metrics and tracing on the gateway.
type ObservabilityConfig struct {
	Enabled       bool   `toml:"Enabled"`
	ServiceName   string `toml:"ServiceName"`
	MetricsPrefix string `toml:"MetricsPrefix"`
	Environment   string `toml:"Environment"`
	LogRequests   bool   `toml:"LogRequests"`
}

// Config is the node configuration loaded from TOML.
type Config struct {
	ListenAddress    string              `toml:"ListenAddress"`
	DataDir          string              `toml:"DataDir"`
	HoldPeriod       int64               `toml:"HoldPeriod"`
	DisputeWindow    int64               `toml:"DisputeWindow"`
	Arbiter          string              `toml:"Arbiter"`
	EventLogCapacity int                 `toml:"EventLogCapacity"`
	Gateway          GatewayConfig       `toml:"Gateway"`
	Observability    ObservabilityConfig `toml:"Observability"`
}

const (
	defaultListenAddress = ":8080"
	defaultDataDir       = "./bazaar-data"
	defaultHoldPeriod    = 14 * 24 * 60 * 60
	defaultDisputeWindow = 7 * 24 * 60 * 60
)

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if c.HoldPeriod <= 0 {
		c.HoldPeriod = defaultHoldPeriod
	}
	if c.DisputeWindow <= 0 {
		c.DisputeWindow = defaultDisputeWindow
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "bazaard"
	}
	if c.Observability.MetricsPrefix == "" {
		c.Observability.MetricsPrefix = "bazaar"
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.HoldPeriod <= 0 {
		return fmt.Errorf("config: HoldPeriod must be positive")
	}
	if c.DisputeWindow <= 0 {
		return fmt.Errorf("config: DisputeWindow must be positive")
	}
	if strings.TrimSpace(c.Arbiter) != "" {
		if _, err := types.ParseAddress(c.Arbiter); err != nil {
			return fmt.Errorf("config: Arbiter: %w", err)
		}
	}
	if c.Gateway.AuthEnabled && strings.TrimSpace(c.Gateway.JWTSecret) == "" {
		return fmt.Errorf("config: Gateway.JWTSecret required when auth is enabled")
	}
	return nil
}

// ArbiterAddress decodes the configured arbiter credential. The zero address
// disables administrative overrides.
func (c *Config) ArbiterAddress() ([20]byte, error) {
	if strings.TrimSpace(c.Arbiter) == "" {
		return [20]byte{}, nil
	}
	return types.ParseAddress(c.Arbiter)
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
