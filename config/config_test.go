package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if cfg.ListenAddress != defaultListenAddress {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.HoldPeriod != defaultHoldPeriod || cfg.DisputeWindow != defaultDisputeWindow {
		t.Fatalf("windows = %d/%d", cfg.HoldPeriod, cfg.DisputeWindow)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
ListenAddress = ":9090"
DataDir = "/tmp/bazaar"
HoldPeriod = 3600
DisputeWindow = 600
Arbiter = "0x0000000000000000000000000000000000000009"

[Gateway]
AuthEnabled = true
JWTSecret = "test-secret"

[Gateway.RateLimits.orders]
RequestsPerMinute = 120.0
Burst = 10

[Observability]
Enabled = true
ServiceName = "bazaard-test"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9090" || cfg.HoldPeriod != 3600 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	limit, ok := cfg.Gateway.RateLimits["orders"]
	if !ok || limit.RequestsPerMinute != 120 || limit.Burst != 10 {
		t.Fatalf("rate limit not decoded: %+v", cfg.Gateway.RateLimits)
	}
	arbiter, err := cfg.ArbiterAddress()
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	if arbiter[19] != 9 {
		t.Fatalf("arbiter decoded incorrectly: %x", arbiter)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-positive hold period", func(c *Config) { c.HoldPeriod = 0 }},
		{"non-positive dispute window", func(c *Config) { c.DisputeWindow = -1 }},
		{"malformed arbiter", func(c *Config) { c.Arbiter = "not-an-address" }},
		{"auth without secret", func(c *Config) {
			c.Gateway.AuthEnabled = true
			c.Gateway.JWTSecret = "  "
		}},
	}
	for _, tc := range cases {
		cfg := &Config{}
		cfg.applyDefaults()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestArbiterAddressEmptyIsZero(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	addr, err := cfg.ArbiterAddress()
	if err != nil {
		t.Fatalf("arbiter: %v", err)
	}
	if addr != ([20]byte{}) {
		t.Fatalf("empty arbiter must decode to the zero address")
	}
}
