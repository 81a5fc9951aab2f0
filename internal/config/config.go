// Package config handles configuration loading and validation for
// awg-manager.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WireGuardConfig holds the gateway interface settings.
type WireGuardConfig struct {
	Interface    string `yaml:"interface"`     // interface name (default: "wg0")
	ListenPort   int    `yaml:"listen_port"`   // WireGuard UDP port (default: 51820)
	Subnet       string `yaml:"subnet"`        // client address pool, must be a /24 (e.g. 10.8.0.0/24)
	Address      string `yaml:"address"`       // gateway's own address, e.g. 10.8.0.1/24
	Endpoint     string `yaml:"endpoint"`      // public endpoint written into client configs (host:port)
	Command      string `yaml:"command"`       // control utility (default: "awg")
	ApplyTimeout string `yaml:"apply_timeout"` // duration string, e.g. "15s"
}

// Config is the root configuration for the management service.
type Config struct {
	Listen     string          `yaml:"listen"`      // HTTP listen address
	DataDir    string          `yaml:"data_dir"`    // record snapshot directory
	AdminToken string          `yaml:"admin_token"` // bearer credential for the admin API
	WireGuard  WireGuardConfig `yaml:"wireguard"`
}

// Load reads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = "0.0.0.0:8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "/data"
	}
	if cfg.WireGuard.Interface == "" {
		cfg.WireGuard.Interface = "wg0"
	}
	if cfg.WireGuard.ListenPort == 0 {
		cfg.WireGuard.ListenPort = 51820
	}
	if cfg.WireGuard.Command == "" {
		cfg.WireGuard.Command = "awg"
	}
	if cfg.WireGuard.ApplyTimeout == "" {
		cfg.WireGuard.ApplyTimeout = "15s"
	}

	// Environment overrides, kept for compatibility with the installer's
	// .env file.
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("WG_SUBNET"); v != "" {
		cfg.WireGuard.Subnet = v
	}
	if v := os.Getenv("WG_ADDRESS"); v != "" {
		cfg.WireGuard.Address = v
	}
	if v := os.Getenv("WG_ENDPOINT"); v != "" {
		cfg.WireGuard.Endpoint = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the service cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AdminToken) == "" {
		return fmt.Errorf("admin_token is required (or set ADMIN_TOKEN)")
	}
	if strings.TrimSpace(c.WireGuard.Subnet) == "" {
		return fmt.Errorf("wireguard.subnet is required (e.g. 10.8.0.0/24)")
	}
	if strings.TrimSpace(c.WireGuard.Address) == "" {
		return fmt.Errorf("wireguard.address is required (e.g. 10.8.0.1/24)")
	}
	if _, err := c.ApplyTimeout(); err != nil {
		return fmt.Errorf("wireguard.apply_timeout: %w", err)
	}
	return nil
}

// ServerIP returns the gateway's own address with any prefix length
// stripped.
func (c *Config) ServerIP() string {
	return strings.Split(c.WireGuard.Address, "/")[0]
}

// ApplyTimeout parses the configured setconf timeout.
func (c *Config) ApplyTimeout() (time.Duration, error) {
	return time.ParseDuration(c.WireGuard.ApplyTimeout)
}
