// Package config loads server configuration from an optional YAML file with
// environment-variable overrides. Configuration selects how the tool
// boundary is reached; it never changes session, snapshot or batch semantics.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the full configuration surface of the server binary.
type Config struct {
	Transport    string        `yaml:"transport"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	OTLPEndpoint string        `yaml:"otlp_endpoint"`
}

// Default returns the configuration used when no file or env overrides are
// present.
func Default() Config {
	return Config{
		Transport:   TransportHTTP,
		Host:        "127.0.0.1",
		Port:        8766,
		LockTimeout: 5 * time.Second,
	}
}

// Load reads path (when non-empty) over the defaults, then applies env
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REVLINK_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("REVLINK_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("REVLINK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("REVLINK_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LockTimeout = d
		}
	}
	if v := os.Getenv("REVLINK_OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = v
	}
}

// Validate checks field constraints.
func (c Config) Validate() error {
	switch strings.TrimSpace(c.Transport) {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: lock_timeout must be positive")
	}
	return nil
}

// Addr returns the host:port bind address for the HTTP transport.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
