// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"segchain/internal/driver"
	"segchain/internal/integrity"
	"segchain/internal/relay"
	"segchain/internal/retry"
)

// Node identifies this segment within the chain.
type Node struct {
	ID       string `yaml:"id"`
	Position int    `yaml:"position"` // 0 is the head
	Segments int    `yaml:"segments"`
	LogLevel string `yaml:"log_level"`
}

// Link configures both halves of the segment link.
type Link struct {
	Listen   string        `yaml:"listen"`   // lead-facing server, unused on the head
	Follower string        `yaml:"follower"` // follower address, unused on the tail
	Timeout  time.Duration `yaml:"timeout"`
	Retry    retry.Config  `yaml:"retry"`
}

// Router sets the forwarding cycle.
type Router struct {
	Period time.Duration `yaml:"period"`
}

// Driver addresses the motor driver.
type Driver struct {
	Address   string          `yaml:"address"`
	Heartbeat string          `yaml:"heartbeat"`
	Timeout   time.Duration   `yaml:"timeout"`
	Settings  driver.Settings `yaml:"settings"`
}

// Relay configures the safety controller and its actuator.
type Relay struct {
	Kind          string             `yaml:"kind"` // memory or modbus
	Modbus        relay.ModbusConfig `yaml:"modbus"`
	Thresholds    relay.Thresholds   `yaml:"thresholds"`
	CloseDebounce time.Duration      `yaml:"close_debounce"`
	Patience      time.Duration      `yaml:"patience"`
	Period        time.Duration      `yaml:"period"`
}

// Admin configures the diagnostics HTTP server.
type Admin struct {
	Listen string `yaml:"listen"`
}

// Bus configures the optional MQTT command bus.
type Bus struct {
	Broker string `yaml:"broker"`
	Prefix string `yaml:"prefix"`
}

// Greptime configures the GreptimeDB recording sink.
type Greptime struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// Record configures where per-cycle rows go.
type Record struct {
	File     string   `yaml:"file"`
	Greptime Greptime `yaml:"greptime"`
	Every    int      `yaml:"every"` // record one controller cycle in every N
}

// Config is the root configuration of one segment node.
type Config struct {
	Node      Node             `yaml:"node"`
	Link      Link             `yaml:"link"`
	Router    Router           `yaml:"router"`
	Driver    Driver           `yaml:"driver"`
	Integrity integrity.Config `yaml:"integrity"`
	Relay     Relay            `yaml:"relay"`
	Admin     Admin            `yaml:"admin"`
	Bus       Bus              `yaml:"bus"`
	Record    Record           `yaml:"record"`
}

// Load reads a YAML config, checks it against the CUE schema (the embedded
// one when schemaPath is empty), applies environment overrides and defaults,
// and validates the result.
func Load(configPath, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	return Parse(configPath, data, schemaPath)
}

// Parse is Load on in-memory YAML.
func Parse(name string, data []byte, schemaPath string) (*Config, error) {
	if err := ValidateWithCue(name, data, schemaPath); err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	applyEnv(&cfg)
	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets the deployment override per-host settings.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SEGCHAIN_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("SEGCHAIN_POSITION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Node.Position = n
		}
	}
	if v := os.Getenv("SEGCHAIN_FOLLOWER"); v != "" {
		cfg.Link.Follower = v
	}
	if v := os.Getenv("SEGCHAIN_MQTT_BROKER"); v != "" {
		cfg.Bus.Broker = v
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		cfg.Record.Greptime.Endpoint = v
	}
}

// IsHead reports whether this node reads operator input.
func (c *Config) IsHead() bool { return c.Node.Position == 0 }

// IsTail reports whether this node has no follower.
func (c *Config) IsTail() bool { return c.Node.Position == c.Node.Segments-1 }

// Behind returns how many segments follow this one.
func (c *Config) Behind() int { return c.Node.Segments - 1 - c.Node.Position }

// ControllerConfig returns the relay controller settings.
func (c *Config) ControllerConfig() relay.Config {
	return relay.Config{
		Thresholds:    c.Relay.Thresholds,
		CloseDebounce: c.Relay.CloseDebounce,
		Patience:      c.Relay.Patience,
	}
}
