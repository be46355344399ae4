package config

import (
	"fmt"
	"time"

	"segchain/internal/driver"
	"segchain/internal/integrity"
	"segchain/internal/link"
	"segchain/internal/relay"
	"segchain/internal/retry"
)

// Normalize fills defaults for every unset field. It is safe to call twice.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Node.Segments == 0 {
		cfg.Node.Segments = 1
	}
	if cfg.Node.ID == "" {
		cfg.Node.ID = fmt.Sprintf("segment-%d", cfg.Node.Position)
	}
	if cfg.Node.LogLevel == "" {
		cfg.Node.LogLevel = "info"
	}

	if cfg.Link.Listen == "" && !cfg.IsHead() {
		cfg.Link.Listen = fmt.Sprintf(":%d", link.DefaultPort)
	}
	if cfg.Link.Timeout == 0 {
		cfg.Link.Timeout = link.DefaultTimeout
	}
	if cfg.Link.Retry.Delay == 0 {
		cfg.Link.Retry.Delay = retry.DefaultDelay
	}

	if cfg.Router.Period == 0 {
		cfg.Router.Period = 50 * time.Millisecond
	}

	if cfg.Driver.Heartbeat == "" {
		cfg.Driver.Heartbeat = fmt.Sprintf(":%d", driver.DefaultHeartbeatPort)
	}
	if cfg.Driver.Timeout == 0 {
		cfg.Driver.Timeout = driver.DefaultTimeout
	}
	if cfg.Driver.Settings == (driver.Settings{}) {
		cfg.Driver.Settings = driver.DefaultSettings()
	}

	def := integrity.DefaultConfig()
	if cfg.Integrity.MaxAge == 0 {
		cfg.Integrity.MaxAge = def.MaxAge
	}
	if cfg.Integrity.MaxDelay == 0 {
		cfg.Integrity.MaxDelay = def.MaxDelay
	}
	if cfg.Integrity.Floor == 0 {
		cfg.Integrity.Floor = def.Floor
	}

	rdef := relay.DefaultConfig()
	if cfg.Relay.Kind == "" {
		cfg.Relay.Kind = "memory"
	}
	if cfg.Relay.Thresholds == (relay.Thresholds{}) {
		cfg.Relay.Thresholds = rdef.Thresholds
	}
	if cfg.Relay.CloseDebounce == 0 {
		cfg.Relay.CloseDebounce = rdef.CloseDebounce
	}
	if cfg.Relay.Patience == 0 {
		cfg.Relay.Patience = rdef.Patience
	}
	if cfg.Relay.Period == 0 {
		cfg.Relay.Period = 20 * time.Millisecond
	}

	if cfg.Bus.Prefix == "" {
		cfg.Bus.Prefix = "segchain"
	}
	if cfg.Record.Every == 0 {
		cfg.Record.Every = 1
	}
	if cfg.Record.Greptime.Database == "" {
		cfg.Record.Greptime.Database = "public"
	}
}
