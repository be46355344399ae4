package config

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"segchain/internal/driver"
	"segchain/internal/relay"
)

// driverKey is the part of the configuration whose change forces a driver
// reconnect.
type driverKey struct {
	Address    string
	Settings   driver.Settings
	Thresholds relay.Thresholds
}

// Hash fingerprints the driver-facing configuration.
func Hash(cfg *Config) (uint64, error) {
	h, err := hashstructure.Hash(driverKey{
		Address:    cfg.Driver.Address,
		Settings:   cfg.Driver.Settings,
		Thresholds: cfg.Relay.Thresholds,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("config hash: %w", err)
	}
	return h, nil
}
