package node

import (
	"context"
	"sync"
	"time"

	"segchain/internal/config"
	"segchain/internal/driver"
	"segchain/internal/slot"
)

// settingsSource hands the controller the current driver settings and the
// hash that tells it when to reconnect.
type settingsSource struct {
	mu       sync.Mutex
	settings driver.Settings
	hash     uint64
}

func newSettingsSource(cfg *config.Config) (*settingsSource, error) {
	h, err := config.Hash(cfg)
	if err != nil {
		return nil, err
	}
	return &settingsSource{settings: cfg.Driver.Settings, hash: h}, nil
}

func (s *settingsSource) Current() (driver.Settings, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, s.hash
}

func (s *settingsSource) set(settings driver.Settings, hash uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hash == s.hash {
		return false
	}
	s.settings, s.hash = settings, hash
	return true
}

// applyReloads takes validated configs from the watcher. Driver settings and
// thresholds apply live; everything else needs a restart.
func (n *Node) applyReloads(ctx context.Context, reloads *slot.Slot[*config.Config]) error {
	for {
		cfg, ok, err := reloads.Wait(ctx, time.Second)
		if err != nil {
			return nil
		}
		if !ok {
			continue
		}
		n.apply(cfg)
	}
}

func (n *Node) apply(cfg *config.Config) {
	h, err := config.Hash(cfg)
	if err != nil {
		n.log.Warn("config reload: hash failed", "err", err)
		return
	}
	if err := n.ctrl.SetThresholds(cfg.Relay.Thresholds); err != nil {
		n.log.Warn("config reload: thresholds rejected", "err", err)
		return
	}
	if n.settings.set(cfg.Driver.Settings, h) {
		n.log.Info("driver configuration reloaded", "hash", h)
	}
	if cfg.Node != n.cfg.Node || cfg.Link != n.cfg.Link || cfg.Driver.Address != n.cfg.Driver.Address {
		n.log.Warn("config reload: node, link and driver address changes need a restart")
	}
}
