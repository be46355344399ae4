// Package driver talks to the low-level motor driver: framed TCP request/reply
// for configuration and drive, UDP for heartbeats.
package driver

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTimeout bounds every driver request.
const DefaultTimeout = 50 * time.Millisecond

// DefaultHeartbeatPort is where heartbeats are published.
const DefaultHeartbeatPort = 5556

// Settings is the configuration resent to the driver after every reconnect.
type Settings struct {
	MaxSpeed     float64 `yaml:"max_speed" json:"max_speed" hash:"max_speed"`
	Acceleration float64 `yaml:"acceleration" json:"acceleration" hash:"acceleration"`
	Deadband     float64 `yaml:"deadband" json:"deadband" hash:"deadband"`
	Inverted     bool    `yaml:"inverted" json:"inverted" hash:"inverted"`
}

// DefaultSettings returns conservative drive settings.
func DefaultSettings() Settings {
	return Settings{MaxSpeed: 1.0, Acceleration: 2.0, Deadband: 0.02}
}

// DriveRequest is one per-cycle drive instruction.
type DriveRequest struct {
	Time     uint64  `json:"time"`
	Steering float64 `json:"steering"`
	Throttle float64 `json:"throttle"`
	Reverse  bool    `json:"reverse"`
	Wakeup   bool    `json:"wakeup"`
}

// Reply is the driver's answer to any request.
type Reply struct {
	OK         bool    `json:"ok"`
	Configured bool    `json:"configured"`
	Velocity   float64 `json:"velocity"`
	Error      string  `json:"error,omitempty"`
}

// Heartbeat is published by the driver over UDP.
type Heartbeat struct {
	Time     uint64  `json:"time"` // microseconds
	Velocity float64 `json:"velocity"`
}

const (
	opConfigure = "configure"
	opDrive     = "drive"
)

type envelope struct {
	Op       string        `json:"op"`
	Settings *Settings     `json:"settings,omitempty"`
	Drive    *DriveRequest `json:"drive,omitempty"`
}

func encodeEnvelope(e envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("driver: encode %s: %w", e.Op, err)
	}
	return b, nil
}

func decodeReply(b []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(b, &r); err != nil {
		return Reply{}, fmt.Errorf("driver: decode reply: %w", err)
	}
	if !r.OK {
		return r, fmt.Errorf("driver: rejected: %s", r.Error)
	}
	return r, nil
}
