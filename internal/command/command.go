// Command and watchdog records carried along the segment chain
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// MaxPayload is the largest encoded message accepted on a segment link.
const MaxPayload = 512

var (
	// ErrPayloadTooLarge is returned when a message exceeds MaxPayload bytes.
	ErrPayloadTooLarge = errors.New("command: payload exceeds 512 bytes")
	// ErrNotObject is returned when a command payload is not a JSON object.
	ErrNotObject = errors.New("command: payload is not a JSON object")
)

// Navigator carries the optional route selected by an upstream producer.
type Navigator struct {
	Route *string `json:"route,omitempty"`
}

// Command is one drive instruction. It is a value type: Clone before handing it
// to another goroutine if the navigator route may be touched.
type Command struct {
	Steering  float64   `json:"steering"`
	Throttle  float64   `json:"throttle"`
	Time      uint64    `json:"time"` // microseconds
	Navigator Navigator `json:"navigator"`
	Reverse   bool      `json:"reverse"`
	Wakeup    bool      `json:"wakeup"`
	Velocity  *float64  `json:"velocity,omitempty"`
}

// Neutral returns a zero steering / zero throttle command.
func Neutral() Command {
	return Command{}
}

// Clone returns a deep copy.
func (c Command) Clone() Command {
	out := c
	if c.Navigator.Route != nil {
		r := *c.Navigator.Route
		out.Navigator.Route = &r
	}
	if c.Velocity != nil {
		v := *c.Velocity
		out.Velocity = &v
	}
	return out
}

// Stamped returns a copy carrying the given timestamp.
func (c Command) Stamped(now uint64) Command {
	out := c.Clone()
	out.Time = now
	return out
}

// WithVelocity returns a copy with the velocity feedback merged in.
func (c Command) WithVelocity(v float64) Command {
	out := c.Clone()
	out.Velocity = &v
	return out
}

// Age returns how old the command is relative to now (both in microseconds).
// Commands stamped in the future have zero age.
func (c Command) Age(now uint64) time.Duration {
	if c.Time >= now {
		return 0
	}
	return time.Duration(now-c.Time) * time.Microsecond
}

// SameDrive reports whether two commands carry the same drive payload.
func (c Command) SameDrive(o Command) bool {
	return c.Steering == o.Steering && c.Throttle == o.Throttle &&
		c.Reverse == o.Reverse && c.Wakeup == o.Wakeup
}

// Decode parses one wire payload. Missing fields keep their zero defaults and
// steering/throttle are clamped to [-1, 1].
func Decode(b []byte) (Command, error) {
	if len(b) > MaxPayload {
		return Command{}, ErrPayloadTooLarge
	}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Command{}, ErrNotObject
	}
	var c Command
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return Command{}, fmt.Errorf("command: decode: %w", err)
	}
	c.Steering = clamp(c.Steering)
	c.Throttle = clamp(c.Throttle)
	if c.Velocity != nil && (math.IsNaN(*c.Velocity) || math.IsInf(*c.Velocity, 0)) {
		c.Velocity = nil
	}
	return c, nil
}

// Encode serialises a command for the wire.
func Encode(c Command) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("command: encode: %w", err)
	}
	if len(b) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	return b, nil
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
