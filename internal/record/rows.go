// Per-cycle records of a segment node
package record

import (
	"time"

	"github.com/google/uuid"

	"segchain/internal/relay"
)

// SafetyRow is one relay controller cycle.
type SafetyRow struct {
	Node       string    `json:"node"`
	Session    string    `json:"session"`
	Score      int       `json:"score"`
	Action     string    `json:"action"`
	Relay      string    `json:"relay"`
	Steering   float64   `json:"steering"`
	Throttle   float64   `json:"throttle"`
	PilotFresh bool      `json:"pilot_fresh"`
	Configured bool      `json:"configured"`
	Watchdog   []int     `json:"watchdog"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Link event kinds.
const (
	LinkUp   = "up"
	LinkDown = "down"
)

// LinkEventRow records a link role changing state.
type LinkEventRow struct {
	Node      string    `json:"node"`
	Session   string    `json:"session"`
	Role      string    `json:"role"` // server or client
	Event     string    `json:"event"`
	Teardowns uint64    `json:"teardowns"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSession returns a fresh recording session id.
func NewSession() string { return uuid.NewString() }

// FromDecision builds a safety row from a controller decision.
func FromDecision(node, session string, d relay.Decision, watchdog []int) SafetyRow {
	return SafetyRow{
		Node:       node,
		Session:    session,
		Score:      d.Score,
		Action:     string(d.Action),
		Relay:      d.Relay.String(),
		Steering:   d.Drive.Steering,
		Throttle:   d.Drive.Throttle,
		PilotFresh: d.PilotFresh,
		Configured: d.Configured,
		Watchdog:   watchdog,
		Error:      d.Err,
		Timestamp:  d.At.UTC(),
	}
}
