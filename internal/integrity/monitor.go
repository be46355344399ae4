// Package integrity scores the timeliness of a periodic message stream.
package integrity

import (
	"sync"
	"time"
)

// Config bounds for a monitored stream.
type Config struct {
	MaxAge   time.Duration `yaml:"max_age"`   // silence tolerated between arrivals
	MaxDelay time.Duration `yaml:"max_delay"` // transit delay tolerated per message
	Floor    int           `yaml:"floor"`     // lowest (healthiest) score
}

// DefaultConfig returns the driver heartbeat bounds.
func DefaultConfig() Config {
	return Config{MaxAge: 500 * time.Millisecond, MaxDelay: 250 * time.Millisecond, Floor: -20}
}

// Monitor keeps a violation score: negative is healthy, zero neutral, positive
// degraded. Timely arrivals walk the score down to Floor one step at a time and
// every violation walks it up one step, so a long healthy run leaves a margin
// of |Floor| violations before the score turns positive. It is safe for
// concurrent use.
type Monitor struct {
	cfg   Config
	now   func() time.Time
	mu    sync.Mutex
	score int
	last  time.Time

	violations uint64
	arrivals   uint64
}

// New creates a monitor. A nil clock uses time.Now.
func New(cfg Config, clock func() time.Time) *Monitor {
	def := DefaultConfig()
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Floor >= 0 {
		cfg.Floor = def.Floor
	}
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{cfg: cfg, now: clock, last: clock()}
}

// OnMessage accounts for one arrival whose sender stamped it at sendTime
// (microseconds since the Unix epoch).
func (m *Monitor) OnMessage(sendTime uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.last = now
	m.arrivals++

	gap := time.Duration(int64(uint64(now.UnixMicro())-sendTime)) * time.Microsecond
	if gap <= m.cfg.MaxDelay {
		m.healthy()
		return
	}
	m.violate()
}

// Check runs the per-cycle age test and returns the current score.
func (m *Monitor) Check() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.now().Sub(m.last) > m.cfg.MaxAge {
		m.violate()
	}
	return m.score
}

// Reset returns the score to neutral and restarts the age clock.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.score = 0
	m.last = m.now()
}

// Score returns the current score without running any test.
func (m *Monitor) Score() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.score
}

// Stats returns arrival and violation counters.
func (m *Monitor) Stats() (arrivals, violations uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arrivals, m.violations
}

func (m *Monitor) healthy() {
	if m.score > m.cfg.Floor {
		m.score--
	}
}

func (m *Monitor) violate() {
	m.violations++
	m.score++
}
