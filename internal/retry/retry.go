// Package retry paces reconnect attempts with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultDelay is the first reconnect delay.
	DefaultDelay = 2 * time.Second
	// MinDelay is the floor applied to every delay.
	MinDelay = 250 * time.Millisecond
)

// Outcome is the result of one Wait.
type Outcome int

const (
	Retry Outcome = iota
	GiveUp
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Retry:
		return "retry"
	case GiveUp:
		return "give-up"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Config describes a reconnect schedule. Zero values take defaults.
type Config struct {
	Delay      time.Duration `yaml:"delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	MaxRetries int           `yaml:"max_retries"` // 0 = forever
}

// Policy tracks consecutive failures of one connection.
type Policy struct {
	cfg     Config
	b       *backoff.ExponentialBackOff
	retries int
	after   func(time.Duration) <-chan time.Time
}

// New builds a policy from cfg.
func New(cfg Config) *Policy {
	if cfg.Delay < MinDelay {
		if cfg.Delay == 0 {
			cfg.Delay = DefaultDelay
		} else {
			cfg.Delay = MinDelay
		}
	}
	if cfg.MaxDelay < cfg.Delay {
		cfg.MaxDelay = cfg.Delay * 4
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Delay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.1
	b.Reset()
	return &Policy{cfg: cfg, b: b, after: time.After}
}

// Next returns the delay before the next attempt, never below MinDelay.
func (p *Policy) Next() time.Duration {
	d := p.b.NextBackOff()
	if d == backoff.Stop || d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	if d < MinDelay {
		d = MinDelay
	}
	return d
}

// Wait records a failure and sleeps for the next delay.
func (p *Policy) Wait(ctx context.Context) Outcome {
	p.retries++
	if p.cfg.MaxRetries > 0 && p.retries > p.cfg.MaxRetries {
		return GiveUp
	}
	select {
	case <-ctx.Done():
		return Cancelled
	case <-p.after(p.Next()):
		return Retry
	}
}

// Succeeded clears the failure history after a successful connect.
func (p *Policy) Succeeded() {
	p.retries = 0
	p.b.Reset()
}

// Retries returns the number of consecutive failures.
func (p *Policy) Retries() int { return p.retries }
