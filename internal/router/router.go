// Package router picks the command each segment forwards on every cycle.
package router

import (
	"context"
	"sync"
	"time"

	"segchain/internal/command"
)

// Source yields the freshest unconsumed command, if any.
type Source interface {
	Take() (command.Command, bool)
}

// Sink receives every forwarded command.
type Sink interface {
	Put(command.Command)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(command.Command)

func (f SinkFunc) Put(c command.Command) { f(c) }

// Config selects the command source.
type Config struct {
	Head bool // read operator input instead of the lead link
}

// Router stamps and forwards commands. When the source is silent the last
// forwarded command is forwarded again with a fresh stamp.
type Router struct {
	cfg Config
	src Source
	now func() time.Time

	mu        sync.Mutex
	last      command.Command
	lastStamp uint64
	fresh     uint64
	reused    uint64
}

// New creates a router. A nil clock uses time.Now.
func New(cfg Config, src Source, clock func() time.Time) *Router {
	if clock == nil {
		clock = time.Now
	}
	return &Router{cfg: cfg, src: src, now: clock, last: command.Neutral()}
}

// Next returns the command to forward this cycle.
func (r *Router) Next() command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.last
	if c, ok := r.src.Take(); ok {
		next = c
		r.fresh++
	} else {
		r.reused++
	}

	stamp := uint64(r.now().UnixMicro())
	if stamp < r.lastStamp {
		stamp = r.lastStamp
	}
	r.lastStamp = stamp
	r.last = next.Stamped(stamp)
	return r.last.Clone()
}

// Last returns the last forwarded command.
func (r *Router) Last() command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.Clone()
}

// Stats returns how many cycles used a fresh command versus the fallback.
func (r *Router) Stats() (fresh, reused uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fresh, r.reused
}

// Head reports whether the router reads operator input.
func (r *Router) Head() bool { return r.cfg.Head }

// Run forwards one command per tick to every sink until ctx is done.
func (r *Router) Run(ctx context.Context, rate time.Duration, sinks ...Sink) error {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c := r.Next()
			for _, s := range sinks {
				s.Put(c.Clone())
			}
		}
	}
}
