package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"segchain/internal/wire"
)

// SimConfig configures the simulated driver.
type SimConfig struct {
	Listen    string        // request port
	Heartbeat string        // UDP destination for heartbeats
	Tick      time.Duration // heartbeat and physics period
	Seed      int64
}

// SimStats is a snapshot of simulator counters.
type SimStats struct {
	Configured   bool    `json:"configured"`
	Velocity     float64 `json:"velocity"`
	Chaos        bool    `json:"chaos"`
	Requests     uint64  `json:"requests"`
	BeatsSent    uint64  `json:"beats_sent"`
	BeatsDropped uint64  `json:"beats_dropped"`
	Connections  uint64  `json:"connections"`
}

// chaosDelay is how far in the past chaotic heartbeats are stamped.
const chaosDelay = 300 * time.Millisecond

// driveTimeout stops the motors when no drive request arrives in time.
const driveTimeout = 500 * time.Millisecond

// Sim answers configure/drive requests and publishes heartbeats. Chaos mode
// drops half the heartbeats and stamps the rest late.
type Sim struct {
	cfg  SimConfig
	log  *slog.Logger
	rand *rand.Rand

	mu         sync.Mutex
	configured bool
	settings   Settings
	velocity   float64
	target     float64
	lastDrive  time.Time
	chaosMode  bool
	stats      SimStats
	addr       net.Addr
	ready      chan struct{}
	readyOnce  sync.Once
}

// NewSim creates a simulated driver.
func NewSim(cfg SimConfig, logger *slog.Logger) *Sim {
	if cfg.Tick <= 0 {
		cfg.Tick = 20 * time.Millisecond
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sim{
		cfg:   cfg,
		log:   logger.With("component", "drive-sim"),
		rand:  rand.New(rand.NewSource(cfg.Seed)),
		ready: make(chan struct{}),
	}
}

// ToggleChaos flips chaos mode on or off and returns the new state.
func (s *Sim) ToggleChaos() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chaosMode = !s.chaosMode
	return s.chaosMode
}

// Chaos returns whether chaos mode is active.
func (s *Sim) Chaos() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chaosMode
}

// Stats returns a copy of the simulator counters.
func (s *Sim) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Configured = s.configured
	st.Velocity = s.velocity
	st.Chaos = s.chaosMode
	return st
}

// Addr blocks until the request port is bound.
func (s *Sim) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr, nil
}

// Run serves requests and publishes heartbeats until ctx is cancelled.
func (s *Sim) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("drive-sim listen %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Info("starting drive simulator", "addr", ln.Addr().String(), "heartbeat", s.cfg.Heartbeat, "tick", s.cfg.Tick)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error { return s.accept(ctx, ln) })
	g.Go(func() error { return s.beat(ctx) })
	err = g.Wait()
	if ctx.Err() != nil {
		s.log.Info("stopping drive simulator")
		return nil
	}
	return err
}

func (s *Sim) accept(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("drive-sim accept: %w", err)
		}
		go s.serve(ctx, conn)
	}
}

// serve handles one controller connection. A new connection starts
// unconfigured, like a freshly rebooted driver.
func (s *Sim) serve(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	s.mu.Lock()
	s.configured = false
	s.stats.Connections++
	s.mu.Unlock()

	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		reply := s.handle(frame)
		b, _ := json.Marshal(reply)
		if err := wire.WriteFrame(conn, b); err != nil {
			return
		}
	}
}

func (s *Sim) handle(frame []byte) Reply {
	var e envelope
	if err := json.Unmarshal(frame, &e); err != nil {
		return Reply{Error: "bad request"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Requests++
	switch e.Op {
	case opConfigure:
		if e.Settings == nil || e.Settings.MaxSpeed <= 0 {
			return Reply{Error: "invalid settings"}
		}
		s.settings = *e.Settings
		s.configured = true
	case opDrive:
		if e.Drive == nil {
			return Reply{Error: "missing drive"}
		}
		if s.configured {
			s.lastDrive = time.Now()
			s.target = s.driveTarget(*e.Drive)
		}
	default:
		return Reply{Error: "unknown op " + e.Op}
	}
	return Reply{OK: true, Configured: s.configured, Velocity: s.velocity}
}

func (s *Sim) driveTarget(r DriveRequest) float64 {
	t := r.Throttle
	if math.Abs(t) < s.settings.Deadband {
		t = 0
	}
	if r.Reverse {
		t = -math.Abs(t)
	}
	if s.settings.Inverted {
		t = -t
	}
	return t * s.settings.MaxSpeed
}

func (s *Sim) beat(ctx context.Context) error {
	var conn net.Conn
	if s.cfg.Heartbeat != "" {
		var d net.Dialer
		c, err := d.DialContext(ctx, "udp", s.cfg.Heartbeat)
		if err != nil {
			return fmt.Errorf("drive-sim heartbeat dial: %w", err)
		}
		conn = c
		defer conn.Close()
	}
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			hb, send := s.step(now)
			if !send || conn == nil {
				continue
			}
			b, _ := json.Marshal(hb)
			if _, err := conn.Write(b); err != nil {
				s.log.Debug("heartbeat send failed", "err", err)
			}
		}
	}
}

// step advances the simulated motor and returns the heartbeat to publish.
func (s *Sim) step(now time.Time) (Heartbeat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastDrive.IsZero() || now.Sub(s.lastDrive) > driveTimeout {
		s.target = 0
	}
	maxDelta := s.settings.Acceleration * s.cfg.Tick.Seconds()
	if maxDelta <= 0 {
		maxDelta = math.Abs(s.target - s.velocity)
	}
	diff := s.target - s.velocity
	if math.Abs(diff) > maxDelta {
		diff = math.Copysign(maxDelta, diff)
	}
	s.velocity += diff

	stamp := now
	if s.chaosMode {
		if s.rand.Float64() < 0.5 {
			s.stats.BeatsDropped++
			return Heartbeat{}, false
		}
		stamp = stamp.Add(-chaosDelay)
	}
	s.stats.BeatsSent++
	return Heartbeat{Time: uint64(stamp.UnixMicro()), Velocity: s.velocity}, true
}
