// Package link implements both halves of a segment link: the server faces the
// lead segment, the client faces the follower.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"segchain/internal/command"
	"segchain/internal/metrics"
	"segchain/internal/slot"
	"segchain/internal/wire"
)

// DefaultPort is the segment link TCP port.
const DefaultPort = 1111

// DefaultTimeout bounds every link receive.
const DefaultTimeout = 100 * time.Millisecond

// ReplySource provides the watchdog list returned for each command.
type ReplySource interface {
	Snapshot() command.WatchdogStatusList
}

// ServerConfig configures the lead-facing half.
type ServerConfig struct {
	Listen  string
	Timeout time.Duration
}

// Server accepts one lead connection at a time.
type Server struct {
	cfg      ServerConfig
	replies  ReplySource
	log      *slog.Logger
	commands *slot.Slot[command.Command]

	mu        sync.Mutex
	addr      net.Addr
	ready     chan struct{}
	readyOnce sync.Once

	connected atomic.Bool
	teardowns atomic.Uint64
	received  atomic.Uint64
}

// NewServer creates a server; Run binds and serves.
func NewServer(cfg ServerConfig, replies ReplySource, logger *slog.Logger) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Listen == "" {
		cfg.Listen = fmt.Sprintf(":%d", DefaultPort)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		replies:  replies,
		log:      logger.With("role", "server"),
		commands: slot.New[command.Command](),
		ready:    make(chan struct{}),
	}
}

// Commands is the latest-wins slot of decoded lead commands.
func (s *Server) Commands() *slot.Slot[command.Command] { return s.commands }

// Connected reports whether a lead is attached.
func (s *Server) Connected() bool { return s.connected.Load() }

// Teardowns returns how many connections were closed on error.
func (s *Server) Teardowns() uint64 { return s.teardowns.Load() }

// Received returns how many commands were accepted.
func (s *Server) Received() uint64 { return s.received.Load() }

// Addr blocks until the listener is bound and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr, nil
}

// Run binds and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("link server listen %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Info("link server listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("link accept failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.Timeout):
			}
			continue
		}
		reason := s.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		s.teardowns.Add(1)
		metrics.LinkTeardowns.WithLabelValues("server", reason).Inc()
		s.log.Warn("lead link torn down", "peer", conn.RemoteAddr().String(), "reason", reason)
	}
}

// serve runs the request/reply cycle on one connection and returns the
// teardown reason.
func (s *Server) serve(ctx context.Context, conn net.Conn) string {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	s.connected.Store(true)
	metrics.LinkConnected.WithLabelValues("server").Set(1)
	defer func() {
		s.connected.Store(false)
		metrics.LinkConnected.WithLabelValues("server").Set(0)
	}()
	s.log.Info("lead attached", "peer", conn.RemoteAddr().String())

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
			return "deadline"
		}
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return classify(err)
		}
		cmd, err := command.Decode(frame)
		if err != nil {
			s.log.Debug("bad command frame", "err", err)
			return "decode"
		}
		s.received.Add(1)
		metrics.LinkMessages.WithLabelValues("server", "in").Inc()
		s.commands.Put(cmd)

		reply, err := command.EncodeStatus(s.replies.Snapshot())
		if err != nil {
			return "encode"
		}
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
			return "deadline"
		}
		if err := wire.WriteFrame(conn, reply); err != nil {
			return classify(err)
		}
		metrics.LinkMessages.WithLabelValues("server", "out").Inc()
	}
}

func classify(err error) string {
	switch {
	case wire.IsTimeout(err):
		return "timeout"
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof"
	case errors.Is(err, wire.ErrFrameTooLarge), errors.Is(err, wire.ErrEmptyFrame):
		return "framing"
	}
	return "io"
}
