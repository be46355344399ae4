package link

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"segchain/internal/command"
	"segchain/internal/metrics"
	"segchain/internal/retry"
	"segchain/internal/slot"
	"segchain/internal/wire"
)

// Feedback supplies local measurements merged into outgoing commands.
type Feedback interface {
	Velocity() (float64, bool)
}

// FollowerSink receives the follower's watchdog list.
type FollowerSink interface {
	SetFollower(command.WatchdogStatusList)
	ClearFollower()
}

// ClientConfig configures the follower-facing half.
type ClientConfig struct {
	Address string
	Timeout time.Duration
	Retry   retry.Config
}

// Client keeps one connection to the follower and alternates command and
// watchdog reply.
type Client struct {
	cfg      ClientConfig
	commands *slot.Slot[command.Command]
	feedback Feedback
	sink     FollowerSink
	log      *slog.Logger
	policy   *retry.Policy

	connected atomic.Bool
	teardowns atomic.Uint64
	sent      atomic.Uint64
}

// NewClient creates a client reading outgoing commands from commands.
// feedback may be nil.
func NewClient(cfg ClientConfig, commands *slot.Slot[command.Command], feedback Feedback, sink FollowerSink, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		commands: commands,
		feedback: feedback,
		sink:     sink,
		log:      logger.With("role", "client", "peer", cfg.Address),
		policy:   retry.New(cfg.Retry),
	}
}

// Connected reports whether the follower link is up.
func (c *Client) Connected() bool { return c.connected.Load() }

// Teardowns returns how many connections were dropped.
func (c *Client) Teardowns() uint64 { return c.teardowns.Load() }

// Sent returns how many commands were acknowledged by the follower.
func (c *Client) Sent() uint64 { return c.sent.Load() }

// Run connects and exchanges until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	last := command.Neutral()
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn("follower connect failed", "err", err)
			if !c.backoff(ctx) {
				return nil
			}
			continue
		}
		c.policy.Succeeded()
		c.log.Info("follower attached")

		reason, out := c.exchange(ctx, conn, last)
		last = out
		conn.Close()
		c.connected.Store(false)
		metrics.LinkConnected.WithLabelValues("client").Set(0)
		c.sink.ClearFollower()
		if ctx.Err() != nil {
			return nil
		}
		c.teardowns.Add(1)
		metrics.LinkTeardowns.WithLabelValues("client", reason).Inc()
		c.log.Warn("follower link torn down", "reason", reason)
		if !c.backoff(ctx) {
			return nil
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.cfg.Timeout * 10}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// backoff waits per the retry policy; false means stop.
func (c *Client) backoff(ctx context.Context) bool {
	c.sink.ClearFollower()
	switch c.policy.Wait(ctx) {
	case retry.Retry:
		return true
	case retry.GiveUp:
		c.log.Error("follower link giving up", "retries", c.policy.Retries())
	}
	return false
}

// exchange runs strict request/reply on conn; it returns the teardown reason
// and the last command sent.
func (c *Client) exchange(ctx context.Context, conn net.Conn, last command.Command) (string, command.Command) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.connected.Store(true)
	metrics.LinkConnected.WithLabelValues("client").Set(1)
	for {
		// half the timeout keeps the resend inside the peer's read deadline
		next, ok, err := c.commands.Wait(ctx, c.cfg.Timeout/2)
		if err != nil {
			return "cancelled", last
		}
		if ok {
			last = next
		}
		out := last
		if c.feedback != nil {
			if v, ok := c.feedback.Velocity(); ok {
				out = out.WithVelocity(v)
			}
		}
		payload, err := command.Encode(out)
		if err != nil {
			c.log.Error("command encode failed", "err", err)
			return "encode", last
		}

		start := time.Now()
		reply, err := wire.Exchange(conn, payload, c.cfg.Timeout)
		if err != nil {
			return classify(err), last
		}
		list, err := command.DecodeStatus(reply)
		if err != nil {
			c.log.Debug("bad watchdog reply", "err", err)
			return "decode", last
		}
		metrics.LinkRoundTrip.Observe(time.Since(start).Seconds())
		metrics.LinkMessages.WithLabelValues("client", "out").Inc()
		c.sent.Add(1)
		c.sink.SetFollower(list)
	}
}
