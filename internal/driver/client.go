package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"segchain/internal/wire"
)

// ErrNotConnected is returned when no driver connection could be made.
var ErrNotConnected = errors.New("driver: not connected")

// ClientConfig addresses the driver's request port.
type ClientConfig struct {
	Address string
	Timeout time.Duration
}

// Client is a request/reply connection to the motor driver. A failed request
// drops the connection; the next call redials.
type Client struct {
	cfg ClientConfig
	log *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewClient creates a client; it connects lazily.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, log: logger.With("driver", cfg.Address)}
}

// Reconnect drops any connection and dials again.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return c.dialLocked(ctx)
}

// Configure sends the driver settings.
func (c *Client) Configure(ctx context.Context, s Settings) (Reply, error) {
	return c.do(ctx, envelope{Op: opConfigure, Settings: &s})
}

// Drive sends one drive request.
func (c *Client) Drive(ctx context.Context, r DriveRequest) (Reply, error) {
	return c.do(ctx, envelope{Op: opDrive, Drive: &r})
}

// Close releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

func (c *Client) do(ctx context.Context, e envelope) (Reply, error) {
	payload, err := encodeEnvelope(e)
	if err != nil {
		return Reply{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return Reply{}, err
		}
	}
	b, err := wire.Exchange(c.conn, payload, c.cfg.Timeout)
	if err != nil {
		c.dropLocked()
		return Reply{}, fmt.Errorf("driver: %s: %w", e.Op, err)
	}
	return decodeReply(b)
}

func (c *Client) dialLocked(ctx context.Context) error {
	d := net.Dialer{Timeout: c.cfg.Timeout * 4}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	c.conn = conn
	c.log.Debug("driver connected")
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
