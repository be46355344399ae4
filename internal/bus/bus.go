// Package bus bridges a segment node to an MQTT broker: operator commands
// come in on the teleop topic, pilot commands and watchdog state go out.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"segchain/internal/command"
	"segchain/internal/metrics"
	"segchain/internal/slot"
)

const (
	// DefaultPrefix roots every topic.
	DefaultPrefix  = "segchain"
	publishEvery   = 100 * time.Millisecond
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned by Publish before the broker session is up.
var ErrNotConnected = errors.New("mqtt not connected")

// Config describes one node's bus session.
type Config struct {
	Broker string // host:port
	Prefix string
	NodeID string
	// Teleop subscribes to operator commands; only the head segment does.
	Teleop bool
}

// StatusSource supplies the watchdog list published each period.
type StatusSource interface {
	Snapshot() command.WatchdogStatusList
}

// client is the subset of mqtt.Client the bus uses.
type client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// Bus is one node's MQTT session.
type Bus struct {
	cfg      Config
	client   client
	operator *slot.Slot[command.Command]
	pilot    *slot.Slot[command.Command]
	logger   *slog.Logger

	connected atomic.Bool
	published atomic.Uint64
	received  atomic.Uint64
	rejected  atomic.Uint64
}

// New prepares a bus session. Operator commands received on the teleop topic
// are put into operator.
func New(cfg Config, operator *slot.Slot[command.Command], logger *slog.Logger) *Bus {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	b := &Bus{
		cfg:      cfg,
		operator: operator,
		pilot:    slot.New[command.Command](),
		logger:   logger.With("component", "bus", "broker", cfg.Broker),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.NodeID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = b.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.connected.Store(false)
		b.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}
	b.client = mqtt.NewClient(opts)
	return b
}

// Topic returns prefix/node/kind, or prefix/kind for the shared teleop topic.
func (b *Bus) Topic(kind string) string {
	if kind == "teleop" {
		return b.cfg.Prefix + "/teleop"
	}
	return strings.Join([]string{b.cfg.Prefix, b.cfg.NodeID, kind}, "/")
}

// Put implements router.Sink. The latest pilot command is published on the
// next period; intermediate commands are dropped.
func (b *Bus) Put(c command.Command) { b.pilot.Put(c) }

// Connected reports whether the broker session is up.
func (b *Bus) Connected() bool { return b.connected.Load() }

// Stats reports published, received and rejected message counts.
func (b *Bus) Stats() (published, received, rejected uint64) {
	return b.published.Load(), b.received.Load(), b.rejected.Load()
}

// onConnect runs on first connect and on every reconnect, so subscriptions
// survive broker restarts.
func (b *Bus) onConnect(_ mqtt.Client) {
	b.connected.Store(true)
	b.logger.Info("mqtt connection established", "node", b.cfg.NodeID)
	if !b.cfg.Teleop {
		return
	}
	topic := b.Topic("teleop")
	t := b.client.Subscribe(topic, 0, b.handleTeleop)
	go func() {
		if !t.WaitTimeout(publishTimeout) {
			b.logger.Warn("teleop subscribe timed out", "topic", topic)
			return
		}
		if err := t.Error(); err != nil {
			b.logger.Error("teleop subscribe failed", "topic", topic, "error", err)
		}
	}()
}

func (b *Bus) handleTeleop(_ mqtt.Client, msg mqtt.Message) {
	c, err := command.Decode(msg.Payload())
	if err != nil {
		b.rejected.Add(1)
		metrics.BusMessages.WithLabelValues("teleop", "rejected").Inc()
		b.logger.Warn("invalid teleop command", "error", err)
		return
	}
	b.received.Add(1)
	metrics.BusMessages.WithLabelValues("teleop", "received").Inc()
	b.operator.Put(c)
}

// Publish sends payload on the node's kind topic at QoS 0.
func (b *Bus) Publish(kind string, payload []byte) error {
	if !b.client.IsConnected() {
		metrics.BusMessages.WithLabelValues(kind, "dropped").Inc()
		return ErrNotConnected
	}
	t := b.client.Publish(b.Topic(kind), 0, false, payload)
	if !t.WaitTimeout(publishTimeout) {
		metrics.BusMessages.WithLabelValues(kind, "timeout").Inc()
		return fmt.Errorf("publish %s: timeout", kind)
	}
	if err := t.Error(); err != nil {
		metrics.BusMessages.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	b.published.Add(1)
	metrics.BusMessages.WithLabelValues(kind, "published").Inc()
	return nil
}

// Run connects and publishes the pilot command and watchdog state every
// period until ctx is done.
func (b *Bus) Run(ctx context.Context, status StatusSource) error {
	b.logger.Info("connecting to mqtt broker")
	t := b.client.Connect()
	if !t.WaitTimeout(connectTimeout) {
		// connect retry keeps going in the background
		b.logger.Warn("mqtt connect still pending")
	} else if err := t.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer b.client.Disconnect(250)

	ticker := time.NewTicker(publishEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.publishPeriod(status)
		}
	}
}

func (b *Bus) publishPeriod(status StatusSource) {
	if !b.client.IsConnected() {
		return
	}
	if c, ok := b.pilot.Take(); ok {
		if data, err := command.Encode(c); err == nil {
			if err := b.Publish("pilot", data); err != nil {
				b.logger.Debug("pilot publish failed", "error", err)
			}
		}
	}
	if status == nil {
		return
	}
	data, err := command.EncodeStatus(status.Snapshot())
	if err != nil {
		return
	}
	if err := b.Publish("watchdog", data); err != nil {
		b.logger.Debug("watchdog publish failed", "error", err)
	}
}
