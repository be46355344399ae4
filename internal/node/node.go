// Package node assembles one segment of the chain: link halves, router,
// watchdog aggregation, driver channel and relay safety controller.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"segchain/internal/admin"
	"segchain/internal/bus"
	"segchain/internal/command"
	"segchain/internal/config"
	"segchain/internal/driver"
	"segchain/internal/integrity"
	"segchain/internal/link"
	"segchain/internal/metrics"
	"segchain/internal/record"
	"segchain/internal/relay"
	"segchain/internal/router"
	"segchain/internal/slot"
	"segchain/internal/watchdog"
)

// Role is a segment's place in the chain.
type Role int

const (
	Head Role = iota
	Middle
	Tail
	Solo // a single-segment chain: operator input, no links
)

func (r Role) String() string {
	switch r {
	case Head:
		return "head"
	case Middle:
		return "middle"
	case Tail:
		return "tail"
	case Solo:
		return "solo"
	}
	return "unknown"
}

// RoleOf derives the role from a position in a chain of the given length.
func RoleOf(position, segments int) Role {
	switch {
	case segments <= 1:
		return Solo
	case position == 0:
		return Head
	case position == segments-1:
		return Tail
	}
	return Middle
}

// Recorder persists controller cycles and link events.
type Recorder interface {
	record.SafetyWriter
	record.LinkEventWriter
}

// Options inject collaborators, mainly for tests. Zero values build the real
// ones from the configuration.
type Options struct {
	Logger     *slog.Logger
	Recorder   Recorder
	Actuator   relay.Actuator
	Driver     relay.Driver
	ConfigPath string // enables hot reload when set
	SchemaPath string
}

// Node is one running segment.
type Node struct {
	cfg     *config.Config
	role    Role
	log     *slog.Logger
	rec     Recorder
	session string
	opts    Options

	operator *slot.Slot[command.Command]
	pilot    *slot.Slot[command.Command]
	outgoing *slot.Slot[command.Command]

	agg      *watchdog.Aggregator
	monitor  *integrity.Monitor
	receiver *driver.Receiver
	actuator relay.Actuator
	ctrl     *relay.Controller
	router   *router.Router
	settings *settingsSource

	server *link.Server
	client *link.Client
	bus    *bus.Bus
	admin  *admin.Server

	cycles atomic.Uint64
}

// New wires a node from a normalized, validated configuration.
func New(cfg *config.Config, opts Options) (*Node, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	role := RoleOf(cfg.Node.Position, cfg.Node.Segments)
	log := opts.Logger.With("node", cfg.Node.ID, "role", role.String())

	n := &Node{
		cfg:      cfg,
		role:     role,
		log:      log,
		rec:      opts.Recorder,
		session:  record.NewSession(),
		opts:     opts,
		operator: slot.New[command.Command](),
		pilot:    slot.New[command.Command](),
		outgoing: slot.New[command.Command](),
		agg:      watchdog.New(cfg.Behind()),
	}

	settings, err := newSettingsSource(cfg)
	if err != nil {
		return nil, err
	}
	n.settings = settings

	n.monitor = integrity.New(cfg.Integrity, nil)
	n.receiver = driver.NewReceiver(cfg.Driver.Heartbeat, n.monitor, log)

	n.actuator = opts.Actuator
	if n.actuator == nil {
		if n.actuator, err = newActuator(cfg.Relay); err != nil {
			return nil, err
		}
	}
	drv := opts.Driver
	if drv == nil {
		drv = driver.NewClient(driver.ClientConfig{Address: cfg.Driver.Address, Timeout: cfg.Driver.Timeout}, log)
	}
	n.ctrl, err = relay.NewController(cfg.ControllerConfig(), relay.Deps{
		Relay:    n.actuator,
		Monitor:  n.monitor,
		Driver:   drv,
		Status:   n.receiver,
		Pilot:    n.pilot,
		Health:   n.agg,
		Settings: n.settings,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}

	var src router.Source = n.operator
	if role == Middle || role == Tail {
		n.server = link.NewServer(link.ServerConfig{Listen: cfg.Link.Listen, Timeout: cfg.Link.Timeout}, n.agg, log)
		src = n.server.Commands()
	}
	if role == Head || role == Middle {
		n.client = link.NewClient(link.ClientConfig{
			Address: cfg.Link.Follower,
			Timeout: cfg.Link.Timeout,
			Retry:   cfg.Link.Retry,
		}, n.outgoing, n.receiver, n.agg, log)
	}
	n.router = router.New(router.Config{Head: role == Head || role == Solo}, src, nil)

	if cfg.Bus.Broker != "" {
		n.bus = bus.New(bus.Config{
			Broker: cfg.Bus.Broker,
			Prefix: cfg.Bus.Prefix,
			NodeID: cfg.Node.ID,
			Teleop: n.router.Head(),
		}, n.operator, log)
	}
	if cfg.Admin.Listen != "" {
		opt := admin.Options{Node: cfg.Node.ID, Status: func() any { return n.Status() }, Logger: log}
		if n.router.Head() {
			opt.Teleop = n.operator
		}
		n.admin = admin.NewServer(opt)
	}
	return n, nil
}

func newActuator(cfg config.Relay) (relay.Actuator, error) {
	switch cfg.Kind {
	case "", "memory":
		return relay.NewMemoryRelay(), nil
	case "modbus":
		return relay.NewModbusRelay(cfg.Modbus)
	}
	return nil, fmt.Errorf("unknown relay kind %q", cfg.Kind)
}

// Role returns the segment role.
func (n *Node) Role() Role { return n.role }

// Operator is the operator input slot; only head nodes read it.
func (n *Node) Operator() *slot.Slot[command.Command] { return n.operator }

// Pilot is the slot of commands forwarded to the local driver.
func (n *Node) Pilot() *slot.Slot[command.Command] { return n.pilot }

// LinkAddr blocks until the lead-facing server is bound. Head nodes have none.
func (n *Node) LinkAddr(ctx context.Context) (net.Addr, error) {
	if n.server == nil {
		return nil, errors.New("head segment has no link server")
	}
	return n.server.Addr(ctx)
}

// HeartbeatAddr blocks until the heartbeat socket is bound.
func (n *Node) HeartbeatAddr(ctx context.Context) (net.Addr, error) {
	return n.receiver.Addr(ctx)
}

// Run starts every loop and blocks until ctx is done or a loop fails. The
// relay is opened before Run returns.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("segment starting", "segments", n.cfg.Node.Segments, "position", n.cfg.Node.Position, "session", n.session)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(n.guard(ctx, "heartbeat", n.receiver.Run))
	if n.server != nil {
		g.Go(n.guard(ctx, "link-server", n.server.Run))
	}
	if n.client != nil {
		g.Go(n.guard(ctx, "link-client", n.client.Run))
	}
	sinks := []router.Sink{n.pilot}
	if n.client != nil {
		sinks = append(sinks, n.outgoing)
	}
	if n.bus != nil {
		sinks = append(sinks, n.bus)
	}
	g.Go(n.guard(ctx, "router", func(ctx context.Context) error {
		return n.router.Run(ctx, n.cfg.Router.Period, sinks...)
	}))
	g.Go(n.guard(ctx, "controller", func(ctx context.Context) error {
		return n.ctrl.Run(ctx, n.cfg.Relay.Period, n.observe)
	}))
	g.Go(n.guard(ctx, "link-events", n.watchLinks))
	if n.bus != nil {
		g.Go(n.guard(ctx, "bus", func(ctx context.Context) error { return n.bus.Run(ctx, n.agg) }))
	}
	if n.admin != nil {
		g.Go(n.guard(ctx, "admin", n.runAdmin))
	}
	if n.opts.ConfigPath != "" {
		reloads := slot.New[*config.Config]()
		g.Go(func() error {
			return config.Watch(ctx, n.opts.ConfigPath, n.opts.SchemaPath, reloads, n.log)
		})
		g.Go(n.guard(ctx, "reload", func(ctx context.Context) error { return n.applyReloads(ctx, reloads) }))
	}

	err := g.Wait()
	if cerr := n.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	n.log.Info("segment stopped")
	return err
}

// runAdmin serves diagnostics. A failing admin server is logged and left down
// so the control loops keep running.
func (n *Node) runAdmin(ctx context.Context) error {
	if err := n.admin.Run(ctx, n.cfg.Admin.Listen); err != nil {
		n.log.Error("admin server stopped", "addr", n.cfg.Admin.Listen, "err", err)
	}
	return nil
}

// Close opens the relay and releases the driver and actuator.
func (n *Node) Close() error {
	err := n.ctrl.Close()
	if s, ok := n.actuator.(interface{ Shutdown() error }); ok {
		err = errors.Join(err, s.Shutdown())
	}
	return err
}

// observe records every Nth controller decision.
func (n *Node) observe(d relay.Decision) {
	c := n.cycles.Add(1)
	if n.rec == nil || c%uint64(max(n.cfg.Record.Every, 1)) != 0 {
		return
	}
	row := record.FromDecision(n.cfg.Node.ID, n.session, d, n.agg.Snapshot().Ints())
	if err := n.rec.Write(row); err != nil {
		n.log.Warn("record safety row", "err", err)
	}
}

// guard reruns fn after a panic until ctx is done.
func (n *Node) guard(ctx context.Context, loop string, fn func(context.Context) error) func() error {
	return func() error {
		for {
			panicked, err := n.runGuarded(ctx, loop, fn)
			if !panicked || ctx.Err() != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(restartDelay):
			}
		}
	}
}

const restartDelay = 100 * time.Millisecond

func (n *Node) runGuarded(ctx context.Context, loop string, fn func(context.Context) error) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Panics.WithLabelValues(loop).Inc()
			n.log.Error("loop panicked, restarting", "loop", loop, "panic", r)
			panicked, err = true, nil
		}
	}()
	return false, fn(ctx)
}
