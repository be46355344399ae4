package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"segchain/internal/command"
	"segchain/internal/driver"
	"segchain/internal/metrics"
)

// Thresholds partition the integrity score into actions.
type Thresholds struct {
	Healthy  int `yaml:"healthy" hash:"healthy"`
	Degraded int `yaml:"degraded" hash:"degraded"`
	Reboot   int `yaml:"reboot" hash:"reboot"`
}

// DefaultThresholds returns the stock partition.
func DefaultThresholds() Thresholds {
	return Thresholds{Healthy: -5, Degraded: 5, Reboot: 200}
}

func (t Thresholds) check() error {
	if !(t.Healthy <= t.Degraded && t.Degraded < t.Reboot) {
		return fmt.Errorf("relay controller: thresholds must satisfy healthy <= degraded < reboot, got %d/%d/%d", t.Healthy, t.Degraded, t.Reboot)
	}
	return nil
}

// Config tunes the controller.
type Config struct {
	Thresholds    Thresholds
	CloseDebounce time.Duration // minimum spacing of repeated closes while closed
	Patience      time.Duration // maximum age of pilot and aux commands
}

// DefaultConfig returns the stock controller settings.
func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds(), CloseDebounce: 30 * time.Second, Patience: 100 * time.Millisecond}
}

// Action is the decision taken in one cycle.
type Action string

const (
	ActionClose  Action = "close"
	ActionHold   Action = "hold"
	ActionOpen   Action = "open"
	ActionReboot Action = "reboot"
)

// Monitor is the integrity score source.
type Monitor interface {
	Check() int
	Reset()
}

// Driver is the motor driver channel.
type Driver interface {
	Reconnect(ctx context.Context) error
	Configure(ctx context.Context, s driver.Settings) (driver.Reply, error)
	Drive(ctx context.Context, r driver.DriveRequest) (driver.Reply, error)
	Close() error
}

// StatusChannel is the connection carrying driver status, rebuilt together
// with the driver on a full reconnect.
type StatusChannel interface {
	Reconnect(ctx context.Context) error
}

// CommandSource exposes the latest command without consuming it.
type CommandSource interface {
	Latest() (command.Command, bool)
}

// HealthSink receives the local driver health.
type HealthSink interface {
	SetLocal(alive bool)
}

// SettingsSource yields the current driver settings and their hash.
type SettingsSource interface {
	Current() (driver.Settings, uint64)
}

// Deps are the collaborators of a controller. Aux may be nil, in which case
// reverse and wakeup are read from the pilot command. Status may be nil.
type Deps struct {
	Relay    Actuator
	Monitor  Monitor
	Driver   Driver
	Status   StatusChannel
	Pilot    CommandSource
	Aux      CommandSource
	Health   HealthSink
	Settings SettingsSource
	Logger   *slog.Logger
}

// Decision records one cycle.
type Decision struct {
	At           time.Time           `json:"at"`
	Score        int                 `json:"score"`
	Action       Action              `json:"action"`
	Relay        State               `json:"relay"`
	RelayCalled  bool                `json:"relay_called"`
	Reconfigured bool                `json:"reconfigured"`
	PilotFresh   bool                `json:"pilot_fresh"`
	Drive        driver.DriveRequest `json:"drive"`
	Configured   bool                `json:"configured"`
	Err          string              `json:"err,omitempty"`
}

// Status is a read-only view of the controller.
type Status struct {
	Score        int       `json:"score"`
	Relay        string    `json:"relay"`
	LastAction   Action    `json:"last_action"`
	Configured   bool      `json:"configured"`
	Cycles       uint64    `json:"cycles"`
	Closes       uint64    `json:"closes"`
	Opens        uint64    `json:"opens"`
	Holds        uint64    `json:"holds"`
	Reboots      uint64    `json:"reboots"`
	Reconfigs    uint64    `json:"reconfigs"`
	DriverErrors uint64    `json:"driver_errors"`
	RelayErrors  uint64    `json:"relay_errors"`
	LastCycle    time.Time `json:"last_cycle"`
}

// Controller maps the integrity score to relay and drive actions.
type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu         sync.Mutex
	state      State
	closeLimit *rate.Limiter
	hash       uint64
	hashSet    bool
	status     Status
	closed     bool
}

// NewController creates a controller. The relay state is unknown until the
// first cycle acts on it.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	if deps.Relay == nil || deps.Monitor == nil || deps.Driver == nil || deps.Pilot == nil {
		return nil, errors.New("relay controller: relay, monitor, driver and pilot are required")
	}
	def := DefaultConfig()
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.CloseDebounce <= 0 {
		cfg.CloseDebounce = def.CloseDebounce
	}
	if cfg.Patience <= 0 {
		cfg.Patience = def.Patience
	}
	if err := cfg.Thresholds.check(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{cfg: cfg, deps: deps, log: deps.Logger.With("component", "relay")}, nil
}

// Step runs one control cycle.
func (c *Controller) Step(ctx context.Context, now time.Time) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := Decision{At: now}
	if c.closed {
		d.Action = ActionOpen
		d.Relay = c.state
		return d
	}

	if c.deps.Settings != nil {
		settings, h := c.deps.Settings.Current()
		if !c.hashSet || h != c.hash {
			if c.hashSet {
				c.log.Info("driver configuration changed, reconnecting", "hash", h)
			}
			c.hash, c.hashSet = h, true
			c.reconnect(ctx, settings, &d)
			d.Reconfigured = true
			c.status.Reconfigs++
		}
	}

	d.Score = c.deps.Monitor.Check()
	pilot, pilotOK := c.fresh(c.deps.Pilot, now)
	aux, auxOK := pilot, pilotOK
	if c.deps.Aux != nil {
		aux, auxOK = c.fresh(c.deps.Aux, now)
	}
	d.PilotFresh = pilotOK

	req := driver.DriveRequest{Time: uint64(now.UnixMicro())}
	if auxOK {
		req.Reverse = aux.Reverse
		req.Wakeup = aux.Wakeup
	}

	t := c.cfg.Thresholds
	switch s := d.Score; {
	case s < t.Healthy:
		d.Action = ActionClose
		c.closeRelay(now, &d)
		if pilotOK {
			req.Steering = pilot.Steering
			req.Throttle = pilot.Throttle
		}
		c.status.Closes++
	case s <= t.Degraded:
		d.Action = ActionHold
		c.status.Holds++
	case s <= t.Reboot:
		d.Action = ActionOpen
		c.openRelay(&d)
		c.status.Opens++
	default:
		d.Action = ActionReboot
		c.openRelay(&d)
		if c.deps.Settings != nil {
			settings, _ := c.deps.Settings.Current()
			c.reconnect(ctx, settings, &d)
		} else {
			c.reconnect(ctx, driver.DefaultSettings(), &d)
		}
		c.status.Reboots++
		c.log.Warn("integrity lost, rebooting driver link", "score", d.Score)
	}
	metrics.RelayActions.WithLabelValues(string(d.Action)).Inc()

	d.Drive = req
	reply, err := c.deps.Driver.Drive(ctx, req)
	if err != nil {
		c.status.DriverErrors++
		metrics.DriverErrors.WithLabelValues("drive").Inc()
		d.Err = err.Error()
	}
	d.Configured = err == nil && reply.Configured
	if c.deps.Health != nil {
		c.deps.Health.SetLocal(d.Configured)
	}

	d.Relay = c.state
	metrics.IntegrityScore.Set(float64(d.Score))
	metrics.SetBool(metrics.RelayClosed, c.state == Closed)

	c.status.Score = d.Score
	c.status.Relay = c.state.String()
	c.status.LastAction = d.Action
	c.status.Configured = d.Configured
	c.status.Cycles++
	c.status.LastCycle = now
	return d
}

// fresh returns the source's latest command if it is within patience.
func (c *Controller) fresh(src CommandSource, now time.Time) (command.Command, bool) {
	cmd, ok := src.Latest()
	if !ok {
		return command.Command{}, false
	}
	if cmd.Age(uint64(now.UnixMicro())) > c.cfg.Patience {
		return command.Command{}, false
	}
	return cmd, true
}

// closeRelay closes immediately on a transition and at most once per debounce
// interval while already closed.
func (c *Controller) closeRelay(now time.Time, d *Decision) {
	if c.state == Closed && !c.closeLimit.AllowN(now, 1) {
		return
	}
	d.RelayCalled = true
	if err := c.deps.Relay.Close(); err != nil {
		c.status.RelayErrors++
		c.log.Error("relay close failed", "err", err)
		d.Err = err.Error()
		return
	}
	if c.state != Closed {
		c.closeLimit = rate.NewLimiter(rate.Every(c.cfg.CloseDebounce), 1)
		c.closeLimit.AllowN(now, 1)
		c.log.Info("relay closed", "score", d.Score)
	}
	c.state = Closed
}

// openRelay is never debounced.
func (c *Controller) openRelay(d *Decision) {
	d.RelayCalled = true
	if err := c.deps.Relay.Open(); err != nil {
		c.status.RelayErrors++
		c.log.Error("relay open failed", "err", err)
		d.Err = err.Error()
		c.state = Unknown
		return
	}
	if c.state != Open {
		c.log.Warn("relay opened", "score", d.Score)
	}
	c.state = Open
}

func (c *Controller) reconnect(ctx context.Context, s driver.Settings, d *Decision) {
	if err := c.deps.Driver.Reconnect(ctx); err != nil {
		c.status.DriverErrors++
		metrics.DriverErrors.WithLabelValues("reconnect").Inc()
		c.log.Warn("driver reconnect failed", "err", err)
		d.Err = err.Error()
	} else if _, err := c.deps.Driver.Configure(ctx, s); err != nil {
		c.status.DriverErrors++
		metrics.DriverErrors.WithLabelValues("configure").Inc()
		c.log.Warn("driver configure failed", "err", err)
		d.Err = err.Error()
	}
	if c.deps.Status != nil {
		if err := c.deps.Status.Reconnect(ctx); err != nil {
			c.status.DriverErrors++
			metrics.DriverErrors.WithLabelValues("status").Inc()
			c.log.Warn("driver status reconnect failed", "err", err)
			d.Err = err.Error()
		}
	}
	c.deps.Monitor.Reset()
}

// Run steps the controller at the given period until ctx is done. observe, if
// set, sees every decision.
func (c *Controller) Run(ctx context.Context, period time.Duration, observe func(Decision)) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			d := c.Step(ctx, now)
			if observe != nil {
				observe(d)
			}
		}
	}
}

// SetThresholds replaces the score partition from the next cycle on.
func (c *Controller) SetThresholds(t Thresholds) error {
	if err := t.check(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg.Thresholds = t
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the controller status.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	st.Relay = c.state.String()
	return st
}

// Close opens the relay before releasing the driver. Later Steps only report.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.deps.Relay.Open()
	if err == nil {
		c.state = Open
	}
	metrics.SetBool(metrics.RelayClosed, false)
	return errors.Join(err, c.deps.Driver.Close())
}
