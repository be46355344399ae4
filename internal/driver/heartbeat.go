package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"segchain/internal/wire"
)

// BeatObserver is told the send time of every heartbeat.
type BeatObserver interface {
	OnMessage(sendTime uint64)
}

// Receiver listens for driver heartbeats on UDP.
type Receiver struct {
	listen   string
	observer BeatObserver
	log      *slog.Logger

	velocity atomic.Uint64
	seen     atomic.Bool
	beats    atomic.Uint64
	bad      atomic.Uint64
	rebinds  atomic.Uint64

	mu    sync.Mutex
	pc    net.PacketConn
	addr  net.Addr
	ready chan struct{}
	once  sync.Once
}

// NewReceiver creates a heartbeat receiver feeding observer.
func NewReceiver(listen string, observer BeatObserver, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{listen: listen, observer: observer, log: logger, ready: make(chan struct{})}
}

// Velocity returns the last reported velocity.
func (r *Receiver) Velocity() (float64, bool) {
	if !r.seen.Load() {
		return 0, false
	}
	return math.Float64frombits(r.velocity.Load()), true
}

// Beats returns how many heartbeats were accepted and rejected.
func (r *Receiver) Beats() (ok, bad uint64) { return r.beats.Load(), r.bad.Load() }

// Rebinds returns how many times the socket was recreated.
func (r *Receiver) Rebinds() uint64 { return r.rebinds.Load() }

// Addr blocks until the socket is bound.
func (r *Receiver) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr, nil
}

// Run receives until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", r.listen)
	if err != nil {
		return fmt.Errorf("heartbeat listen %s: %w", r.listen, err)
	}
	r.mu.Lock()
	r.pc = pc
	r.addr = pc.LocalAddr()
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.pc.Close()
		r.pc = nil
		r.mu.Unlock()
	}()
	r.once.Do(func() { close(r.ready) })
	r.log.Info("heartbeat receiver listening", "addr", pc.LocalAddr().String())

	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.mu.Lock()
		pc := r.pc
		r.mu.Unlock()
		_ = pc.SetReadDeadline(time.Now().Add(DefaultTimeout * 2))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if wire.IsTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if r.replaced(pc) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				if err := r.Reconnect(ctx); err != nil {
					r.log.Warn("heartbeat rebind failed", "err", err)
					time.Sleep(DefaultTimeout)
				}
				continue
			}
			r.log.Warn("heartbeat read failed", "err", err)
			continue
		}
		r.handle(buf[:n])
	}
}

// Reconnect closes the heartbeat socket and binds a new one on the same
// address. It is a no-op while Run is not listening.
func (r *Receiver) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pc == nil {
		return nil
	}
	_ = r.pc.Close()
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", r.addr.String())
	if err != nil {
		// Run retries on the closed socket
		return fmt.Errorf("heartbeat rebind %s: %w", r.addr, err)
	}
	r.pc = pc
	r.rebinds.Add(1)
	r.log.Info("heartbeat receiver rebound", "addr", pc.LocalAddr().String())
	return nil
}

func (r *Receiver) replaced(pc net.PacketConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pc != pc
}

func (r *Receiver) handle(b []byte) {
	var hb Heartbeat
	if err := json.Unmarshal(b, &hb); err != nil || hb.Time == 0 {
		r.bad.Add(1)
		return
	}
	r.beats.Add(1)
	r.velocity.Store(math.Float64bits(hb.Velocity))
	r.seen.Store(true)
	if r.observer != nil {
		r.observer.OnMessage(hb.Time)
	}
}
