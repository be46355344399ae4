// Package relay decides and applies the motor power relay state.
package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// State of the motor power relay.
type State int

const (
	Unknown State = iota
	Open          // power cut
	Closed        // power enabled
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Actuator drives the physical relay.
type Actuator interface {
	Open() error
	Close() error
	// State reports true when the relay is closed.
	State() (bool, error)
}

// MemoryRelay is a process-local relay.
type MemoryRelay struct {
	mu     sync.Mutex
	closed bool
	opens  int
	closes int
	fail   error
}

// NewMemoryRelay returns an open relay.
func NewMemoryRelay() *MemoryRelay { return &MemoryRelay{} }

func (m *MemoryRelay) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	m.closed = false
	return nil
}

func (m *MemoryRelay) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	if m.fail != nil {
		return m.fail
	}
	m.closed = true
	return nil
}

func (m *MemoryRelay) State() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed, nil
}

// FailCloses makes every later Close return err (nil clears it).
func (m *MemoryRelay) FailCloses(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Calls returns how many Open and Close calls were made.
func (m *MemoryRelay) Calls() (opens, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes
}

// ModbusConfig addresses one relay coil on a Modbus/TCP device.
type ModbusConfig struct {
	Endpoint string        `yaml:"endpoint"`
	UnitID   uint8         `yaml:"unit_id"`
	Coil     uint16        `yaml:"coil"`
	Timeout  time.Duration `yaml:"timeout"`
}

// coilClient is the subset of modbus.Client used here.
type coilClient interface {
	WriteSingleCoil(address, value uint16) ([]byte, error)
	ReadCoils(address, quantity uint16) ([]byte, error)
}

// ModbusRelay drives a relay wired to a Modbus coil (ON = closed).
type ModbusRelay struct {
	mu      sync.Mutex
	cfg     ModbusConfig
	handler *modbus.TCPClientHandler
	client  coilClient
}

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// NewModbusRelay connects to the coil's device.
func NewModbusRelay(cfg ModbusConfig) (*ModbusRelay, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("relay modbus: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("relay modbus: connect %s: %w", cfg.Endpoint, err)
	}
	return &ModbusRelay{cfg: cfg, handler: h, client: modbus.NewClient(h)}, nil
}

func (r *ModbusRelay) Open() error {
	return r.write(coilOff)
}

func (r *ModbusRelay) Close() error {
	return r.write(coilOn)
}

func (r *ModbusRelay) State() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.client.ReadCoils(r.cfg.Coil, 1)
	if err != nil {
		return false, fmt.Errorf("relay modbus: read coil %d: %w", r.cfg.Coil, err)
	}
	return len(b) > 0 && b[0]&0x01 == 1, nil
}

// Shutdown releases the Modbus connection.
func (r *ModbusRelay) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler == nil {
		return nil
	}
	return r.handler.Close()
}

func (r *ModbusRelay) write(v uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.client.WriteSingleCoil(r.cfg.Coil, v); err != nil {
		return fmt.Errorf("relay modbus: write coil %d: %w", r.cfg.Coil, err)
	}
	return nil
}
