package battery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

// PiSugar3 register map.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A

	// DefaultAddr is the PiSugar3 7-bit I2C address.
	DefaultAddr = 0x57
)

// Status represents current battery status for the status API and page
// templates.
type Status struct {
	// Percent is the battery level in 0–100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, if known.
	VoltageMv int `json:"voltage_mv"`
}

func (s Status) String() string {
	return fmt.Sprintf("%d%% (%dmV)", s.Percent, s.VoltageMv)
}

// Reader abstracts how we obtain battery information, so pages and the API
// work the same with or without a gauge attached.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// None is a Reader for boards without a gauge.
type None struct{}

// Read always returns ErrNoGauge.
func (None) Read(context.Context) (Status, error) {
	return Status{}, ErrNoGauge
}

// ErrNoGauge is returned when no battery gauge is configured.
var ErrNoGauge = errors.New("battery: no gauge configured")

// Gauge talks to a PiSugar3 style battery controller over I2C:
//   - 0x22 (high), 0x23 (low): battery voltage in millivolts
//   - 0x2A: battery percentage (0–100)
type Gauge struct {
	mu  sync.Mutex
	dev i2c.Dev
}

// NewGauge returns a Gauge on bus at addr. The bus stays owned by the caller.
func NewGauge(bus i2c.Bus, addr uint16) *Gauge {
	return &Gauge{dev: i2c.Dev{Bus: bus, Addr: addr}}
}

// Open opens the named I2C bus ("" for the first one) and returns a Gauge on
// it together with the bus closer. periph host drivers must already be
// initialized.
func Open(busName string, addr uint16) (*Gauge, io.Closer, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("battery: open i2c %q: %w", busName, err)
	}
	return NewGauge(bus, addr), bus, nil
}

func (g *Gauge) String() string {
	return fmt.Sprintf("battery(%s)", g.dev.String())
}

// Read implements Reader.
func (g *Gauge) Read(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	high, err := g.readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := g.readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := g.readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}
	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

func (g *Gauge) readReg(reg byte) (byte, error) {
	buf := []byte{0}
	if err := g.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, fmt.Errorf("battery: read %#02x: %w", reg, err)
	}
	return buf[0], nil
}
