package it8951

import (
	"fmt"
	"image"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// State is the controller lifecycle state as seen by the host.
type State int

const (
	Uninitialized State = iota
	Idle
	Busy
	Sleeping
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Sleeping:
		return "sleeping"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// lutPoll is the LUTAFSR sampling period while waiting for a refresh.
const lutPoll = 5 * time.Millisecond

// Controller speaks the IT8951 command set over a Transport. It is not safe
// for concurrent use; Driver serializes access.
type Controller struct {
	t        *Transport
	reset    gpio.PinOut
	reversed bool
	// refreshTimeout bounds the wait for a running LUT to finish.
	refreshTimeout time.Duration

	state   State
	fault   error
	info    DevInfo
	hasInfo bool
	regs    map[uint16]uint16

	now   func() time.Time
	sleep func(time.Duration)
}

// NewController returns a controller in the Uninitialized state. When
// reversed is set, pixel levels are inverted on transfer.
func NewController(t *Transport, reset gpio.PinOut, reversed bool, refreshTimeout time.Duration) *Controller {
	return &Controller{
		t:              t,
		reset:          reset,
		reversed:       reversed,
		refreshTimeout: refreshTimeout,
		regs:           map[uint16]uint16{},
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// Fault returns the error that moved the controller to Faulted.
func (c *Controller) Fault() error {
	return c.fault
}

// Info returns the last system information read and whether one was read.
func (c *Controller) Info() (DevInfo, bool) {
	return c.info, c.hasInfo
}

// Registers returns a copy of the register values known to the host.
func (c *Controller) Registers() map[uint16]uint16 {
	out := make(map[uint16]uint16, len(c.regs))
	for k, v := range c.regs {
		out[k] = v
	}
	return out
}

// Reset pulses the reset line and waits for the controller to report ready.
// It is the only way out of Faulted.
func (c *Controller) Reset() error {
	if c.reset != nil {
		for _, step := range []struct {
			l gpio.Level
			d time.Duration
		}{{gpio.High, 0}, {gpio.Low, 20 * time.Millisecond}, {gpio.High, 100 * time.Millisecond}} {
			if err := c.reset.Out(step.l); err != nil {
				return c.faulted(fmt.Errorf("%w: reset pin: %w", ErrResetFailed, err))
			}
			c.sleep(step.d)
		}
	}
	if err := c.t.Gate().WaitReady(c.t.Timeout()); err != nil {
		return c.faulted(fmt.Errorf("%w: %w", ErrResetFailed, err))
	}
	c.regs = map[uint16]uint16{}
	c.fault = nil
	c.state = Idle
	return nil
}

// SystemRun puts the controller in its running state.
func (c *Controller) SystemRun() error {
	if err := c.usable(); err != nil {
		return err
	}
	if err := c.t.WriteCommand(cmdSysRun); err != nil {
		return c.faulted(err)
	}
	c.state = Idle
	return nil
}

// Wake leaves Sleeping. Other states are unaffected.
func (c *Controller) Wake() error {
	if c.state != Sleeping {
		return nil
	}
	return c.SystemRun()
}

// Standby stops the controller clocks; Wake resumes.
func (c *Controller) Standby() error {
	return c.powerDown(cmdStandby)
}

// Sleep powers the controller down; Wake resumes.
func (c *Controller) Sleep() error {
	return c.powerDown(cmdSleep)
}

func (c *Controller) powerDown(cmd Command) error {
	if err := c.settle(); err != nil {
		return err
	}
	if err := c.t.WriteCommand(cmd); err != nil {
		return c.faulted(err)
	}
	c.state = Sleeping
	return nil
}

// QuerySystemInfo reads the panel geometry, image buffer address and
// firmware strings. A zero or absurd geometry is ErrProtocol.
func (c *Controller) QuerySystemInfo() (DevInfo, error) {
	if err := c.settle(); err != nil {
		return DevInfo{}, err
	}
	if err := c.t.WriteCommand(cmdGetDevInfo); err != nil {
		return DevInfo{}, c.faulted(err)
	}
	w, err := c.t.ReadData(devInfoWords)
	if err != nil {
		return DevInfo{}, c.faulted(err)
	}
	info, err := parseDevInfo(w)
	if err != nil {
		return DevInfo{}, c.faulted(err)
	}
	c.info = info
	c.hasInfo = true
	return info, nil
}

// ReadRegister reads addr and records the value.
func (c *Controller) ReadRegister(addr uint16) (uint16, error) {
	if err := c.settle(); err != nil {
		return 0, err
	}
	v, err := c.readRegister(addr)
	if err != nil {
		return 0, c.faulted(err)
	}
	return v, nil
}

func (c *Controller) readRegister(addr uint16) (uint16, error) {
	if err := c.t.WriteCommand(cmdRegRead, addr); err != nil {
		return 0, err
	}
	w, err := c.t.ReadData(1)
	if err != nil {
		return 0, err
	}
	c.regs[addr] = w[0]
	return w[0], nil
}

// WriteRegister writes value to addr.
func (c *Controller) WriteRegister(addr, value uint16) error {
	if err := c.settle(); err != nil {
		return err
	}
	if err := c.writeRegister(addr, value); err != nil {
		return c.faulted(err)
	}
	return nil
}

func (c *Controller) writeRegister(addr, value uint16) error {
	if err := c.t.WriteCommand(cmdRegWrite, addr, value); err != nil {
		return err
	}
	c.regs[addr] = value
	return nil
}

// SetTargetAddress sets the controller memory address image loads go to.
func (c *Controller) SetTargetAddress(addr uint32) error {
	if err := c.settle(); err != nil {
		return err
	}
	if err := c.setTargetAddress(addr); err != nil {
		return c.faulted(err)
	}
	return nil
}

func (c *Controller) setTargetAddress(addr uint32) error {
	if err := c.writeRegister(RegLISAR+2, uint16(addr>>16)); err != nil {
		return err
	}
	return c.writeRegister(RegLISAR, uint16(addr))
}

// VCOM returns the programmed VCOM magnitude in millivolts.
func (c *Controller) VCOM() (uint16, error) {
	if err := c.settle(); err != nil {
		return 0, err
	}
	if err := c.t.WriteCommand(cmdVCOM, vcomGet); err != nil {
		return 0, c.faulted(err)
	}
	w, err := c.t.ReadData(1)
	if err != nil {
		return 0, c.faulted(err)
	}
	return w[0], nil
}

// SetVCOM programs the VCOM magnitude in millivolts, e.g. 2300 for -2.30V.
func (c *Controller) SetVCOM(mv uint16) error {
	if err := c.settle(); err != nil {
		return err
	}
	if err := c.t.WriteCommand(cmdVCOM, vcomSet, mv); err != nil {
		return c.faulted(err)
	}
	return nil
}

// LoadImageArea streams the pixels of r, widened to word alignment, from fb
// into the controller image buffer.
func (c *Controller) LoadImageArea(r image.Rectangle, fb *FrameBuffer) error {
	if err := c.settle(); err != nil {
		return err
	}
	if !c.hasInfo {
		return ErrNotSetup
	}
	r = AlignRect(r, c.info.Bounds())
	if r.Empty() {
		return nil
	}
	if err := c.setTargetAddress(c.info.ImageBufferAddr); err != nil {
		return c.faulted(err)
	}
	err := c.t.WriteCommand(cmdLoadImgArea,
		endianBig<<8|bpp4<<4|rotate0,
		uint16(r.Min.X), uint16(r.Min.Y), uint16(r.Dx()), uint16(r.Dy()))
	if err != nil {
		return c.faulted(err)
	}
	if err := c.t.WriteBytes(fb.transfer(r, c.reversed)); err != nil {
		return c.faulted(err)
	}
	if err := c.t.WriteCommand(cmdLoadImgEnd); err != nil {
		return c.faulted(err)
	}
	return nil
}

// DisplayArea starts a refresh of r with the given waveform. It does not
// wait for the refresh; the controller is Busy until the next operation
// observes completion.
func (c *Controller) DisplayArea(r image.Rectangle, waveform uint16) error {
	if err := c.settle(); err != nil {
		return err
	}
	if !c.hasInfo {
		return ErrNotSetup
	}
	r = AlignRect(r, c.info.Bounds())
	if r.Empty() {
		return nil
	}
	args := []uint16{uint16(r.Min.X), uint16(r.Min.Y), uint16(r.Dx()), uint16(r.Dy()), waveform}
	cmd := cmdDisplayArea
	if addr := c.info.ImageBufferAddr; addr != 0 {
		cmd = cmdDisplayBuf
		args = append(args, uint16(addr), uint16(addr>>16))
	}
	if err := c.t.WriteCommand(cmd, args...); err != nil {
		return c.faulted(err)
	}
	c.state = Busy
	return nil
}

// WaitDisplayIdle blocks until no display LUT is running, or returns
// ErrBusTimeout after timeout.
func (c *Controller) WaitDisplayIdle(timeout time.Duration) error {
	if c.state == Busy {
		c.state = Idle
	}
	if err := c.usable(); err != nil {
		return err
	}
	if err := c.waitLUT(timeout); err != nil {
		return c.faulted(err)
	}
	return nil
}

func (c *Controller) waitLUT(timeout time.Duration) error {
	deadline := c.now().Add(timeout)
	for {
		v, err := c.readRegister(RegLUTAFSR)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		if !c.now().Before(deadline) {
			return fmt.Errorf("%w: display engine busy (LUTAFSR=%#04x) after %s", ErrBusTimeout, v, timeout)
		}
		c.sleep(lutPoll)
	}
}

// usable rejects operations in states that cannot reach the bus.
func (c *Controller) usable() error {
	switch c.state {
	case Faulted:
		return fmt.Errorf("%w: %w", ErrFaulted, c.fault)
	case Uninitialized:
		return ErrNotSetup
	}
	return nil
}

// settle brings the controller to Idle before an operation: a pending
// refresh is waited for and a sleeping controller is woken.
func (c *Controller) settle() error {
	if err := c.usable(); err != nil {
		return err
	}
	switch c.state {
	case Busy:
		c.state = Idle
		if err := c.waitLUT(c.refreshTimeout); err != nil {
			return c.faulted(err)
		}
	case Sleeping:
		if err := c.t.WriteCommand(cmdSysRun); err != nil {
			return c.faulted(err)
		}
		c.state = Idle
	}
	return nil
}

// faulted records err as a fault when it leaves the device in an unknown
// state, and returns it.
func (c *Controller) faulted(err error) error {
	if isFault(err) {
		c.state = Faulted
		c.fault = err
	}
	return err
}
