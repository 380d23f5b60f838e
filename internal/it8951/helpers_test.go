package it8951

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3"

	"it8951e/internal/it8951/it8951test"
)

func newTestClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func newTestTransport(t *testing.T, dev *it8951test.Device, clk *fakeClock) *Transport {
	t.Helper()
	g := NewGate(dev.Busy, time.Millisecond)
	g.now, g.sleep = clk.now, clk.sleep
	tr, err := NewTransport(dev, dev.CS, g, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func newTestController(t *testing.T, dev *it8951test.Device, reversed bool) (*Controller, *fakeClock) {
	t.Helper()
	clk := newTestClock()
	c := NewController(newTestTransport(t, dev, clk), dev.Reset, reversed, 100*time.Millisecond)
	c.now, c.sleep = clk.now, clk.sleep
	return c, clk
}

// newTestDriver returns a driver wired to dev with every clock faked.
func newTestDriver(t *testing.T, dev *it8951test.Device, mod func(*Config)) *Driver {
	t.Helper()
	return newTestDriverOn(t, dev, dev, mod)
}

// newTestDriverOn is newTestDriver with transfers going through c.
func newTestDriverOn(t *testing.T, c conn.Conn, dev *it8951test.Device, mod func(*Config)) *Driver {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BusyTimeout = 50 * time.Millisecond
	cfg.RefreshTimeout = 100 * time.Millisecond
	cfg.ClearOnSetup = false
	if mod != nil {
		mod(&cfg)
	}
	d, err := New(c, Pins{CS: dev.CS, Busy: dev.Busy, Reset: dev.Reset}, &cfg)
	if err != nil {
		t.Fatal(err)
	}
	clk := newTestClock()
	d.t.gate.now, d.t.gate.sleep = clk.now, clk.sleep
	d.c.now, d.c.sleep = clk.now, clk.sleep
	return d
}

// flakyConn fails its failAt-th Tx and passes every other one to the device.
type flakyConn struct {
	*it8951test.Device
	n, failAt int
}

func (f *flakyConn) Tx(w, r []byte) error {
	f.n++
	if f.n == f.failAt {
		return errors.New("spi: EIO")
	}
	return f.Device.Tx(w, r)
}
