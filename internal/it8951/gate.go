package it8951

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// DefaultPollInterval is the busy line sampling period used when none is
// configured.
const DefaultPollInterval = time.Millisecond

// Gate waits for the controller's host-ready (HRDY) line. High means the
// controller accepts the next transfer.
type Gate struct {
	pin  gpio.PinIn
	poll time.Duration

	// Replaced in tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewGate returns a Gate sampling pin every poll. A zero poll uses
// DefaultPollInterval.
func NewGate(pin gpio.PinIn, poll time.Duration) *Gate {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Gate{pin: pin, poll: poll, now: time.Now, sleep: time.Sleep}
}

// Poll returns the sampling granularity.
func (g *Gate) Poll() time.Duration {
	return g.poll
}

// WaitReady returns nil as soon as the line reads High. Otherwise it
// returns ErrBusTimeout no later than timeout plus one poll interval.
func (g *Gate) WaitReady(timeout time.Duration) error {
	deadline := g.now().Add(timeout)
	for {
		if g.pin.Read() == gpio.High {
			return nil
		}
		if !g.now().Before(deadline) {
			return fmt.Errorf("%w: %s stayed low for %s", ErrBusTimeout, g.pin, timeout)
		}
		g.sleep(g.poll)
	}
}
