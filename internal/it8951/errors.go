package it8951

import "errors"

var (
	// ErrBusTimeout is returned when the host-ready line or the display
	// engine does not become idle within the configured deadline.
	ErrBusTimeout = errors.New("it8951: bus timeout")
	// ErrBus wraps errors from the SPI connection or the chip-select pin.
	// The controller may have seen part of a transfer, so it faults.
	ErrBus = errors.New("it8951: bus error")
	// ErrResetFailed is returned when the controller does not come back
	// ready after a reset pulse.
	ErrResetFailed = errors.New("it8951: reset failed")
	// ErrProtocol is returned when the controller answers with values that
	// cannot describe a usable panel.
	ErrProtocol = errors.New("it8951: protocol error")
	// ErrOutOfBounds reports pixel writes that fell outside the panel. It is
	// only used for diagnostics; drawing is clipped, never aborted.
	ErrOutOfBounds = errors.New("it8951: out of bounds")
	// ErrFaulted is returned by every operation after a fault until Reset
	// succeeds.
	ErrFaulted = errors.New("it8951: device faulted")
	// ErrNotSetup is returned by operations that need panel geometry before
	// Setup completed.
	ErrNotSetup = errors.New("it8951: not set up")
	// ErrCanvasExpired is returned when a Canvas is used after the update
	// tick that handed it out.
	ErrCanvasExpired = errors.New("it8951: canvas used outside its update")
)

// isFault reports whether err leaves the device in an unknown state.
func isFault(err error) bool {
	return errors.Is(err, ErrBusTimeout) || errors.Is(err, ErrBus) || errors.Is(err, ErrResetFailed) || errors.Is(err, ErrProtocol)
}
