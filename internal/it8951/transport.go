package it8951

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// defaultMaxTx is used when the connection does not report a limit.
const defaultMaxTx = 4096

// Transport frames controller transfers. Every call is one chip-select
// bracket: CS low, preamble word, busy wait, payload, CS high. Calls are
// serialized.
type Transport struct {
	mu      sync.Mutex
	c       conn.Conn
	cs      gpio.PinOut
	gate    *Gate
	timeout time.Duration
	maxTx   int
	txs     int
}

// NewTransport wraps c. cs must be driven by software since reads wait on
// the busy line between the preamble and the payload; open the SPI port
// with spi.NoCS.
func NewTransport(c conn.Conn, cs gpio.PinOut, gate *Gate, timeout time.Duration) (*Transport, error) {
	if c == nil || cs == nil || gate == nil {
		return nil, fmt.Errorf("it8951: transport needs a connection, a chip-select pin and a busy gate")
	}
	maxTx := defaultMaxTx
	if l, ok := c.(conn.Limits); ok {
		if n := l.MaxTxSize(); n > 0 {
			maxTx = n
		}
	}
	// Every chunk carries a 2 byte preamble of its own.
	if maxTx < 4 {
		return nil, fmt.Errorf("it8951: %s transfers of %d bytes are too small", c, maxTx)
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, err
	}
	return &Transport{c: c, cs: cs, gate: gate, timeout: timeout, maxTx: maxTx}, nil
}

func (t *Transport) String() string {
	return fmt.Sprintf("it8951(%s)", t.c)
}

// Gate returns the busy gate shared with the controller.
func (t *Transport) Gate() *Gate {
	return t.gate
}

// Timeout returns the per-wait busy deadline.
func (t *Transport) Timeout() time.Duration {
	return t.timeout
}

// Transactions returns the number of SPI transactions issued so far.
func (t *Transport) Transactions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.txs
}

// WriteCommand sends cmd followed, in a separate bracket, by its arguments.
func (t *Transport) WriteCommand(cmd Command, args ...uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.bracket(preambleCommand, putWords(nil, uint16(cmd))); err != nil {
		return fmt.Errorf("it8951: command %#04x: %w", uint16(cmd), err)
	}
	if len(args) == 0 {
		return nil
	}
	if err := t.writeLocked(putWords(nil, args...)); err != nil {
		return fmt.Errorf("it8951: command %#04x args: %w", uint16(cmd), err)
	}
	return nil
}

// WriteData sends words as big-endian pairs.
func (t *Transport) WriteData(words ...uint16) error {
	return t.WriteBytes(putWords(nil, words...))
}

// WriteBytes sends raw payload bytes. Payloads larger than the connection
// limit are split, each chunk in its own bracket.
func (t *Transport) WriteBytes(b []byte) error {
	if len(b)%2 != 0 {
		return fmt.Errorf("it8951: odd payload length %d", len(b))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(b)
}

func (t *Transport) writeLocked(b []byte) error {
	chunk := (t.maxTx - 2) &^ 1
	for len(b) > 0 {
		n := len(b)
		if n > chunk {
			n = chunk
		}
		if err := t.bracket(preambleWrite, b[:n]); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// ReadData reads n words. The controller emits two dummy bytes after the
// read preamble which are discarded.
func (t *Transport) ReadData(n int) ([]uint16, error) {
	if n <= 0 {
		return nil, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if 2*n > t.maxTx {
		return nil, fmt.Errorf("it8951: read of %d words exceeds transfer limit %d", n, t.maxTx)
	}
	r := make([]byte, 2*n)
	err := t.frame(preambleRead, func() error {
		dummy := make([]byte, 2)
		if err := t.tx(dummy, make([]byte, 2)); err != nil {
			return err
		}
		if err := t.gate.WaitReady(t.timeout); err != nil {
			return err
		}
		return t.tx(make([]byte, len(r)), r)
	})
	if err != nil {
		return nil, fmt.Errorf("it8951: read: %w", err)
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(r[2*i])<<8 | uint16(r[2*i+1])
	}
	return out, nil
}

// bracket writes a preamble and payload under one chip-select assertion.
func (t *Transport) bracket(preamble uint16, payload []byte) error {
	return t.frame(preamble, func() error {
		return t.tx(payload, nil)
	})
}

// frame asserts CS, sends the preamble, waits for HRDY and runs body.
func (t *Transport) frame(preamble uint16, body func() error) (err error) {
	if err := t.gate.WaitReady(t.timeout); err != nil {
		return err
	}
	if err := t.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: chip-select: %w", ErrBus, err)
	}
	defer func() {
		if e := t.cs.Out(gpio.High); e != nil && err == nil {
			err = fmt.Errorf("%w: chip-select: %w", ErrBus, e)
		}
	}()
	if err := t.tx(putWords(nil, preamble), nil); err != nil {
		return err
	}
	if err := t.gate.WaitReady(t.timeout); err != nil {
		return err
	}
	return body()
}

func (t *Transport) tx(w, r []byte) error {
	t.txs++
	if err := t.c.Tx(w, r); err != nil {
		return fmt.Errorf("%w: %w", ErrBus, err)
	}
	return nil
}

func putWords(b []byte, words ...uint16) []byte {
	for _, w := range words {
		b = append(b, byte(w>>8), byte(w))
	}
	return b
}
