// Package it8951test emulates an IT8951 controller behind a conn.Conn so the
// driver can be exercised without hardware.
//
// The emulator decodes the chip-select brackets the driver produces, keeps
// registers, VCOM and a 4-bit image memory, and records every load and
// display request for inspection.
package it8951test

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"it8951e/internal/image4bit"
)

// Wire values mirrored from the controller documentation.
const (
	preambleCommand = 0x6000
	preambleWrite   = 0x0000
	preambleRead    = 0x1000

	cmdSysRun      = 0x0001
	cmdStandby     = 0x0002
	cmdSleep       = 0x0003
	cmdRegRead     = 0x0010
	cmdRegWrite    = 0x0011
	cmdLoadImgArea = 0x0021
	cmdLoadImgEnd  = 0x0022
	cmdDisplayArea = 0x0034
	cmdDisplayBuf  = 0x0037
	cmdVCOM        = 0x0039
	cmdGetDevInfo  = 0x0302

	regLISAR   = 0x0208
	regLUTAFSR = 0x1224
)

// Load is one completed image load.
type Load struct {
	Rect   image.Rectangle
	Flags  uint16
	Target uint32
	Words  int
}

// Display is one display request.
type Display struct {
	Rect image.Rectangle
	Mode uint16
	// Addr is set for buffered requests (DPY_BUF_AREA).
	Addr     uint32
	Buffered bool
}

// Device is an emulated controller. Exported configuration fields must be
// set before the first transfer.
type Device struct {
	Width, Height int
	BufferAddr    uint32
	FWVersion     string
	LUTVersion    string
	// MaxTx is reported through conn.Limits; 0 reports no limit.
	MaxTx int
	// LUTBusyReads is how many LUTAFSR reads report a running LUT after
	// each display request.
	LUTBusyReads int
	// HRDYBusyReads is how many busy line samples read Low after each
	// display request.
	HRDYBusyReads int
	// StuckBusy holds the busy line Low forever.
	StuckBusy bool
	// FailReset holds the busy line Low after the next reset pulse.
	FailReset bool

	CS    *Pin
	Busy  *Pin
	Reset *Pin

	mu       sync.Mutex
	vcom     uint16
	regs     map[uint16]uint16
	mem      *image4bit.Packed
	asleep   bool
	resets   int
	dead     bool
	commands []uint16
	loads    []Load
	displays []Display
	txs      int
	err      error

	// Bracket decoding.
	selected bool
	havePre  bool
	pre      uint16
	pending  []byte // odd byte carried across Tx calls
	cmd      uint16
	args     []uint16
	response []byte
	respPos  int
	lutBusy  int
	hrdyBusy int
	resetLow bool

	// Image load in progress.
	loading bool
	load    Load
	cursor  int
	rowW    int
}

// New returns a device reporting a width×height panel.
func New(width, height int) *Device {
	d := &Device{
		Width:      width,
		Height:     height,
		BufferAddr: 0x001236E0,
		FWVersion:  "SWv_0.1.1",
		LUTVersion: "M841_TFA2812",
		vcom:       1500,
		regs:       map[uint16]uint16{},
	}
	d.mem = image4bit.NewPacked(image.Rect(0, 0, max(width, 0), max(height, 0)))
	d.CS = &Pin{Pin: gpiotest.Pin{N: "CS", L: gpio.High}, dev: d, role: roleCS}
	d.Busy = &Pin{Pin: gpiotest.Pin{N: "HRDY", L: gpio.High}, dev: d, role: roleBusy}
	d.Reset = &Pin{Pin: gpiotest.Pin{N: "RST", L: gpio.High}, dev: d, role: roleReset}
	return d
}

func (d *Device) String() string {
	return "it8951test"
}

// Duplex implements conn.Conn.
func (d *Device) Duplex() conn.Duplex {
	return conn.Full
}

// MaxTxSize implements conn.Limits.
func (d *Device) MaxTxSize() int {
	return d.MaxTx
}

// Tx implements conn.Conn.
func (d *Device) Tx(w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txs++
	if !d.selected {
		return d.fail(errors.New("it8951test: transfer with chip-select high"))
	}
	if r != nil && len(r) != len(w) {
		return d.fail(fmt.Errorf("it8951test: w and r differ: %d != %d", len(w), len(r)))
	}
	if d.MaxTx > 0 && len(w) > d.MaxTx {
		return d.fail(fmt.Errorf("it8951test: %d bytes over the %d byte limit", len(w), d.MaxTx))
	}
	if !d.havePre {
		if len(w) < 2 {
			return d.fail(errors.New("it8951test: short preamble"))
		}
		d.pre = uint16(w[0])<<8 | uint16(w[1])
		d.havePre = true
		if d.pre == preambleRead {
			d.respPos = 0
		}
		w = w[2:]
		if r != nil {
			r = r[2:]
		}
	}
	switch d.pre {
	case preambleRead:
		for i := range w {
			var b byte
			// Two dummy bytes precede the response.
			if j := d.respPos - 2; j >= 0 && j < len(d.response) {
				b = d.response[j]
			}
			if r != nil {
				r[i] = b
			}
			d.respPos++
		}
	case preambleCommand, preambleWrite:
		b := append(d.pending, w...)
		for ; len(b) >= 2; b = b[2:] {
			v := uint16(b[0])<<8 | uint16(b[1])
			if d.pre == preambleCommand {
				d.command(v)
			} else {
				d.data(v)
			}
		}
		d.pending = append(d.pending[:0], b...)
	default:
		return d.fail(fmt.Errorf("it8951test: unknown preamble %#04x", d.pre))
	}
	return nil
}

func (d *Device) fail(err error) error {
	if d.err == nil {
		d.err = err
	}
	return err
}

func (d *Device) command(c uint16) {
	d.commands = append(d.commands, c)
	d.cmd = c
	d.args = d.args[:0]
	switch c {
	case cmdSysRun:
		d.asleep = false
	case cmdStandby, cmdSleep:
		d.asleep = true
	case cmdLoadImgEnd:
		if d.loading {
			d.loads = append(d.loads, d.load)
		}
		d.loading = false
	case cmdGetDevInfo:
		d.respond(d.devInfo()...)
	}
}

func (d *Device) data(v uint16) {
	if d.loading && d.cmd == cmdLoadImgArea {
		d.pixels(v)
		return
	}
	d.args = append(d.args, v)
	a := d.args
	switch d.cmd {
	case cmdRegRead:
		if len(a) == 1 {
			d.respond(d.readReg(a[0]))
		}
	case cmdRegWrite:
		if len(a) == 2 {
			d.regs[a[0]] = a[1]
		}
	case cmdVCOM:
		if len(a) == 1 && a[0] == 0 {
			d.respond(d.vcom)
		}
		if len(a) == 2 && (a[0] == 1 || a[0] == 2) {
			d.vcom = a[1]
		}
	case cmdLoadImgArea:
		if len(a) == 5 {
			r := image.Rect(int(a[1]), int(a[2]), int(a[1])+int(a[3]), int(a[2])+int(a[4]))
			d.load = Load{Rect: r, Flags: a[0], Target: uint32(d.regs[regLISAR+2])<<16 | uint32(d.regs[regLISAR])}
			d.loading = true
			d.cursor = 0
			// Rows are padded to whole words.
			d.rowW = (r.Dx() + 3) &^ 3
		}
	case cmdDisplayArea:
		if len(a) == 5 {
			d.display(Display{Rect: rectArgs(a), Mode: a[4]})
		}
	case cmdDisplayBuf:
		if len(a) == 7 {
			d.display(Display{Rect: rectArgs(a), Mode: a[4], Addr: uint32(a[6])<<16 | uint32(a[5]), Buffered: true})
		}
	}
}

func rectArgs(a []uint16) image.Rectangle {
	return image.Rect(int(a[0]), int(a[1]), int(a[0])+int(a[2]), int(a[1])+int(a[3]))
}

func (d *Device) display(p Display) {
	d.displays = append(d.displays, p)
	d.lutBusy = d.LUTBusyReads
	d.hrdyBusy = d.HRDYBusyReads
}

// pixels stores the four nibbles of a big-endian packed word.
func (d *Device) pixels(v uint16) {
	d.load.Words++
	r := d.load.Rect
	for s := 12; s >= 0; s -= 4 {
		if d.rowW > 0 {
			x := r.Min.X + d.cursor%d.rowW
			y := r.Min.Y + d.cursor/d.rowW
			if x < r.Max.X {
				d.mem.SetGray4(x, y, image4bit.Gray4{Y: uint8(v>>uint(s)) & 0x0F})
			}
		}
		d.cursor++
	}
}

func (d *Device) readReg(addr uint16) uint16 {
	if addr == regLUTAFSR {
		if d.lutBusy > 0 {
			d.lutBusy--
			return 0x0001
		}
		return 0
	}
	return d.regs[addr]
}

func (d *Device) respond(words ...uint16) {
	d.response = d.response[:0]
	for _, w := range words {
		d.response = append(d.response, byte(w>>8), byte(w))
	}
}

func (d *Device) devInfo() []uint16 {
	w := []uint16{uint16(d.Width), uint16(d.Height), uint16(d.BufferAddr), uint16(d.BufferAddr >> 16)}
	w = append(w, stringWords(d.FWVersion)...)
	return append(w, stringWords(d.LUTVersion)...)
}

func stringWords(s string) []uint16 {
	b := make([]byte, 16)
	copy(b, s)
	w := make([]uint16, 8)
	for i := range w {
		w[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return w
}

func (d *Device) pinOut(role pinRole, l gpio.Level) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch role {
	case roleCS:
		if l == gpio.Low {
			d.selected = true
			d.havePre = false
			d.pending = d.pending[:0]
			return
		}
		d.selected = false
	case roleReset:
		if l == gpio.Low {
			d.resetLow = true
			return
		}
		if d.resetLow {
			d.resetLow = false
			d.resets++
			d.loading = false
			d.asleep = false
			d.lutBusy = 0
			d.hrdyBusy = 0
			d.regs = map[uint16]uint16{}
			d.dead = d.FailReset
		}
	}
}

func (d *Device) busyLevel() gpio.Level {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StuckBusy || d.dead {
		return gpio.Low
	}
	if d.hrdyBusy > 0 {
		d.hrdyBusy--
		return gpio.Low
	}
	return gpio.High
}

// Pixel returns the level stored in controller memory at (x, y).
func (d *Device) Pixel(x, y int) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mem.Gray4At(x, y).Y
}

// Image returns a copy of controller memory.
func (d *Device) Image() *image4bit.Packed {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *d.mem
	c.Pix = append([]byte(nil), d.mem.Pix...)
	return &c
}

// Commands returns every command word received.
func (d *Device) Commands() []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint16(nil), d.commands...)
}

// Loads returns the completed image loads.
func (d *Device) Loads() []Load {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Load(nil), d.loads...)
}

// Displays returns the display requests.
func (d *Device) Displays() []Display {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Display(nil), d.displays...)
}

// Forget drops the recorded commands, loads and displays. Panel memory,
// registers and the transaction count are kept.
func (d *Device) Forget() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands, d.loads, d.displays = nil, nil, nil
}

// Transactions returns the number of Tx calls.
func (d *Device) Transactions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txs
}

// Register returns the current value of a register.
func (d *Device) Register(addr uint16) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[addr]
}

// VCOM returns the programmed VCOM in millivolts.
func (d *Device) VCOM() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vcom
}

// Asleep reports whether the last power command was standby or sleep.
func (d *Device) Asleep() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.asleep
}

// Resets returns the number of reset pulses seen.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// Err returns the first framing error seen, if any.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// SetStuckBusy changes StuckBusy after transfers started.
func (d *Device) SetStuckBusy(stuck bool) {
	d.mu.Lock()
	d.StuckBusy = stuck
	d.mu.Unlock()
}

// SetFailReset changes FailReset after transfers started.
func (d *Device) SetFailReset(fail bool) {
	d.mu.Lock()
	d.FailReset = fail
	d.mu.Unlock()
}

type pinRole int

const (
	roleCS pinRole = iota
	roleBusy
	roleReset
)

// Pin is a fake GPIO wired to the emulated device.
type Pin struct {
	gpiotest.Pin
	dev  *Device
	role pinRole
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	p.dev.pinOut(p.role, l)
	return nil
}

// Read implements gpio.PinIn.
func (p *Pin) Read() gpio.Level {
	if p.role == roleBusy {
		return p.dev.busyLevel()
	}
	return p.Pin.Read()
}

var (
	_ conn.Conn   = &Device{}
	_ conn.Limits = &Device{}
	_ gpio.PinIO  = &Pin{}
)
