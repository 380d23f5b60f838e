package it8951

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"

	"it8951e/internal/image4bit"
	"it8951e/internal/log"
)

// Lifecycle is driven by the host application: Setup once, Update on every
// poll tick, Halt on shutdown.
type Lifecycle interface {
	Setup(ctx context.Context) error
	Update(ctx context.Context) error
	Halt() error
}

// BusClient exposes the transport the device is reached through.
type BusClient interface {
	Transport() *Transport
}

// PixelSink accepts drawing.
type PixelSink interface {
	Bounds() image.Rectangle
	SetPixel(x, y int, v uint8)
	FillRect(r image.Rectangle, v uint8)
}

// Writer draws the next frame on c during an update tick.
type Writer func(c *Canvas) error

// Pins are the control lines besides the SPI data lines.
type Pins struct {
	// CS is the chip-select line, driven in software.
	CS gpio.PinOut
	// Busy is the controller HRDY output.
	Busy gpio.PinIn
	// Reset is optional; without it Reset only waits for HRDY.
	Reset gpio.PinOut
}

// Config holds the driver parameters.
type Config struct {
	// BusyTimeout bounds every HRDY wait.
	BusyTimeout time.Duration
	// PollInterval is the HRDY sampling period.
	PollInterval time.Duration
	// RefreshTimeout bounds the wait for a running refresh to finish.
	RefreshTimeout time.Duration
	// Reversed inverts pixel levels on transfer.
	Reversed bool
	// VCOM in millivolts; 0 keeps the controller value.
	VCOM uint16
	// Partial is the refresh class used for sub-panel updates.
	Partial Mode
	// FullEvery promotes every n-th sub-panel update to a full refresh.
	FullEvery int
	// Waveforms overrides the numbering derived from the LUT version.
	Waveforms *Waveforms
	// ClearOnSetup blanks the panel with the init waveform after setup.
	ClearOnSetup bool
	// WaitForRefresh makes every update block until the refresh ends.
	WaitForRefresh bool
	// SleepBetweenUpdates puts the controller to sleep after each refresh.
	SleepBetweenUpdates bool
}

// DefaultConfig returns timings suitable for a 30s poll interval.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:    BusyTimeoutFor(30 * time.Second),
		PollInterval:   DefaultPollInterval,
		RefreshTimeout: 5 * time.Second,
		VCOM:           2300,
		Partial:        ModePartial,
		ClearOnSetup:   true,
	}
}

// BusyTimeoutFor derives the HRDY deadline from the poll interval: half of
// it, capped to 10s with a floor of 1s.
func BusyTimeoutFor(interval time.Duration) time.Duration {
	d := interval / 2
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Status is a point-in-time view of the driver.
type Status struct {
	State        State          `json:"state"`
	Fault        string         `json:"fault,omitempty"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	FWVersion    string         `json:"fw_version,omitempty"`
	LUTVersion   string         `json:"lut_version,omitempty"`
	VCOM         uint16         `json:"vcom_mv"`
	Refreshes    int            `json:"refreshes"`
	LastRefresh  RefreshRequest `json:"-"`
	LastRefreshS string         `json:"last_refresh,omitempty"`
	LastUpdate   time.Time      `json:"last_update"`
	Transactions int            `json:"transactions"`
}

// Driver is the single object hosts talk to. All methods are safe for
// concurrent use; they are serialized internally.
type Driver struct {
	mu     sync.Mutex
	cfg    Config
	t      *Transport
	c      *Controller
	fb     *FrameBuffer
	sched  *Scheduler
	writer Writer

	vcom       uint16
	refreshes  int
	last       RefreshRequest
	lastUpdate time.Time

	// Status and Snapshot read the state published after each operation so
	// they do not wait for a running writer.
	pub    sync.RWMutex
	status Status
	snap   *image4bit.Packed
}

// New wires a driver to an SPI connection and control pins. Nothing is sent
// until Setup.
func New(c conn.Conn, pins Pins, cfg *Config) (*Driver, error) {
	if cfg == nil {
		d := DefaultConfig()
		cfg = &d
	}
	if pins.Busy == nil {
		return nil, fmt.Errorf("it8951: busy pin is required")
	}
	t, err := NewTransport(c, pins.CS, NewGate(pins.Busy, cfg.PollInterval), cfg.BusyTimeout)
	if err != nil {
		return nil, err
	}
	d := &Driver{
		cfg: *cfg,
		t:   t,
		c:   NewController(t, pins.Reset, cfg.Reversed, cfg.RefreshTimeout),
	}
	d.status.State = Uninitialized
	return d, nil
}

func (d *Driver) String() string {
	return d.t.String()
}

// Transport implements BusClient.
func (d *Driver) Transport() *Transport {
	return d.t
}

// SetWriter installs the callback invoked on every Update. nil removes it.
func (d *Driver) SetWriter(w Writer) {
	d.mu.Lock()
	d.writer = w
	d.mu.Unlock()
}

// State returns the controller lifecycle state as of the last completed
// operation.
func (d *Driver) State() State {
	d.pub.RLock()
	defer d.pub.RUnlock()
	return d.status.State
}

// Setup resets the controller, reads the panel geometry and allocates the
// frame buffer. It is a no-op once it succeeded; use Reset to run it again
// or to recover from a fault.
func (d *Driver) Setup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.publish()
	if d.c.State() == Faulted {
		return d.ready()
	}
	if d.fb != nil {
		return nil
	}
	return d.setup(ctx)
}

// Reset re-runs the setup sequence. It is the only way out of Faulted.
func (d *Driver) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.publish()
	return d.setup(ctx)
}

func (d *Driver) setup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Info("it8951: setup", "bus", d.t)
	if err := d.c.Reset(); err != nil {
		return d.failed("reset", err)
	}
	if err := d.c.SystemRun(); err != nil {
		return d.failed("system run", err)
	}
	if err := d.c.WriteRegister(RegI80CPCR, 1); err != nil {
		return d.failed("packed write", err)
	}
	vcom, err := d.c.VCOM()
	if err != nil {
		return d.failed("read vcom", err)
	}
	if d.cfg.VCOM != 0 && vcom != d.cfg.VCOM {
		if err := d.c.SetVCOM(d.cfg.VCOM); err != nil {
			return d.failed("set vcom", err)
		}
		vcom = d.cfg.VCOM
	}
	d.vcom = vcom
	info, err := d.c.QuerySystemInfo()
	if err != nil {
		d.fb = nil
		return d.failed("system info", err)
	}
	log.Info("it8951: panel", "geometry", info.PanelGeometry, "fw", info.FWVersion, "lut", info.LUTVersion, "vcom_mv", vcom)

	if d.fb == nil || d.fb.Bounds() != info.Bounds() {
		d.fb = NewFrameBuffer(info.PanelGeometry)
	}
	// The panel may show anything; the next flush repaints all of it.
	d.fb.MarkAll()
	w := DefaultWaveforms(info)
	if d.cfg.Waveforms != nil {
		w = *d.cfg.Waveforms
	}
	d.sched = NewScheduler(info.Bounds(), d.cfg.Partial, d.cfg.FullEvery, w)
	if d.cfg.ClearOnSetup {
		return d.clear()
	}
	return nil
}

// Update runs one poll tick: the writer draws, then the dirty area is
// flushed to the panel. A tick with nothing drawn touches nothing.
func (d *Driver) Update(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.publish()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.ready(); err != nil {
		return err
	}
	if d.writer != nil {
		c := &Canvas{fb: d.fb}
		err := d.writer(c)
		c.expire()
		if err != nil {
			return fmt.Errorf("it8951: writer: %w", err)
		}
	}
	d.lastUpdate = time.Now()
	return d.flush()
}

// Flush sends whatever was drawn since the previous flush.
func (d *Driver) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.publish()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.ready(); err != nil {
		return err
	}
	return d.flush()
}

// Clear whitens the panel with a full init refresh, whether or not anything
// is dirty.
func (d *Driver) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.publish()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.ready(); err != nil {
		return err
	}
	return d.clear()
}

func (d *Driver) clear() error {
	d.fb.Clear(Background)
	d.fb.TakeDirty()
	return d.refresh(d.sched.Forced())
}

// Sleep powers the controller down until the next operation or Wake.
func (d *Driver) Sleep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.publish()
	if err := d.ready(); err != nil {
		return err
	}
	return d.c.Sleep()
}

// Wake resumes a sleeping controller.
func (d *Driver) Wake() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.publish()
	if err := d.ready(); err != nil {
		return err
	}
	return d.c.Wake()
}

// Halt implements conn.Resource. The panel keeps its image; the controller
// is put to sleep.
func (d *Driver) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.publish()
	if d.fb == nil || d.c.State() == Faulted || d.c.State() == Sleeping {
		return nil
	}
	return d.c.Sleep()
}

// Bounds implements display.Drawer. It is empty before Setup.
func (d *Driver) Bounds() image.Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fb == nil {
		return image.Rectangle{}
	}
	return d.fb.Bounds()
}

// ColorModel implements display.Drawer.
func (d *Driver) ColorModel() color.Model {
	return image4bit.Gray4Model
}

// Draw implements display.Drawer: src is composed into the frame buffer and
// the touched area is flushed.
func (d *Driver) Draw(dstRect image.Rectangle, src image.Image, sp image.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.publish()
	if err := d.ready(); err != nil {
		return err
	}
	d.fb.Draw(dstRect, src, sp, draw.Src)
	return d.flush()
}

// SetPixel implements PixelSink. Writes before Setup are dropped.
func (d *Driver) SetPixel(x, y int, v uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fb != nil {
		d.fb.SetPixel(x, y, v)
	}
}

// FillRect implements PixelSink. Writes before Setup are dropped.
func (d *Driver) FillRect(r image.Rectangle, v uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fb != nil {
		d.fb.FillRect(r, v)
	}
}

// Snapshot returns a copy of the frame buffer as of the last completed
// operation, or nil before Setup.
func (d *Driver) Snapshot() image.Image {
	d.pub.RLock()
	defer d.pub.RUnlock()
	if d.snap == nil {
		return nil
	}
	c := *d.snap
	c.Pix = append([]byte(nil), d.snap.Pix...)
	return &c
}

// Status returns the driver state as of the last completed operation.
func (d *Driver) Status() Status {
	d.pub.RLock()
	defer d.pub.RUnlock()
	return d.status
}

// publish copies the state read by Status and Snapshot. d.mu must be held.
func (d *Driver) publish() {
	s := Status{
		State:        d.c.State(),
		VCOM:         d.vcom,
		Refreshes:    d.refreshes,
		LastRefresh:  d.last,
		LastUpdate:   d.lastUpdate,
		Transactions: d.t.Transactions(),
	}
	if d.refreshes > 0 {
		s.LastRefreshS = d.last.String()
	}
	if err := d.c.Fault(); err != nil {
		s.Fault = err.Error()
	}
	if info, ok := d.c.Info(); ok {
		s.Width, s.Height = info.Width, info.Height
		s.FWVersion, s.LUTVersion = info.FWVersion, info.LUTVersion
	}
	var snap *image4bit.Packed
	if d.fb != nil {
		snap = d.fb.Snapshot()
	}
	d.pub.Lock()
	d.status, d.snap = s, snap
	d.pub.Unlock()
}

func (d *Driver) ready() error {
	if d.c.State() == Faulted {
		return fmt.Errorf("%w: %w", ErrFaulted, d.c.Fault())
	}
	if d.fb == nil {
		return ErrNotSetup
	}
	return nil
}

func (d *Driver) flush() error {
	if n := d.fb.TakeClipped(); n > 0 {
		log.Warn("it8951: dropped out of bounds writes", "count", n, "bounds", d.fb.Bounds())
	}
	req, ok := d.sched.Plan(d.fb)
	if !ok {
		return nil
	}
	return d.refresh(req)
}

func (d *Driver) refresh(req RefreshRequest) error {
	log.Debug("it8951: refresh", "mode", req.Mode, "region", req.Region, "waveform", req.Waveform)
	if err := d.c.LoadImageArea(req.Region, d.fb); err != nil {
		d.fb.mark(req.Region)
		return d.failed("load image", err)
	}
	if err := d.c.DisplayArea(req.Region, req.Waveform); err != nil {
		d.fb.mark(req.Region)
		return d.failed("display", err)
	}
	d.refreshes++
	d.last = req
	if d.cfg.WaitForRefresh {
		if err := d.c.WaitDisplayIdle(d.cfg.RefreshTimeout); err != nil {
			return d.failed("wait refresh", err)
		}
	}
	if d.cfg.SleepBetweenUpdates {
		if err := d.c.Sleep(); err != nil {
			return d.failed("sleep", err)
		}
	}
	return nil
}

func (d *Driver) failed(op string, err error) error {
	if d.c.State() == Faulted {
		log.Error("it8951: device faulted", err, "op", op)
	}
	return fmt.Errorf("it8951: %s: %w", op, err)
}

var (
	_ Lifecycle      = &Driver{}
	_ BusClient      = &Driver{}
	_ PixelSink      = &Driver{}
	_ display.Drawer = &Driver{}
	_ conn.Resource  = &Driver{}
)
