package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"it8951e/internal/battery"
	"it8951e/internal/config"
	"it8951e/internal/ics"
	"it8951e/internal/it8951"
	"it8951e/internal/it8951/it8951test"
	"it8951e/internal/log"
	"it8951e/internal/pages"
	"it8951e/internal/preview"
	"it8951e/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	stateDir   string
	once       bool
	renderOnly bool
	panel      string
	dump       string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		log.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	log.SetLevel(log.ParseLevel(conf.LogLevel))
	log.Info("it8951e starting", "version", "0.1.0")

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	interval, _ := conf.Interval()
	drvCfg, _ := conf.DriverConfig()

	log.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"interval", interval,
		"busy_timeout", drvCfg.BusyTimeout,
		"partial_mode", drvCfg.Partial,
		"rotation", conf.Display.Rotation,
		"pages", len(conf.Pages),
		"ics_count", len(conf.ICS),
		"once", flags.once,
		"render_only", flags.renderOnly,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, flags, conf, interval, drvCfg); err != nil {
		log.Error("it8951e failed", err)
		os.Exit(1)
	}
	log.Info("it8951e exiting")
}

func run(ctx context.Context, flags flagConfig, conf *config.Config, interval time.Duration, drvCfg it8951.Config) error {
	var (
		bus    conn.Conn
		pins   it8951.Pins
		closer io.Closer = nopCloser{}
		gauge  battery.Reader
		term   *preview.Terminal
	)
	if flags.renderOnly {
		var w, h int
		if _, err := fmt.Sscanf(flags.panel, "%dx%d", &w, &h); err != nil {
			return fmt.Errorf("--panel %q: %w", flags.panel, err)
		}
		dev := it8951test.New(w, h)
		bus = dev
		pins = it8951.Pins{CS: dev.CS, Busy: dev.Busy, Reset: dev.Reset}
		term = preview.NewTerminal(preview.DefaultColumns)
		defer func() {
			if err := term.Halt(); err != nil {
				log.Error("terminal reset failed", err)
			}
		}()
	} else {
		var err error
		bus, pins, closer, err = openHardware(conf.Display)
		if err != nil {
			return err
		}
		if conf.Battery.Enabled {
			g, c, err := battery.Open(conf.Battery.Bus, conf.Battery.Addr)
			if err != nil {
				log.Error("battery gauge unavailable", err)
			} else {
				gauge = g
				defer c.Close()
			}
		}
	}
	defer closer.Close()

	drv, err := it8951.New(bus, pins, &drvCfg)
	if err != nil {
		return err
	}
	if err := drv.Setup(ctx); err != nil {
		return fmt.Errorf("display setup: %w", err)
	}
	defer func() {
		if err := drv.Halt(); err != nil {
			log.Error("display halt failed", err)
		}
	}()
	st := drv.Status()
	log.Info("display ready", "panel", fmt.Sprintf("%dx%d", st.Width, st.Height), "fw", st.FWVersion, "lut", st.LUTVersion, "vcom_mv", st.VCOM)

	entries, err := pages.FromConfig(conf.Pages, newAgenda(conf, flags.stateDir))
	if err != nil {
		return err
	}
	rot := pages.NewRotator(entries, conf.PageTicks, conf.Display.Rotation, gauge)
	drv.SetWriter(rot.Writer(ctx))

	// A faulted display stays faulted until POST /api/reset or a restart.
	tick := func() {
		err := drv.Update(ctx)
		switch {
		case errors.Is(err, it8951.ErrFaulted):
			log.Warn("display faulted, waiting for reset", "fault", drv.Status().Fault)
			return
		case err != nil && !errors.Is(err, context.Canceled):
			log.Error("update failed", err)
		}
		afterUpdate(drv, term, flags.dump)
	}

	if flags.once {
		tick()
		return nil
	}

	c := cron.New(
		cron.WithLogger(log.CronLogger()),
		cron.WithChain(cron.SkipIfStillRunning(log.CronLogger())),
	)
	if _, err := c.AddFunc("@every "+interval.String(), tick); err != nil {
		return err
	}
	tick()
	c.Start()
	defer func() { <-c.Stop().Done() }()

	if conf.Listen != "" {
		srv := web.NewServer(conf, drv, rot, gauge)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("HTTP server stopped", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}

// afterUpdate shows the frame buffer when running without a panel and dumps
// it when requested.
func afterUpdate(drv *it8951.Driver, term *preview.Terminal, dump string) {
	if term == nil && dump == "" {
		return
	}
	img := drv.Snapshot()
	if img == nil {
		return
	}
	if term != nil {
		if err := term.Render(img); err != nil {
			log.Error("terminal preview failed", err)
		}
	}
	if dump != "" {
		if err := preview.WritePNG(dump, img); err != nil {
			log.Error("preview dump failed", err, "path", dump)
		}
	}
}

// openHardware initializes periph and opens the SPI port and control pins.
// Chip select is driven by the driver, so the port is opened without one.
func openHardware(d config.DisplayConfig) (conn.Conn, it8951.Pins, io.Closer, error) {
	var pins it8951.Pins
	if _, err := host.Init(); err != nil {
		return nil, pins, nil, fmt.Errorf("periph host init: %w", err)
	}
	port, err := spireg.Open(d.SPIPort)
	if err != nil {
		return nil, pins, nil, fmt.Errorf("open spi %q: %w", d.SPIPort, err)
	}
	c, err := port.Connect(physic.Frequency(d.SPIHz)*physic.Hertz, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		port.Close()
		return nil, pins, nil, fmt.Errorf("connect spi: %w", err)
	}

	cs := gpioreg.ByName(d.CSPin)
	busy := gpioreg.ByName(d.BusyPin)
	if cs == nil || busy == nil {
		port.Close()
		return nil, pins, nil, fmt.Errorf("unknown gpio: cs=%q busy=%q", d.CSPin, d.BusyPin)
	}
	if err := busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		port.Close()
		return nil, pins, nil, fmt.Errorf("busy pin: %w", err)
	}
	pins.CS, pins.Busy = cs, busy
	if d.ResetPin != "" {
		rst := gpioreg.ByName(d.ResetPin)
		if rst == nil {
			port.Close()
			return nil, pins, nil, fmt.Errorf("unknown gpio: reset=%q", d.ResetPin)
		}
		pins.Reset = rst
	}
	return c, pins, port, nil
}

// newAgenda builds the calendar source from the ICS config, or nil without
// sources.
func newAgenda(conf *config.Config, stateDir string) pages.Upcomer {
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, s := range conf.ICS {
		if s.URL == "" {
			continue
		}
		id := s.ID
		if id == "" {
			id = s.Name
		}
		if id == "" {
			id = s.URL
		}
		sources = append(sources, ics.Source{ID: id, URL: s.URL})
	}
	if len(sources) == 0 {
		return nil
	}
	return &ics.Agenda{
		Fetcher:  ics.NewFetcher(filepath.Join(stateDir, "ics-cache"), nil),
		Sources:  sources,
		Location: conf.Location(),
		Horizon:  time.Duration(conf.HorizonDays) * 24 * time.Hour,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/it8951e/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.stateDir, "state-dir", "/var/lib/it8951e", "Directory for caches")
	flag.BoolVar(&cfg.once, "once", false, "Run one update and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render to an emulated controller and the terminal; do not touch hardware")
	flag.StringVar(&cfg.panel, "panel", "1200x825", "Emulated panel size for --render-only")
	flag.StringVar(&cfg.dump, "dump", "", "Write the frame buffer as PNG to this path after each update")

	flag.Parse()

	return cfg
}
