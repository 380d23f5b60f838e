package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"it8951e/internal/it8951"
)

// Page kinds understood by the page renderer.
const (
	PageText     = "text"
	PageImage    = "image"
	PageWeb      = "web"
	PageCalendar = "calendar"
)

// DisplayConfig describes how the IT8951 board is wired and driven.
type DisplayConfig struct {
	// SPIPort is the periph spireg name; empty opens the first port.
	SPIPort string `yaml:"spi_port" json:"spi_port"`
	// SPIHz is the SPI clock. The IT8951 accepts up to 24MHz.
	SPIHz int64 `yaml:"spi_hz" json:"spi_hz"`
	// Pin names as understood by periph gpioreg (e.g. "GPIO8").
	CSPin    string `yaml:"cs_pin" json:"cs_pin"`
	BusyPin  string `yaml:"busy_pin" json:"busy_pin"`
	ResetPin string `yaml:"reset_pin" json:"reset_pin"`

	Reversed bool `yaml:"reversed" json:"reversed"`
	// VCOMMillivolts is the VCOM magnitude printed on the panel FPC, e.g.
	// 2300 for -2.30V. 0 keeps the controller value.
	VCOMMillivolts uint16 `yaml:"vcom_mv" json:"vcom_mv"`

	// BusyTimeout bounds HRDY waits; empty derives it from UpdateInterval.
	BusyTimeout    string `yaml:"busy_timeout,omitempty" json:"busy_timeout,omitempty"`
	RefreshTimeout string `yaml:"refresh_timeout" json:"refresh_timeout"`

	// PartialMode is "partial", "fast" or "a2".
	PartialMode      string           `yaml:"partial_mode" json:"partial_mode"`
	FullRefreshEvery int              `yaml:"full_refresh_every" json:"full_refresh_every"`
	Waveforms        *WaveformsConfig `yaml:"waveforms,omitempty" json:"waveforms,omitempty"`

	ClearOnSetup        bool `yaml:"clear_on_setup" json:"clear_on_setup"`
	WaitForRefresh      bool `yaml:"wait_for_refresh" json:"wait_for_refresh"`
	SleepBetweenUpdates bool `yaml:"sleep_between_updates" json:"sleep_between_updates"`

	// Rotation of the rendered pages in degrees: 0, 90, 180 or 270.
	Rotation int `yaml:"rotation" json:"rotation"`
}

// WaveformsConfig overrides the controller waveform numbers.
type WaveformsConfig struct {
	Init    uint16 `yaml:"init" json:"init"`
	Full    uint16 `yaml:"full" json:"full"`
	Partial uint16 `yaml:"partial" json:"partial"`
	Fast    uint16 `yaml:"fast" json:"fast"`
	A2      uint16 `yaml:"a2" json:"a2"`
}

// PageConfig is one entry of the page rotation.
type PageConfig struct {
	// Kind is one of text, image, web or calendar.
	Kind string `yaml:"kind" json:"kind"`
	Name string `yaml:"name" json:"name"`
	// Text is a text/template rendered for text pages.
	Text string `yaml:"text,omitempty" json:"text,omitempty"`
	// FontSize in points for text and calendar pages.
	FontSize float64 `yaml:"font_size,omitempty" json:"font_size,omitempty"`
	// Path is the image file for image pages.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// URL is captured by web pages.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// WaitSelector is awaited before a web page is captured.
	WaitSelector string `yaml:"wait_selector,omitempty" json:"wait_selector,omitempty"`
	// Dither applies Floyd-Steinberg dithering to two levels.
	Dither bool `yaml:"dither,omitempty" json:"dither,omitempty"`
}

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// BatteryConfig enables the I2C fuel gauge.
type BatteryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Bus     string `yaml:"bus" json:"bus"`
	Addr    uint16 `yaml:"addr" json:"addr"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address; empty disables the API.
	Listen   string `yaml:"listen" json:"listen"`
	Timezone string `yaml:"timezone" json:"timezone"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	// UpdateInterval is the poll tick period, a Go duration ("30s").
	UpdateInterval string `yaml:"update_interval" json:"update_interval"`

	Display DisplayConfig `yaml:"display" json:"display"`

	// Pages rotate every PageTicks update ticks.
	Pages     []PageConfig `yaml:"pages" json:"pages"`
	PageTicks int          `yaml:"page_ticks" json:"page_ticks"`

	// ICS feeds calendar pages.
	ICS         []ICSConfig `yaml:"ics" json:"ics"`
	HorizonDays int         `yaml:"horizon_days" json:"horizon_days"`

	Battery   BatteryConfig    `yaml:"battery" json:"battery"`
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration for a Waveshare
// IT8951 HAT on a Raspberry Pi.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8080",
		Timezone:       "UTC",
		LogLevel:       "info",
		UpdateInterval: "30s",
		Display: DisplayConfig{
			SPIHz:          12_000_000,
			CSPin:          "GPIO8",
			BusyPin:        "GPIO24",
			ResetPin:       "GPIO17",
			VCOMMillivolts: 2300,
			RefreshTimeout: "5s",
			PartialMode:    "partial",
			ClearOnSetup:   true,
		},
		Pages: []PageConfig{{
			Kind: PageText,
			Name: "clock",
			Text: "{{ .Now.Format \"Mon Jan 2 15:04\" }}",
		}},
		PageTicks:   1,
		ICS:         []ICSConfig{},
		HorizonDays: 7,
		Battery:     BatteryConfig{Addr: 0x57},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.UpdateInterval == "" {
		c.UpdateInterval = def.UpdateInterval
	}
	d := &c.Display
	if d.SPIHz <= 0 {
		d.SPIHz = def.Display.SPIHz
	}
	if d.CSPin == "" {
		d.CSPin = def.Display.CSPin
	}
	if d.BusyPin == "" {
		d.BusyPin = def.Display.BusyPin
	}
	if d.RefreshTimeout == "" {
		d.RefreshTimeout = def.Display.RefreshTimeout
	}
	if d.PartialMode == "" {
		d.PartialMode = def.Display.PartialMode
	}
	if d.FullRefreshEvery < 0 {
		d.FullRefreshEvery = 0
	}
	if c.Pages == nil {
		c.Pages = []PageConfig{}
	}
	if c.PageTicks <= 0 {
		c.PageTicks = 1
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.Battery.Addr == 0 {
		c.Battery.Addr = def.Battery.Addr
	}
}

// Validate reports values that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Interval(); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if _, err := c.DriverConfig(); err != nil {
		errs = append(errs, err)
	}
	switch c.Display.Rotation {
	case 0, 90, 180, 270:
	default:
		errs = append(errs, fmt.Errorf("display.rotation: %d is not a multiple of 90", c.Display.Rotation))
	}
	for i, p := range c.Pages {
		switch p.Kind {
		case PageText, PageCalendar:
		case PageImage:
			if p.Path == "" {
				errs = append(errs, fmt.Errorf("pages[%d]: image page needs a path", i))
			}
		case PageWeb:
			if p.URL == "" {
				errs = append(errs, fmt.Errorf("pages[%d]: web page needs a url", i))
			}
		default:
			errs = append(errs, fmt.Errorf("pages[%d]: unknown kind %q", i, p.Kind))
		}
	}
	return errors.Join(errs...)
}

// Interval returns the parsed poll tick period.
func (c *Config) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.UpdateInterval)
	if err != nil {
		return 0, fmt.Errorf("update_interval: %w", err)
	}
	if d < time.Second {
		return 0, fmt.Errorf("update_interval: %s is shorter than 1s", d)
	}
	return d, nil
}

// Location returns the configured time zone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DriverConfig converts the display section into driver parameters.
func (c *Config) DriverConfig() (it8951.Config, error) {
	d := c.Display
	out := it8951.DefaultConfig()
	interval, err := c.Interval()
	if err != nil {
		return out, err
	}
	out.BusyTimeout = it8951.BusyTimeoutFor(interval)
	if d.BusyTimeout != "" {
		if out.BusyTimeout, err = time.ParseDuration(d.BusyTimeout); err != nil {
			return out, fmt.Errorf("display.busy_timeout: %w", err)
		}
	}
	if out.RefreshTimeout, err = time.ParseDuration(d.RefreshTimeout); err != nil {
		return out, fmt.Errorf("display.refresh_timeout: %w", err)
	}
	if out.Partial, err = it8951.ParseMode(d.PartialMode); err != nil {
		return out, fmt.Errorf("display.partial_mode: %w", err)
	}
	out.Reversed = d.Reversed
	out.VCOM = d.VCOMMillivolts
	out.FullEvery = d.FullRefreshEvery
	out.ClearOnSetup = d.ClearOnSetup
	out.WaitForRefresh = d.WaitForRefresh
	out.SleepBetweenUpdates = d.SleepBetweenUpdates
	if w := d.Waveforms; w != nil {
		out.Waveforms = &it8951.Waveforms{Init: w.Init, Full: w.Full, Partial: w.Partial, Fast: w.Fast, A2: w.A2}
	}
	return out, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is decoded, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory with 0700 if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".it8951e-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
