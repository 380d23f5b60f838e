package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"it8951e/internal/it8951"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", st.Mode().Perm())
	}
	again, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cfg, again, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("reload mismatch (-first +second):\n%s", diff)
	}
}

func TestLoadNormalizesPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "update_interval: 2m\ndisplay:\n  busy_pin: GPIO5\n  reversed: true\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Display.BusyPin != "GPIO5" || !cfg.Display.Reversed {
		t.Errorf("display = %+v", cfg.Display)
	}
	if cfg.Display.CSPin != "GPIO8" || cfg.Display.SPIHz != 12_000_000 || cfg.PageTicks != 1 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	d, err := cfg.DriverConfig()
	if err != nil {
		t.Fatal(err)
	}
	if d.BusyTimeout != 10*time.Second {
		t.Errorf("BusyTimeout = %s, want 10s", d.BusyTimeout)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
		want string
	}{
		{"interval", "update_interval: soon\n", "update_interval"},
		{"short interval", "update_interval: 10ms\n", "shorter than 1s"},
		{"mode", "display:\n  partial_mode: sparkle\n", "partial_mode"},
		{"rotation", "display:\n  rotation: 45\n", "rotation"},
		{"page kind", "pages:\n  - kind: video\n", "unknown kind"},
		{"image path", "pages:\n  - kind: image\n", "needs a path"},
		{"timezone", "timezone: Mars/Olympus\n", "timezone"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.data), 0o600); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestDriverConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateInterval = "4s"
	cfg.Display.PartialMode = "a2"
	cfg.Display.FullRefreshEvery = 5
	cfg.Display.RefreshTimeout = "2s"
	cfg.Display.Waveforms = &WaveformsConfig{Init: 0, Full: 2, Partial: 3, Fast: 1, A2: 4}
	got, err := cfg.DriverConfig()
	if err != nil {
		t.Fatal(err)
	}
	want := it8951.DefaultConfig()
	want.BusyTimeout = 2 * time.Second
	want.RefreshTimeout = 2 * time.Second
	want.Partial = it8951.ModeA2
	want.FullEvery = 5
	want.Waveforms = &it8951.Waveforms{Init: 0, Full: 2, Partial: 3, Fast: 1, A2: 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DriverConfig mismatch (-want +got):\n%s", diff)
	}

	cfg.Display.BusyTimeout = "750ms"
	got, err = cfg.DriverConfig()
	if err != nil {
		t.Fatal(err)
	}
	if got.BusyTimeout != 750*time.Millisecond {
		t.Errorf("explicit BusyTimeout = %s", got.BusyTimeout)
	}
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Asia/Seoul"
	if got := cfg.Location().String(); got != "Asia/Seoul" {
		t.Errorf("Location = %s", got)
	}
	cfg.Timezone = "nowhere"
	if cfg.Location() != time.UTC {
		t.Error("invalid zone should fall back to UTC")
	}
}
