package battery

import (
	"context"
	"errors"
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestGaugeRead(t *testing.T) {
	for _, tc := range []struct {
		name string
		pct  byte
		want Status
	}{
		{"normal", 87, Status{Percent: 87, VoltageMv: 4012}},
		{"clamped", 140, Status{Percent: 100, VoltageMv: 4012}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bus := &i2ctest.Playback{Ops: []i2ctest.IO{
				{Addr: DefaultAddr, W: []byte{regVoltageHigh}, R: []byte{0x0F}},
				{Addr: DefaultAddr, W: []byte{regVoltageLow}, R: []byte{0xAC}},
				{Addr: DefaultAddr, W: []byte{regPercent}, R: []byte{tc.pct}},
			}}
			g := NewGauge(bus, DefaultAddr)
			got, err := g.Read(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("Read() = %+v, want %+v", got, tc.want)
			}
			if err := bus.Close(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestGaugeBusError(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	g := NewGauge(bus, DefaultAddr)
	if _, err := g.Read(context.Background()); err == nil {
		t.Fatal("expected error from empty playback")
	}
}

func TestGaugeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGauge(&i2ctest.Playback{}, DefaultAddr)
	if _, err := g.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Read() = %v, want context.Canceled", err)
	}
}

func TestNone(t *testing.T) {
	if _, err := (None{}).Read(context.Background()); !errors.Is(err, ErrNoGauge) {
		t.Fatalf("Read() = %v", err)
	}
}

func TestStatusString(t *testing.T) {
	if got := (Status{Percent: 50, VoltageMv: 3700}).String(); got != "50% (3700mV)" {
		t.Errorf("String() = %q", got)
	}
}
