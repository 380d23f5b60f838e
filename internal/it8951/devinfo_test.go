package it8951

import (
	"errors"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func stringWords(s string) []uint16 {
	b := make([]byte, 16)
	copy(b, s)
	w := make([]uint16, 8)
	for i := range w {
		w[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return w
}

func devInfoResponse(width, height uint16, addr uint32, fw, lut string) []uint16 {
	w := []uint16{width, height, uint16(addr), uint16(addr >> 16)}
	w = append(w, stringWords(fw)...)
	return append(w, stringWords(lut)...)
}

func TestParseDevInfo(t *testing.T) {
	got, err := parseDevInfo(devInfoResponse(1200, 825, 0x1236E0, "SWv_0.1.1", "M841_TFA2812"))
	if err != nil {
		t.Fatal(err)
	}
	want := DevInfo{
		PanelGeometry:   PanelGeometry{Width: 1200, Height: 825, BPP: 4},
		ImageBufferAddr: 0x1236E0,
		FWVersion:       "SWv_0.1.1",
		LUTVersion:      "M841_TFA2812",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("DevInfo mismatch (-want +got):\n%s", diff)
	}
	if got.BufferSize() != 600*825 {
		t.Fatalf("BufferSize() = %d", got.BufferSize())
	}
	if got.A2Waveform() != WaveformA2 {
		t.Fatalf("A2Waveform() = %d", got.A2Waveform())
	}
}

func TestParseDevInfoM641(t *testing.T) {
	got, err := parseDevInfo(devInfoResponse(800, 600, 0, "", "M641"))
	if err != nil {
		t.Fatal(err)
	}
	if got.A2Waveform() != 4 {
		t.Fatalf("A2Waveform() = %d", got.A2Waveform())
	}
}

func TestParseDevInfoInvalid(t *testing.T) {
	data := []struct {
		name string
		in   []uint16
	}{
		{"zero width", devInfoResponse(0, 825, 0, "", "")},
		{"zero height", devInfoResponse(1200, 0, 0, "", "")},
		{"huge", devInfoResponse(0xFFFF, 0xFFFF, 0, "", "")},
		{"short", []uint16{1200, 825}},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			if _, err := parseDevInfo(line.in); !errors.Is(err, ErrProtocol) {
				t.Fatalf("parseDevInfo() = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestAlignRect(t *testing.T) {
	bounds := image.Rect(0, 0, 1200, 825)
	data := []struct {
		in   image.Rectangle
		want image.Rectangle
	}{
		{image.Rect(10, 10, 110, 60), image.Rect(8, 10, 112, 60)},
		{image.Rect(8, 0, 12, 1), image.Rect(8, 0, 12, 1)},
		{image.Rect(1199, 5, 1200, 6), image.Rect(1196, 5, 1200, 6)},
		{image.Rect(-5, -5, 3, 3), image.Rect(0, 0, 4, 3)},
		{image.Rect(2000, 0, 2010, 10), image.Rectangle{}},
		{image.Rectangle{}, image.Rectangle{}},
	}
	for _, line := range data {
		got := AlignRect(line.in, bounds)
		if got != line.want {
			t.Errorf("AlignRect(%v) = %v, want %v", line.in, got, line.want)
		}
		if !line.in.Intersect(bounds).In(got) {
			t.Errorf("AlignRect(%v) = %v shrinks the request", line.in, got)
		}
		if !got.Empty() && (got.Min.X%4 != 0 || (got.Max.X%4 != 0 && got.Max.X != bounds.Max.X)) {
			t.Errorf("AlignRect(%v) = %v not word aligned", line.in, got)
		}
	}
}

func TestAlignRectOddPanel(t *testing.T) {
	// Right edge that is not a multiple of 4 is clipped to the panel.
	got := AlignRect(image.Rect(5, 0, 9, 1), image.Rect(0, 0, 10, 1))
	if want := image.Rect(4, 0, 10, 1); got != want {
		t.Fatalf("AlignRect = %v, want %v", got, want)
	}
}
