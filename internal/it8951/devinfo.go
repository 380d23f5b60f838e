package it8951

import (
	"fmt"
	"image"
	"strings"
)

// maxPanelSide bounds the geometry accepted from the controller.
const maxPanelSide = 4096

// devInfoWords is the length of the GET_DEV_INFO response.
const devInfoWords = 20

// PanelGeometry describes the attached panel. BPP is always 4.
type PanelGeometry struct {
	Width  int
	Height int
	BPP    int
}

// Bounds returns the panel rectangle anchored at the origin.
func (g PanelGeometry) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.Width, g.Height)
}

// BufferSize is the number of bytes of a packed frame buffer.
func (g PanelGeometry) BufferSize() int {
	return (g.Width*g.BPP + 7) / 8 * g.Height
}

func (g PanelGeometry) String() string {
	return fmt.Sprintf("%dx%d@%dbpp", g.Width, g.Height, g.BPP)
}

// DevInfo is the system information record reported by the controller.
type DevInfo struct {
	PanelGeometry
	// ImageBufferAddr is the controller memory address of the image buffer.
	ImageBufferAddr uint32
	FWVersion       string
	LUTVersion      string
}

func (d DevInfo) String() string {
	return fmt.Sprintf("%s buf=%#x fw=%q lut=%q", d.PanelGeometry, d.ImageBufferAddr, d.FWVersion, d.LUTVersion)
}

// A2Waveform returns the A2 mode number of the loaded LUT. The 6" M641
// LUT puts A2 in slot 4.
func (d DevInfo) A2Waveform() uint16 {
	if d.LUTVersion == "M641" {
		return 4
	}
	return WaveformA2
}

// parseDevInfo decodes the response words. A geometry that cannot describe
// a panel is a protocol error.
func parseDevInfo(w []uint16) (DevInfo, error) {
	if len(w) < devInfoWords {
		return DevInfo{}, fmt.Errorf("%w: device info has %d words, want %d", ErrProtocol, len(w), devInfoWords)
	}
	d := DevInfo{
		PanelGeometry: PanelGeometry{
			Width:  int(w[0]),
			Height: int(w[1]),
			BPP:    4,
		},
		ImageBufferAddr: uint32(w[3])<<16 | uint32(w[2]),
		FWVersion:       wordsString(w[4:12]),
		LUTVersion:      wordsString(w[12:20]),
	}
	if d.Width == 0 || d.Height == 0 || d.Width > maxPanelSide || d.Height > maxPanelSide {
		return DevInfo{}, fmt.Errorf("%w: invalid panel geometry %dx%d", ErrProtocol, d.Width, d.Height)
	}
	return d, nil
}

// wordsString decodes a NUL padded string stored low byte first.
func wordsString(w []uint16) string {
	b := make([]byte, 0, 2*len(w))
	for _, v := range w {
		b = append(b, byte(v), byte(v>>8))
	}
	return strings.TrimRight(string(b), "\x00 ")
}

// AlignRect widens r so that its horizontal edges fall on word boundaries
// of the packed 4bpp transfer, then clips it to bounds. The result always
// contains r ∩ bounds.
func AlignRect(r, bounds image.Rectangle) image.Rectangle {
	r = r.Intersect(bounds)
	if r.Empty() {
		return image.Rectangle{}
	}
	r.Min.X = floorTo(r.Min.X, pixelsWord)
	r.Max.X = ceilTo(r.Max.X, pixelsWord)
	return r.Intersect(bounds)
}

func floorTo(v, n int) int {
	if v >= 0 {
		return v / n * n
	}
	return -((-v + n - 1) / n * n)
}

func ceilTo(v, n int) int {
	return -floorTo(-v, n)
}
