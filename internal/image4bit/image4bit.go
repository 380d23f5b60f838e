// Package image4bit implements the 16-level gray image held by IT8951
// controllers.
//
// Pixels are packed two per byte, row-major. The high nibble holds the pixel
// with the even x offset and the low nibble the odd one, which is the order
// in which the controller consumes bytes in big-endian load mode. A row with
// an odd width ends with a padding nibble.
//
// Levels are luminance: 0 is black, 15 is white.
package image4bit

import (
	"image"
	"image/color"
)

const (
	Black = 0x0
	White = 0xF
)

// Gray4 is a 4-bit luminance value. Only the low nibble of Y is meaningful.
type Gray4 struct {
	Y uint8
}

// RGBA implements color.Color.
func (c Gray4) RGBA() (r, g, b, a uint32) {
	y := uint32(c.Y&0x0F) * 0x1111
	return y, y, y, 0xFFFF
}

func toGray4(c color.Color) color.Color {
	if g, ok := c.(Gray4); ok {
		return Gray4{Y: g.Y & 0x0F}
	}
	return Gray4{Y: Luma(c)}
}

// Luma converts c to a 4-bit level using the ITU-R 601 weights. Transparent
// pixels are composited over white so that cleared areas stay blank.
func Luma(c color.Color) uint8 {
	r, g, b, a := c.RGBA()
	y := (299*r + 587*g + 114*b + 500) / 1000
	if a < 0xFFFF {
		y += 0xFFFF - a
		if y > 0xFFFF {
			y = 0xFFFF
		}
	}
	// Round to the nearest of 16 levels.
	return uint8((y*15 + 0x7FFF) / 0xFFFF)
}

// Gray4Model converts colors to Gray4.
var Gray4Model = color.ModelFunc(toGray4)

// Packed is a 4-bit image with two pixels per byte.
type Packed struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// StrideFor returns the number of bytes used by one row of w pixels.
func StrideFor(w int) int {
	return (w + 1) / 2
}

// NewPacked allocates an image covering r, filled with black.
func NewPacked(r image.Rectangle) *Packed {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return &Packed{Rect: r}
	}
	stride := StrideFor(w)
	return &Packed{Pix: make([]byte, stride*h), Stride: stride, Rect: r}
}

func (p *Packed) ColorModel() color.Model {
	return Gray4Model
}

func (p *Packed) Bounds() image.Rectangle {
	return p.Rect
}

func (p *Packed) At(x, y int) color.Color {
	return p.Gray4At(x, y)
}

// Gray4At returns the level at (x, y), or black outside the bounds.
func (p *Packed) Gray4At(x, y int) Gray4 {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return Gray4{}
	}
	off, shift := p.pixOffset(x, y)
	return Gray4{Y: (p.Pix[off] >> shift) & 0x0F}
}

func (p *Packed) Set(x, y int, c color.Color) {
	p.SetGray4(x, y, Gray4Model.Convert(c).(Gray4))
}

// SetGray4 stores c at (x, y). Points outside the bounds are ignored.
func (p *Packed) SetGray4(x, y int, c Gray4) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	off, shift := p.pixOffset(x, y)
	p.Pix[off] = (p.Pix[off] &^ (0x0F << shift)) | ((c.Y & 0x0F) << shift)
}

// Fill sets every pixel of r ∩ bounds to c.
func (p *Packed) Fill(r image.Rectangle, c Gray4) {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return
	}
	v := c.Y & 0x0F
	both := v<<4 | v
	for y := r.Min.Y; y < r.Max.Y; y++ {
		x := r.Min.X
		// Leading odd pixel.
		if (x-p.Rect.Min.X)&1 == 1 {
			p.SetGray4(x, y, c)
			x++
		}
		off, _ := p.pixOffset(x, y)
		for ; x+1 < r.Max.X; x += 2 {
			p.Pix[off] = both
			off++
		}
		if x < r.Max.X {
			p.SetGray4(x, y, c)
		}
	}
}

// Pack returns a copy of r ∩ bounds in the packed layout, with the first
// pixel of r in the high nibble of each row's first byte. Rows are
// StrideFor(r.Dx()) bytes long. Pixels past the image are filled with pad.
func (p *Packed) Pack(r image.Rectangle, pad Gray4) []byte {
	if r.Empty() {
		return nil
	}
	stride := StrideFor(r.Dx())
	out := make([]byte, stride*r.Dy())
	aligned := (r.Min.X-p.Rect.Min.X)&1 == 0 && r.In(p.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := out[(y-r.Min.Y)*stride : (y-r.Min.Y+1)*stride]
		if aligned {
			off, _ := p.pixOffset(r.Min.X, y)
			copy(row, p.Pix[off:off+stride])
			if r.Dx()&1 == 1 {
				row[stride-1] = row[stride-1]&0xF0 | pad.Y&0x0F
			}
			continue
		}
		for x := r.Min.X; x < r.Min.X+2*stride; x++ {
			v := pad.Y & 0x0F
			if x < r.Max.X && (image.Point{X: x, Y: y}.In(p.Rect)) {
				v = p.Gray4At(x, y).Y
			}
			i := x - r.Min.X
			row[i/2] |= v << uint(4*(1-i&1))
		}
	}
	return out
}

// pixOffset returns the byte offset and shift for (x, y). Even x offsets use
// the high nibble.
func (p *Packed) pixOffset(x, y int) (offset int, shift uint) {
	dx := x - p.Rect.Min.X
	offset = (y-p.Rect.Min.Y)*p.Stride + dx/2
	shift = uint(4 * (1 - dx&1))
	return
}
