package it8951

import (
	"image"
	"image/color"
	"image/draw"

	"it8951e/internal/image4bit"
)

// Background is the level a fresh or cleared buffer is filled with.
const Background = image4bit.White

// FrameBuffer is the host copy of the panel image, 4 bits per pixel, with a
// single bounding rectangle of everything written since the last flush.
//
// Writes outside the panel are clipped and counted rather than failing.
type FrameBuffer struct {
	img     *image4bit.Packed
	dirty   image.Rectangle
	clipped int
}

// NewFrameBuffer allocates a white buffer for g with nothing dirty.
func NewFrameBuffer(g PanelGeometry) *FrameBuffer {
	img := image4bit.NewPacked(g.Bounds())
	img.Fill(img.Rect, image4bit.Gray4{Y: Background})
	return &FrameBuffer{img: img}
}

func (f *FrameBuffer) Bounds() image.Rectangle {
	return f.img.Rect
}

func (f *FrameBuffer) ColorModel() color.Model {
	return image4bit.Gray4Model
}

func (f *FrameBuffer) At(x, y int) color.Color {
	return f.img.Gray4At(x, y)
}

// Set implements draw.Image.
func (f *FrameBuffer) Set(x, y int, c color.Color) {
	f.SetPixel(x, y, image4bit.Luma(c))
}

// Level returns the 4-bit level at (x, y).
func (f *FrameBuffer) Level(x, y int) uint8 {
	return f.img.Gray4At(x, y).Y
}

// SetPixel stores level v (0 black, 15 white) at (x, y).
func (f *FrameBuffer) SetPixel(x, y int, v uint8) {
	p := image.Point{X: x, Y: y}
	if !p.In(f.img.Rect) {
		f.clipped++
		return
	}
	f.img.SetGray4(x, y, image4bit.Gray4{Y: v})
	f.mark(image.Rectangle{Min: p, Max: p.Add(image.Point{X: 1, Y: 1})})
}

// FillRect fills r with level v. The part of r outside the panel is dropped.
func (f *FrameBuffer) FillRect(r image.Rectangle, v uint8) {
	in := r.Intersect(f.img.Rect)
	if in != r.Canon() {
		f.clipped++
	}
	if in.Empty() {
		return
	}
	f.img.Fill(in, image4bit.Gray4{Y: v})
	f.mark(in)
}

// Draw composes src onto r the way draw.Draw does, tracking the written
// area. Pixels falling outside the panel are clipped.
func (f *FrameBuffer) Draw(r image.Rectangle, src image.Image, sp image.Point, op draw.Op) {
	in := r.Intersect(f.img.Rect)
	if in != r.Canon() {
		f.clipped++
	}
	if in.Empty() {
		return
	}
	draw.Draw(f.img, in, src, sp.Add(in.Min.Sub(r.Min)), op)
	f.mark(in)
}

// Clear fills the whole panel with v and marks it dirty.
func (f *FrameBuffer) Clear(v uint8) {
	f.img.Fill(f.img.Rect, image4bit.Gray4{Y: v})
	f.MarkAll()
}

// Region returns the packed pixels of r ∩ panel, rows of
// image4bit.StrideFor(width) bytes, high nibble first.
func (f *FrameBuffer) Region(r image.Rectangle) []byte {
	return f.img.Pack(r.Intersect(f.img.Rect), image4bit.Gray4{Y: Background})
}

// Dirty returns the area written since the last TakeDirty.
func (f *FrameBuffer) Dirty() (image.Rectangle, bool) {
	return f.dirty, !f.dirty.Empty()
}

// TakeDirty returns the dirty area and clears it.
func (f *FrameBuffer) TakeDirty() (image.Rectangle, bool) {
	r, ok := f.Dirty()
	f.dirty = image.Rectangle{}
	return r, ok
}

// MarkAll marks the whole panel dirty.
func (f *FrameBuffer) MarkAll() {
	f.dirty = f.img.Rect
}

// TakeClipped returns how many writes were clipped since the last call and
// resets the count.
func (f *FrameBuffer) TakeClipped() int {
	n := f.clipped
	f.clipped = 0
	return n
}

// Snapshot returns a copy of the buffer contents.
func (f *FrameBuffer) Snapshot() *image4bit.Packed {
	c := *f.img
	c.Pix = append([]byte(nil), f.img.Pix...)
	return &c
}

func (f *FrameBuffer) mark(r image.Rectangle) {
	f.dirty = f.dirty.Union(r)
}

// transfer packs r for an image load: rows padded to a whole 16-bit word,
// levels inverted when reversed is set.
func (f *FrameBuffer) transfer(r image.Rectangle, reversed bool) []byte {
	if r.Empty() {
		return nil
	}
	stride := image4bit.StrideFor(r.Dx())
	row := (r.Dx() + pixelsWord - 1) / pixelsWord * 2
	packed := f.img.Pack(r, image4bit.Gray4{Y: Background})
	out := packed
	if row != stride {
		pad := byte(Background<<4 | Background)
		out = make([]byte, row*r.Dy())
		for y := 0; y < r.Dy(); y++ {
			dst := out[y*row : (y+1)*row]
			n := copy(dst, packed[y*stride:(y+1)*stride])
			for i := n; i < row; i++ {
				dst[i] = pad
			}
		}
	}
	if reversed {
		for i := range out {
			out[i] = ^out[i]
		}
	}
	return out
}

var _ draw.Image = &FrameBuffer{}
