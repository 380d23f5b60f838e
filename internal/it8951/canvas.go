package it8951

import (
	"image"
	"image/color"
	"image/draw"

	"it8951e/internal/image4bit"
)

// Canvas is the drawing surface handed to a Writer. It is only valid during
// the Update call that created it; afterwards every write is ignored and
// Err reports ErrCanvasExpired.
type Canvas struct {
	fb      *FrameBuffer
	expired bool
	late    int
}

func (c *Canvas) Bounds() image.Rectangle {
	return c.fb.Bounds()
}

func (c *Canvas) ColorModel() color.Model {
	return image4bit.Gray4Model
}

func (c *Canvas) At(x, y int) color.Color {
	return c.fb.At(x, y)
}

// Set implements draw.Image.
func (c *Canvas) Set(x, y int, col color.Color) {
	if c.use() {
		c.fb.Set(x, y, col)
	}
}

// SetPixel stores level v at (x, y).
func (c *Canvas) SetPixel(x, y int, v uint8) {
	if c.use() {
		c.fb.SetPixel(x, y, v)
	}
}

// FillRect fills r with level v.
func (c *Canvas) FillRect(r image.Rectangle, v uint8) {
	if c.use() {
		c.fb.FillRect(r, v)
	}
}

// Fill sets the whole panel to level v.
func (c *Canvas) Fill(v uint8) {
	if c.use() {
		c.fb.FillRect(c.fb.Bounds(), v)
	}
}

// DrawImage copies src into r starting at sp.
func (c *Canvas) DrawImage(r image.Rectangle, src image.Image, sp image.Point) {
	if c.use() {
		c.fb.Draw(r, src, sp, draw.Src)
	}
}

// Err returns ErrCanvasExpired once the canvas was used after its update.
func (c *Canvas) Err() error {
	if c.late > 0 {
		return ErrCanvasExpired
	}
	return nil
}

func (c *Canvas) use() bool {
	if c.expired {
		c.late++
		return false
	}
	return true
}

func (c *Canvas) expire() {
	c.expired = true
}

var _ draw.Image = &Canvas{}
