package pages

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"it8951e/internal/battery"
	"it8951e/internal/convert"
	"it8951e/internal/image4bit"
	"it8951e/internal/it8951"
	"it8951e/internal/log"
)

// RenderTimeout bounds the rendering of one page.
const RenderTimeout = 20 * time.Second

// Rotator shows its pages in turn, each for a number of update ticks. Only
// the pixels that differ from what the panel already holds are written, so
// an unchanged page costs no refresh and a small change a partial one.
type Rotator struct {
	mu       sync.Mutex
	entries  []Entry
	every    int
	rotation int
	battery  battery.Reader
	now      func() time.Time

	idx   int
	ticks int
}

// NewRotator cycles entries, moving on every `every` ticks. Pages are drawn
// at the panel size rotated clockwise by rotation degrees. br may be nil.
func NewRotator(entries []Entry, every, rotation int, br battery.Reader) *Rotator {
	if every <= 0 {
		every = 1
	}
	if br == nil {
		br = battery.None{}
	}
	return &Rotator{
		entries:  entries,
		every:    every,
		rotation: rotation,
		battery:  br,
		now:      time.Now,
	}
}

// Next switches to the following page at the next tick.
func (r *Rotator) Next() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return
	}
	r.idx = (r.idx + 1) % len(r.entries)
	r.ticks = 0
}

// Current returns the index and name of the page on screen.
func (r *Rotator) Current() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return 0, ""
	}
	return r.idx, r.entries[r.idx].Name()
}

// Writer returns the driver writer drawing the current page. Renders are
// bound to ctx.
func (r *Rotator) Writer(ctx context.Context) it8951.Writer {
	return func(c *it8951.Canvas) error {
		return r.draw(ctx, c)
	}
}

func (r *Rotator) draw(ctx context.Context, c *it8951.Canvas) error {
	r.mu.Lock()
	if len(r.entries) == 0 {
		r.mu.Unlock()
		return nil
	}
	if r.ticks >= r.every {
		r.idx = (r.idx + 1) % len(r.entries)
		r.ticks = 0
	}
	r.ticks++
	e := r.entries[r.idx]
	d := Data{Now: r.now(), Name: e.Name(), Index: r.idx, Count: len(r.entries)}
	r.mu.Unlock()

	d.Battery = r.readBattery(ctx)

	panel := c.Bounds().Size()
	rctx, cancel := context.WithTimeout(ctx, RenderTimeout)
	defer cancel()
	img, err := e.Render(rctx, convert.LogicalSize(panel, r.rotation), d)
	if err != nil {
		return fmt.Errorf("page %s: %w", e.Name(), err)
	}
	frame := convert.Frame(img, panel, convert.Options{Rotation: r.rotation, Dither: e.Dither})
	frame.Rect = frame.Rect.Add(c.Bounds().Min)

	changed := Diff(c, frame)
	if changed.Empty() {
		log.Debug("page unchanged", "page", e.Name())
		return nil
	}
	c.DrawImage(changed, frame, changed.Min)
	log.Debug("page drawn", "page", e.Name(), "region", changed)
	return nil
}

func (r *Rotator) readBattery(ctx context.Context) *battery.Status {
	bctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s, err := r.battery.Read(bctx)
	if err != nil {
		if !errors.Is(err, battery.ErrNoGauge) {
			log.Warn("battery read failed", "err", err)
		}
		return nil
	}
	return &s
}

// Diff returns the smallest rectangle covering every pixel where frame and
// dst differ, within their common bounds.
func Diff(dst image.Image, frame *image4bit.Packed) image.Rectangle {
	b := dst.Bounds().Intersect(frame.Bounds())
	var out image.Rectangle
	for y := b.Min.Y; y < b.Max.Y; y++ {
		first, last := -1, -1
		for x := b.Min.X; x < b.Max.X; x++ {
			if level(dst, x, y) != frame.Gray4At(x, y).Y {
				if first < 0 {
					first = x
				}
				last = x
			}
		}
		if first >= 0 {
			out = out.Union(image.Rect(first, y, last+1, y+1))
		}
	}
	return out
}

func level(img image.Image, x, y int) uint8 {
	if g, ok := img.At(x, y).(image4bit.Gray4); ok {
		return g.Y & 0x0F
	}
	return image4bit.Luma(img.At(x, y))
}
