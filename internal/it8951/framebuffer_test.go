package it8951

import (
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newFB(w, h int) *FrameBuffer {
	return NewFrameBuffer(PanelGeometry{Width: w, Height: h, BPP: 4})
}

func TestFrameBufferNew(t *testing.T) {
	fb := newFB(10, 4)
	if _, ok := fb.Dirty(); ok {
		t.Fatal("fresh buffer is dirty")
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 10; x++ {
			if fb.Level(x, y) != Background {
				t.Fatalf("(%d,%d) = %d", x, y, fb.Level(x, y))
			}
		}
	}
	if got := len(fb.Snapshot().Pix); got != (PanelGeometry{Width: 10, Height: 4, BPP: 4}).BufferSize() {
		t.Fatalf("buffer is %d bytes", got)
	}
}

func TestFrameBufferSetPixelRegion(t *testing.T) {
	fb := newFB(33, 17)
	points := []struct {
		x, y int
		v    uint8
	}{
		{0, 0, 0}, {1, 0, 7}, {32, 16, 3}, {31, 5, 12}, {16, 8, 1},
	}
	for _, p := range points {
		fb.SetPixel(p.x, p.y, p.v)
		got := fb.Region(image.Rect(p.x, p.y, p.x+1, p.y+1))
		if len(got) != 1 || got[0]>>4 != p.v {
			t.Fatalf("Region at (%d,%d) = %x, want %x in the high nibble", p.x, p.y, got, p.v)
		}
		if fb.Level(p.x, p.y) != p.v {
			t.Fatalf("Level(%d,%d) = %d", p.x, p.y, fb.Level(p.x, p.y))
		}
	}
}

func TestFrameBufferDirtyUnion(t *testing.T) {
	fb := newFB(100, 100)
	fb.SetPixel(1, 1, 0)
	fb.FillRect(image.Rect(10, 10, 20, 20), 0)
	// Writes of an unchanged level still count.
	fb.SetPixel(50, 2, Background)
	r, ok := fb.TakeDirty()
	if !ok || r != image.Rect(1, 1, 51, 20) {
		t.Fatalf("TakeDirty() = %v, %t", r, ok)
	}
	if _, ok := fb.Dirty(); ok {
		t.Fatal("dirty after TakeDirty")
	}
}

func TestFrameBufferClip(t *testing.T) {
	fb := newFB(20, 10)
	fb.SetPixel(-1, 0, 0)
	fb.SetPixel(20, 0, 0)
	fb.FillRect(image.Rect(15, 5, 30, 30), 0)
	fb.FillRect(image.Rect(40, 40, 50, 50), 0)
	if n := fb.TakeClipped(); n != 4 {
		t.Fatalf("TakeClipped() = %d, want 4", n)
	}
	if n := fb.TakeClipped(); n != 0 {
		t.Fatalf("TakeClipped() again = %d", n)
	}
	r, ok := fb.Dirty()
	if !ok || r != image.Rect(15, 5, 20, 10) {
		t.Fatalf("Dirty() = %v, %t", r, ok)
	}
	if fb.Level(19, 9) != 0 {
		t.Fatal("in-bounds part of the fill was dropped")
	}
}

func TestFrameBufferClear(t *testing.T) {
	fb := newFB(8, 8)
	fb.Clear(0)
	r, ok := fb.Dirty()
	if !ok || r != fb.Bounds() {
		t.Fatalf("Dirty() = %v, %t", r, ok)
	}
	if fb.Level(7, 7) != 0 {
		t.Fatal("not cleared")
	}
}

func TestFrameBufferDraw(t *testing.T) {
	fb := newFB(16, 16)
	fb.Set(0, 0, color.Black)
	fb.Draw(image.Rect(8, 8, 24, 24), image.NewUniform(color.Black), image.Point{}, 0)
	r, _ := fb.TakeDirty()
	if r != image.Rect(0, 0, 16, 16) {
		t.Fatalf("dirty = %v", r)
	}
	if fb.Level(0, 0) != 0 || fb.Level(15, 15) != 0 || fb.Level(7, 7) != Background {
		t.Fatal("draw result wrong")
	}
	if fb.TakeClipped() != 1 {
		t.Fatal("clipped draw not counted")
	}
}

func TestFrameBufferTransfer(t *testing.T) {
	fb := newFB(6, 2)
	fb.SetPixel(0, 0, 0x1)
	fb.SetPixel(5, 1, 0x2)
	got := fb.transfer(fb.Bounds(), false)
	// 6 pixels pad to 8: two words per row.
	want := []byte{0x1F, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xF2, 0xFF}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("transfer (-want +got):\n%s", diff)
	}
	got = fb.transfer(fb.Bounds(), true)
	for i := range want {
		want[i] = ^want[i]
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reversed transfer (-want +got):\n%s", diff)
	}
	if fb.transfer(image.Rectangle{}, false) != nil {
		t.Fatal("empty transfer")
	}
}
