package preview

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"it8951e/internal/image4bit"
)

func TestTerminalRender(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminalWriter(&buf, 20)
	img := imaging.New(80, 40, color.White)
	if err := term.Render(img); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	// 80x40 scaled to 20 columns is 10 pixels tall, 5 rows once halved.
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5", len(lines))
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "\033[0m") || !strings.HasSuffix(l, "\033[0m") {
			t.Errorf("line not reset: %q", l)
		}
	}
}

func TestTerminalHalt(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTerminalWriter(&buf, 10).Halt(); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "\033[0m" {
		t.Fatalf("Halt wrote %q", buf.String())
	}
}

func TestTerminalSmallImage(t *testing.T) {
	var buf bytes.Buffer
	if err := NewTerminalWriter(&buf, 0).Render(image4bit.NewPacked(image.Rect(0, 0, 4, 1))); err != nil {
		t.Fatal(err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("output = %q", buf.String())
	}
	buf.Reset()
	if err := NewTerminalWriter(&buf, 10).Render(image.NewGray(image.Rectangle{})); err != nil || buf.Len() != 0 {
		t.Errorf("empty image wrote %q, %v", buf.String(), err)
	}
}

func TestPNG(t *testing.T) {
	p := image4bit.NewPacked(image.Rect(0, 0, 6, 3))
	p.Fill(p.Bounds(), image4bit.Gray4{Y: image4bit.White})
	p.SetGray4(1, 1, image4bit.Gray4{Y: 0})

	var buf bytes.Buffer
	if err := EncodePNG(&buf, p); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if image4bit.Luma(img.At(1, 1)) != 0 || image4bit.Luma(img.At(0, 0)) != 15 {
		t.Error("pixels not preserved")
	}

	path := filepath.Join(t.TempDir(), "frame.png")
	if err := WritePNG(path, p); err != nil {
		t.Fatal(err)
	}
	if _, err := imaging.Open(path); err != nil {
		t.Fatal(err)
	}
}
