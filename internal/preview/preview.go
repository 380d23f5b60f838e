// Package preview shows frames without a panel: as ANSI blocks in a
// terminal, or as PNG files.
package preview

import (
	"bytes"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
)

// DefaultColumns is the terminal width used when none is given.
const DefaultColumns = 100

// Terminal draws frames with one ANSI 256-color block per character cell.
type Terminal struct {
	w       io.Writer
	cols    int
	palette *ansi256.Palette
	buf     bytes.Buffer
}

// NewTerminal writes to stdout, translating escape codes where the console
// needs it.
func NewTerminal(cols int) *Terminal {
	return NewTerminalWriter(colorable.NewColorableStdout(), cols)
}

// NewTerminalWriter writes to w.
func NewTerminalWriter(w io.Writer, cols int) *Terminal {
	if cols <= 0 {
		cols = DefaultColumns
	}
	return &Terminal{w: w, cols: cols, palette: ansi256.Default}
}

func (t *Terminal) String() string {
	return "preview.Terminal"
}

// Render scales img to the terminal width, halving rows since cells are
// about twice as tall as wide, and writes it.
func (t *Terminal) Render(img image.Image) error {
	b := img.Bounds()
	if b.Empty() {
		return nil
	}
	cols := t.cols
	if b.Dx() < cols {
		cols = b.Dx()
	}
	rows := b.Dy() * cols / b.Dx() / 2
	if rows < 1 {
		rows = 1
	}
	small := imaging.Resize(img, cols, rows, imaging.Box)

	t.buf.Reset()
	for y := 0; y < rows; y++ {
		_, _ = t.buf.WriteString("\033[0m")
		for x := 0; x < cols; x++ {
			c := small.NRGBAAt(x, y)
			c.A = 255
			_, _ = io.WriteString(&t.buf, t.palette.Block(c))
		}
		_, _ = t.buf.WriteString("\033[0m\n")
	}
	_, err := t.buf.WriteTo(t.w)
	return err
}

// Halt resets the terminal colors.
func (t *Terminal) Halt() error {
	_, err := t.w.Write([]byte("\033[0m"))
	return err
}

// WritePNG saves img to path.
func WritePNG(path string, img image.Image) error {
	return imaging.Save(img, path)
}

// EncodePNG writes img to w as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}
