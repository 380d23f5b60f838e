// Package convert turns arbitrary images into panel-sized 4-bit grayscale
// frames.
package convert

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/MaxHalford/halfgone"
	"github.com/disintegration/imaging"

	"it8951e/internal/image4bit"
)

// Options control how a source image is fitted to the panel.
type Options struct {
	// Rotation turns the image clockwise by 0, 90, 180 or 270 degrees before
	// fitting.
	Rotation int
	// Dither reduces the image to black and white with Floyd-Steinberg error
	// diffusion. Use it for A2 and fast refreshes, which only render two
	// levels.
	Dither bool
}

// CheckRotation reports whether deg is a supported rotation.
func CheckRotation(deg int) error {
	switch deg {
	case 0, 90, 180, 270:
		return nil
	}
	return fmt.Errorf("convert: rotation %d is not a multiple of 90", deg)
}

// LogicalSize returns the drawing size for a panel of the given size once
// rotated by deg, so that content drawn at that size fills the panel after
// Rotate.
func LogicalSize(panel image.Point, deg int) image.Point {
	if deg == 90 || deg == 270 {
		return image.Pt(panel.Y, panel.X)
	}
	return panel
}

// Rotate turns img clockwise by deg degrees. Unsupported angles return img
// unchanged.
func Rotate(img image.Image, deg int) image.Image {
	switch deg {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// Gray rotates img, scales it to fit size keeping its aspect ratio, centers
// it on white and returns the 8-bit grayscale result anchored at the origin.
func Gray(img image.Image, size image.Point, opts Options) *image.Gray {
	src := Rotate(img, opts.Rotation)
	if sb := src.Bounds(); sb.Dx() != size.X || sb.Dy() != size.Y {
		fitted := imaging.Fit(src, size.X, size.Y, imaging.Lanczos)
		src = imaging.PasteCenter(imaging.New(size.X, size.Y, color.White), fitted)
	}
	dst := image.NewGray(image.Rectangle{Max: size})
	sb := src.Bounds()
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Over)
	if opts.Dither {
		dst = halfgone.FloydSteinbergDitherer{}.Apply(dst)
	}
	return dst
}

// Frame converts img into a packed 4-bit frame of the given size.
func Frame(img image.Image, size image.Point, opts Options) *image4bit.Packed {
	g := Gray(img, size, opts)
	p := image4bit.NewPacked(g.Bounds())
	draw.Draw(p, p.Bounds(), g, image.Point{}, draw.Src)
	return p
}
