package pages

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
)

// Picture shows an image file. The file is reread on every render so it can
// be replaced while running.
type Picture struct {
	name string
	path string
}

func NewPicture(name, path string) *Picture {
	return &Picture{name: name, path: path}
}

func (p *Picture) Name() string { return p.name }

func (p *Picture) Render(context.Context, image.Point, Data) (image.Image, error) {
	return imaging.Open(p.path, imaging.AutoOrientation(true))
}
