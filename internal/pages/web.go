package pages

import (
	"context"
	"image"
	"time"

	"it8951e/internal/capture"
)

// Web captures a page with headless Chromium at the logical panel size.
type Web struct {
	name string
	url  string
	wait string
	// shoot is capture.Image outside tests.
	shoot func(context.Context, capture.Options) (image.Image, error)
}

func NewWeb(name, url, waitSelector string) *Web {
	return &Web{name: name, url: url, wait: waitSelector, shoot: capture.Image}
}

func (w *Web) Name() string { return w.name }

func (w *Web) Render(ctx context.Context, size image.Point, _ Data) (image.Image, error) {
	return w.shoot(ctx, capture.Options{
		URL:          w.url,
		Width:        size.X,
		Height:       size.Y,
		WaitSelector: w.wait,
		Settle:       500 * time.Millisecond,
	})
}
