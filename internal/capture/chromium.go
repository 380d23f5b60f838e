package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultTimeout bounds a capture when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:3000/dashboard".
	URL string

	// Width and Height are the viewport dimensions in pixels, normally the
	// logical page size.
	Width  int
	Height int

	// WaitSelector, when set, must be visible before the screenshot is
	// taken, e.g. `[data-ready="true"]`. Otherwise the body is awaited.
	WaitSelector string

	// Settle is an extra delay for final paints.
	Settle time.Duration

	// Timeout bounds the entire capture operation.
	Timeout time.Duration
}

// Screenshot launches a headless Chromium through chromedp, loads opts.URL
// in a viewport of the requested size and returns the PNG screenshot.
func Screenshot(parent context.Context, opts Options) ([]byte, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("capture: URL is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid viewport %dx%d", opts.Width, opts.Height)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	sel := opts.WaitSelector
	if sel == "" {
		sel = "body"
	}

	ctx, cancel := chromedp.NewContext(parent)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var buf []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(sel, chromedp.ByQuery),
	}
	if opts.Settle > 0 {
		tasks = append(tasks, chromedp.Sleep(opts.Settle))
	}
	tasks = append(tasks, chromedp.CaptureScreenshot(&buf))

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return buf, nil
}

// Image is Screenshot decoded.
func Image(ctx context.Context, opts Options) (image.Image, error) {
	buf, err := Screenshot(ctx, opts)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("capture: decode screenshot: %w", err)
	}
	return img, nil
}
