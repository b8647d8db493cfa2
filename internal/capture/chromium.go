package capture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
)

// Default capture parameters: a 1080p screen, like the overlay window.
const (
	DefaultWidth   = 1920
	DefaultHeight  = 1080
	DefaultTimeout = 30 * time.Second
)

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/overlay".
	URL string

	// OutputPath is where the PNG screenshot will be written.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Timeout bounds the entire capture operation. If zero, DefaultTimeout.
	Timeout time.Duration
}

// withDefaults fills zero values.
func (o Options) withDefaults() (Options, error) {
	if o.URL == "" {
		return o, fmt.Errorf("capture: URL is required")
	}
	if o.OutputPath == "" {
		return o, fmt.Errorf("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o, nil
}

// CaptureOverlayPNG renders the /overlay page in headless Chromium and writes
// a PNG of the viewport. It waits for `[data-ready="true"]`, which the page
// sets once the line is rendered, so machines without a desktop session can
// still preview the overlay.
func CaptureOverlayPNG(parentCtx context.Context, opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(opts.Width, opts.Height),
		)...,
	)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	// Apply timeout to the entire capture sequence.
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		chromedp.CaptureScreenshot(&png),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}

	return nil
}
