package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ErrRenderingUnavailable is returned by NopRenderer; callers treat it
// as "skip JS-dependent content" rather than a traversal failure.
var ErrRenderingUnavailable = errors.New("headless rendering unavailable")

// Renderer returns fully rendered HTML for pages whose content is
// produced client-side (poll voter lists).
type Renderer interface {
	Render(ctx context.Context, url string) (*goquery.Document, error)
	Close()
}

// RendererConfig controls the chromedp renderer.
type RendererConfig struct {
	UserAgent  string
	NavTimeout time.Duration
}

// ChromeRenderer implements Renderer with a headless Chrome instance
// shared across renders via a chromedp allocator.
type ChromeRenderer struct {
	cfg         RendererConfig
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromeRenderer creates a headless renderer backed by chromedp.
func NewChromeRenderer(cfg RendererConfig) *ChromeRenderer {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromeRenderer{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Render navigates to url in the headless browser and returns the DOM
// after scripts have run.
func (r *ChromeRenderer) Render(ctx context.Context, url string) (*goquery.Document, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavTimeout)
	defer cancel()

	go func() {
		// Propagate caller cancellation into the chromedp task.
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	var html string
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if r.cfg.UserAgent != "" {
		actions = append(
			[]chromedp.Action{emulation.SetUserAgentOverride(r.cfg.UserAgent)},
			actions...,
		)
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("render %s: %w", url, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered %s: %w", url, err)
	}
	return doc, nil
}

// Close releases the browser allocator.
func (r *ChromeRenderer) Close() {
	r.allocCancel()
}

// NopRenderer is used when headless rendering is disabled; every Render
// reports ErrRenderingUnavailable.
type NopRenderer struct{}

// Render always fails with ErrRenderingUnavailable.
func (NopRenderer) Render(context.Context, string) (*goquery.Document, error) {
	return nil, ErrRenderingUnavailable
}

// Close is a no-op.
func (NopRenderer) Close() {}
