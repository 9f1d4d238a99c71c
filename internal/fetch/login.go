package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// loginHost serves the shared ProBoards login form linked from every
// forum homepage.
const loginHost = "login.proboards.com"

// Login drives the ProBoards login flow in a headless browser and
// returns the authenticated session cookies. The caller treats any
// error as fatal: no authenticated content can be scraped without the
// cookies.
func Login(ctx context.Context, homeURL, username, password string, navTimeout time.Duration, logger *zap.Logger) ([]*http.Cookie, error) {
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, 3*navTimeout)
	defer cancel()

	logger.Info("logging in", zap.String("url", homeURL))

	// The homepage links to the shared ProBoards login form; follow it
	// rather than guessing the URL, since it carries the return target.
	var loginURL string
	findLink := fmt.Sprintf(
		`(document.querySelector('a[href^="https://%s/login"]') || {}).href || ""`,
		loginHost,
	)
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(homeURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(findLink, &loginURL),
	); err != nil {
		return nil, fmt.Errorf("load homepage: %w", err)
	}
	if loginURL == "" {
		return nil, fmt.Errorf("no login link found on %s", homeURL)
	}

	var finalURL string
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(`input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="email"]`, username, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, password, chromedp.ByQuery),
		chromedp.Click(`input[name="continue"]`, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
		chromedp.Location(&finalURL),
	); err != nil {
		return nil, fmt.Errorf("submit login form: %w", err)
	}
	if strings.Contains(finalURL, loginHost) {
		return nil, fmt.Errorf("login rejected (still on %s)", loginHost)
	}

	var cookies []*http.Cookie
	if err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, &http.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HttpOnly: c.HTTPOnly,
				// Expiry is ignored: session cookies stay valid for the
				// lifetime of the scrape session.
			})
		}
		return nil
	})); err != nil {
		return nil, fmt.Errorf("collect cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("login produced no cookies")
	}

	logger.Info("login successful", zap.Int("cookies", len(cookies)))
	return cookies, nil
}
