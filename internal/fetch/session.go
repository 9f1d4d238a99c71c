package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// SessionConfig controls the HTTP session.
type SessionConfig struct {
	// BaseURL is the forum's site root; requests to its host are
	// throttled, requests to third-party hosts are not.
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	ImageTimeout time.Duration
}

// Session is the page fetcher shared by every traversal task. It wraps
// a colly collector (cloned per request) carrying the login cookies,
// and routes same-site requests through the throttle.
type Session struct {
	baseCollector *colly.Collector
	cfg           SessionConfig
	baseHost      string
	limiter       *Limiter
	logger        *zap.Logger
}

// NewSession constructs an authenticated fetch session. cookies may be
// nil for anonymous scraping. limiter may be nil for no throttling.
func NewSession(cfg SessionConfig, cookies []*http.Cookie, limiter *Limiter, logger *zap.Logger) (*Session, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 45 * time.Second
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	if len(cookies) > 0 {
		if err := base.SetCookies(cfg.BaseURL, cookies); err != nil {
			return nil, fmt.Errorf("set session cookies: %w", err)
		}
	}

	return &Session{
		baseCollector: base,
		cfg:           cfg,
		baseHost:      strings.ToLower(u.Hostname()),
		limiter:       limiter,
		logger:        logger,
	}, nil
}

// Get fetches a page through the session and returns the parsed
// document. Same-site requests wait on the throttle first.
func (s *Session) Get(ctx context.Context, rawURL string) (*goquery.Document, error) {
	body, _, err := s.fetch(ctx, rawURL, s.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return doc, nil
}

// Download fetches raw bytes (image downloads) with the longer image
// timeout. Protocol-relative URLs are normalized to https.
func (s *Session) Download(ctx context.Context, rawURL string) ([]byte, int, error) {
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}
	return s.fetchWithStatus(ctx, rawURL, s.cfg.ImageTimeout)
}

func (s *Session) fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, int, error) {
	body, status, err := s.fetchWithStatus(ctx, rawURL, timeout)
	if err != nil {
		return nil, status, err
	}
	if status != http.StatusOK {
		return nil, status, fmt.Errorf("GET %s: status %d", rawURL, status)
	}
	return body, status, nil
}

func (s *Session) fetchWithStatus(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, int, error) {
	if s.limiter != nil && s.sameSite(rawURL) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	collector := s.baseCollector.Clone()
	collector.SetRequestTimeout(timeout)

	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{
			body:   append([]byte{}, r.Body...),
			status: r.StatusCode,
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{status: status, err: err})
	})

	s.logger.Debug("fetching page", zap.String("url", rawURL))
	if err := collector.Visit(rawURL); err != nil {
		return nil, 0, fmt.Errorf("visit %s: %w", rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if res.err != nil {
			return nil, res.status, fmt.Errorf("GET %s: %w", rawURL, res.err)
		}
		return res.body, res.status, nil
	default:
		return nil, 0, fmt.Errorf("GET %s: no response produced", rawURL)
	}
}

func (s *Session) sameSite(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	return host == "" || host == s.baseHost
}

type fetchResult struct {
	body   []byte
	status int
	err    error
}
