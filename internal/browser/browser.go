package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WaitStrategy selects the page-load condition a navigation waits for.
type WaitStrategy string

const (
	WaitNetworkIdle      WaitStrategy = "networkidle"
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
)

// Alternate returns the strategy used when a navigation under s fails.
func (s WaitStrategy) Alternate() WaitStrategy {
	if s == WaitNetworkIdle {
		return WaitDOMContentLoaded
	}
	return WaitNetworkIdle
}

func ParseWaitStrategy(s string) (WaitStrategy, error) {
	switch strings.ToLower(s) {
	case "networkidle", "network_idle":
		return WaitNetworkIdle, nil
	case "domcontentloaded", "dom_content_loaded":
		return WaitDOMContentLoaded, nil
	}
	return "", fmt.Errorf("unknown wait strategy %q", s)
}

// Driver is the capability set every browser backend provides.
// Implementations are not safe for concurrent use; Session serialises calls.
type Driver interface {
	Navigate(ctx context.Context, url string, wait WaitStrategy, timeout time.Duration) error
	Content(ctx context.Context) (string, error)
	Scroll(ctx context.Context, deltaY int) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher starts a Driver.
type Launcher func(ctx context.Context, opts *Options) (Driver, error)

const (
	BackendPlaywright = "playwright"
	BackendChromedp   = "chromedp"
	BackendStatic     = "static"
)

// LauncherFor resolves a backend name to its launcher.
func LauncherFor(backend string) (Launcher, error) {
	switch strings.ToLower(backend) {
	case BackendPlaywright, "":
		return LaunchPlaywright, nil
	case BackendChromedp:
		return LaunchChromedp, nil
	case BackendStatic:
		return LaunchStatic, nil
	}
	return nil, fmt.Errorf("unknown browser backend %q", backend)
}

type Options struct {
	Headless          bool
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	AcceptLanguage    string
	TimezoneID        string
	Locale            string
	ProxyServer       string
	ExtraHeaders      map[string]string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	ScrollStep        int
	ReleaseTimeout    time.Duration

	// Transport overrides the HTTP transport of the static backend.
	Transport http.RoundTripper
}

func DefaultOptions() *Options {
	return &Options{
		Headless:          true,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		AcceptLanguage:    "ja-JP,ja;q=0.9,en;q=0.8",
		TimezoneID:        "Asia/Tokyo",
		Locale:            "ja-JP",
		NavigationTimeout: 60 * time.Second,
		SettleDelay:       3 * time.Second,
		ScrollStep:        2000,
		ReleaseTimeout:    30 * time.Second,
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

func (o *Options) headers() map[string]string {
	h := make(map[string]string, len(o.ExtraHeaders)+1)
	for k, v := range o.ExtraHeaders {
		h[k] = v
	}
	if o.AcceptLanguage != "" {
		h["Accept-Language"] = o.AcceptLanguage
	}
	return h
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
