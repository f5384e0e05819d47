package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gocolly/colly/v2"
)

// staticDriver fetches server-rendered HTML without a browser. Scrolling is a
// no-op and screenshots are unsupported.
type staticDriver struct {
	collector *colly.Collector
	body      string
	url       string
}

// LaunchStatic builds a colly-backed driver.
func LaunchStatic(ctx context.Context, opts *Options) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := &staticDriver{}
	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	if opts.Transport != nil {
		c.WithTransport(opts.Transport)
	}
	if opts.ProxyServer != "" {
		if err := c.SetProxy(opts.ProxyServer); err != nil {
			return nil, fmt.Errorf("failed to set proxy: %w", err)
		}
	}

	headers := opts.headers()
	c.OnRequest(func(r *colly.Request) {
		for k, v := range headers {
			r.Headers.Set(k, v)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		d.body = string(r.Body)
		d.url = r.Request.URL.String()
	})

	d.collector = c
	return d, nil
}

func (d *staticDriver) Navigate(ctx context.Context, url string, _ WaitStrategy, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout > 0 {
		d.collector.SetRequestTimeout(timeout)
	}

	d.body, d.url = "", ""
	if err := d.collector.Visit(url); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
		}
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	return nil
}

func (d *staticDriver) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.url == "" {
		return "", errors.New("no page loaded")
	}
	return d.body, nil
}

func (d *staticDriver) Scroll(ctx context.Context, _ int) error {
	return ctx.Err()
}

func (d *staticDriver) Screenshot(context.Context) ([]byte, error) {
	return nil, ErrUnsupported
}

func (d *staticDriver) Close() error {
	return nil
}
