// Package browsertest provides a scriptable in-memory browser driver.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maltedev/mercari-scraper/internal/browser"
)

const emptyPage = "<html><head></head><body></body></html>"

type Navigation struct {
	URL  string
	Wait browser.WaitStrategy
}

// Driver serves canned HTML per URL. Successive visits to a URL walk through
// its page list, repeating the last entry.
type Driver struct {
	mu          sync.Mutex
	pages       map[string][]string
	visits      map[string]int
	navErrors   map[string]error
	failUnder   map[string]browser.WaitStrategy
	current     string
	navigations []Navigation
	scrolls     int
	closes      int

	// NavigateHook runs before every navigation; a non-nil error fails it.
	NavigateHook func(ctx context.Context, url string, wait browser.WaitStrategy) error
	Screenshots  []byte
}

func New() *Driver {
	return &Driver{
		pages:     make(map[string][]string),
		visits:    make(map[string]int),
		navErrors: make(map[string]error),
		failUnder: make(map[string]browser.WaitStrategy),
	}
}

func (d *Driver) SetPage(url string, html ...string) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[url] = html
	return d
}

// FailNavigation makes every navigation to url fail with err.
func (d *Driver) FailNavigation(url string, err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navErrors[url] = err
	return d
}

// FailUnder makes navigation to url time out only under wait.
func (d *Driver) FailUnder(url string, wait browser.WaitStrategy) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failUnder[url] = wait
	return d
}

// Launcher returns a launcher that always yields d.
func (d *Driver) Launcher() browser.Launcher {
	return func(ctx context.Context, _ *browser.Options) (browser.Driver, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return d, nil
	}
}

// FailingLauncher returns a launcher that always fails with err.
func FailingLauncher(err error) browser.Launcher {
	return func(context.Context, *browser.Options) (browser.Driver, error) {
		return nil, err
	}
}

func (d *Driver) Navigate(ctx context.Context, url string, wait browser.WaitStrategy, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.NavigateHook != nil {
		if err := d.NavigateHook(ctx, url, wait); err != nil {
			d.record(url, wait)
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigations = append(d.navigations, Navigation{URL: url, Wait: wait})

	if err, ok := d.navErrors[url]; ok {
		return err
	}
	if w, ok := d.failUnder[url]; ok && w == wait {
		return browser.ErrNavigationTimeout
	}

	d.current = url
	d.visits[url]++
	return nil
}

func (d *Driver) record(url string, wait browser.WaitStrategy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigations = append(d.navigations, Navigation{URL: url, Wait: wait})
}

func (d *Driver) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == "" {
		return "", errors.New("no page loaded")
	}
	pages := d.pages[d.current]
	if len(pages) == 0 {
		return emptyPage, nil
	}
	i := d.visits[d.current] - 1
	if i >= len(pages) {
		i = len(pages) - 1
	}
	return pages[i], nil
}

func (d *Driver) Scroll(ctx context.Context, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrolls++
	return nil
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Screenshots == nil {
		return nil, browser.ErrUnsupported
	}
	return d.Screenshots, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *Driver) Navigations() []Navigation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Navigation(nil), d.navigations...)
}

func (d *Driver) Scrolls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrolls
}

func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// FastOptions returns session options without settle delays, for tests.
func FastOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.SettleDelay = 0
	opts.NavigationTimeout = time.Second
	opts.ReleaseTimeout = time.Second
	return opts
}
