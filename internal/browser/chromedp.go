package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// networkIdleQuiet approximates playwright's networkidle for chromedp, which
// has no equivalent load condition.
const networkIdleQuiet = 500 * time.Millisecond

type chromedpDriver struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	closeOnce   sync.Once
}

// LaunchChromedp starts a local Chrome over the DevTools protocol.
func LaunchChromedp(ctx context.Context, opts *Options) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	)
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyServer))
	}

	// the browser outlives the launching context; Close tears it down
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	headers := make(network.Headers)
	for k, v := range opts.headers() {
		headers[k] = v
	}

	d := &chromedpDriver{ctx: browserCtx, cancel: cancel, allocCancel: allocCancel}
	if err := d.run(ctx, opts.NavigationTimeout,
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
	); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return d, nil
}

// run executes actions on the browser tab, bounded by timeout and by ctx.
func (d *chromedpDriver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(d.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(d.ctx)
	}
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (d *chromedpDriver) Navigate(ctx context.Context, url string, wait WaitStrategy, timeout time.Duration) error {
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if wait == WaitNetworkIdle {
		actions = append(actions, chromedp.Sleep(networkIdleQuiet))
	}

	if err := d.run(ctx, timeout, actions...); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	return nil
}

func (d *chromedpDriver) Content(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return html, nil
}

func (d *chromedpDriver) Scroll(ctx context.Context, deltaY int) error {
	var offset float64
	script := fmt.Sprintf("window.scrollBy(0, %d); window.scrollY", deltaY)
	if err := d.run(ctx, 0, chromedp.Evaluate(script, &offset)); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

func (d *chromedpDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, 0, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return buf, nil
}

func (d *chromedpDriver) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		d.allocCancel()
	})
	return nil
}
