package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Session owns one driver for the lifetime of a run.
type Session struct {
	driver Driver
	exec   *Executor
	opts   *Options
	logger *slog.Logger

	retries     atomic.Int64
	released    atomic.Bool
	releaseOnce sync.Once
	releaseErr  error
}

// Acquire launches a driver on a fresh executor. Any failure is returned as
// a *BrowserStartError after partially started resources are cleaned up.
func Acquire(ctx context.Context, launch Launcher, opts *Options, logger *slog.Logger) (*Session, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	exec := NewExecutor()
	var driver Driver
	err := exec.Do(ctx, func() error {
		d, err := launch(ctx, opts)
		if err != nil {
			return err
		}
		driver = d
		return nil
	})
	if err != nil {
		// the launch may still be in flight if ctx ended; tear down whatever it yields
		go func() {
			_ = exec.Do(context.Background(), func() error {
				if driver != nil {
					return driver.Close()
				}
				return nil
			})
			exec.Close()
		}()
		return nil, &BrowserStartError{Err: err}
	}

	return &Session{
		driver: driver,
		exec:   exec,
		opts:   opts,
		logger: logger.With("component", "browser_session"),
	}, nil
}

// Navigate loads url, retrying once with the alternate wait strategy.
func (s *Session) Navigate(ctx context.Context, url string, wait WaitStrategy) error {
	err := s.navigate(ctx, url, wait)
	if err == nil {
		return Sleep(ctx, s.opts.SettleDelay)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrSessionReleased) {
		return err
	}

	alt := wait.Alternate()
	s.retries.Add(1)
	s.logger.Warn("navigation failed, retrying with alternate wait strategy",
		"url", url,
		"wait", wait,
		"retry_wait", alt,
		"error", err)

	err = s.navigate(ctx, url, alt)
	if err == nil {
		return Sleep(ctx, s.opts.SettleDelay)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return &NavigationError{
		URL:     url,
		Wait:    alt,
		Timeout: errors.Is(err, ErrNavigationTimeout),
		Err:     err,
	}
}

func (s *Session) navigate(ctx context.Context, url string, wait WaitStrategy) error {
	return s.do(ctx, func() error {
		return s.driver.Navigate(ctx, url, wait, s.opts.NavigationTimeout)
	})
}

// Content returns the rendered HTML of the current page.
func (s *Session) Content(ctx context.Context) (string, error) {
	var html string
	err := s.do(ctx, func() error {
		var err error
		html, err = s.driver.Content(ctx)
		return err
	})
	return html, err
}

// ScrollToLoad scrolls the page times times, pausing delay after each
// scroll so lazily loaded content can render.
func (s *Session) ScrollToLoad(ctx context.Context, times int, delay time.Duration) error {
	for i := 0; i < times; i++ {
		if err := s.do(ctx, func() error {
			return s.driver.Scroll(ctx, s.opts.ScrollStep)
		}); err != nil {
			return err
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var img []byte
	err := s.do(ctx, func() error {
		var err error
		img, err = s.driver.Screenshot(ctx)
		return err
	})
	return img, err
}

// NavigationRetries counts alternate-strategy retries issued by this session.
func (s *Session) NavigationRetries() int64 {
	return s.retries.Load()
}

// Release closes the driver exactly once. Later calls return the first result.
func (s *Session) Release() error {
	s.releaseOnce.Do(func() {
		s.released.Store(true)

		timeout := s.opts.ReleaseTimeout
		if timeout <= 0 {
			timeout = DefaultOptions().ReleaseTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := s.exec.Do(ctx, s.driver.Close)
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("driver busy at release, closing directly", "timeout", timeout)
			err = s.driver.Close()
		}
		s.exec.Close()

		if err != nil {
			s.logger.Error("failed to close driver", "error", err)
		} else {
			s.logger.Debug("browser session released")
		}
		s.releaseErr = err
	})
	return s.releaseErr
}

func (s *Session) do(ctx context.Context, fn func() error) error {
	if s.released.Load() {
		return ErrSessionReleased
	}
	err := s.exec.Do(ctx, fn)
	if errors.Is(err, ErrExecutorClosed) {
		return ErrSessionReleased
	}
	return err
}
