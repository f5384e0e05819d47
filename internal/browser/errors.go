package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrNavigationTimeout is wrapped by drivers when a page load exceeds its timeout.
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrUnsupported is returned by drivers lacking a capability.
	ErrUnsupported = errors.New("operation not supported by driver")

	ErrSessionReleased = errors.New("browser session released")
	ErrExecutorClosed  = errors.New("executor closed")
)

// NavigationError reports a page load that failed under both wait strategies.
type NavigationError struct {
	URL     string
	Wait    WaitStrategy
	Timeout bool
	Err     error
}

func (e *NavigationError) Error() string {
	kind := "failed"
	if e.Timeout {
		kind = "timed out"
	}
	return fmt.Sprintf("navigation to %s %s (wait=%s): %v", e.URL, kind, e.Wait, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// BrowserStartError reports that no driver could be launched.
type BrowserStartError struct {
	Err error
}

func (e *BrowserStartError) Error() string {
	return fmt.Errorf("browser start: %w", e.Err).Error()
}

func (e *BrowserStartError) Unwrap() error {
	return e.Err
}
