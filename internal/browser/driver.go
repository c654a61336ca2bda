// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrElementNotFound is returned when a selector matches nothing.
	ErrElementNotFound = errors.New("no element found for selector")
	// ErrUnsupportedSelector is returned for an unknown selector strategy.
	ErrUnsupportedSelector = errors.New("unsupported selector strategy")
	// ErrDriverUnavailable means the browser process or its control channel is
	// gone. Callers treat it as fatal for the run.
	ErrDriverUnavailable = errors.New("browser driver unavailable")
)

// By names a selector strategy.
type By string

const (
	ByCSS   By = "css"
	ByID    By = "id"
	ByName  By = "name"
	ByXPath By = "xpath"
)

// Strategies lists every supported selector strategy in display order.
var Strategies = []By{ByCSS, ByID, ByName, ByXPath}

// ParseBy converts a user supplied strategy name into a By.
func ParseBy(s string) (By, error) {
	switch By(strings.ToLower(strings.TrimSpace(s))) {
	case ByCSS, "":
		return ByCSS, nil
	case ByID:
		return ByID, nil
	case ByName:
		return ByName, nil
	case ByXPath:
		return ByXPath, nil
	}
	return "", fmt.Errorf("%w: %q (expected one of css, id, name, xpath)", ErrUnsupportedSelector, s)
}

// Selector identifies an element on the current page.
type Selector struct {
	Value string
	By    By
}

// CSS returns a css selector.
func CSS(value string) Selector { return Selector{Value: value, By: ByCSS} }

func (s Selector) String() string {
	return fmt.Sprintf("%s=%s", s.By, s.Value)
}

// cssEquivalent rewrites id and name selectors as css so drivers only need
// to support css and xpath natively.
func (s Selector) cssEquivalent() (string, bool) {
	switch s.By {
	case ByCSS:
		return s.Value, true
	case ByID:
		return fmt.Sprintf(`[id=%q]`, s.Value), true
	case ByName:
		return fmt.Sprintf(`[name=%q]`, s.Value), true
	}
	return "", false
}

// Driver is the set of browser primitives the agent's tools are built on.
// Implementations own exactly one page.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// HTML returns the full outer markup of the current document.
	HTML(ctx context.Context) (string, error)
	// Type clears the element and types text into it.
	Type(ctx context.Context, sel Selector, text string) error
	Click(ctx context.Context, sel Selector) error
	// Exists reports whether the selector matches at least one element right now.
	Exists(ctx context.Context, sel Selector) (bool, error)
	// WaitFor blocks until the selector matches a visible element or timeout elapses.
	WaitFor(ctx context.Context, sel Selector, timeout time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}
