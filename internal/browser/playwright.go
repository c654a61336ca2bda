// internal/browser/playwright.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/config"
)

const playwrightInstallTimeout = 5 * time.Minute

// PlaywrightDriver drives a single Chromium page through Playwright.
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	logger  *zap.Logger
	cfg     config.BrowserConfig

	mu       sync.Mutex
	isClosed bool
}

var _ Driver = (*PlaywrightDriver)(nil)

// NewPlaywrightDriver starts the Playwright driver, launches Chromium and opens one page.
func NewPlaywrightDriver(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*PlaywrightDriver, error) {
	logger = logger.Named("playwright")

	if cfg.InstallBrowsers {
		if err := ensureInstallation(ctx, logger); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
		}
	}

	pw, err := playwright.Run(&playwright.RunOptions{Stdout: io.Discard, Stderr: io.Discard})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to start playwright driver: %v", ErrDriverUnavailable, err)
	}

	b, err := pw.Chromium.Launch(prepareLaunchOptions(cfg))
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("%w: failed to launch browser instance: %v", ErrDriverUnavailable, err)
	}

	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight},
	})
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("%w: failed to create browser context: %v", ErrDriverUnavailable, err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("%w: failed to create page: %v", ErrDriverUnavailable, err)
	}
	page.SetDefaultTimeout(float64(cfg.ActionTimeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(cfg.NavigationTimeout.Milliseconds()))

	logger.Info("Playwright session started.", zap.String("browser_version", b.Version()))
	return &PlaywrightDriver{pw: pw, browser: b, page: page, logger: logger, cfg: cfg}, nil
}

func ensureInstallation(ctx context.Context, logger *zap.Logger) error {
	logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- playwright.Install(&playwright.RunOptions{
			Browsers: []string{"chromium"},
			Stdout:   io.Discard,
			Stderr:   io.Discard,
		})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to install playwright browsers: %w", err)
		}
		return nil
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

// prepareLaunchOptions merges the container-friendly defaults with user args.
func prepareLaunchOptions(cfg config.BrowserConfig) playwright.BrowserTypeLaunchOptions {
	defaultArgs := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
	}
	return playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     append(defaultArgs, cfg.Args...),
		Timeout:  playwright.Float(60000),
	}
}

// playwrightSelector renders a selector in Playwright's engine-prefixed syntax.
func playwrightSelector(sel Selector) (string, error) {
	if sel.By == ByXPath {
		return "xpath=" + sel.Value, nil
	}
	css, ok := sel.cssEquivalent()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSelector, sel.By)
	}
	return "css=" + css, nil
}

// timeoutFor shrinks the fallback timeout to the caller's deadline. Playwright
// calls are not context aware, so this is how cancellation reaches them.
func timeoutFor(ctx context.Context, fallback time.Duration) *float64 {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < fallback {
			fallback = remaining
		}
	}
	if fallback < time.Millisecond {
		fallback = time.Millisecond
	}
	return playwright.Float(float64(fallback.Milliseconds()))
}

// classify maps Playwright failures onto the package sentinels.
func (d *PlaywrightDriver) classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Target closed"),
		strings.Contains(msg, "has been closed"),
		strings.Contains(msg, "Browser closed"):
		return fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("timeout: %w", err)
	}
	return err
}

func (d *PlaywrightDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeoutFor(ctx, d.cfg.NavigationTimeout),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, d.classify(err))
	}
	return nil
}

func (d *PlaywrightDriver) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return d.page.URL(), nil
}

func (d *PlaywrightDriver) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := d.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to capture page markup: %w", d.classify(err))
	}
	return content, nil
}

func (d *PlaywrightDriver) Exists(ctx context.Context, sel Selector) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	query, err := playwrightSelector(sel)
	if err != nil {
		return false, err
	}
	found, err := locatorExists(d.page, query)
	if err != nil {
		return false, d.classify(err)
	}
	return found, nil
}

// locatorSource is the part of playwright.Page that builds locators.
type locatorSource interface {
	Locator(selector string, options ...playwright.PageLocatorOptions) playwright.Locator
}

// locatorExists counts matches through a locator, which holds no remote
// element handle, so repeated presence checks do not pin page objects.
func locatorExists(page locatorSource, query string) (bool, error) {
	n, err := page.Locator(query).Count()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *PlaywrightDriver) requireElement(ctx context.Context, sel Selector) (string, error) {
	found, err := d.Exists(ctx, sel)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, sel)
	}
	query, _ := playwrightSelector(sel)
	return query, nil
}

func (d *PlaywrightDriver) Type(ctx context.Context, sel Selector, text string) error {
	query, err := d.requireElement(ctx, sel)
	if err != nil {
		return err
	}
	if err := d.page.Fill(query, text, playwright.PageFillOptions{Timeout: timeoutFor(ctx, d.cfg.ActionTimeout)}); err != nil {
		return fmt.Errorf("fill failed: %w", d.classify(err))
	}
	return nil
}

func (d *PlaywrightDriver) Click(ctx context.Context, sel Selector) error {
	query, err := d.requireElement(ctx, sel)
	if err != nil {
		return err
	}
	if err := d.page.Click(query, playwright.PageClickOptions{Timeout: timeoutFor(ctx, d.cfg.ActionTimeout)}); err != nil {
		return fmt.Errorf("click failed: %w", d.classify(err))
	}
	return nil
}

func (d *PlaywrightDriver) WaitFor(ctx context.Context, sel Selector, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	query, err := playwrightSelector(sel)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = d.cfg.ActionTimeout
	}
	_, err = d.page.WaitForSelector(query, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: timeoutFor(ctx, timeout),
	})
	if err != nil {
		return fmt.Errorf("wait for %s failed: %w", sel, d.classify(err))
	}
	return nil
}

func (d *PlaywrightDriver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := d.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", d.classify(err))
	}
	return buf, nil
}

// Close shuts down the browser and the Playwright driver. Safe to call more than once.
func (d *PlaywrightDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.isClosed {
		d.mu.Unlock()
		return nil
	}
	d.isClosed = true
	d.mu.Unlock()

	var errs []error
	if err := d.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
	}
	if err := d.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
	}
	return errors.Join(errs...)
}
