// internal/browser/chromedp.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/config"
)

// ChromeDriver drives a single Chrome tab over CDP.
type ChromeDriver struct {
	// ctx carries the CDP target; every action runs on a context derived from it.
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *zap.Logger
	cfg         config.BrowserConfig

	mu       sync.Mutex
	isClosed bool
}

var _ Driver = (*ChromeDriver)(nil)

// NewChromeDriver launches Chrome and opens one tab sized to the configured viewport.
func NewChromeDriver(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDriver, error) {
	logger = logger.Named("chromedp")

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	for _, arg := range cfg.Args {
		name, value := splitFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}

	// The browser must outlive per-call deadlines, so it hangs off a detached context.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(Detach(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Warnf),
	)

	d := &ChromeDriver{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
		cfg:         cfg,
	}

	startCtx, cancel := context.WithTimeout(ctx, cfg.NavigationTimeout)
	defer cancel()
	if err := d.run(startCtx, chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight))); err != nil {
		d.Close(context.Background())
		return nil, fmt.Errorf("%w: failed to start chrome: %v", ErrDriverUnavailable, err)
	}

	logger.Info("Chrome session started.", zap.Bool("headless", cfg.Headless))
	return d, nil
}

// splitFlag turns "--name=value" into a chromedp flag pair.
func splitFlag(arg string) (string, interface{}) {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:]
		}
	}
	return arg, true
}

// run executes actions on a context bound to both the tab and the caller.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(d.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if d.ctx.Err() != nil || errors.Is(err, chromedp.ErrInvalidContext) {
		return fmt.Errorf("%w: %v", ErrDriverUnavailable, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// withTimeout bounds a single action by the configured action timeout.
func (d *ChromeDriver) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = d.cfg.ActionTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// queryOptions maps a selector onto chromedp query options.
func queryOptions(sel Selector) (string, []chromedp.QueryOption, error) {
	if sel.By == ByXPath {
		return sel.Value, []chromedp.QueryOption{chromedp.BySearch}, nil
	}
	css, ok := sel.cssEquivalent()
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedSelector, sel.By)
	}
	return css, []chromedp.QueryOption{chromedp.ByQuery}, nil
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := d.withTimeout(ctx, d.cfg.NavigationTimeout)
	defer cancel()
	if err := d.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := d.run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

func (d *ChromeDriver) HTML(ctx context.Context) (string, error) {
	var dom string
	actCtx, cancel := d.withTimeout(ctx, 0)
	defer cancel()
	if err := d.run(actCtx, chromedp.OuterHTML("html", &dom, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page markup: %w", err)
	}
	return dom, nil
}

func (d *ChromeDriver) Exists(ctx context.Context, sel Selector) (bool, error) {
	query, opts, err := queryOptions(sel)
	if err != nil {
		return false, err
	}
	var nodes []*cdp.Node
	// AtLeast(0) makes the query return immediately instead of polling.
	opts = append(opts, chromedp.AtLeast(0))
	if err := d.run(ctx, chromedp.Nodes(query, &nodes, opts...)); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// requireElement fails fast with ErrElementNotFound instead of letting chromedp poll
// until the deadline.
func (d *ChromeDriver) requireElement(ctx context.Context, sel Selector) error {
	found, err := d.Exists(ctx, sel)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, sel)
	}
	return nil
}

func (d *ChromeDriver) Type(ctx context.Context, sel Selector, text string) error {
	if err := d.requireElement(ctx, sel); err != nil {
		return err
	}
	query, opts, _ := queryOptions(sel)
	actCtx, cancel := d.withTimeout(ctx, 0)
	defer cancel()
	return d.run(actCtx,
		chromedp.Clear(query, opts...),
		chromedp.SendKeys(query, text, opts...),
	)
}

func (d *ChromeDriver) Click(ctx context.Context, sel Selector) error {
	if err := d.requireElement(ctx, sel); err != nil {
		return err
	}
	query, opts, _ := queryOptions(sel)
	actCtx, cancel := d.withTimeout(ctx, 0)
	defer cancel()
	return d.run(actCtx, chromedp.Click(query, append(opts, chromedp.NodeVisible)...))
}

func (d *ChromeDriver) WaitFor(ctx context.Context, sel Selector, timeout time.Duration) error {
	query, opts, err := queryOptions(sel)
	if err != nil {
		return err
	}
	waitCtx, cancel := d.withTimeout(ctx, timeout)
	defer cancel()
	if err := d.run(waitCtx, chromedp.WaitVisible(query, opts...)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timeout waiting for %s: %w", sel, err)
		}
		return err
	}
	return nil
}

func (d *ChromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	actCtx, cancel := d.withTimeout(ctx, 0)
	defer cancel()
	if err := d.run(actCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Close terminates the tab and the browser process. Safe to call more than once.
func (d *ChromeDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.isClosed {
		d.mu.Unlock()
		return nil
	}
	d.isClosed = true
	d.mu.Unlock()

	d.logger.Debug("Closing chrome session.")
	// Cancel(ctx) asks chrome to exit gracefully before the allocator kills it.
	if err := chromedp.Cancel(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Debug("Graceful chrome shutdown failed.", zap.Error(err))
	}
	d.cancelTab()
	d.cancelAlloc()
	return nil
}
