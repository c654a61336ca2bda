// internal/browser/open.go
package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/config"
)

// Open starts the configured driver. Any failure wraps ErrDriverUnavailable.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (Driver, error) {
	switch cfg.Driver {
	case config.DriverChromedp, "":
		return NewChromeDriver(ctx, cfg, logger)
	case config.DriverPlaywright:
		return NewPlaywrightDriver(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("%w: unknown driver %q", ErrDriverUnavailable, cfg.Driver)
}
