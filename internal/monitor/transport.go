// internal/monitor/transport.go
package monitor

import (
	"context"

	"go.uber.org/zap"
)

// Alert is a notification about one error run.
type Alert struct {
	Recipient  string
	Subject    string
	Body       string
	Attributes map[string]string
}

// AlertTransport delivers alerts (SNS in production).
type AlertTransport interface {
	Send(ctx context.Context, alert Alert) error
}

// Object is one file headed for object storage.
type Object struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// ObjectStore uploads objects and returns their location (S3 in production).
type ObjectStore interface {
	Put(ctx context.Context, obj Object) (string, error)
}

// LogTransport writes alerts to the log instead of delivering them. It is used
// when no alert topic is configured, and counts as a successful delivery.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport creates a LogTransport.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger.Named("alerts")}
}

// Send logs the alert.
func (t *LogTransport) Send(_ context.Context, alert Alert) error {
	t.logger.Warn("No alert topic configured; alert logged only.",
		zap.String("subject", alert.Subject),
		zap.Any("attributes", alert.Attributes),
	)
	return nil
}
