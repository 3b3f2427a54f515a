package notification

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher only logs notifications. Used when no broker is deployed.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the payload
func (p *LogPublisher) Publish(_ context.Context, key string, payload []byte) error {
	p.logger.Info("Notification",
		zap.String("account_id", key),
		zap.ByteString("payload", payload))
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error { return nil }
