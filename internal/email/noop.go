package email

import (
	"context"

	"go.uber.org/zap"
)

// NoopSender logs alerts instead of mailing them. Used when no SMTP host is
// configured.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender creates a NoopSender backed by the given logger.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the message and returns nil.
func (n *NoopSender) Send(_ context.Context, to, subject, _ string) error {
	n.logger.Info("alert email not sent (no smtp host)",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}
