// Package notify delivers site status changes to people.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sitewatch-go/internal/metrics"
)

// Notifier delivers one message.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// LogNotifier writes notifications to the log. It never fails.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, title, body string) error {
	n.logger.Info(title, zap.String("body", body))
	metrics.Notifications.WithLabelValues("log", "success").Inc()
	return nil
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func record(channel string, err error) error {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.Notifications.WithLabelValues(channel, result).Inc()
	return err
}
