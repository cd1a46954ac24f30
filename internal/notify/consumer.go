package notify

import (
	"context"

	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

// Consumer forwards bus events to a Notifier. It subscribes to every event
// type; a delivery error makes the bus retry the event.
type Consumer struct {
	notifier    Notifier
	logger      *logger.Logger
	workerCount int
}

func NewConsumer(notifier Notifier, log *logger.Logger, workerCount int) *Consumer {
	return &Consumer{
		notifier:    notifier,
		logger:      log,
		workerCount: workerCount,
	}
}

func (c *Consumer) Consume(ctx context.Context, event eventbus.Event) error {
	n, ok, err := FromEvent(event)
	if err != nil {
		c.logger.Error(ctx, "Invalid payload for notification", "event_id", event.ID, "error", err)
		return err
	}
	if !ok {
		return nil
	}

	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.Warn(ctx, "Notification delivery failed",
			"event_id", event.ID,
			"kind", string(n.Kind),
			"error", err,
		)
		return err
	}
	return nil
}

func (c *Consumer) GetWorkerCount() int {
	return c.workerCount
}
