package notify

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/careslot/internal/model"
)

// LogChannel records the delivery instead of sending it. Used for push until
// a real provider is wired, and as the dev-mode SMS backend.
type LogChannel struct {
	logger  *slog.Logger
	channel model.Channel
}

func NewLogChannel(logger *slog.Logger, channel model.Channel) *LogChannel {
	return &LogChannel{logger: logger, channel: channel}
}

func (c *LogChannel) Send(_ context.Context, task model.NotificationTask) error {
	c.logger.Info("notification delivered (log channel)",
		"channel", string(c.channel),
		"task_id", task.ID,
		"recipient", task.Recipient,
	)
	return nil
}
