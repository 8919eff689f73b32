package fallback

import (
	"context"
	"log/slog"

	"phiguard/internal/audit"
)

// LogChannel writes undelivered entries to a structured logger. It is the
// channel of last resort and cannot fail.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Notify(ctx context.Context, entry audit.Entry, cause error) error {
	c.logger.ErrorContext(ctx, "CRITICAL: undelivered audit entry",
		"actor_id", entry.ActorID,
		"action", entry.Action,
		"resource_type", entry.ResourceType,
		"resource_id", entry.ResourceID,
		"result", entry.Result,
		"reason", entry.Reason,
		"severity", entry.Severity,
		"request_id", entry.RequestID,
		"cause", cause,
	)
	return nil
}
