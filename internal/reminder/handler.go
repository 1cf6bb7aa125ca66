package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Handler performs the consumer-side action for one reminder payload.
// Implementations must stay short relative to the broker consumer timeout
// and must be idempotent: the pipeline is at-least-once and re-announces
// persistently overdue tasks every scan cycle.
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// LogHandler emits one structured log line per reminder. Malformed JSON is
// logged and treated as handled: a deterministic parse failure cannot be
// fixed by retrying, so it is acknowledged rather than retried or
// dead-lettered.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a handler that logs reminders with the given logger.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logger: logger}
}

// Handle decodes the payload and logs the reminder.
func (h *LogHandler) Handle(ctx context.Context, body []byte) error {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		h.logger.Error("discarding malformed reminder payload",
			"error", err,
			"payloadBytes", len(body))
		return nil
	}

	h.logger.Info("task reminder",
		"taskId", msg.TaskID,
		"title", msg.Title,
		"dueDate", msg.DueDate.UTC(),
		"fullName", msg.FullName,
		"email", msg.Email)
	return nil
}
