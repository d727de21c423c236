package task

import (
	"context"
	"log/slog"

	"github.com/pageforge/pageforge-api/internal/events"
)

// QueueEventHandler implements the events.EventHandler interface to wake the
// dispatcher when tasks become dispatchable, so queued work does not wait for
// the next poll tick.
type QueueEventHandler struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewQueueEventHandler creates an event handler that kicks the given
// dispatcher on task.queued events.
func NewQueueEventHandler(dispatcher *Dispatcher, log *slog.Logger) *QueueEventHandler {
	return &QueueEventHandler{
		dispatcher: dispatcher,
		logger:     log.With("component", "queue_event_handler"),
	}
}

// HandleEvent wakes the dispatcher for task.queued events and ignores
// everything else.
func (h *QueueEventHandler) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.EventTaskQueued {
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}

	h.dispatcher.Kick()
	return nil
}

// Ensure QueueEventHandler implements events.EventHandler
var _ events.EventHandler = (*QueueEventHandler)(nil)
