package worker

import (
	"context"
	"log/slog"

	audit "accord/pkg/platform/audit"
)

// Handler persists or forwards one event.
type Handler func(ctx context.Context, event audit.Event) error

// Worker consumes audit events from a channel and hands them to a Handler.
// Handler errors are logged and do not stop the loop.
type Worker struct {
	handle Handler
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(handle Handler, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{handle: handle, inbox: inbox, logger: logger}
}

// Run processes events until ctx is cancelled or the inbox is closed and drained.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.handle(ctx, event); err != nil {
				w.logger.WarnContext(ctx, "audit event dropped",
					"action", event.Action,
					"error", err,
				)
			}
		}
	}
}
