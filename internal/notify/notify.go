// Package notify posts task outcomes to chat channels. Notifiers subscribe
// to the event bus and react to terminal events only; delivery failures
// are logged and never affect the run.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShashankBejjanki1241/GIZMO/internal/eventbus"
	"github.com/ShashankBejjanki1241/GIZMO/internal/model"
)

// Notifier delivers one outcome message to a channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event *model.TaskEvent) error
}

// Watcher fans terminal events out to the configured notifiers.
type Watcher struct {
	bus       *eventbus.Bus
	notifiers []Notifier
	logger    *zap.Logger
}

// NewWatcher creates a Watcher over the given notifiers.
func NewWatcher(bus *eventbus.Bus, notifiers []Notifier, logger *zap.Logger) *Watcher {
	return &Watcher{bus: bus, notifiers: notifiers, logger: logger}
}

// Run blocks, forwarding terminal events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	if len(w.notifiers) == 0 {
		return
	}
	ch := w.bus.SubscribeAll()
	defer w.bus.UnsubscribeAll(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if !event.Stage.Terminal() {
				continue
			}
			for _, n := range w.notifiers {
				if err := n.Notify(ctx, event); err != nil {
					w.logger.Warn("notifier delivery failed",
						zap.String("notifier", n.Name()),
						zap.String("task_id", event.TaskID),
						zap.Error(err))
				}
			}
		}
	}
}

// outcomeText renders the shared message body.
func outcomeText(event *model.TaskEvent) string {
	icon := "✅"
	if event.Stage == model.StateFailed {
		icon = "❌"
	}
	return fmt.Sprintf("%s Task `%s` finished: %s — %s", icon, event.TaskID, event.Stage, event.Message)
}
