package app

import (
	"context"
	"log/slog"

	"github.com/nfrund/modhost/internal/modloader"
	"github.com/nfrund/modhost/internal/module"
	"github.com/nfrund/modhost/internal/pubsub"
)

// EventLog writes module lifecycle events to the log.
type EventLog struct {
	module.BaseComponent
	subscriber pubsub.Subscriber
	cancel     context.CancelFunc
}

// NewEventLog creates an EventLog reading from subscriber. A nil subscriber
// makes it a no-op.
func NewEventLog(subscriber pubsub.Subscriber) *EventLog {
	return &EventLog{subscriber: subscriber}
}

// Name returns the component name.
func (e *EventLog) Name() string {
	return "module_event_log"
}

// Boot subscribes to every module lifecycle topic.
func (e *EventLog) Boot(ctx context.Context) error {
	if e.subscriber == nil {
		return nil
	}

	ctx, e.cancel = context.WithCancel(ctx)
	for _, topic := range []string{
		modloader.TopicModuleLoaded,
		modloader.TopicModuleLoadFailed,
		modloader.TopicModuleReclaimed,
		modloader.TopicModuleUnloaded,
	} {
		if err := e.subscriber.Subscribe(ctx, topic, e.handle); err != nil {
			e.cancel()
			return err
		}
	}
	return nil
}

// Shutdown ends the subscriptions.
func (e *EventLog) Shutdown(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.BaseComponent.Shutdown(ctx)
}

func (e *EventLog) handle(ctx context.Context, msg pubsub.Message) error {
	ev, err := modloader.DecodeEvent(msg)
	if err != nil {
		slog.Warn("Dropping malformed module event", "topic", msg.Topic, "error", err)
		return nil
	}

	level := slog.LevelInfo
	if ev.Error != "" {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "Module event",
		"topic", msg.Topic,
		"context", ev.Context,
		"load_id", ev.LoadID,
		"revision_hash", ev.RevisionHash,
		"error", ev.Error,
	)
	return nil
}
