package modloader

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/modhost/internal/pubsub"
)

// Topics the Loader publishes lifecycle events on.
const (
	TopicModuleLoaded     = "module.loaded"
	TopicModuleLoadFailed = "module.load_failed"
	TopicModuleReclaimed  = "module.reclaimed"
	TopicModuleUnloaded   = "module.unloaded"
)

// Event is the JSON payload of a module lifecycle message.
type Event struct {
	EventID        string    `json:"event_id"`
	Context        string    `json:"context,omitempty"`
	Path           string    `json:"path,omitempty"`
	Source         string    `json:"source,omitempty"`
	LoadID         string    `json:"load_id,omitempty"`
	RevisionHash   string    `json:"revision_hash,omitempty"`
	ScriptModule   string    `json:"script_module,omitempty"`
	BuildDirective string    `json:"build_directive,omitempty"`
	Replaced       bool      `json:"replaced,omitempty"`
	ErrorType      string    `json:"error_type,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func publishEvent(ctx context.Context, p pubsub.Publisher, topic string, ev Event) error {
	ev.EventID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	metadata := map[string]string{}
	if ev.LoadID != "" {
		metadata["load_id"] = ev.LoadID
	}
	if ev.RevisionHash != "" {
		metadata["revision_hash"] = ev.RevisionHash
	}

	return p.Publish(ctx, pubsub.Message{
		Topic:    topic,
		Context:  ev.Context,
		Payload:  data,
		Metadata: metadata,
	})
}

// DecodeEvent parses the payload of a lifecycle message.
func DecodeEvent(msg pubsub.Message) (Event, error) {
	var ev Event
	err := json.Unmarshal(msg.Payload, &ev)
	return ev, err
}
