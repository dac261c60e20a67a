package engine

import "time"

// Lifecycle event types.
const (
	EventModelTrained      = "model_trained"
	EventScoringDataLoaded = "scoring_data_loaded"
	EventScored            = "scored"
	EventModelActivated    = "model_activated"
)

// Event describes a completed lifecycle transition.
type Event struct {
	Type      string                 `json:"type"`
	ModelID   string                 `json:"model_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventSink receives lifecycle events. Publish must not block.
type EventSink interface {
	Publish(event Event)
}

type noopSink struct{}

func (noopSink) Publish(Event) {}

func (e *Engine) publish(eventType, modelID string, data map[string]interface{}) {
	e.events.Publish(Event{
		Type:      eventType,
		ModelID:   modelID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}
