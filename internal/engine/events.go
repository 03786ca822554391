package engine

// Event represents an engine lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the engine. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

const (
	EventInitStart    = "init_start"
	EventInitReady    = "init_ready"
	EventInitFailed   = "init_failed"
	EventReset        = "conversation_reset"
	EventTurnDone     = "turn_done"
	EventTurnFailed   = "turn_failed"
	EventToolInvoked  = "tool_invoked"
	EventSessionClose = "session_closed"
)
