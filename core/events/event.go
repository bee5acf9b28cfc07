package events

// Event represents a structured state change emitted by the liquidation engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (journal, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding every event.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
