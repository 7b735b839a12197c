package events

// Event is a state change announced by one of the ledger engines.
type Event interface {
	EventType() string
}

// Emitter forwards events to interested subscribers such as the RPC layer or
// a structured log.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event. Engines fall back to it when no emitter
// has been configured.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}
