package eventlog

// Emitter fans out lifecycle events to whatever is watching the run,
// without blocking the caller if nobody is draining fast enough.
type Emitter struct {
	events chan Event
}

// NewEmitter builds an Emitter with the given channel buffer size.
func NewEmitter(bufferSize int) *Emitter {
	return &Emitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event to subscribers. If the channel is full the event
// is dropped rather than blocking the tick loop; a dropped event only
// costs a TUI a stale line, never a missed state transition, since the
// store remains the source of truth.
func (e *Emitter) Emit(event Event) {
	select {
	case e.events <- event:
	default:
	}
}

// Events returns the read-only subscriber channel.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Call once, after the tick loop has
// stopped emitting.
func (e *Emitter) Close() {
	close(e.events)
}
