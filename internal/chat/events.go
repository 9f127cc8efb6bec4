package chat

import "context"

// EventType discriminates stream events.
type EventType int

const (
	// EventDelta carries a chunk of assistant content.
	EventDelta EventType = iota
	// EventError carries a consumer-safe failure message. It is
	// terminal: nothing follows it.
	EventError
	// EventDone terminates a successful stream. Every stream ends with
	// exactly one terminal event, EventDone on success or EventError on
	// failure.
	EventDone
)

// Event is one item of a streamed completion.
type Event struct {
	Type    EventType
	Content string // delta content, set for EventDelta
	Message string // failure description, set for EventError
}

// EventFunc receives stream events in order. Returning an error stops
// the stream; the orchestrator emits no further events after that.
type EventFunc func(ctx context.Context, ev Event) error
