package outbox

import "context"

// Event is anything published on the bus; the name selects the subscribers.
type Event interface {
	EventName() string
}

// Identified is implemented by events that carry an upstream id, such as a
// provider webhook id. Workers log it so a delivery can be traced end to end.
type Identified interface {
	EventID() string
}

// Handler runs one event. A returned error is logged by the bus and the event
// is not retried.
type Handler func(ctx context.Context, e Event) error

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
