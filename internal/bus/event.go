package bus

import "time"

// Event is a client-side notification published on the bus. Kind is a
// dotted name; subscribers filter on its prefix ("delivery.", "conn.").
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the chat client.
const (
	ConnState      = "conn.state"
	ConnGaveUp     = "conn.gave_up"
	ConnRejected   = "conn.rejected"
	DeliveryQueued = "delivery.pending"
	DeliveryTry    = "delivery.attempt"
	DeliverySent   = "delivery.sent"
	DeliveryFailed = "delivery.failed"
	ChatMessage    = "chat.message"
	ChatCleared    = "chat.cleared"
	ChatRoster     = "chat.roster"
	ChatError      = "chat.error"
)
