package store

import "github.com/matheus3301/relay/internal/protocol"

// OutboxEntry is one message in the client's offline queue.
type OutboxEntry struct {
	ID        string
	Author    string
	Text      string
	Timestamp int64
	Attempts  int
	State     protocol.DeliveryState
}

// Record returns the entry as a message record.
func (e OutboxEntry) Record() protocol.MessageRecord {
	return protocol.MessageRecord{
		ID:        e.ID,
		Text:      e.Text,
		Author:    e.Author,
		Timestamp: e.Timestamp,
		State:     e.State,
	}
}
