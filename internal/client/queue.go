package client

import (
	"sort"
	"sync"

	"github.com/matheus3301/relay/internal/store"
)

// Queue is the offline copy of unacknowledged messages. *store.DB is the
// durable implementation.
type Queue interface {
	QueueOutbox(e store.OutboxEntry) error
	RemoveOutbox(id string) error
	PendingOutbox() ([]store.OutboxEntry, error)
}

// MemoryQueue is a Queue that lives only as long as the process.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]store.OutboxEntry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]store.OutboxEntry)}
}

func (q *MemoryQueue) QueueOutbox(e store.OutboxEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[e.ID] = e
	return nil
}

func (q *MemoryQueue) RemoveOutbox(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
	return nil
}

func (q *MemoryQueue) PendingOutbox() ([]store.OutboxEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]store.OutboxEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}
