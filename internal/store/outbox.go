package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/relay/internal/protocol"
)

// QueueOutbox inserts or replaces an entry in the offline queue.
func (db *DB) QueueOutbox(e OutboxEntry) error {
	state := e.State
	if state == "" {
		state = protocol.Pending
	}
	_, err := db.Exec(`
		INSERT INTO outbox (id, username, text, timestamp, attempts, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			attempts = excluded.attempts,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		e.ID, e.Author, e.Text, e.Timestamp, e.Attempts, string(state), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("queue outbox %s: %w", e.ID, err)
	}
	return nil
}

// RemoveOutbox deletes an entry. Removing an unknown ID is not an error.
func (db *DB) RemoveOutbox(id string) error {
	if _, err := db.Exec(`DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove outbox %s: %w", id, err)
	}
	return nil
}

// PendingOutbox returns every queued entry, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, username, text, timestamp, attempts, state
		FROM outbox ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("pending outbox: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var state string
		if err := rows.Scan(&e.ID, &e.Author, &e.Text, &e.Timestamp, &e.Attempts, &state); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		e.State = protocol.DeliveryState(state)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
