package store

import (
	"fmt"
	"time"

	"github.com/matheus3301/relay/internal/protocol"
)

// AppendHistory stores a record. A record whose ID is already present is
// ignored; the return value reports whether a row was inserted.
func (db *DB) AppendHistory(r protocol.MessageRecord) (bool, error) {
	res, err := db.Exec(`
		INSERT OR IGNORE INTO history (id, username, text, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Author, r.Text, r.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("append history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append history: %w", err)
	}
	return n == 1, nil
}

// RecentHistory returns up to limit records in insertion order, newest last.
func (db *DB) RecentHistory(limit int) ([]protocol.MessageRecord, error) {
	rows, err := db.Query(`
		SELECT id, username, text, timestamp FROM (
			SELECT seq, id, username, text, timestamp FROM history
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []protocol.MessageRecord
	for rows.Next() {
		var r protocol.MessageRecord
		if err := rows.Scan(&r.ID, &r.Author, &r.Text, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.State = protocol.Sent
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneHistory deletes all but the newest keep rows.
func (db *DB) PruneHistory(keep int) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM history WHERE seq NOT IN (
			SELECT seq FROM history ORDER BY seq DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// ClearHistory deletes every row.
func (db *DB) ClearHistory() error {
	if _, err := db.Exec(`DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// CountHistory returns the number of stored rows.
func (db *DB) CountHistory() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}
