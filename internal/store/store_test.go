package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matheus3301/relay/internal/protocol"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func rec(id, author, text string, ts int64) protocol.MessageRecord {
	return protocol.MessageRecord{ID: id, Author: author, Text: text, Timestamp: ts}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate once.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (history + outbox)", result.Version)
	}
	if result.Dirty {
		t.Error("schema reported dirty")
	}
}

func TestAppendHistoryIgnoresDuplicateID(t *testing.T) {
	db := testDB(t)

	inserted, err := db.AppendHistory(rec("m1", "alice", "hi", 1000))
	if err != nil || !inserted {
		t.Fatalf("first append = %v, %v", inserted, err)
	}
	inserted, err = db.AppendHistory(rec("m1", "alice", "hi again", 2000))
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate id inserted")
	}

	n, err := db.CountHistory()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestRecentHistoryOrderAndLimit(t *testing.T) {
	db := testDB(t)
	for i, id := range []string{"a", "b", "c", "d"} {
		if _, err := db.AppendHistory(rec(id, "bob", id, int64(i))); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.RecentHistory(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "d" {
		t.Fatalf("RecentHistory(2) = %+v, want [c d]", got)
	}
	if got[0].Author != "bob" || got[0].State != protocol.Sent {
		t.Errorf("record = %+v", got[0])
	}
}

func TestPruneAndClearHistory(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 5; i++ {
		if _, err := db.AppendHistory(rec(string(rune('a'+i)), "u", "t", int64(i))); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := db.PruneHistory(3)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	got, _ := db.RecentHistory(10)
	if len(got) != 3 || got[0].ID != "c" {
		t.Errorf("after prune = %+v", got)
	}

	if err := db.ClearHistory(); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.CountHistory(); n != 0 {
		t.Errorf("count after clear = %d", n)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	second := OutboxEntry{ID: "m2", Author: "alice", Text: "two", Timestamp: 2000}
	first := OutboxEntry{ID: "m1", Author: "alice", Text: "one", Timestamp: 1000}
	for _, e := range []OutboxEntry{second, first} {
		if err := db.QueueOutbox(e); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "m1" {
		t.Fatalf("pending = %+v, want m1 first", pending)
	}
	if pending[0].State != protocol.Pending {
		t.Errorf("state = %q, want pending", pending[0].State)
	}

	first.Attempts = 3
	first.State = protocol.Failed
	if err := db.QueueOutbox(first); err != nil {
		t.Fatal(err)
	}
	if err := db.RemoveOutbox("m2"); err != nil {
		t.Fatal(err)
	}
	if err := db.RemoveOutbox("missing"); err != nil {
		t.Errorf("RemoveOutbox(missing) = %v", err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d entries, want 1", len(pending))
	}
	if pending[0].Attempts != 3 || pending[0].State != protocol.Failed || pending[0].Text != "one" {
		t.Errorf("entry = %+v", pending[0])
	}
	if r := pending[0].Record(); r.Author != "alice" || r.State != protocol.Failed {
		t.Errorf("Record() = %+v", r)
	}
}

func TestOpenMigrated(t *testing.T) {
	db, err := OpenMigrated(filepath.Join(t.TempDir(), "q.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.PendingOutbox(); err != nil {
		t.Errorf("PendingOutbox on fresh db: %v", err)
	}
}

func TestOpenCreatesPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "relay.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil || mode != "wal" {
		t.Errorf("journal_mode = %q, %v", mode, err)
	}
	var sync int
	if err := db.QueryRow(`PRAGMA synchronous`).Scan(&sync); err != nil || sync != 1 {
		t.Errorf("synchronous = %d, %v; want 1 (NORMAL)", sync, err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") succeeded")
	}
}
