package history

import (
	"github.com/matheus3301/relay/internal/protocol"
	"github.com/matheus3301/relay/internal/store"
)

// SQLite mirrors records into the history table of a store.DB.
type SQLite struct {
	db *store.DB
}

// OpenSQLite opens and migrates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := store.OpenMigrated(path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(limit int) ([]protocol.MessageRecord, error) {
	return s.db.RecentHistory(limit)
}

func (s *SQLite) Put(r protocol.MessageRecord) error {
	_, err := s.db.AppendHistory(r)
	return err
}

func (s *SQLite) Prune(keep int) error {
	_, err := s.db.PruneHistory(keep)
	return err
}

func (s *SQLite) Reset() error { return s.db.ClearHistory() }

func (s *SQLite) Close() error { return s.db.Close() }
