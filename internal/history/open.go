package history

import (
	"fmt"
	"path/filepath"
)

// Backend kinds accepted by OpenBackend.
const (
	KindSQLite = "sqlite"
	KindPebble = "pebble"
	KindNone   = "none"
)

// OpenBackend opens the backend of the given kind under dataDir. KindNone
// (or an empty kind) returns a nil Backend.
func OpenBackend(kind, dataDir string) (Backend, error) {
	switch kind {
	case "", KindNone:
		return nil, nil
	case KindSQLite:
		b, err := OpenSQLite(filepath.Join(dataDir, "history.db"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite history: %w", err)
		}
		return b, nil
	case KindPebble:
		b, err := OpenPebble(filepath.Join(dataDir, "history.pebble"))
		if err != nil {
			return nil, fmt.Errorf("open pebble history: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", kind)
	}
}
