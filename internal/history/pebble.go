package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble/v2"

	"github.com/matheus3301/relay/internal/protocol"
)

// Pebble stores records under 8-byte big-endian sequence keys, so key order
// is insertion order.
type Pebble struct {
	db   *pebble.DB
	mu   sync.Mutex
	next uint64
}

var (
	keyMin = make([]byte, 8)
	keyMax = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// OpenPebble opens (or creates) a Pebble store in dir.
func OpenPebble(dir string) (*Pebble, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create pebble dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	p := &Pebble{db: db}

	it, err := db.NewIter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	if it.Last() && len(it.Key()) == 8 {
		p.next = binary.BigEndian.Uint64(it.Key()) + 1
	}
	if err := it.Close(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	return p, nil
}

func seqKey(n uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n)
	return key
}

func (p *Pebble) Load(limit int) ([]protocol.MessageRecord, error) {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer func() { _ = it.Close() }()

	var newestFirst []protocol.MessageRecord
	for ok := it.Last(); ok && (limit <= 0 || len(newestFirst) < limit); ok = it.Prev() {
		var r protocol.MessageRecord
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			return nil, fmt.Errorf("decode record %x: %w", it.Key(), err)
		}
		newestFirst = append(newestFirst, r)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}

	out := make([]protocol.MessageRecord, len(newestFirst))
	for i, r := range newestFirst {
		out[len(out)-1-i] = r
	}
	return out, nil
}

func (p *Pebble) Put(r protocol.MessageRecord) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.db.Set(seqKey(p.next), val, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	p.next++
	return nil
}

func (p *Pebble) Prune(keep int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if keep < 0 || uint64(keep) >= p.next {
		return nil
	}
	cut := seqKey(p.next - uint64(keep))
	if err := p.db.DeleteRange(keyMin, cut, pebble.Sync); err != nil {
		return fmt.Errorf("pebble prune: %w", err)
	}
	return nil
}

func (p *Pebble) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.db.DeleteRange(keyMin, keyMax, pebble.Sync); err != nil {
		return fmt.Errorf("pebble reset: %w", err)
	}
	return nil
}

func (p *Pebble) Close() error { return p.db.Close() }
