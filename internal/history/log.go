// Package history keeps the relay's bounded message log. Records live in
// memory and are mirrored to an optional Backend; when the backend fails the
// log keeps serving from memory.
package history

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/protocol"
)

const (
	DefaultCapacity    = 1000
	DefaultDedupWindow = 5 * time.Second
)

// Backend persists records across relay restarts.
type Backend interface {
	// Load returns up to limit of the newest records, oldest first.
	Load(limit int) ([]protocol.MessageRecord, error)
	Put(r protocol.MessageRecord) error
	// Prune keeps only the newest keep records.
	Prune(keep int) error
	Reset() error
	Close() error
}

// Options configures a Log.
type Options struct {
	Capacity    int
	DedupWindow time.Duration
}

// Log is a capacity-bounded, deduplicating message log.
type Log struct {
	mu      sync.Mutex
	records []protocol.MessageRecord
	ids     map[string]struct{}
	backend Backend
	opts    Options
	logger  *zap.Logger
}

// New builds a Log and preloads it from backend. A nil backend keeps the log
// in memory only. A backend that fails to load is dropped with a warning.
func New(backend Backend, opts Options, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	l := &Log{
		ids:     make(map[string]struct{}),
		backend: backend,
		opts:    opts,
		logger:  logger,
	}
	if backend == nil {
		return l
	}

	loaded, err := backend.Load(opts.Capacity)
	if err != nil {
		l.degrade("load", err)
		return l
	}
	for _, r := range loaded {
		if _, dup := l.ids[r.ID]; dup {
			continue
		}
		r.State = protocol.Sent
		l.records = append(l.records, r)
		l.ids[r.ID] = struct{}{}
	}
	logger.Info("history loaded", zap.Int("records", len(l.records)))
	return l
}

// Append stores r unless it duplicates a known record: same ID, or same
// author and text within the dedup window. It reports whether r was stored.
func (l *Log) Append(r protocol.MessageRecord) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isDuplicate(r) {
		return false
	}
	r.State = protocol.Sent
	l.records = append(l.records, r)
	l.ids[r.ID] = struct{}{}

	pruned := false
	if over := len(l.records) - l.opts.Capacity; over > 0 {
		for _, old := range l.records[:over] {
			delete(l.ids, old.ID)
		}
		l.records = append([]protocol.MessageRecord(nil), l.records[over:]...)
		pruned = true
	}

	if l.backend != nil {
		if err := l.backend.Put(r); err != nil {
			l.degrade("put", err)
		} else if pruned {
			if err := l.backend.Prune(l.opts.Capacity); err != nil {
				l.degrade("prune", err)
			}
		}
	}
	return true
}

func (l *Log) isDuplicate(r protocol.MessageRecord) bool {
	if _, ok := l.ids[r.ID]; ok {
		return true
	}
	window := l.opts.DedupWindow.Milliseconds()
	for i := len(l.records) - 1; i >= 0; i-- {
		old := l.records[i]
		if old.Author != r.Author || old.Text != r.Text {
			continue
		}
		d := r.Timestamp - old.Timestamp
		if d < 0 {
			d = -d
		}
		if d < window {
			return true
		}
	}
	return false
}

// Recent returns up to n of the newest records by timestamp, oldest first.
func (l *Log) Recent(n int) []protocol.MessageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.byTime(func(protocol.MessageRecord) bool { return true })
	if n > 0 && n < len(out) {
		out = out[len(out)-n:]
	}
	return out
}

// Since returns up to limit records with a timestamp strictly after ts,
// oldest first. A non-positive limit means no limit. Replayed offline
// messages keep their authoring time, so they sort among older records.
func (l *Log) Since(ts int64, limit int) []protocol.MessageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.byTime(func(r protocol.MessageRecord) bool { return r.Timestamp > ts })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// byTime copies the records keep accepts, ordered by timestamp then ID.
// records itself stays in arrival order so eviction matches the backend.
// Callers hold l.mu.
func (l *Log) byTime(keep func(protocol.MessageRecord) bool) []protocol.MessageRecord {
	out := make([]protocol.MessageRecord, 0, len(l.records))
	for _, r := range l.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// Clear empties the log and its backend.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.ids = make(map[string]struct{})
	if l.backend != nil {
		if err := l.backend.Reset(); err != nil {
			l.degrade("reset", err)
		}
	}
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Persistent reports whether records are still mirrored to a backend.
func (l *Log) Persistent() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend != nil
}

// Close releases the backend.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.backend == nil {
		return nil
	}
	err := l.backend.Close()
	l.backend = nil
	return err
}

// degrade drops the backend after a persistence error. Callers hold l.mu.
func (l *Log) degrade(op string, err error) {
	l.logger.Warn("history backend failed, continuing in memory",
		zap.String("op", op),
		zap.Error(err),
	)
	if l.backend != nil {
		_ = l.backend.Close()
		l.backend = nil
	}
}
