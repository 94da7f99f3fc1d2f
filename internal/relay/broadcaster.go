package relay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/protocol"
)

// Conn is one client connection as seen by the relay core.
type Conn interface {
	ID() string
	// Enqueue hands an encoded frame to the connection's writer. It never
	// blocks and reports false when the frame was not accepted.
	Enqueue(data []byte) bool
	Close()
}

// Broadcaster fans frames out to every attached connection, joined or not.
type Broadcaster struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	logger *zap.Logger
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{conns: make(map[string]Conn), logger: logger}
}

func (b *Broadcaster) Add(c Conn) {
	b.mu.Lock()
	b.conns[c.ID()] = c
	b.mu.Unlock()
}

func (b *Broadcaster) Remove(c Conn) {
	b.mu.Lock()
	delete(b.conns, c.ID())
	b.mu.Unlock()
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Broadcast encodes f once and enqueues it on every connection except
// exclude (which may be nil). A connection that refuses the frame is skipped;
// its read pump will notice the dead socket and run the disconnect path.
// It returns the number of connections that accepted the frame.
func (b *Broadcaster) Broadcast(f protocol.Frame, exclude Conn) int {
	data, err := protocol.Encode(f)
	if err != nil {
		b.logger.Error("encode broadcast", zap.String("kind", string(f.Kind())), zap.Error(err))
		return 0
	}
	skip := ""
	if exclude != nil {
		skip = exclude.ID()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for id, c := range b.conns {
		if id == skip {
			continue
		}
		if c.Enqueue(data) {
			n++
		} else {
			b.logger.Debug("broadcast skipped connection", zap.String("conn", id), zap.String("kind", string(f.Kind())))
		}
	}
	return n
}

// SendTo enqueues f on a single connection.
func (b *Broadcaster) SendTo(c Conn, f protocol.Frame) bool {
	data, err := protocol.Encode(f)
	if err != nil {
		b.logger.Error("encode frame", zap.String("kind", string(f.Kind())), zap.Error(err))
		return false
	}
	return c.Enqueue(data)
}

// CloseAll closes every attached connection.
func (b *Broadcaster) CloseAll() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.conns {
		c.Close()
	}
}
