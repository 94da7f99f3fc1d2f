package client

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/protocol"
	"github.com/matheus3301/relay/internal/sched"
	"github.com/matheus3301/relay/internal/store"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrUnknownMessage = errors.New("no such message")
	ErrNotFailed      = errors.New("message has not failed")
	ErrStopped        = errors.New("delivery stopped")
)

// Link is the pending store's view of the connection.
type Link interface {
	IsOpen() bool
	Send(f protocol.Frame) error
	// Connect asks for a reconnect. It must not block.
	Connect()
}

// PendingOptions holds the delivery retry budget.
type PendingOptions struct {
	DeliveryTimeout time.Duration
	RetryInterval   time.Duration
	MaxAttempts     int
	ReplayStagger   time.Duration
}

func (o *PendingOptions) setDefaults() {
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = 10 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.ReplayStagger <= 0 {
		o.ReplayStagger = 500 * time.Millisecond
	}
}

type entry struct {
	rec      protocol.MessageRecord
	attempts int
	timer    sched.Slot
}

// Pending owns every authored message until the relay echoes it back. An
// entry ends sent, failed (awaiting Retry) or queued offline; it is never
// dropped. Each entry holds at most one armed timer.
type Pending struct {
	mu      sync.Mutex
	entries map[string]*entry
	author  string
	stopped bool

	link   Link
	queue  Queue
	sch    sched.Scheduler
	bus    *bus.Bus
	opts   PendingOptions
	logger *zap.Logger
}

// NewPending creates a store. A nil queue keeps entries in memory only.
func NewPending(link Link, queue Queue, sch sched.Scheduler, b *bus.Bus, opts PendingOptions, logger *zap.Logger) *Pending {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queue == nil {
		queue = NewMemoryQueue()
	}
	opts.setDefaults()
	return &Pending{
		entries: make(map[string]*entry),
		link:    link,
		queue:   queue,
		sch:     sch,
		bus:     b,
		opts:    opts,
		logger:  logger,
	}
}

// SetAuthor sets the name stamped on new messages.
func (p *Pending) SetAuthor(name string) {
	p.mu.Lock()
	p.author = name
	p.mu.Unlock()
}

// Submit records a new message, persists it and tries to send it.
func (p *Pending) Submit(text string) (protocol.MessageRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return protocol.MessageRecord{}, ErrEmptyMessage
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return protocol.MessageRecord{}, ErrStopped
	}
	e := &entry{rec: protocol.MessageRecord{
		ID:        uuid.NewString(),
		Text:      text,
		Author:    p.author,
		Timestamp: p.sch.Now().UnixMilli(),
		State:     protocol.Pending,
	}}
	p.entries[e.rec.ID] = e
	p.persist(e)
	p.bus.Emit(bus.DeliveryQueued, e.rec)
	reconnect := p.attempt(e)
	rec := e.rec
	p.mu.Unlock()

	if reconnect {
		p.link.Connect()
	}
	return rec, nil
}

// attempt makes one delivery attempt and arms the follow-up timer. It reports
// whether the caller should ask the link to reconnect once p.mu is released.
// Callers hold p.mu.
func (p *Pending) attempt(e *entry) bool {
	if p.stopped || e.rec.State != protocol.Pending {
		return false
	}
	e.attempts++
	id := e.rec.ID

	if !p.link.IsOpen() {
		return p.backOff(e)
	}
	if err := p.link.Send(protocol.MessageFrame(e.rec)); err != nil {
		p.logger.Warn("send failed", zap.String("id", id), zap.Int("attempt", e.attempts), zap.Error(err))
		return p.backOff(e)
	}
	e.timer.Arm(p.sch, p.opts.DeliveryTimeout, func(tok sched.Token) { p.onTimer(id, tok, p.deliveryTimedOut) })
	p.persist(e)
	p.bus.Emit(bus.DeliveryTry, Attempt{ID: id, Attempt: e.attempts})
	return false
}

// backOff handles an attempt that never reached the relay: retry later while
// the budget lasts, then park until the next Flush. It always asks for a
// reconnect. Callers hold p.mu.
func (p *Pending) backOff(e *entry) bool {
	if e.attempts < p.opts.MaxAttempts {
		id := e.rec.ID
		e.timer.Arm(p.sch, p.opts.RetryInterval, func(tok sched.Token) { p.onTimer(id, tok, p.retryDue) })
	} else {
		e.timer.Cancel()
	}
	p.persist(e)
	return true
}

// Attempt is the payload of delivery.attempt events.
type Attempt struct {
	ID      string
	Attempt int
}

// onTimer runs fire for a live timer of entry id, then requests a reconnect
// if fire asked for one.
func (p *Pending) onTimer(id string, tok sched.Token, fire func(*entry) bool) {
	p.mu.Lock()
	e, ok := p.entries[id]
	if !ok || !e.timer.Live(tok) || p.stopped {
		p.mu.Unlock()
		return
	}
	e.timer.Release(tok)
	reconnect := fire(e)
	p.mu.Unlock()

	if reconnect {
		p.link.Connect()
	}
}

func (p *Pending) retryDue(e *entry) bool { return p.attempt(e) }

func (p *Pending) deliveryTimedOut(e *entry) bool {
	if e.rec.State != protocol.Pending {
		return false
	}
	if e.attempts < p.opts.MaxAttempts {
		return p.attempt(e)
	}
	if !p.link.IsOpen() {
		// The link dropped while waiting; Flush replays it.
		return true
	}
	e.rec.State = protocol.Failed
	p.persist(e)
	p.logger.Info("delivery failed", zap.String("id", e.rec.ID), zap.Int("attempts", e.attempts))
	p.bus.Emit(bus.DeliveryFailed, e.rec)
	return false
}

// Reconcile handles the relay's echo of an authored message. It reports
// whether id was pending here.
func (p *Pending) Reconcile(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return false
	}
	e.timer.Cancel()
	e.rec.State = protocol.Sent
	delete(p.entries, id)
	if err := p.queue.RemoveOutbox(id); err != nil {
		p.logger.Warn("remove from offline queue", zap.String("id", id), zap.Error(err))
	}
	p.bus.Emit(bus.DeliverySent, e.rec)
	return true
}

// Flush replays every pending entry oldest first: the first at once, the
// rest spaced by the replay stagger. Each replay starts a fresh budget.
func (p *Pending) Flush() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	backlog := p.sortedLocked(protocol.Pending)
	reconnect := false
	for i, e := range backlog {
		e.attempts = 0
		if i == 0 {
			reconnect = p.attempt(e) || reconnect
			continue
		}
		id := e.rec.ID
		e.timer.Arm(p.sch, time.Duration(i)*p.opts.ReplayStagger, func(tok sched.Token) { p.onTimer(id, tok, p.retryDue) })
	}
	if len(backlog) > 0 {
		p.logger.Info("replaying offline queue", zap.Int("messages", len(backlog)))
	}
	p.mu.Unlock()

	if reconnect {
		p.link.Connect()
	}
}

// Retry resends a failed message with a fresh attempt budget.
func (p *Pending) Retry(id string) error {
	p.mu.Lock()
	e, ok := p.entries[id]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownMessage
	}
	if e.rec.State != protocol.Failed {
		p.mu.Unlock()
		return ErrNotFailed
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	e.rec.State = protocol.Pending
	e.attempts = 0
	p.bus.Emit(bus.DeliveryQueued, e.rec)
	reconnect := p.attempt(e)
	p.mu.Unlock()

	if reconnect {
		p.link.Connect()
	}
	return nil
}

// RetryFailed retries every failed message and returns how many there were.
func (p *Pending) RetryFailed() int {
	p.mu.Lock()
	failed := p.sortedLocked(protocol.Failed)
	p.mu.Unlock()
	n := 0
	for _, e := range failed {
		if p.Retry(e.rec.ID) == nil {
			n++
		}
	}
	return n
}

// Restore loads the offline queue written by an earlier run. Entries are not
// sent until the next Flush.
func (p *Pending) Restore() (int, error) {
	saved, err := p.queue.PendingOutbox()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range saved {
		if _, ok := p.entries[s.ID]; ok {
			continue
		}
		rec := s.Record()
		if rec.State != protocol.Failed {
			rec.State = protocol.Pending
		}
		p.entries[s.ID] = &entry{rec: rec, attempts: s.Attempts}
		n++
	}
	if n > 0 {
		p.logger.Info("restored offline queue", zap.Int("messages", n))
	}
	return n, nil
}

// Stop cancels every timer. Entries stay in the offline queue for the next
// run but nothing is sent or marked failed from here on.
func (p *Pending) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for _, e := range p.entries {
		e.timer.Cancel()
	}
}

// Snapshot returns every unacknowledged message, oldest first.
func (p *Pending) Snapshot() []protocol.MessageRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	all := p.sortedLocked("")
	out := make([]protocol.MessageRecord, len(all))
	for i, e := range all {
		out[i] = e.rec
	}
	return out
}

// Get returns the record and attempt count for id.
func (p *Pending) Get(id string) (protocol.MessageRecord, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return protocol.MessageRecord{}, 0, false
	}
	return e.rec, e.attempts, true
}

// sortedLocked returns entries in state (all when state is empty) by
// timestamp. Callers hold p.mu.
func (p *Pending) sortedLocked(state protocol.DeliveryState) []*entry {
	out := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		if state == "" || e.rec.State == state {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rec.Timestamp == out[j].rec.Timestamp {
			return out[i].rec.ID < out[j].rec.ID
		}
		return out[i].rec.Timestamp < out[j].rec.Timestamp
	})
	return out
}

// persist writes e to the offline queue. A failure is logged; the entry stays
// tracked in memory. Callers hold p.mu.
func (p *Pending) persist(e *entry) {
	err := p.queue.QueueOutbox(store.OutboxEntry{
		ID:        e.rec.ID,
		Author:    e.rec.Author,
		Text:      e.rec.Text,
		Timestamp: e.rec.Timestamp,
		Attempts:  e.attempts,
		State:     e.rec.State,
	})
	if err != nil {
		p.logger.Warn("write offline queue", zap.String("id", e.rec.ID), zap.Error(err))
	}
}
