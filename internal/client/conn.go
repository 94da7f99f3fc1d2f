// Package client implements the chat client's delivery guarantees: a
// connection manager that heals the link with capped exponential backoff,
// and a pending store that retries, fails or parks every authored message.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/protocol"
	"github.com/matheus3301/relay/internal/sched"
	"github.com/matheus3301/relay/internal/status"
)

var (
	ErrNotConnected = errors.New("not connected to relay")
	ErrLoggedOut    = errors.New("logged out")
	ErrNameRejected = errors.New("display name rejected by relay")
	ErrAckTimeout   = errors.New("relay stopped answering heartbeats")
)

const (
	backoffBase = time.Second
	backoffMax  = 30 * time.Second
)

// Backoff returns the reconnect delay after attempt consecutive failures:
// min(1s * 2^attempt, 30s).
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return backoffMax
	}
	return min(backoffBase<<attempt, backoffMax)
}

// Options configures a Manager.
type Options struct {
	URL                  string
	MaxReconnectAttempts int
	HeartbeatEvery       time.Duration
	DialTimeout          time.Duration
	TimelineCap          int
	Pending              PendingOptions

	// Spawn runs a dial. Defaults to a new goroutine.
	Spawn func(func())
}

func (o *Options) setDefaults() {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.HeartbeatEvery <= 0 {
		o.HeartbeatEvery = 20 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.Spawn == nil {
		o.Spawn = func(f func()) { go f() }
	}
}

// GaveUp is the payload of conn.gave_up events.
type GaveUp struct {
	Attempts int
	Err      error
}

// Manager owns the link to the relay. Lock order: Pending.mu before
// Manager.mu; the manager never calls into Pending while holding its lock.
type Manager struct {
	mu        sync.Mutex
	machine   *status.Machine
	conn      Conn
	gen       uint64
	attempts  int
	username  string
	loggedIn  bool
	rejected  bool
	gaveUp    bool
	lastErr   error
	lastAck   time.Time
	reconnect sched.Slot
	heartbeat sched.Slot

	pending  *Pending
	timeline *Timeline
	roster   *Roster

	dialer Dialer
	sch    sched.Scheduler
	bus    *bus.Bus
	opts   Options
	logger *zap.Logger
}

// NewManager creates a manager and its pending store. queue may be nil.
func NewManager(dialer Dialer, queue Queue, sch sched.Scheduler, b *bus.Bus, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()
	m := &Manager{
		machine:  status.NewMachine(b),
		timeline: NewTimeline(opts.TimelineCap),
		roster:   NewRoster(),
		dialer:   dialer,
		sch:      sch,
		bus:      b,
		opts:     opts,
		logger:   logger,
	}
	m.pending = NewPending(m, queue, sch, b, opts.Pending, logger.Named("pending"))
	return m
}

func (m *Manager) Pending() *Pending   { return m.pending }
func (m *Manager) Timeline() *Timeline { return m.timeline }
func (m *Manager) Roster() *Roster     { return m.roster }
func (m *Manager) State() status.State { return m.machine.Current() }
func (m *Manager) IsOpen() bool        { return m.machine.Is(status.Open) }

// Username returns the claimed display name.
func (m *Manager) Username() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.username
}

// Attempts returns the consecutive failed connection attempts.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Login claims name and starts connecting.
func (m *Manager) Login(name string) error {
	name, err := protocol.ValidateName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.username = name
	m.loggedIn = true
	m.rejected = false
	m.gaveUp = false
	m.attempts = 0
	m.mu.Unlock()

	m.pending.SetAuthor(name)
	m.Connect()
	return nil
}

// Connect starts a dial unless one is in progress or the link is open.
func (m *Manager) Connect() {
	m.mu.Lock()
	if !m.loggedIn || m.rejected || m.machine.Is(status.Connecting, status.Open, status.Closing) {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.attempts > m.opts.MaxReconnectAttempts {
		m.gaveUpLocked()
		m.mu.Unlock()
		return
	}
	m.reconnect.Cancel()
	if err := m.machine.Transition(status.Connecting); err != nil {
		m.logger.Error("connect", zap.Error(err))
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.opts.Spawn(func() { m.dial(gen) })
}

// Reconnect is the manual retry after the manager gave up.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	switch {
	case !m.loggedIn:
		m.mu.Unlock()
		return ErrLoggedOut
	case m.rejected:
		m.mu.Unlock()
		return ErrNameRejected
	}
	m.attempts = 0
	m.gaveUp = false
	m.mu.Unlock()
	m.Connect()
	return nil
}

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	defer cancel()
	conn, err := m.dialer.Dial(ctx, m.opts.URL)

	m.mu.Lock()
	if gen != m.gen || !m.loggedIn {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.logger.Warn("dial failed", zap.Int("attempt", m.attempts+1), zap.Error(err))
		m.closedLocked(err)
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.lastAck = m.sch.Now()
	if err := m.machine.Transition(status.Open); err != nil {
		m.logger.Error("open", zap.Error(err))
	}
	if err := m.writeLocked(protocol.Join{Username: m.username, Timestamp: m.sch.Now().UnixMilli()}); err != nil {
		// writeLocked already dropped the link; this dial counts as failed.
		m.logger.Warn("send join", zap.Error(err))
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.gaveUp = false
	m.lastErr = nil
	m.armHeartbeatLocked()
	m.logger.Info("connected", zap.String("url", m.opts.URL), zap.String("user", m.username))
	m.mu.Unlock()

	go m.readLoop(gen, conn)
	m.pending.Flush()
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.HandleFrame(data)
	}
}

func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.conn == nil {
		return
	}
	m.logger.Info("connection closed", zap.Error(err))
	m.closedLocked(err)
}

// closedLocked moves to DISCONNECTED and schedules the next attempt.
// Callers hold m.mu.
func (m *Manager) closedLocked(err error) {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.heartbeat.Cancel()
	m.lastErr = err
	if tErr := m.machine.Transition(status.Disconnected); tErr != nil {
		m.logger.Error("close", zap.Error(tErr))
	}
	m.attempts++
	if !m.loggedIn || m.rejected {
		return
	}
	if m.attempts > m.opts.MaxReconnectAttempts {
		m.gaveUpLocked()
		return
	}
	delay := Backoff(m.attempts)
	m.logger.Info("reconnect scheduled", zap.Int("attempt", m.attempts), zap.Duration("delay", delay))
	m.reconnect.Arm(m.sch, delay, func(tok sched.Token) {
		m.mu.Lock()
		live := m.reconnect.Live(tok)
		m.reconnect.Release(tok)
		m.mu.Unlock()
		if live {
			m.Connect()
		}
	})
}

// gaveUpLocked stops auto-reconnect. The notice goes out once per give-up.
func (m *Manager) gaveUpLocked() {
	m.reconnect.Cancel()
	if m.gaveUp {
		return
	}
	m.gaveUp = true
	m.logger.Warn("giving up on relay", zap.Int("attempts", m.attempts), zap.Error(m.lastErr))
	m.bus.Emit(bus.ConnGaveUp, GaveUp{Attempts: m.attempts, Err: m.lastErr})
}

func (m *Manager) armHeartbeatLocked() {
	m.heartbeat.Arm(m.sch, m.opts.HeartbeatEvery, func(tok sched.Token) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.heartbeat.Live(tok) {
			return
		}
		m.heartbeat.Release(tok)
		if m.conn == nil {
			return
		}
		if silent := m.sch.Now().Sub(m.lastAck); silent > 2*m.opts.HeartbeatEvery {
			m.logger.Warn("relay silent, dropping link", zap.Duration("since_ack", silent))
			m.closedLocked(ErrAckTimeout)
			return
		}
		if err := m.writeLocked(protocol.Heartbeat{Timestamp: m.sch.Now().UnixMilli()}); err != nil {
			m.logger.Warn("heartbeat", zap.Error(err))
			return
		}
		m.armHeartbeatLocked()
	})
}

// Send writes one frame to the relay.
func (m *Manager) Send(f protocol.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(f)
}

// writeLocked sends f on the open link. A transport error drops the link and
// schedules a reconnect. Callers hold m.mu.
func (m *Manager) writeLocked(f protocol.Frame) error {
	if m.conn == nil || !m.machine.Is(status.Open) {
		return ErrNotConnected
	}
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	if err := m.conn.WriteFrame(data); err != nil {
		err = fmt.Errorf("write %s: %w", f.Kind(), err)
		m.logger.Info("connection lost on write", zap.Error(err))
		m.closedLocked(err)
		return err
	}
	return nil
}

// Submit hands text to the pending store.
func (m *Manager) Submit(text string) (protocol.MessageRecord, error) {
	return m.pending.Submit(text)
}

// SetPresence declares the user away or back.
func (m *Manager) SetPresence(p protocol.Presence) error {
	return m.Send(protocol.UserStatus{Username: m.Username(), Status: p, Timestamp: m.sch.Now().UnixMilli()})
}

// ClearChat asks the relay to wipe history.
func (m *Manager) ClearChat() error {
	return m.Send(protocol.ClearChat{Username: m.Username(), Timestamp: m.sch.Now().UnixMilli()})
}

// Logout closes the link for good and cancels every timer, including the
// pending store's.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.loggedIn = false
	m.reconnect.Cancel()
	m.heartbeat.Cancel()
	m.gen++
	if m.conn != nil {
		_ = m.machine.Transition(status.Closing)
		_ = m.conn.Close()
		m.conn = nil
	}
	_ = m.machine.Transition(status.Disconnected)
	m.mu.Unlock()

	m.pending.Stop()
	m.logger.Info("logged out")
}

// HandleFrame dispatches one inbound frame. Undecodable input is logged and
// dropped.
func (m *Manager) HandleFrame(data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		m.logger.Warn("dropping bad frame from relay", zap.Error(err))
		return
	}

	switch f := f.(type) {
	case *protocol.Message:
		rec := f.Record()
		m.pending.Reconcile(rec.ID)
		if m.timeline.Merge(rec) > 0 {
			m.bus.Emit(bus.ChatMessage, rec)
		}
	case *protocol.History:
		for _, r := range f.Messages {
			m.pending.Reconcile(r.ID)
		}
		if m.timeline.Merge(f.Messages...) > 0 {
			m.bus.Emit(bus.ChatMessage, nil)
		}
	case *protocol.ClearChat:
		m.timeline.Clear()
		m.bus.Emit(bus.ChatCleared, f.Username)
	case *protocol.Error:
		m.handleError(f)
	case *protocol.HeartbeatAck:
		m.mu.Lock()
		m.lastAck = m.sch.Now()
		m.mu.Unlock()
	default:
		if m.roster.Apply(f) {
			m.bus.Emit(bus.ChatRoster, f.Kind())
			return
		}
		m.logger.Debug("ignoring frame", zap.String("kind", string(f.Kind())))
	}
}

func (m *Manager) handleError(f *protocol.Error) {
	if f.Code != protocol.CodeNameInUse {
		m.logger.Warn("relay error", zap.String("code", f.Code), zap.String("message", f.Message))
		m.bus.Emit(bus.ChatError, *f)
		return
	}
	m.mu.Lock()
	m.rejected = true
	m.reconnect.Cancel()
	name := m.username
	m.mu.Unlock()
	m.logger.Warn("display name rejected", zap.String("user", name))
	m.bus.Emit(bus.ConnRejected, name)
}

// Messages returns the timeline with unacknowledged messages folded in,
// ordered by timestamp.
func (m *Manager) Messages() []protocol.MessageRecord {
	recs := m.timeline.Records()
	seen := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		seen[r.ID] = struct{}{}
	}
	for _, p := range m.pending.Snapshot() {
		if _, ok := seen[p.ID]; !ok {
			recs = append(recs, p)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp < recs[j].Timestamp })
	return recs
}

// LastAck returns when the relay last answered a heartbeat.
func (m *Manager) LastAck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAck
}
