package relay

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/protocol"
	"github.com/matheus3301/relay/internal/sched"
)

var (
	ErrNameInUse     = errors.New("display name already in use")
	ErrNotJoined     = errors.New("connection has not joined")
	ErrAlreadyJoined = errors.New("connection already joined under another name")
	ErrBadStatus     = errors.New("clients may only declare online or away")
)

const (
	DefaultGraceWindow = 30 * time.Second
	DefaultIdleAfter   = 30 * time.Second
	DefaultSweepEvery  = 30 * time.Second
	DefaultStaleAfter  = 45 * time.Second
)

// RegistryOptions tunes presence timing.
type RegistryOptions struct {
	// GraceWindow is how long a disconnected session can be reclaimed
	// silently before it is announced as gone.
	GraceWindow time.Duration
	IdleAfter   time.Duration
	SweepEvery  time.Duration
	// StaleAfter is how long a bound connection may stay silent before a
	// join under the same name replaces it. Clients heartbeat well inside it.
	StaleAfter time.Duration
}

func (o *RegistryOptions) setDefaults() {
	if o.GraceWindow <= 0 {
		o.GraceWindow = DefaultGraceWindow
	}
	if o.IdleAfter <= 0 {
		o.IdleAfter = DefaultIdleAfter
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = DefaultSweepEvery
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
}

// Session is the relay's record of one display name. conn is nil while the
// session sits in its grace window.
type Session struct {
	Username string
	Status   protocol.Presence
	LastSeen time.Time

	conn  Conn
	grace sched.Slot
}

// SessionInfo is a read-only copy of a Session.
type SessionInfo struct {
	Username  string
	Status    protocol.Presence
	LastSeen  time.Time
	Connected bool
	ConnID    string
}

// Registry maps connections to sessions and owns every presence timer.
// A single mutex serializes all mutation and the broadcasts it triggers.
type Registry struct {
	mu     sync.Mutex
	byConn map[string]*Session
	byName map[string]*Session
	sweep  sched.Slot
	closed bool

	bc     *Broadcaster
	sch    sched.Scheduler
	opts   RegistryOptions
	logger *zap.Logger
}

// NewRegistry creates a registry and starts its idle sweep.
func NewRegistry(bc *Broadcaster, sch sched.Scheduler, opts RegistryOptions, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()
	r := &Registry{
		byConn: make(map[string]*Session),
		byName: make(map[string]*Session),
		bc:     bc,
		sch:    sch,
		opts:   opts,
		logger: logger,
	}
	r.mu.Lock()
	r.armSweep()
	r.mu.Unlock()
	return r
}

func (r *Registry) nowMillis() int64 { return r.sch.Now().UnixMilli() }

// HandleJoin binds c to name. It reports whether an existing session was
// reclaimed, in which case nothing is announced. A session is reclaimable
// while it sits in its grace window, or while its connection has been silent
// longer than StaleAfter; the silent connection is closed.
func (r *Registry) HandleJoin(name string, c Conn) (resumed bool, err error) {
	name, err = protocol.ValidateName(name)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byConn[c.ID()]; ok {
		if cur.Username == name {
			return true, nil
		}
		return false, ErrAlreadyJoined
	}

	now := r.sch.Now()
	if s, ok := r.byName[name]; ok {
		if s.conn != nil {
			silent := now.Sub(s.LastSeen)
			if silent <= r.opts.StaleAfter {
				return false, ErrNameInUse
			}
			old := s.conn
			delete(r.byConn, old.ID())
			old.Close()
			r.logger.Info("replacing silent connection", zap.String("user", name),
				zap.String("conn", old.ID()), zap.Duration("silent", silent))
		}
		s.grace.Cancel()
		s.conn = c
		s.LastSeen = now
		r.byConn[c.ID()] = s
		if s.Status != protocol.Online {
			s.Status = protocol.Online
			r.bc.Broadcast(protocol.UserStatus{Username: name, Status: protocol.Online, Timestamp: now.UnixMilli()}, nil)
		}
		r.logger.Info("session reclaimed", zap.String("user", name), zap.String("conn", c.ID()))
		return true, nil
	}

	s := &Session{Username: name, Status: protocol.Online, LastSeen: now, conn: c}
	r.byName[name] = s
	r.byConn[c.ID()] = s
	count := len(r.byName)
	r.bc.Broadcast(protocol.UserJoined{Username: name, OnlineCount: count, Timestamp: now.UnixMilli()}, c)
	r.bc.Broadcast(protocol.OnlineCount{Count: count, Timestamp: now.UnixMilli()}, nil)
	r.logger.Info("user joined", zap.String("user", name), zap.Int("online", count))
	return false, nil
}

// Username returns the name bound to c.
func (r *Registry) Username(c Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[c.ID()]
	if !ok {
		return "", false
	}
	return s.Username, true
}

// HandleActivity records traffic from c and promotes an away session.
func (r *Registry) HandleActivity(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[c.ID()]
	if !ok {
		return
	}
	s.LastSeen = r.sch.Now()
	r.setStatus(s, protocol.Online)
}

// HandleStatus applies a client-declared presence. Clients may only declare
// online or away.
func (r *Registry) HandleStatus(c Conn, status protocol.Presence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[c.ID()]
	if !ok {
		return ErrNotJoined
	}
	if status != protocol.Online && status != protocol.Away {
		return ErrBadStatus
	}
	s.LastSeen = r.sch.Now()
	r.setStatus(s, status)
	return nil
}

// setStatus broadcasts user_status when the status actually changes.
// Callers hold r.mu.
func (r *Registry) setStatus(s *Session, status protocol.Presence) {
	if s.Status == status {
		return
	}
	s.Status = status
	r.bc.Broadcast(protocol.UserStatus{Username: s.Username, Status: status, Timestamp: r.nowMillis()}, nil)
}

// HandleDisconnect unbinds c and starts the session's grace timer.
func (r *Registry) HandleDisconnect(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[c.ID()]
	if !ok {
		return
	}
	delete(r.byConn, c.ID())
	if s.conn == nil || s.conn.ID() != c.ID() {
		return
	}
	s.conn = nil
	if r.closed {
		return
	}
	s.grace.Arm(r.sch, r.opts.GraceWindow, func(tok sched.Token) { r.expire(s, tok) })
	r.logger.Debug("session in grace", zap.String("user", s.Username), zap.Duration("window", r.opts.GraceWindow))
}

func (r *Registry) expire(s *Session, tok sched.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !s.grace.Live(tok) {
		return
	}
	s.grace.Release(tok)
	if s.conn != nil || r.byName[s.Username] != s {
		return
	}
	delete(r.byName, s.Username)
	s.Status = protocol.Offline
	count := len(r.byName)
	ts := r.nowMillis()
	r.bc.Broadcast(protocol.UserLeft{Username: s.Username, OnlineCount: count, Timestamp: ts}, nil)
	r.bc.Broadcast(protocol.OnlineCount{Count: count, Timestamp: ts}, nil)
	r.logger.Info("user left", zap.String("user", s.Username), zap.Int("online", count))
}

// armSweep schedules the next idle sweep. Callers hold r.mu.
func (r *Registry) armSweep() {
	r.sweep.Arm(r.sch, r.opts.SweepEvery, r.runSweep)
}

func (r *Registry) runSweep(tok sched.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sweep.Live(tok) || r.closed {
		return
	}
	r.sweep.Release(tok)
	now := r.sch.Now()
	for _, s := range r.byName {
		if s.conn == nil || s.Status != protocol.Online {
			continue
		}
		if now.Sub(s.LastSeen) > r.opts.IdleAfter {
			r.setStatus(s, protocol.Away)
		}
	}
	r.armSweep()
}

// Snapshot returns every session sorted by name, for users_list.
func (r *Registry) Snapshot() []protocol.UserPresence {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.UserPresence, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, protocol.UserPresence{
			Username: s.Username,
			Status:   s.Status,
			LastSeen: s.LastSeen.UnixMilli(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Sessions returns a copy of every session, including those in grace.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionInfo, 0, len(r.byName))
	for _, s := range r.byName {
		info := SessionInfo{Username: s.Username, Status: s.Status, LastSeen: s.LastSeen}
		if s.conn != nil {
			info.Connected = true
			info.ConnID = s.conn.ID()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// OnlineCount counts sessions, including those inside their grace window.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// Close cancels the sweep and every grace timer. Sessions are left as they
// are; nothing is announced.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.sweep.Cancel()
	for _, s := range r.byName {
		s.grace.Cancel()
	}
}
