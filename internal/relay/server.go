// Package relay implements the group chat relay: connection handling,
// session presence with a reconnect grace window, and message fan-out.
package relay

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/protocol"
	"github.com/matheus3301/relay/internal/sched"
)

// HistoryLog is the message log the relay appends to and seeds clients from.
type HistoryLog interface {
	// Append stores r and reports false when r duplicates a stored record.
	Append(r protocol.MessageRecord) bool
	Recent(n int) []protocol.MessageRecord
	Since(ts int64, limit int) []protocol.MessageRecord
	Clear()
	Len() int
}

const (
	DefaultHistorySeed       = 100
	DefaultClearMaxOccupancy = 2
	DefaultQueryPageSize     = 50
	DefaultMaxFrameBytes     = 8 << 10
)

// Options configures a Server.
type Options struct {
	Registry          RegistryOptions
	HistorySeed       int
	ClearMaxOccupancy int
	QueryPageSize     int
	MaxFrameBytes     int64
}

func (o *Options) setDefaults() {
	if o.HistorySeed <= 0 {
		o.HistorySeed = DefaultHistorySeed
	}
	if o.ClearMaxOccupancy <= 0 {
		o.ClearMaxOccupancy = DefaultClearMaxOccupancy
	}
	if o.QueryPageSize <= 0 {
		o.QueryPageSize = DefaultQueryPageSize
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
}

// Server ties the registry, broadcaster and history together.
type Server struct {
	reg     *Registry
	bc      *Broadcaster
	history HistoryLog
	sch     sched.Scheduler
	opts    Options
	logger  *zap.Logger
	started time.Time

	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

// NewServer builds a relay. The scheduler drives every presence timer.
func NewServer(history HistoryLog, sch sched.Scheduler, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()
	bc := NewBroadcaster(logger.Named("broadcast"))
	return &Server{
		reg:     NewRegistry(bc, sch, opts.Registry, logger.Named("registry")),
		bc:      bc,
		history: history,
		sch:     sch,
		opts:    opts,
		logger:  logger,
		started: sch.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Registry() *Registry { return s.reg }
func (s *Server) History() HistoryLog { return s.history }
func (s *Server) Started() time.Time  { return s.started }
func (s *Server) Connections() int    { return s.bc.Len() }
func (s *Server) QueryPageSize() int  { return s.opts.QueryPageSize }

// ServeWS upgrades the request and runs the connection until it closes.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := newWSConn(ws, s.logger)
	s.Attach(c)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump(s.opts.MaxFrameBytes, func(data []byte) { s.HandleFrame(c, data) })
		s.Detach(c)
	}()
}

// Attach registers c for broadcasts and seeds it with recent history.
func (s *Server) Attach(c Conn) {
	s.bc.Add(c)
	s.bc.SendTo(c, protocol.History{Messages: s.history.Recent(s.opts.HistorySeed)})
	s.logger.Debug("connection attached", zap.String("conn", c.ID()))
}

// Detach unregisters c and starts its session's grace window.
func (s *Server) Detach(c Conn) {
	s.bc.Remove(c)
	s.reg.HandleDisconnect(c)
	s.logger.Debug("connection detached", zap.String("conn", c.ID()))
}

// HandleFrame decodes and dispatches one inbound frame. Bad frames are
// answered with an error frame; the connection stays open.
func (s *Server) HandleFrame(c Conn, data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		s.logger.Debug("bad frame", zap.String("conn", c.ID()), zap.Error(err))
		s.sendError(c, protocol.CodeBadFrame, err.Error())
		return
	}

	switch f := f.(type) {
	case *protocol.Join:
		s.handleJoin(c, f)
	case *protocol.Message:
		s.handleMessage(c, f)
	case *protocol.Heartbeat:
		s.reg.HandleActivity(c)
		s.bc.SendTo(c, protocol.HeartbeatAck{Timestamp: s.sch.Now().UnixMilli()})
	case *protocol.UserStatus:
		if err := s.reg.HandleStatus(c, f.Status); err != nil {
			s.sendStatusError(c, err)
		}
	case *protocol.ClearChat:
		s.handleClear(c)
	default:
		s.logger.Debug("unexpected frame", zap.String("conn", c.ID()), zap.String("kind", string(f.Kind())))
		s.sendError(c, protocol.CodeUnexpectedFrame, "unexpected frame: "+string(f.Kind()))
	}
}

func (s *Server) handleJoin(c Conn, f *protocol.Join) {
	_, err := s.reg.HandleJoin(f.Username, c)
	switch {
	case err == nil:
		s.bc.SendTo(c, protocol.UsersList{Users: s.reg.Snapshot()})
	case errors.Is(err, ErrNameInUse):
		s.sendError(c, protocol.CodeNameInUse, "username already taken")
		c.Close()
	case errors.Is(err, protocol.ErrInvalidName):
		s.sendError(c, protocol.CodeInvalidName, err.Error())
	default:
		s.sendError(c, protocol.CodeUnexpectedFrame, err.Error())
	}
}

func (s *Server) handleMessage(c Conn, f *protocol.Message) {
	name, ok := s.reg.Username(c)
	if !ok {
		s.sendError(c, protocol.CodeNotJoined, "join before sending messages")
		return
	}
	s.reg.HandleActivity(c)

	text := protocol.CleanText(f.Text)
	if text == "" {
		return
	}
	rec := protocol.MessageRecord{ID: f.ID, Text: text, Author: name, Timestamp: f.Timestamp}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = s.sch.Now().UnixMilli()
	}

	if s.history.Append(rec) {
		s.bc.Broadcast(protocol.MessageFrame(rec), nil)
		return
	}
	// Already stored: the sender retried. Echo to it alone so it can
	// reconcile without the room seeing the message twice.
	s.bc.SendTo(c, protocol.MessageFrame(rec))
}

func (s *Server) handleClear(c Conn) {
	name, ok := s.reg.Username(c)
	if !ok {
		s.sendError(c, protocol.CodeNotJoined, "join before clearing the chat")
		return
	}
	if n := s.reg.OnlineCount(); n > s.opts.ClearMaxOccupancy {
		s.sendError(c, protocol.CodeClearRefused, "chat can only be cleared with few users online")
		return
	}
	s.history.Clear()
	s.bc.Broadcast(protocol.ClearChat{Username: name, Timestamp: s.sch.Now().UnixMilli()}, nil)
	s.logger.Info("history cleared", zap.String("user", name))
}

func (s *Server) sendStatusError(c Conn, err error) {
	if errors.Is(err, ErrNotJoined) {
		s.sendError(c, protocol.CodeNotJoined, err.Error())
		return
	}
	s.sendError(c, protocol.CodeBadFrame, err.Error())
}

func (s *Server) sendError(c Conn, code, msg string) {
	s.bc.SendTo(c, protocol.Error{Message: msg, Code: code})
}

// Close stops presence timers, closes every connection and waits for the
// connection goroutines to exit. Shut the HTTP server down first so no new
// connections arrive.
func (s *Server) Close() {
	s.reg.Close()
	s.bc.CloseAll()
	s.wg.Wait()
}
