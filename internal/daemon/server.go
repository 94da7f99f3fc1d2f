package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/relay"
)

// Server manages the public HTTP listener: the websocket endpoint and the
// side-channel query routes.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	addr       string
	logger     *zap.Logger
}

// NewServer creates the HTTP server for the relay. Nothing is bound until
// Listen.
func NewServer(p Params, rs *relay.Server, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Handler:           rs.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:   p.Config.Server.Listen,
		logger: logger,
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.addr = ln.Addr().String()
	return nil
}

// Addr returns the bound address once Listen has succeeded.
func (s *Server) Addr() string { return s.addr }

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	s.logger.Info("http server starting", zap.String("addr", s.addr))
	if err := s.httpServer.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server stopping")
	return s.httpServer.Shutdown(ctx)
}
