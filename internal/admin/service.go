// Package admin exposes a read-only view of a running relay over gRPC on a
// Unix socket. Requests and responses use protobuf well-known types so the
// service needs no generated code.
package admin

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/relay/internal/relay"
)

const serviceName = "relay.admin.v1.Admin"

// AdminServer is the server side of the admin service.
type AdminServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListSessions(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	MessagesSince(context.Context, *wrapperspb.Int64Value) (*structpb.ListValue, error)
}

// Service implements AdminServer against a relay.
type Service struct {
	profile string
	backend string
	relay   *relay.Server
}

// NewService creates an admin service for srv. backend names the history
// backend the relay was configured with.
func NewService(profile, backend string, srv *relay.Server) *Service {
	return &Service{profile: profile, backend: backend, relay: srv}
}

func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	hist := s.relay.History()
	persistent := false
	if p, ok := hist.(interface{ Persistent() bool }); ok {
		persistent = p.Persistent()
	}
	uptime := time.Since(s.relay.Started()).Milliseconds()
	return structpb.NewStruct(map[string]any{
		"profile":            s.profile,
		"uptime_ms":          uptime,
		"online":             s.relay.Registry().OnlineCount(),
		"connections":        s.relay.Connections(),
		"history_len":        hist.Len(),
		"history_backend":    s.backend,
		"history_persistent": persistent,
	})
}

func (s *Service) ListSessions(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	sessions := s.relay.Registry().Sessions()
	items := make([]any, 0, len(sessions))
	for _, info := range sessions {
		items = append(items, map[string]any{
			"username":  info.Username,
			"status":    string(info.Status),
			"last_seen": info.LastSeen.UnixMilli(),
			"connected": info.Connected,
			"conn_id":   info.ConnID,
		})
	}
	return structpb.NewList(items)
}

func (s *Service) MessagesSince(_ context.Context, req *wrapperspb.Int64Value) (*structpb.ListValue, error) {
	if req.GetValue() < 0 {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "since must not be negative")
	}
	records := s.relay.History().Since(req.GetValue(), s.relay.QueryPageSize())
	items := make([]any, 0, len(records))
	for _, r := range records {
		items = append(items, map[string]any{
			"id":        r.ID,
			"username":  r.Author,
			"text":      r.Text,
			"timestamp": r.Timestamp,
		})
	}
	return structpb.NewList(items)
}

// RegisterAdminServer registers impl on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, impl AdminServer) {
	s.RegisterService(&serviceDesc, impl)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "ListSessions", Handler: listSessionsHandler},
		{MethodName: "MessagesSince", Handler: messagesSinceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/admin/v1/admin.proto",
}

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetStatus")}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).GetStatus(ctx, req.(*emptypb.Empty))
	})
}

func listSessionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).ListSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("ListSessions")}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).ListSessions(ctx, req.(*emptypb.Empty))
	})
}

func messagesSinceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).MessagesSince(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("MessagesSince")}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).MessagesSince(ctx, req.(*wrapperspb.Int64Value))
	})
}
