package admin

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/relay/internal/protocol"
)

// Status is the decoded GetStatus reply.
type Status struct {
	Profile           string        `json:"profile"`
	Uptime            time.Duration `json:"uptime"`
	Online            int           `json:"online"`
	Connections       int           `json:"connections"`
	HistoryLen        int           `json:"history_len"`
	HistoryBackend    string        `json:"history_backend"`
	HistoryPersistent bool          `json:"history_persistent"`
}

// SessionEntry is one row of ListSessions.
type SessionEntry struct {
	Username  string    `json:"username"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
	Connected bool      `json:"connected"`
	ConnID    string    `json:"conn_id,omitempty"`
}

// Client wraps the gRPC connection to a relay's admin socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the admin socket. The connection is lazy; errors surface
// on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod("GetStatus"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	f := out.GetFields()
	return &Status{
		Profile:           f["profile"].GetStringValue(),
		Uptime:            time.Duration(f["uptime_ms"].GetNumberValue()) * time.Millisecond,
		Online:            int(f["online"].GetNumberValue()),
		Connections:       int(f["connections"].GetNumberValue()),
		HistoryLen:        int(f["history_len"].GetNumberValue()),
		HistoryBackend:    f["history_backend"].GetStringValue(),
		HistoryPersistent: f["history_persistent"].GetBoolValue(),
	}, nil
}

func (c *Client) Sessions(ctx context.Context) ([]SessionEntry, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, fullMethod("ListSessions"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	entries := make([]SessionEntry, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		f := v.GetStructValue().GetFields()
		entries = append(entries, SessionEntry{
			Username:  f["username"].GetStringValue(),
			Status:    f["status"].GetStringValue(),
			LastSeen:  time.UnixMilli(int64(f["last_seen"].GetNumberValue())),
			Connected: f["connected"].GetBoolValue(),
			ConnID:    f["conn_id"].GetStringValue(),
		})
	}
	return entries, nil
}

// MessagesSince returns one page of history with timestamps after since.
func (c *Client) MessagesSince(ctx context.Context, since int64) ([]protocol.MessageRecord, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, fullMethod("MessagesSince"), wrapperspb.Int64(since), out); err != nil {
		return nil, err
	}
	records := make([]protocol.MessageRecord, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		f := v.GetStructValue().GetFields()
		records = append(records, protocol.MessageRecord{
			ID:        f["id"].GetStringValue(),
			Author:    f["username"].GetStringValue(),
			Text:      f["text"].GetStringValue(),
			Timestamp: int64(f["timestamp"].GetNumberValue()),
			State:     protocol.Sent,
		})
	}
	return records, nil
}
