package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/history"
	"github.com/matheus3301/relay/internal/protocol"
	"github.com/matheus3301/relay/internal/sched"
)

func TestMessagesEndpoint(t *testing.T) {
	h := newHarness(t, Options{QueryPageSize: 3})
	for i := 1; i <= 5; i++ {
		h.log.Append(protocol.MessageRecord{ID: fmt.Sprint("m", i), Author: "alice", Text: fmt.Sprint(i), Timestamp: int64(i * 10_000)})
	}
	handler := h.srv.Handler()

	tests := []struct {
		name    string
		query   string
		status  int
		wantIDs []string
	}{
		{"default page", "", http.StatusOK, []string{"m1", "m2", "m3"}},
		{"since", "?since=20000", http.StatusOK, []string{"m3", "m4", "m5"}},
		{"limit", "?since=20000&limit=1", http.StatusOK, []string{"m3"}},
		{"limit capped", "?limit=100", http.StatusOK, []string{"m1", "m2", "m3"}},
		{"nothing newer", "?since=99999", http.StatusOK, []string{}},
		{"bad since", "?since=yesterday", http.StatusBadRequest, nil},
		{"bad limit", "?limit=0", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages"+tt.query, nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if tt.wantIDs == nil {
				return
			}
			var body struct {
				Messages []protocol.MessageRecord `json:"messages"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Messages == nil {
				t.Fatal("messages is null, want an array")
			}
			var ids []string
			for _, m := range body.Messages {
				ids = append(ids, m.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestUpEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect(t, "c1", "alice")

	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/up", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["online"] != float64(1) {
		t.Errorf("body = %v", body)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func writeFrame(t *testing.T, ws *websocket.Conn, f protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	log := history.New(nil, history.Options{}, zap.NewNop())
	srv := NewServer(log, sched.Real(), Options{}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ws.Close() }()

	if f := readFrame(t, ws); f.Kind() != protocol.KindHistory {
		t.Fatalf("first frame = %s, want history", f.Kind())
	}

	writeFrame(t, ws, protocol.Join{Username: "alice"})
	want := []protocol.Kind{protocol.KindOnlineCount, protocol.KindUsersList}
	for _, k := range want {
		if f := readFrame(t, ws); f.Kind() != k {
			t.Fatalf("got %s, want %s", f.Kind(), k)
		}
	}

	writeFrame(t, ws, protocol.Message{ID: "m1", Text: "hello <world>", Timestamp: 1})
	f := readFrame(t, ws)
	msg, ok := f.(*protocol.Message)
	if !ok {
		t.Fatalf("got %s, want message", f.Kind())
	}
	if msg.ID != "m1" || msg.Text != "hello <world>" || msg.Username != "alice" {
		t.Errorf("echo = %+v", msg)
	}
	if log.Len() != 1 {
		t.Errorf("history len = %d", log.Len())
	}

	// A second client with the same live name is refused and disconnected.
	dup, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = dup.Close() }()
	readFrame(t, dup)
	writeFrame(t, dup, protocol.Join{Username: "alice"})
	errFrame, ok := readFrame(t, dup).(*protocol.Error)
	if !ok || errFrame.Code != protocol.CodeNameInUse {
		t.Fatalf("got %+v, want name_in_use", errFrame)
	}
	_ = dup.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := dup.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after refusal: %v, want normal close", err)
	}
}
