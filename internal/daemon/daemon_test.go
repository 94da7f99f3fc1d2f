package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/fx"

	"github.com/matheus3301/relay/internal/admin"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/protocol"
)

func testParams(t *testing.T, dir string) Params {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.HistoryBackend = "sqlite"
	return Params{
		Profile: "test",
		Config:  cfg,
		Dir:     filepath.Join(dir, "srv"),
		Socket:  filepath.Join(dir, "a.sock"),
	}
}

func startApp(t *testing.T, p Params) (*fx.App, *Server) {
	t.Helper()
	var srv *Server
	app := fx.New(Module(p), fx.NopLogger, fx.Populate(&srv))
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return app, srv
}

func stopApp(t *testing.T, app *fx.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

// sendMessage joins as name and waits for the relay to echo one message.
func sendMessage(t *testing.T, addr, name, text string) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	for _, f := range []protocol.Frame{
		protocol.Join{Username: name},
		protocol.Message{ID: "m-" + text, Text: text, Username: name},
	} {
		data, err := protocol.Encode(f)
		if err != nil {
			t.Fatal(err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatal(err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for echo: %v", err)
		}
		f, err := protocol.Decode(data)
		if err != nil {
			t.Fatal(err)
		}
		if m, ok := f.(*protocol.Message); ok && m.Text == text {
			return
		}
	}
}

func TestDaemonLifecycle(t *testing.T) {
	// Short path to stay under the Unix socket path limit.
	tmpDir, err := os.MkdirTemp("/tmp", "relayd-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	p := testParams(t, tmpDir)

	app, srv := startApp(t, p)

	resp, err := http.Get("http://" + srv.Addr() + "/up")
	if err != nil {
		t.Fatal(err)
	}
	var up map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if up["status"] != "ok" {
		t.Errorf("/up = %v", up)
	}

	var held *lock.HeldError
	if _, err := lock.Acquire(p.Dir); !errors.As(err, &held) {
		t.Errorf("second lock error = %v, want *lock.HeldError", err)
	}

	sendMessage(t, srv.Addr(), "alice", "hello")

	c, err := admin.Dial(p.Socket)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.HistoryLen != 1 || !st.HistoryPersistent || st.HistoryBackend != "sqlite" {
		t.Errorf("status = %+v", st)
	}
	_ = c.Close()

	stopApp(t, app)

	if _, err := os.Stat(p.Socket); !os.IsNotExist(err) {
		t.Errorf("admin socket left behind: %v", err)
	}
	if _, err := os.Stat(filepath.Join(p.Dir, "logs", "relayd.log")); err != nil {
		t.Errorf("log file missing: %v", err)
	}
}

func TestHistorySurvivesRestart(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "relayd-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	p := testParams(t, tmpDir)

	app, srv := startApp(t, p)
	sendMessage(t, srv.Addr(), "alice", "before restart")
	stopApp(t, app)

	app, srv = startApp(t, p)
	defer stopApp(t, app)

	resp, err := http.Get("http://" + srv.Addr() + "/api/messages?since=0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var body struct {
		Messages []protocol.MessageRecord `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Text != "before restart" {
		t.Errorf("messages after restart = %+v", body.Messages)
	}
}

func TestStartFailsWhenLocked(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "relayd-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	p := testParams(t, tmpDir)

	lk, err := lock.Acquire(p.Dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	var srv *Server
	app := fx.New(Module(p), fx.NopLogger, fx.Populate(&srv))
	if err := app.Err(); err == nil || !strings.Contains(err.Error(), "lock held by PID") {
		t.Errorf("fx.New() error = %v, want lock held", err)
	}
}

func TestConfiguredGraceWindowGovernsExpiry(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "relayd-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	p := testParams(t, tmpDir)
	p.Config.Server.GraceWindow = config.Duration(300 * time.Millisecond)

	app, srv := startApp(t, p)
	defer stopApp(t, app)

	c, err := admin.Dial(p.Socket)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	// The socket closes on return, starting alice's grace window.
	sendMessage(t, srv.Addr(), "alice", "brief visit")

	// The built-in window is 30s; only the configured one expires this fast.
	deadline := time.Now().Add(5 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		sessions, err := c.Sessions(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Sessions() error = %v", err)
		}
		if len(sessions) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("sessions = %+v, want alice expired after the configured grace window", sessions)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
