package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "relayd.log")
	logger, closeFn, err := New(Options{Path: path, Component: "relayd", Profile: "main"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("relay started")
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", data)
	}
	if entry["msg"] != "relay started" || entry["component"] != "relayd" || entry["profile"] != "main" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts field")
	}
}

func TestNewConsoleAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Options{Console: true, Stderr: &buf, Level: "warn"})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	_ = closeFn()

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("console output = %q", out)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "chatty"}); err == nil {
		t.Error("New() accepted unknown level")
	}
}
