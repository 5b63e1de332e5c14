package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesServiceFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	log, err := New("debug", WithService("motionwatch", "test", "1.2.3"), WithOutputs(path))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	log.Named("capture").Debug("frame read")
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry); err != nil {
		t.Fatalf("decode entry %q: %v", raw, err)
	}
	if entry["service"] != "motionwatch" || entry["logger"] != "capture" || entry["level"] != "debug" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Fatal("expected level error")
	}
	if _, err := New("info", WithEncoding("xml")); err == nil {
		t.Fatal("expected encoding error")
	}
}
