package notify

import "testing"

func TestNewNATSSinkUnreachable(t *testing.T) {
	if _, err := NewNATSSink("nats://127.0.0.1:1", "motionwatch.events"); err == nil {
		t.Fatal("expected connect error")
	}
}
