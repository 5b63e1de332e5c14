package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Events.Limit != 200 {
		t.Fatalf("events limit = %d", cfg.Events.Limit)
	}
	if len(cfg.Events.Zones) != 5 || cfg.Events.Zones[0] != "Front Door" {
		t.Fatalf("zones = %v", cfg.Events.Zones)
	}
	if cfg.Retention.Days != 7 || cfg.Retention.Interval != time.Hour {
		t.Fatalf("retention = %+v", cfg.Retention)
	}
	if cfg.Camera.MinArea != 5000 || cfg.Camera.BaselineRefreshFrames != 150 {
		t.Fatalf("camera = %+v", cfg.Camera)
	}
	if cfg.HTTP.Addr() != "0.0.0.0:8000" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EVENT_SEVERITIES", "info,critical")
	t.Setenv("EVENT_RETENTION_DAYS", "0")
	t.Setenv("NOTIFY_SINK", "nats")
	t.Setenv("CAM_FRAME_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Events.Severities) != 2 || cfg.Events.Severities[1] != "critical" {
		t.Fatalf("severities = %v", cfg.Events.Severities)
	}
	if cfg.Retention.Days != 0 {
		t.Fatalf("retention days = %d", cfg.Retention.Days)
	}
	if cfg.Notify.Sink != "nats" {
		t.Fatalf("sink = %q", cfg.Notify.Sink)
	}
	if cfg.Camera.FrameInterval != 250*time.Millisecond {
		t.Fatalf("frame interval = %s", cfg.Camera.FrameInterval)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("APP_PORT", "eighty")
	if _, err := Load(); err == nil {
		t.Fatal("expected error")
	}
}
