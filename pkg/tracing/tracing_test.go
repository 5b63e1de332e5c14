package tracing

import (
	"context"
	"testing"
)

func TestParseAttributes(t *testing.T) {
	got := ParseAttributes(" service.namespace=motionwatch , broken, =empty, team = ops ")
	if len(got) != 2 {
		t.Fatalf("attrs = %v", got)
	}
	if got["service.namespace"] != "motionwatch" || got["team"] != "ops" {
		t.Fatalf("attrs = %v", got)
	}
	if len(ParseAttributes("")) != 0 {
		t.Fatal("expected no attributes for empty input")
	}
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "motionwatch"})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{ServiceName: "motionwatch", ServiceVersion: "1.0.0", Environment: "test"})
	if len(attrs) != 3 {
		t.Fatalf("attrs = %v", attrs)
	}
}
