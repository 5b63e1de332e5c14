package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/your-org/motionwatch/internal/model"
)

// NATSSink publishes notifications to a NATS subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to url with automatic reconnection.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("motionwatch-notify"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: nc, subject: subject}, nil
}

func (n *NATSSink) Name() string { return "nats" }

func (n *NATSSink) Deliver(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(model.MotionMessage(ev))
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", n.subject, err)
	}
	// Publish only buffers; flush so a dead server surfaces as an error here.
	return n.conn.FlushWithContext(ctx)
}

func (n *NATSSink) Close() error {
	n.conn.Close()
	return nil
}
