// Package hub fans persisted events out to live subscribers.
//
// A Hub is not safe for concurrent use. Every method must be called from the
// dispatch loop goroutine, which is the only owner of the registry.
package hub

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Subscriber is a live connection that accepts pre-encoded messages.
// Send must return once its own delivery attempt finishes or times out.
// Close tears down the underlying connection after a failed Send.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

// Hub tracks live subscribers in registration order.
type Hub struct {
	logger      *zap.Logger
	subscribers []Subscriber
}

// New constructs an empty Hub.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger.Named("hub")}
}

// Connect registers sub. The transport-level accept has already happened.
func (h *Hub) Connect(sub Subscriber) {
	h.subscribers = append(h.subscribers, sub)
	h.logger.Debug("subscriber connected", zap.String("subscriber", sub.ID()), zap.Int("subscribers", len(h.subscribers)))
}

// Disconnect removes sub if present. Calling it twice is harmless.
func (h *Hub) Disconnect(sub Subscriber) {
	for i, s := range h.subscribers {
		if s == sub {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			h.logger.Debug("subscriber disconnected", zap.String("subscriber", sub.ID()), zap.Int("subscribers", len(h.subscribers)))
			return
		}
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	return len(h.subscribers)
}

// Broadcast encodes message once and attempts delivery to every subscriber.
// Subscribers whose Send fails are removed and closed after the pass completes.
func (h *Hub) Broadcast(message any) error {
	if len(h.subscribers) == 0 {
		return nil
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal broadcast message: %w", err)
	}

	var failed []Subscriber
	for _, sub := range h.subscribers {
		if err := sub.Send(payload); err != nil {
			h.logger.Debug("subscriber send failed", zap.String("subscriber", sub.ID()), zap.Error(err))
			failed = append(failed, sub)
		}
	}

	for _, sub := range failed {
		h.Disconnect(sub)
		if err := sub.Close(); err != nil {
			h.logger.Debug("subscriber close failed", zap.String("subscriber", sub.ID()), zap.Error(err))
		}
	}
	return nil
}
