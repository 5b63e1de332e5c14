package motion

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/your-org/motionwatch/internal/model"
)

const streamGreeting = "Connected to motion event stream"

// wsSubscriber adapts a websocket connection to hub.Subscriber.
type wsSubscriber struct {
	id      string
	conn    *websocket.Conn
	timeout time.Duration

	mu sync.Mutex
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSubscriber) sendJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// Close is called by the hub after a failed send. The read loop in
// handleStream then exits and unregisters the subscriber.
func (s *wsSubscriber) Close() error {
	s.closeWith(websocket.CloseGoingAway, "send failed")
	return nil
}

func (s *wsSubscriber) closeWith(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = s.conn.Close()
}

// handleStream upgrades to a websocket, authenticates the ?token= query
// parameter and registers the connection with the hub until it closes.
func (h *HTTPHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := &wsSubscriber{id: uuid.NewString(), conn: conn, timeout: h.wsWriteTimeout}

	if _, err := h.auth.ResolveToken(r.Context(), token); err != nil {
		sub.closeWith(websocket.ClosePolicyViolation, "invalid token")
		return
	}

	// Greeting and registration share one task so the greeting is always
	// the first frame the subscriber sees.
	err = h.dispatcher.Submit(r.Context(), func(ctx context.Context) error {
		if err := sub.sendJSON(model.InfoMessage(streamGreeting)); err != nil {
			return err
		}
		h.hub.Connect(sub)
		return nil
	})
	if err != nil {
		h.logger.Debug("websocket registration failed", zap.String("subscriber", sub.id), zap.Error(err))
		sub.closeWith(websocket.CloseTryAgainLater, "stream unavailable")
		return
	}
	defer func() {
		_ = h.dispatcher.Submit(context.Background(), func(ctx context.Context) error {
			h.hub.Disconnect(sub)
			return nil
		})
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed", zap.String("subscriber", sub.id), zap.Error(err))
			}
			return
		}
	}
}
