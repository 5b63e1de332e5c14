package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/your-org/motionwatch/internal/model"
	"github.com/your-org/motionwatch/pkg/kafka"
)

// Publisher is the subset of kafka.Producer the sink needs.
type Publisher interface {
	Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error
	Close(ctx context.Context) error
}

var _ Publisher = (*kafka.Producer)(nil)

// KafkaSink publishes each notification as one message keyed by event id.
type KafkaSink struct {
	producer Publisher
}

func NewKafkaSink(producer Publisher) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Deliver(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(model.MotionMessage(ev))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	headers := map[string]string{
		"event_type": "motion.notification",
		"severity":   ev.Severity,
		"source":     ev.Source,
	}
	if err := k.producer.Publish(ctx, []byte(strconv.FormatInt(ev.ID, 10)), payload, headers); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close(context.Background())
}
