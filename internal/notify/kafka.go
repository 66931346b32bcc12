package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjod/petmarket/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes notifications to a topic consumed by the delivery service.
// The writer is async, so Notify returns before the broker acknowledges.
type KafkaSender struct {
	writer messageWriter
}

func NewKafkaSender(topic string, brokers ...string) *KafkaSender {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Int("count", len(messages)).Msg("failed to deliver notifications")
			}
		},
	}
	return &KafkaSender{writer: w}
}

func (k *KafkaSender) Notify(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(n.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "subject", Value: []byte(n.Subject)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

func (k *KafkaSender) Close() error {
	return k.writer.Close()
}
