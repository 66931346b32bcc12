// Package publisher relays order events from the transactional outbox to Kafka.
package publisher

import (
	"context"
	"time"

	"github.com/fjod/petmarket/internal/repository"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const defaultBatchSize = 100

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OutboxPoller struct {
	timeout   time.Duration
	eventTick time.Duration
	batchSize int
	repo      repository.OutboxRepository
	writer    messageWriter
}

func NewOutboxPoller(repo repository.OutboxRepository, topic string, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // same order id, same partition
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
	return &OutboxPoller{
		timeout:   5 * time.Second,
		eventTick: time.Second,
		batchSize: defaultBatchSize,
		repo:      repo,
		writer:    w,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.eventTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

// processUnpublishedEvents publishes one batch and returns how many events were marked processed.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch outbox events")
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			// stop here so events of one order are never published out of sequence
			log.Warn().Err(err).Int64("event_id", event.ID).Str("event_type", event.EventType).Msg("failed to publish event")
			return published
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			log.Warn().Err(err).Int64("event_id", event.ID).Msg("failed to mark event as processed")
			return published
		}
		published++
	}
	return published
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload, // already JSON
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
