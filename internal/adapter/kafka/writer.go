package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/alertify-service/internal/config"
	"github.com/couchcryptid/alertify-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// EventWriter mirrors hub events to a Kafka topic.
// It implements incident.EventSink.
type EventWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewEventWriter creates an async producer for the configured events topic.
// Messages are keyed by post id so each post's events stay on one partition.
func NewEventWriter(cfg *config.Config, logger *slog.Logger) *EventWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaEventsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: cfg.BatchFlushInterval,
		Async:        true,
		Completion: func(messages []kafkago.Message, err error) {
			if err != nil {
				logger.Warn("event mirror delivery failed", "count", len(messages), "error", err)
			}
		},
	}
	return &EventWriter{writer: w, logger: logger}
}

// Send enqueues ev. Delivery failures are reported through the writer's
// completion callback, never to the caller.
func (w *EventWriter) Send(ctx context.Context, ev domain.Event) error {
	msg, err := serializeToMessage(ev)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

// Close flushes pending messages.
func (w *EventWriter) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an Event into a Kafka message.
func serializeToMessage(ev domain.Event) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.FormatInt(ev.Post.ID, 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "published_at", Value: []byte(ev.PublishedAt.Format(time.RFC3339Nano))},
		},
	}, nil
}
