package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/snow-forcing-etl/internal/config"
	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

// RequestWriter produces export requests to the request topic.
// It implements worker.Queue.
type RequestWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewRequestWriter creates a producer for the configured request topic.
// Requests are keyed by job id, so redeliveries of one job stay on one
// partition.
func NewRequestWriter(cfg *config.Config, logger *slog.Logger) *RequestWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaRequestTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &RequestWriter{writer: w, logger: logger}
}

// Enqueue publishes one request.
func (w *RequestWriter) Enqueue(ctx context.Context, req worker.Request) error {
	msg, err := serializeRequest(req)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *RequestWriter) Close() error {
	return w.writer.Close()
}

// EventWriter produces job events to the event topic.
// It implements worker.EventPublisher.
type EventWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewEventWriter creates a producer for the configured event topic.
func NewEventWriter(cfg *config.Config, logger *slog.Logger) *EventWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaEventTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &EventWriter{writer: w, logger: logger}
}

// PublishBatch serializes and publishes job events in a single
// WriteMessages call.
func (w *EventWriter) PublishBatch(ctx context.Context, events []worker.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeEvent(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *EventWriter) Close() error {
	return w.writer.Close()
}

func serializeRequest(req worker.Request) (kafkago.Message, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize export request: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(req.JobID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "plan_key", Value: []byte(req.PlanKey)},
			{Key: "queued_at", Value: []byte(req.QueuedAt.Format(time.RFC3339))},
		},
	}, nil
}

func serializeEvent(ev worker.Event) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize job event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.JobID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "state", Value: []byte(ev.State)},
			{Key: "at", Value: []byte(ev.At.Format(time.RFC3339))},
		},
	}, nil
}
