package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/snow-forcing-etl/internal/config"
	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

// Reader consumes export requests from the request topic.
// It implements worker.RequestReader.
type Reader struct {
	reader        *kafkago.Reader
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewReader creates a consumer-group reader for the request topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaRequestTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	flush := cfg.BatchFlushInterval
	if flush <= 0 {
		flush = time.Second
	}
	return &Reader{reader: r, flushInterval: flush, logger: logger}
}

// ExtractBatch fetches up to batchSize requests, waiting at most the flush
// interval. It returns an empty batch when nothing arrived in time. Offsets
// are committed through each delivery's Commit hook.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]worker.Delivery, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	batch := make([]worker.Delivery, 0, batchSize)
	for len(batch) < batchSize {
		msg, err := r.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, r.delivery(msg))
	}
	return batch, nil
}

func (r *Reader) delivery(msg kafkago.Message) worker.Delivery {
	d := mapMessageToDelivery(msg)
	if d.Request.JobID == "" {
		// Undecodable requests carry no job; the runner commits them past.
		r.logger.Warn("undecodable export request",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
	d.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return d
}

// Close stops the reader and leaves the consumer group.
func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToDelivery decodes a request message. A message that does not
// decode yields a delivery with an empty request.
func mapMessageToDelivery(msg kafkago.Message) worker.Delivery {
	var req worker.Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		req = worker.Request{}
	}
	return worker.Delivery{
		Request:   req,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
}
