package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/mpicard/baac-enrich/internal/domain"
)

// Writer publishes enriched accident documents to a Kafka topic, one message
// per document, keyed by accident id so consumers can dedupe and compact.
// It implements delivery.Sink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the sink topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Deliver publishes the whole batch in a single WriteMessages call. Any
// failure fails the batch; the caller retries it whole.
func (w *Writer) Deliver(ctx context.Context, batch []domain.EnrichedRecord) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(batch))
	for i := range batch {
		msg, err := serializeToMessage(&batch[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals one document into a Kafka message.
func serializeToMessage(doc *domain.EnrichedRecord) (kafkago.Message, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize document %s: %w", doc.AccidentID, err)
	}
	return kafkago.Message{
		Key:   []byte(doc.AccidentID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "enrichment_status", Value: []byte(doc.Status)},
			{Key: "processed_at", Value: []byte(doc.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
