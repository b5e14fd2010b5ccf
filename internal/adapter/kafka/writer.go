package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes enriched propagation paths to a Kafka topic.
// It implements enricher.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the match topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes all paths in a single WriteMessages call. Messages are keyed
// by activator callsign so one activation's paths stay on one partition.
func (w *Writer) Publish(ctx context.Context, paths []domain.PropagationPath) error {
	if len(paths) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(paths))
	for i := range paths {
		msg, err := serializeToMessage(paths[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka publish %d paths: %w", len(msgs), err)
	}
	w.logger.Debug("paths published", "sink", "kafka", "topic", w.writer.Topic, "count", len(msgs))
	return nil
}

// Close flushes pending messages and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

func serializeToMessage(p domain.PropagationPath) (kafkago.Message, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize propagation path %d: %w", p.MatchID, err)
	}
	return kafkago.Message{
		Key:   []byte(p.Activator),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "match_id", Value: []byte(strconv.FormatInt(p.MatchID, 10))},
			{Key: "summit_ref", Value: []byte(p.SummitRef)},
			{Key: "enriched_at", Value: []byte(p.EnrichedAt)},
		},
	}, nil
}
