package feed

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Producer publishes change notices to the snapshot topic. The feed writes
// exactly one topic, so a single writer is built up front; keyed writes hash
// each diary to a stable partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer for the topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		},
	}
}

// WriteMessages writes messages to the snapshot topic.
func (p *Producer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
