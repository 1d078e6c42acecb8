package backend

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher forwards committed events to a Kafka topic. The
// message key is the resource id, so all changes to one row end up in
// the same partition and keep their order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

type kafkaEvent struct {
	Resource   string `json:"resource"`
	Operation  string `json:"operation"`
	ResourceID string `json:"resource_id"`
	CreatedAt  string `json:"created_at"`
}

// Publish writes the event to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(kafkaEvent{
		Resource:   event.Resource,
		Operation:  string(event.Operation),
		ResourceID: event.ResourceID,
		CreatedAt:  event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ResourceID),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
