package outbox

import (
	"context"

	"vendorgrid/internal/ingestion/models"
)

// Publisher delivers one change event to a downstream sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev *models.ChangeEvent) error
}

// Producer is the slice of the kafka producer KafkaPublisher needs.
type Producer interface {
	Produce(ctx context.Context, key, value []byte, headers map[string]string) error
}

// KafkaPublisher keys records by canonical id so every change to one vendor
// lands on the same partition in commit order.
type KafkaPublisher struct {
	producer Producer
}

func NewKafkaPublisher(p Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (k *KafkaPublisher) Name() string { return "kafka" }

func (k *KafkaPublisher) Publish(ctx context.Context, ev *models.ChangeEvent) error {
	return k.producer.Produce(ctx, []byte(ev.AggregateID), ev.Payload, map[string]string{
		"event_type": string(ev.EventType),
		"event_id":   ev.ID.String(),
		"source":     models.EventSource,
	})
}
