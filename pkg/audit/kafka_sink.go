package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is satisfied by *kgo.Client
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSink publishes records as JSON, keyed by tenant so that a tenant's
// trail stays ordered within a partition
type KafkaSink struct {
	producer Producer
	topic    string
}

// NewKafkaSink creates a new KafkaSink
func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

// NewKafkaClient creates a franz-go client for the audit topic
func NewKafkaClient(brokers []string, clientID string) (*kgo.Client, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return cl, nil
}

func (s *KafkaSink) Write(ctx context.Context, records []*Record) error {
	msgs := make([]*kgo.Record, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode audit record %s: %w", rec.ID, err)
		}
		msgs = append(msgs, &kgo.Record{
			Topic: s.topic,
			Key:   []byte(rec.TenantID),
			Value: value,
		})
	}

	if err := s.producer.ProduceSync(ctx, msgs...).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce %s: %w", s.topic, err)
	}
	return nil
}
