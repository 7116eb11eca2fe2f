package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher is what the matching service and tracker use to emit ride
// events.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// KafkaProducer writes envelopes to one topic, keyed by ride id so all
// events for a ride land on the same partition.
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) Publish(ctx context.Context, env Envelope) error {
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(wctx, kafka.Message{Key: []byte(env.Data.ID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
