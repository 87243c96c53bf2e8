package messaging

import (
	"context"
	"fmt"

	"circlesave.backend/internal/config"
	"github.com/IBM/sarama"
)

// Publisher delivers serialized ledger events downstream
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

var newSyncProducer = sarama.NewSyncProducer

// KafkaPublisher publishes to a single topic with a synchronous producer
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaConfig builds the producer settings: every in-sync replica must
// acknowledge, so a relayed event is durable once Publish returns.
func NewKafkaConfig(clientID string) *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.ClientID = clientID
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	return kafkaConfig
}

// NewKafkaPublisher connects a producer to the configured brokers
func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka publisher: no brokers configured")
	}
	producer, err := newSyncProducer(cfg.Brokers, NewKafkaConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.Topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish sends one message keyed by key. Keying by circle keeps a
// circle's events ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close closes the underlying producer
func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
