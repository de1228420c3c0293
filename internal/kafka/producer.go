package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Producer publishes refresh requests
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer connects a synchronous producer to the brokers
func NewProducer(brokers []string, topic string) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewProducerFrom(sp, topic), nil
}

// NewProducerFrom wraps an existing producer
func NewProducerFrom(sp sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: sp, topic: topic}
}

// Publish sends a request keyed by requester. A zero RequestedAt is set to now.
func (p *Producer) Publish(req RefreshRequest) (partition int32, offset int64, err error) {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return 0, 0, fmt.Errorf("encoding refresh request: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(data),
	}
	if req.RequestedBy != "" {
		msg.Key = sarama.StringEncoder(req.RequestedBy)
	}

	partition, offset, err = p.producer.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("publishing refresh request: %w", err)
	}
	return partition, offset, nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
