package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/kafka"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

// KafkaQueue publishes scan messages keyed by scan id and consumes them in the
// configured consumer group.
type KafkaQueue struct {
	Logger   log.Logger
	Config   *cfg.Config
	producer *kafka.Producer
	consumer *kafka.Consumer
}

func NewKafkaQueue(logger log.Logger, config *cfg.Config) (*KafkaQueue, error) {
	producer, err := kafka.NewProducer(config, logger, config.Kafka.Topic)
	if err != nil {
		return nil, err
	}
	return &KafkaQueue{
		Logger:   logger,
		Config:   config,
		producer: producer,
	}, nil
}

func (q *KafkaQueue) Submit(ctx context.Context, msg Message) error {
	return q.producer.Publish(ctx, MessageType, msg.ScanID, msg)
}

// Consume blocks until ctx is cancelled. Messages that fail to decode are
// logged and skipped.
func (q *KafkaQueue) Consume(ctx context.Context, handler HandlerFunc) error {
	consumer, err := kafka.NewConsumer(q.Config, q.Logger, q.Config.Kafka.Topic, q.Config.Kafka.GroupID)
	if err != nil {
		return err
	}
	q.consumer = consumer

	consumer.RegisterHandler(MessageType, func(ctx context.Context, key string, value []byte) error {
		msg, err := decodeMessage(key, value)
		if err != nil {
			return err
		}
		return handler(ctx, msg)
	})
	return consumer.Start(ctx)
}

func (q *KafkaQueue) Close() error {
	var errs []error
	if err := q.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	if q.consumer != nil {
		if err := q.consumer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decodeMessage(key string, value []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal scan message %s: %w", key, err)
	}
	if msg.ScanID == "" {
		msg.ScanID = key
	}
	if msg.ScanID != key {
		return Message{}, fmt.Errorf("scan message key %s does not match scan id %s", key, msg.ScanID)
	}
	if msg.Attempt <= 0 {
		msg.Attempt = 1
	}
	return msg, nil
}
