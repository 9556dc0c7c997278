package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

// TypeHeader names the header carrying the message type consumers dispatch on.
const TypeHeader = "type"

// Producer publishes JSON messages to one topic.
type Producer struct {
	Config *cfg.Config
	Logger log.Logger
	writer *kafka.Writer
}

func NewProducer(config *cfg.Config, logger log.Logger, topic string) (*Producer, error) {
	if len(config.Kafka.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Kafka.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		Config: config,
		Logger: logger,
		writer: writer,
	}, nil
}

// Publish writes value as JSON under key. Messages with the same key land on
// the same partition.
func (p *Producer) Publish(ctx context.Context, msgType, key string, value interface{}) error {
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   jsonBytes,
		Headers: []kafka.Header{{Key: TypeHeader, Value: []byte(msgType)}},
		Time:    time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.Logger.Debug(ctx, "Published %s message %s to %s", msgType, key, p.writer.Topic)
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
