package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

// Handler processes one message. The offset is committed once it returns,
// whatever the result.
type Handler func(ctx context.Context, key string, value []byte) error

// Consumer reads one topic in a consumer group and dispatches on the message
// type header.
type Consumer struct {
	Config   *cfg.Config
	Logger   log.Logger
	reader   *kafka.Reader
	handlers map[string]Handler
}

func NewConsumer(config *cfg.Config, logger log.Logger, topic, groupID string) (*Consumer, error) {
	if len(config.Kafka.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:       config.Kafka.Brokers,
		Topic:         topic,
		GroupID:       groupID,
		MinBytes:      1,
		MaxBytes:      10e6,        // 10MB
		MaxWait:       time.Second, // Maximum amount of time to wait for new data
		StartOffset:   kafka.FirstOffset,
		RetentionTime: 7 * 24 * time.Hour, // 1 week
	})

	return &Consumer{
		Config:   config,
		Logger:   logger,
		reader:   reader,
		handlers: make(map[string]Handler),
	}, nil
}

// RegisterHandler registers a handler for a message type.
func (c *Consumer) RegisterHandler(msgType string, handler Handler) {
	c.handlers[msgType] = handler
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.Logger.Info(ctx, "Starting Kafka consumer for topic: %s", c.reader.Config().Topic)

	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.Logger.Error(ctx, "Error reading message: %v", err)
			continue
		}

		key := string(message.Key)
		msgType := headerValue(message.Headers, TypeHeader)
		if handler, exists := c.handlers[msgType]; exists {
			if err := handler(ctx, key, message.Value); err != nil {
				c.Logger.Error(ctx, "Error handling %s message with key %s: %v", msgType, key, err)
			} else {
				c.Logger.Info(ctx, "Successfully processed %s message with key: %s", msgType, key)
			}
		} else {
			c.Logger.Warn(ctx, "No handler registered for message type %q (key %s)", msgType, key)
		}

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Error(ctx, "Failed to commit offset for key %s: %v", key, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
