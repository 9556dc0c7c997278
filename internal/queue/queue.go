// Package queue runs GitHub scans in the background. A scan request becomes a
// github_scans row and a message keyed by the scan id; a worker consumes the
// message, runs the scan and reconciliation, and moves the row to a terminal
// state.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thep200/github-contrib-scanner/cfg"
	"github.com/thep200/github-contrib-scanner/pkg/log"
)

// MessageType is the kafka type header of scan messages.
const MessageType = "github-scan"

var ErrQueueClosed = errors.New("queue closed")

// Message asks for one scan. Attempt counts from 1.
type Message struct {
	ScanID     string    `json:"scan_id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// HandlerFunc processes a message. Transports acknowledge the message once it
// returns.
type HandlerFunc func(ctx context.Context, msg Message) error

type Queue interface {
	Submit(ctx context.Context, msg Message) error
	Consume(ctx context.Context, handler HandlerFunc) error
	Close() error
}

// New builds the transport selected by config.Queue.Driver.
func New(logger log.Logger, config *cfg.Config) (Queue, error) {
	switch config.Queue.Driver {
	case "memory", "":
		return NewMemoryQueue(logger, config.Queue.Concurrency), nil
	case "kafka":
		return NewKafkaQueue(logger, config)
	default:
		return nil, fmt.Errorf("unsupported queue driver: %s", config.Queue.Driver)
	}
}
