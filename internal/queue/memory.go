package queue

import (
	"context"
	"sync"

	"github.com/thep200/github-contrib-scanner/pkg/log"
)

const memoryQueueSize = 256

// MemoryQueue is a buffered channel for single-process deployments.
type MemoryQueue struct {
	Logger      log.Logger
	concurrency int
	ch          chan Message
	done        chan struct{}
	closeOnce   sync.Once
}

func NewMemoryQueue(logger log.Logger, concurrency int) *MemoryQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &MemoryQueue{
		Logger:      logger,
		concurrency: concurrency,
		ch:          make(chan Message, memoryQueueSize),
		done:        make(chan struct{}),
	}
}

func (q *MemoryQueue) Submit(ctx context.Context, msg Message) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs handler on up to concurrency messages at a time until ctx is
// cancelled or the queue is closed.
func (q *MemoryQueue) Consume(ctx context.Context, handler HandlerFunc) error {
	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case msg := <-q.ch:
					q.handle(ctx, handler, msg)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *MemoryQueue) handle(ctx context.Context, handler HandlerFunc, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			q.Logger.Error(ctx, "Recovered from panic while handling scan %s: %v", msg.ScanID, r)
		}
	}()
	if err := handler(ctx, msg); err != nil {
		q.Logger.Error(ctx, "Error handling scan %s: %v", msg.ScanID, err)
	}
}

// Len reports the number of queued messages.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
