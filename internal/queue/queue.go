// Package queue buffers usage log entries between the request path and the
// database writer.
//
// The memory backend is a bounded channel local to the process and loses its
// contents on restart. The Redis backend is a list shared by every gateway
// replica. Entries that still fail after the writer's retries land in a
// DeadLetterQueue where an operator can inspect and requeue them.
package queue

import (
	"context"
	"time"
)

// Queue is a FIFO of pending items
type Queue interface {
	// Enqueue adds an item. It must not block on a full queue.
	Enqueue(ctx context.Context, item interface{}) error

	// Dequeue waits for at least one item, then returns up to maxItems
	Dequeue(ctx context.Context, maxItems int) ([]interface{}, error)

	// DequeueWithTimeout is Dequeue that gives up after timeout with an
	// empty slice
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	Length(ctx context.Context) (int, error)

	Close() error
}

// DeadLetterQueue holds items that could not be processed
type DeadLetterQueue interface {
	Add(ctx context.Context, item interface{}, err error) error

	// List returns up to maxItems items, oldest first. maxItems <= 0 means all.
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	Remove(ctx context.Context, id string) error

	Close() error
}

// DeadLetterItem is a failed item with the reason it failed
type DeadLetterItem struct {
	ID        string      `json:"id"`
	Item      interface{} `json:"item"`
	Error     string      `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries"`
}

// Config holds queue and writer settings
type Config struct {
	// BatchSize is the maximum number of items written together
	BatchSize int

	// BatchTimeout bounds how long a partial batch waits
	BatchTimeout time.Duration

	// MaxRetries is the number of retries per item before dead-lettering
	MaxRetries int

	// RetryBackoff is the first retry delay; later ones grow exponentially
	RetryBackoff time.Duration

	// Capacity bounds the memory backend. Zero means ten batches.
	Capacity int

	// QueueName namespaces the Redis keys
	QueueName string
}

// DefaultConfig returns the usage writer defaults
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 2 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
		QueueName:    queueName,
	}
}

func (c *Config) capacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	if c.BatchSize > 0 {
		return c.BatchSize * 10
	}
	return 1000
}
