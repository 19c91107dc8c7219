package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a bounded, process-local Queue
type MemoryQueue struct {
	items     chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates a memory queue sized by config.Capacity
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}
	return &MemoryQueue{
		items: make(chan interface{}, config.capacity()),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Enqueue returns ErrQueueFull instead of blocking so callers can fall back
// to a direct write.
func (q *MemoryQueue) Enqueue(ctx context.Context, item interface{}) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	select {
	case q.items <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue waits for the first item, then takes what is already buffered
func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([]interface{}, error) {
	return q.dequeue(ctx, maxItems, nil)
}

// DequeueWithTimeout is Dequeue bounded by timeout
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return q.dequeue(ctx, maxItems, timer.C)
}

func (q *MemoryQueue) dequeue(ctx context.Context, maxItems int, deadline <-chan time.Time) ([]interface{}, error) {
	if q.isClosed() {
		return nil, ErrQueueClosed
	}
	if maxItems <= 0 {
		maxItems = 1
	}

	var first interface{}
	select {
	case first = <-q.items:
	case <-deadline:
		return []interface{}{}, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	items := []interface{}{first}
	for len(items) < maxItems {
		select {
		case item := <-q.items:
			items = append(items, item)
		default:
			return items, nil
		}
	}
	return items, nil
}

// Length returns the number of buffered items
func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	if q.isClosed() {
		return 0, ErrQueueClosed
	}
	return len(q.items), nil
}

// Close wakes blocked consumers. Buffered items are discarded, so the writer
// drains before the queue is closed.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

// MemoryDeadLetterQueue keeps failed items in insertion order
type MemoryDeadLetterQueue struct {
	mu     sync.Mutex
	items  []DeadLetterItem
	closed bool
	now    func() time.Time
}

// NewMemoryDeadLetterQueue creates an empty dead letter queue
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{now: time.Now}
}

// Add records item with the error that sent it here
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, item interface{}, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, newDeadLetterItem(item, err, q.now()))
	return nil
}

// List returns copies of the oldest maxItems items
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	n := len(q.items)
	if maxItems > 0 && maxItems < n {
		n = maxItems
	}
	out := make([]DeadLetterItem, n)
	copy(out, q.items[:n])
	return out, nil
}

// Remove deletes the item with the given id
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

// Close drops every held item
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}

func newDeadLetterItem(item interface{}, err error, at time.Time) DeadLetterItem {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return DeadLetterItem{
		ID:        uuid.NewString(),
		Item:      item,
		Error:     reason,
		Timestamp: at.UTC(),
	}
}

func serializeItem(item interface{}) ([]byte, error) {
	return json.Marshal(item)
}

func deserializeItem(data []byte, target interface{}) error {
	return json.Unmarshal(data, target)
}
