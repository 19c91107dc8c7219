package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"media_gateway/internal/models"
	"media_gateway/internal/queue"
	"media_gateway/internal/utils"
)

// drainTimeout bounds how long Stop spends flushing buffered entries
const drainTimeout = 10 * time.Second

// LogWriter is the write side of the request log
type LogWriter interface {
	Insert(ctx context.Context, entry *models.LogEntry) error
	InsertBatch(ctx context.Context, entries []*models.LogEntry) error
}

// WriteFailureCounter is notified when an entry could not be persisted
type WriteFailureCounter interface {
	RecordLogWriteFailure(stage string)
}

// UsageQueueWorker appends request log entries asynchronously
type UsageQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	logs        LogWriter
	config      *queue.Config
	failures    WriteFailureCounter
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
	stopOnce    sync.Once
}

// NewUsageQueueWorker creates a new usage queue worker
func NewUsageQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, logs LogWriter, config *queue.Config) *UsageQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &UsageQueueWorker{
		queue:       q,
		dlq:         dlq,
		logs:        logs,
		config:      config,
		logger:      utils.NewLogger("usage-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// SetFailureCounter attaches a metrics sink for dropped or retried writes
func (w *UsageQueueWorker) SetFailureCounter(c WriteFailureCounter) {
	w.failures = c
}

// Start starts the worker goroutine
func (w *UsageQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop stops the worker and flushes what is still buffered
func (w *UsageQueueWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	<-w.stoppedChan
	return nil
}

// Record appends an entry without blocking the caller and never fails.
// When the queue rejects the entry it is written directly; if that fails
// too it is reported on the diagnostic log and dropped.
func (w *UsageQueueWorker) Record(ctx context.Context, entry *models.LogEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	// the request may already be cancelled; the entry must still land
	ctx = context.WithoutCancel(ctx)

	err := w.queue.Enqueue(ctx, entry)
	if err == nil {
		return
	}
	w.logger.Warn("Usage queue rejected entry, writing directly", "error", err)
	w.countFailure("enqueue")

	if err := w.logs.Insert(ctx, entry); err != nil && !errors.Is(err, ErrDuplicateKey) {
		w.countFailure("dropped")
		w.logger.Error("Usage log entry dropped",
			"error", err,
			"id", entry.ID,
			"ts", entry.Timestamp,
			"key", entry.Key,
			"endpoint", entry.Endpoint,
			"success", entry.Success,
			"ms", entry.LatencyMS,
			"log_error", entry.ErrorText(),
		)
	}
}

// run is the main worker loop
func (w *UsageQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Usage worker stopping, draining queue")
			w.drain()
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled, draining queue")
			w.drain()
			return
		default:
			w.processBatch(ctx, w.config.BatchTimeout)
		}
	}
}

// drain flushes buffered entries on shutdown
func (w *UsageQueueWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for ctx.Err() == nil {
		n, err := w.queue.Length(ctx)
		if err != nil || n == 0 {
			return
		}
		w.processBatch(ctx, 10*time.Millisecond)
	}
}

// processBatch processes a batch of log entries
func (w *UsageQueueWorker) processBatch(ctx context.Context, timeout time.Duration) {
	// Dequeue items with timeout
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("Failed to dequeue usage entries", "error", err)
		select {
		case <-time.After(1 * time.Second): // Back off on error
		case <-w.stopChan:
		case <-ctx.Done():
		}
		return
	}

	if len(items) == 0 {
		return
	}

	w.logger.Debug("Processing usage batch", "count", len(items))

	entries := make([]*models.LogEntry, 0, len(items))
	for _, item := range items {
		var entry models.LogEntry
		if err := w.unmarshalItem(item, &entry); err != nil {
			w.logger.Error("Failed to unmarshal usage entry", "error", err)
			continue
		}
		entries = append(entries, &entry)
	}

	if len(entries) == 0 {
		return
	}

	// Try to insert batch
	if err := w.logs.InsertBatch(ctx, entries); err != nil {
		w.logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		// Fall back to individual inserts with retries
		for _, entry := range entries {
			if err := w.processItem(ctx, entry); err != nil {
				w.logger.Error("Failed to process usage entry", "error", err)
			}
		}
	}
}

// processItem inserts a single entry with exponential backoff, then dead-letters it
func (w *UsageQueueWorker) processItem(ctx context.Context, entry *models.LogEntry) error {
	base := w.config.RetryBackoff
	if base <= 0 {
		base = time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(max(w.config.MaxRetries, 0)), retry.NewExponential(base))

	var lastErr error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.logs.Insert(ctx, entry)
		if err == nil || errors.Is(err, ErrDuplicateKey) {
			// a duplicate means an earlier attempt already landed
			return nil
		}
		lastErr = err
		w.logger.Debug("Retrying usage entry", "id", entry.ID, "error", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if lastErr == nil {
		lastErr = err
	}

	// Max retries exceeded - add to dead letter queue
	w.countFailure("dead_letter")
	if w.dlq != nil {
		if err := w.dlq.Add(ctx, entry, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Usage entry moved to DLQ", "id", entry.ID, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %w", queue.ErrMaxRetriesExceeded, lastErr)
}

func (w *UsageQueueWorker) countFailure(stage string) {
	if w.failures != nil {
		w.failures.RecordLogWriteFailure(stage)
	}
}

// unmarshalItem unmarshals a queue item into a LogEntry
func (w *UsageQueueWorker) unmarshalItem(item interface{}, entry *models.LogEntry) error {
	switch v := item.(type) {
	case *models.LogEntry:
		*entry = *v
		return nil
	case models.LogEntry:
		*entry = v
		return nil
	case []byte:
		return json.Unmarshal(v, entry)
	case json.RawMessage:
		return json.Unmarshal(v, entry)
	default:
		// Try to marshal and unmarshal
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		return json.Unmarshal(data, entry)
	}
}

// GetQueueLength returns the current queue length
func (w *UsageQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *UsageQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a failed item from the dead letter queue
func (w *UsageQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID != id {
			continue
		}

		if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}
