package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media_gateway/internal/models"
	"media_gateway/internal/queue"
)

// mockLogWriter simulates database operations for testing
type mockLogWriter struct {
	mu           sync.Mutex
	entries      []*models.LogEntry
	batchCalls   int
	failBatches  bool
	failCount    int
	maxFails     int
	alwaysFail   bool
	failureStage []string
}

func (m *mockLogWriter) Insert(ctx context.Context, entry *models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.alwaysFail {
		return fmt.Errorf("simulated database error")
	}
	if m.failCount < m.maxFails {
		m.failCount++
		return fmt.Errorf("simulated database error")
	}

	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockLogWriter) InsertBatch(ctx context.Context, entries []*models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchCalls++
	if m.failBatches || m.alwaysFail {
		return fmt.Errorf("simulated batch error")
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *mockLogWriter) RecordLogWriteFailure(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureStage = append(m.failureStage, stage)
}

func (m *mockLogWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *mockLogWriter) stages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.failureStage...)
}

func testQueueConfig() *queue.Config {
	config := queue.DefaultConfig("test-usage")
	config.BatchSize = 10
	config.BatchTimeout = 20 * time.Millisecond
	config.MaxRetries = 2
	config.RetryBackoff = time.Millisecond
	return config
}

func newEntry(key string) *models.LogEntry {
	return &models.LogEntry{
		Key:       key,
		Endpoint:  "/api/media",
		Success:   true,
		LatencyMS: 90,
	}
}

func TestUsageQueueWorker_RecordAndFlush(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	writer := &mockLogWriter{}
	w := NewUsageQueueWorker(q, queue.NewMemoryDeadLetterQueue(), writer, config)

	w.Start(context.Background())

	for i := 0; i < 25; i++ {
		w.Record(context.Background(), newEntry("k"))
	}

	require.Eventually(t, func() bool { return writer.count() == 25 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())
}

func TestUsageQueueWorker_RecordFillsDefaults(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	w := NewUsageQueueWorker(q, nil, &mockLogWriter{}, config)

	entry := newEntry("k")
	w.Record(context.Background(), entry)

	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	length, err := w.GetQueueLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestUsageQueueWorker_RecordWithCancelledContext(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	w := NewUsageQueueWorker(q, nil, &mockLogWriter{}, config)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w.Record(ctx, newEntry("k"))

	length, err := q.Length(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, length)
}

func TestUsageQueueWorker_StopDrainsQueue(t *testing.T) {
	config := testQueueConfig()
	config.BatchSize = 3
	q := queue.NewMemoryQueue(config)
	writer := &mockLogWriter{}
	w := NewUsageQueueWorker(q, nil, writer, config)

	for i := 0; i < 20; i++ {
		w.Record(context.Background(), newEntry("k"))
	}

	w.Start(context.Background())
	require.NoError(t, w.Stop())

	assert.Equal(t, 20, writer.count())
	// Stop is safe to call twice
	require.NoError(t, w.Stop())
}

func TestUsageQueueWorker_BatchFailureFallsBackToSingleInserts(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	writer := &mockLogWriter{failBatches: true, maxFails: 1}
	w := NewUsageQueueWorker(q, queue.NewMemoryDeadLetterQueue(), writer, config)

	for i := 0; i < 4; i++ {
		w.Record(context.Background(), newEntry("k"))
	}

	w.Start(context.Background())
	require.NoError(t, w.Stop())

	// the single failure is absorbed by a retry
	assert.Equal(t, 4, writer.count())
}

func TestUsageQueueWorker_PersistentFailureGoesToDLQ(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	dlq := queue.NewMemoryDeadLetterQueue()
	writer := &mockLogWriter{alwaysFail: true}
	w := NewUsageQueueWorker(q, dlq, writer, config)
	w.SetFailureCounter(writer)

	w.Record(context.Background(), newEntry("k1"))
	w.Record(context.Background(), newEntry("k2"))

	w.Start(context.Background())
	require.NoError(t, w.Stop())

	items, err := w.GetDeadLetterItems(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Contains(t, items[0].Error, "simulated database error")
	assert.Contains(t, writer.stages(), "dead_letter")
}

func TestUsageQueueWorker_RetryDeadLetterItem(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	dlq := queue.NewMemoryDeadLetterQueue()
	w := NewUsageQueueWorker(q, dlq, &mockLogWriter{}, config)
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, newEntry("k"), queue.ErrMaxRetriesExceeded))
	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, w.RetryDeadLetterItem(ctx, items[0].ID))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	items, err = dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.ErrorIs(t, w.RetryDeadLetterItem(ctx, "unknown"), queue.ErrItemNotFound)
}

func TestUsageQueueWorker_NoDLQConfigured(t *testing.T) {
	w := NewUsageQueueWorker(queue.NewMemoryQueue(nil), nil, &mockLogWriter{}, nil)

	_, err := w.GetDeadLetterItems(context.Background(), 10)
	assert.Error(t, err)
	assert.Error(t, w.RetryDeadLetterItem(context.Background(), "x"))
}

func TestUsageQueueWorker_EnqueueFailureWritesDirectly(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	require.NoError(t, q.Close())

	writer := &mockLogWriter{}
	w := NewUsageQueueWorker(q, nil, writer, config)
	w.SetFailureCounter(writer)

	w.Record(context.Background(), newEntry("k"))

	assert.Equal(t, 1, writer.count())
	assert.Equal(t, []string{"enqueue"}, writer.stages())
}

func TestUsageQueueWorker_DroppedEntryDoesNotPanic(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	require.NoError(t, q.Close())

	writer := &mockLogWriter{alwaysFail: true}
	w := NewUsageQueueWorker(q, nil, writer, config)
	w.SetFailureCounter(writer)

	assert.NotPanics(t, func() {
		w.Record(context.Background(), newEntry("k"))
	})
	assert.Equal(t, []string{"enqueue", "dropped"}, writer.stages())
}

func TestUsageQueueWorker_WithSQLiteAndRedisPayloads(t *testing.T) {
	db, clock := newTestDB(t)
	logs := db.NewLogRepository()

	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	w := NewUsageQueueWorker(q, nil, logs, config)

	// entries arriving as JSON, as the Redis backend delivers them
	raw := []byte(`{"id":"` + uuid.NewString() + `","ts":"2025-03-10T08:59:00Z","key":"k","endpoint":"/api/media","status":false,"ms":12,"query":{"url":"u"},"error":"Invalid API key"}`)
	require.NoError(t, q.Enqueue(context.Background(), raw))
	for i := 0; i < 3; i++ {
		w.Record(context.Background(), newEntry("k"))
	}

	w.Start(context.Background())
	require.NoError(t, w.Stop())

	count, err := logs.CountSince(context.Background(), clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	errs, err := logs.CountErrorsSince(context.Background(), clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), errs)
}
