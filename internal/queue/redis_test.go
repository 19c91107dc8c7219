package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestNewRedisQueue_RequiresClientAndConfig(t *testing.T) {
	_, client := setupRedis(t)

	_, err := NewRedisQueue(nil, DefaultConfig("usage"))
	assert.Error(t, err)

	_, err = NewRedisQueue(client, nil)
	assert.Error(t, err)

	_, err = NewRedisDeadLetterQueue(nil, DefaultConfig("usage"))
	assert.Error(t, err)
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	_, client := setupRedis(t)

	q, err := NewRedisQueue(client, DefaultConfig("test-redis-basic"))
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()

	item := map[string]string{"endpoint": "/api/media"}
	require.NoError(t, q.Enqueue(ctx, item))

	items, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	raw, ok := items[0].(json.RawMessage)
	require.True(t, ok, "expected json.RawMessage, got %T", items[0])

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "/api/media", decoded["endpoint"])
}

func TestRedisQueue_MultipleBatch(t *testing.T) {
	_, client := setupRedis(t)

	config := DefaultConfig("test-redis-batch")
	config.BatchSize = 5

	q, err := NewRedisQueue(client, config)
	require.NoError(t, err)

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(ctx, map[string]int{"value": i}))
	}

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, length)

	items, err := q.Dequeue(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, items, 5)

	length, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, length)

	// FIFO order is preserved
	var first map[string]int
	require.NoError(t, json.Unmarshal(items[0].(json.RawMessage), &first))
	assert.Equal(t, 0, first["value"])
}

func TestRedisQueue_DequeueWithTimeout(t *testing.T) {
	_, client := setupRedis(t)

	q, err := NewRedisQueue(client, DefaultConfig("test-redis-timeout"))
	require.NoError(t, err)

	ctx := context.Background()

	items, err := q.DequeueWithTimeout(ctx, 1, time.Second)
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, q.Enqueue(ctx, "test"))

	items, err = q.DequeueWithTimeout(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRedisQueue_Persistence(t *testing.T) {
	_, client := setupRedis(t)

	config := DefaultConfig("test-redis-persist")
	ctx := context.Background()

	q1, err := NewRedisQueue(client, config)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, q1.Enqueue(ctx, i))
	}
	require.NoError(t, q1.Close())

	// Closing the queue leaves the shared client usable
	q2, err := NewRedisQueue(client, config)
	require.NoError(t, err)

	length, err := q2.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, length)

	items, err := q2.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, items, 5)
}

func TestRedisQueue_UnreachableServer(t *testing.T) {
	mr, client := setupRedis(t)
	q, err := NewRedisQueue(client, DefaultConfig("test-redis-down"))
	require.NoError(t, err)

	mr.Close()

	err = q.Enqueue(context.Background(), "lost")
	assert.Error(t, err)
}

func TestRedisDeadLetterQueue_AddListRemove(t *testing.T) {
	_, client := setupRedis(t)

	dlq, err := NewRedisDeadLetterQueue(client, DefaultConfig("test-redis-dlq"))
	require.NoError(t, err)
	defer dlq.Close()

	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, map[string]string{"id": "1"}, ErrMaxRetriesExceeded))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, dlq.Add(ctx, map[string]string{"id": "2"}, ErrQueueClosed))

	items, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)

	for _, item := range items {
		assert.NotEmpty(t, item.ID)
		assert.NotEmpty(t, item.Error)
	}
	assert.Equal(t, ErrMaxRetriesExceeded.Error(), items[0].Error, "oldest item first")

	limited, err := dlq.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, dlq.Remove(ctx, items[0].ID))
	assert.ErrorIs(t, dlq.Remove(ctx, items[0].ID), ErrItemNotFound)

	items, err = dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
