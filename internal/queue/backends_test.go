package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usageItem struct {
	Key      string `json:"api_key"`
	Endpoint string `json:"endpoint"`
}

// decodeUsage accepts both the original value (memory) and raw JSON (Redis)
func decodeUsage(t *testing.T, item interface{}) usageItem {
	t.Helper()
	switch v := item.(type) {
	case usageItem:
		return v
	case json.RawMessage:
		var u usageItem
		require.NoError(t, json.Unmarshal(v, &u))
		return u
	default:
		t.Fatalf("unexpected item type %T", item)
		return usageItem{}
	}
}

type backend struct {
	name string
	open func(t *testing.T, cfg *Config) (Queue, DeadLetterQueue)
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T, cfg *Config) (Queue, DeadLetterQueue) {
			return NewMemoryQueue(cfg), NewMemoryDeadLetterQueue()
		}},
		{name: "redis", open: func(t *testing.T, cfg *Config) (Queue, DeadLetterQueue) {
			_, client := setupRedis(t)
			q, err := NewRedisQueue(client, cfg)
			require.NoError(t, err)
			dlq, err := NewRedisDeadLetterQueue(client, cfg)
			require.NoError(t, err)
			return q, dlq
		}},
	}
}

// The usage writer relies on the same FIFO, batching and dead-letter
// behaviour from both backends.
func TestBackends_UsageFlow(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			cfg := DefaultConfig("usage-" + b.name)
			cfg.BatchSize = 4
			q, dlq := b.open(t, cfg)
			defer q.Close()
			defer dlq.Close()
			ctx := context.Background()

			for i, ep := range []string{"/api/media", "/api/usage", "/api/media", "/api/resolve_cache", "/api/media", "/api/health"} {
				require.NoError(t, q.Enqueue(ctx, usageItem{Key: string(rune('a' + i)), Endpoint: ep}))
			}
			n, err := q.Length(ctx)
			require.NoError(t, err)
			assert.Equal(t, 6, n)

			batch, err := q.DequeueWithTimeout(ctx, cfg.BatchSize, 50*time.Millisecond)
			require.NoError(t, err)
			require.Len(t, batch, 4)
			assert.Equal(t, "a", decodeUsage(t, batch[0]).Key)
			assert.Equal(t, "d", decodeUsage(t, batch[3]).Key)

			// the writer gives up on one entry
			require.NoError(t, dlq.Add(ctx, batch[1], ErrMaxRetriesExceeded))

			rest, err := q.Dequeue(ctx, cfg.BatchSize)
			require.NoError(t, err)
			require.Len(t, rest, 2)
			assert.Equal(t, "/api/health", decodeUsage(t, rest[1]).Endpoint)

			empty, err := q.DequeueWithTimeout(ctx, cfg.BatchSize, 20*time.Millisecond)
			require.NoError(t, err)
			assert.Empty(t, empty)

			dead, err := dlq.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, dead, 1)
			assert.Contains(t, dead[0].Error, ErrMaxRetriesExceeded.Error())

			// requeue, as the admin retry does
			require.NoError(t, q.Enqueue(ctx, dead[0].Item))
			require.NoError(t, dlq.Remove(ctx, dead[0].ID))

			again, err := q.DequeueWithTimeout(ctx, 1, 50*time.Millisecond)
			require.NoError(t, err)
			require.Len(t, again, 1)

			u := decodeUsage(t, again[0])
			assert.Equal(t, "b", u.Key)
			assert.Equal(t, "/api/usage", u.Endpoint)
		})
	}
}
