package httpapi

import (
	"context"
	"io"
	"time"

	"media_gateway/internal/models"
	"media_gateway/internal/queue"
	"media_gateway/internal/storage"
)

// KeyAdmin is the key store surface used by the admin endpoints.
type KeyAdmin interface {
	Create(ctx context.Context, username string, limit, days int, isAdmin bool) (*models.APIKey, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*models.APIKey, error)
	Totals(ctx context.Context) (keyCount int64, totalRequests int64, err error)
	TopUsage(ctx context.Context, n int) ([]models.UsageShare, error)
	RequestsToday(ctx context.Context) (int64, error)
	CountActive(ctx context.Context) (int64, error)
}

// LogReader is the read side of the usage log.
type LogReader interface {
	Recent(ctx context.Context, n int) ([]*models.LogEntry, error)
	ErrorRate(ctx context.Context, days int) (float64, error)
	DailyCountsForLastWeek(ctx context.Context) ([]models.DailyCount, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	ExportCSV(ctx context.Context, w io.Writer) error
}

// RecordCounter reports the size of the blob cache.
type RecordCounter interface {
	Count(ctx context.Context) (int64, error)
}

// HealthChecker is implemented by the database.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// DeadLetterAdmin exposes usage log entries that could not be written.
type DeadLetterAdmin interface {
	GetQueueLength(ctx context.Context) (int, error)
	GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error)
	RetryDeadLetterItem(ctx context.Context, id string) error
}

// PoolStats reports connection pool and record cache counters.
type PoolStats interface {
	GetStats() storage.DBStats
}

// BurstAdmin inspects and clears a key's per-minute window
type BurstAdmin interface {
	GetCurrentUsage(ctx context.Context, id string) (int64, error)
	Reset(ctx context.Context, id string) error
}
