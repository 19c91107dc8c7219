package storage

import (
	"context"
	"database/sql"
	"errors"

	"media_gateway/internal/models"
	"media_gateway/internal/utils"
)

// keyBytes is the entropy of a generated API key (hex encoded to twice the length)
const keyBytes = 32

const apiKeyColumns = `key, username, daily_limit, expires_at, is_admin,
	requests_today, last_reset_date, total_requests, created_at`

// APIKeyRepository owns API key records and their daily quota window
type APIKeyRepository struct {
	db       *DB
	generate func() (string, error)
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{
		db: db,
		generate: func() (string, error) {
			return utils.GenerateToken(keyBytes)
		},
	}
}

// Create issues a new key. days <= 0 creates a key that never expires.
func (r *APIKeyRepository) Create(ctx context.Context, username string, limit, days int, isAdmin bool) (*models.APIKey, error) {
	token, err := r.generate()
	if err != nil {
		return nil, persistenceError("generate api key", err)
	}

	now := r.db.now()
	key := &models.APIKey{
		Key:           token,
		Username:      username,
		DailyLimit:    limit,
		IsAdmin:       isAdmin,
		RequestsToday: 0,
		LastResetDate: models.Day(now),
		TotalRequests: 0,
		CreatedAt:     now,
	}
	if days > 0 {
		expires := now.AddDate(0, 0, days)
		key.ExpiresAt = &expires
	}

	query := r.db.Rebind(`
		INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err = r.db.conn.ExecContext(ctx, query,
		key.Key, key.Username, key.DailyLimit, key.ExpiresAt, key.IsAdmin,
		key.RequestsToday, key.LastResetDate, key.TotalRequests, key.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, persistenceError("create api key", err)
	}

	return key, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (r *APIKeyRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.conn.ExecContext(ctx, r.db.Rebind(`DELETE FROM api_keys WHERE key = ?`), key)
	if err != nil {
		return persistenceError("delete api key", err)
	}
	return nil
}

// Get returns the stored record as-is, without expiry checks or daily reset
func (r *APIKeyRepository) Get(ctx context.Context, key string) (*models.APIKey, error) {
	var k models.APIKey
	query := r.db.Rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key = ?`)

	err := r.db.conn.GetContext(ctx, &k, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, persistenceError("get api key", err)
	}

	normalizeKey(&k)
	return &k, nil
}

// Lookup resolves a key for gating. It returns ErrAPIKeyNotFound or
// ErrAPIKeyExpired (the record is left untouched), otherwise it applies the
// daily reset when the stored window is not today and returns the fresh record.
func (r *APIKeyRepository) Lookup(ctx context.Context, key string) (*models.APIKey, error) {
	k, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	now := r.db.now()
	if k.IsExpiredAt(now) {
		return nil, ErrAPIKeyExpired
	}

	today := models.Day(now)
	if k.LastResetDate == today {
		return k, nil
	}

	// Conditional write: only the first caller of the day resets the counter
	query := r.db.Rebind(`
		UPDATE api_keys
		SET requests_today = 0, last_reset_date = ?
		WHERE key = ? AND last_reset_date <> ?
	`)
	if _, err := r.db.conn.ExecContext(ctx, query, today, key, today); err != nil {
		return nil, persistenceError("reset daily usage", err)
	}

	// Re-read so increments that landed after the reset are visible
	return r.Get(ctx, key)
}

// IncrementUsage adds one request to today's counter and the lifetime total
// and returns today's count after the increment. A counter from an earlier
// day restarts at one.
func (r *APIKeyRepository) IncrementUsage(ctx context.Context, key string) (int, error) {
	today := models.Day(r.db.now())

	var requestsToday int
	query := r.db.Rebind(`
		UPDATE api_keys
		SET requests_today = CASE WHEN last_reset_date = ? THEN requests_today + 1 ELSE 1 END,
		    last_reset_date = ?,
		    total_requests = total_requests + 1
		WHERE key = ?
		RETURNING requests_today
	`)

	err := r.db.conn.GetContext(ctx, &requestsToday, query, today, today, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAPIKeyNotFound
		}
		return 0, persistenceError("increment usage", err)
	}

	return requestsToday, nil
}

// List returns all keys, newest first
func (r *APIKeyRepository) List(ctx context.Context) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at DESC, key`

	if err := r.db.conn.SelectContext(ctx, &keys, query); err != nil {
		return nil, persistenceError("list api keys", err)
	}

	for _, k := range keys {
		normalizeKey(k)
	}
	return keys, nil
}

// Totals returns the number of keys and the sum of their lifetime requests
func (r *APIKeyRepository) Totals(ctx context.Context) (keyCount int64, totalRequests int64, err error) {
	var row struct {
		KeyCount      int64 `db:"key_count"`
		TotalRequests int64 `db:"total_requests"`
	}
	query := `SELECT COUNT(*) AS key_count, COALESCE(SUM(total_requests), 0) AS total_requests FROM api_keys`

	if err := r.db.conn.GetContext(ctx, &row, query); err != nil {
		return 0, 0, persistenceError("aggregate totals", err)
	}
	return row.KeyCount, row.TotalRequests, nil
}

// TopUsage returns the n keys with the most lifetime requests
func (r *APIKeyRepository) TopUsage(ctx context.Context, n int) ([]models.UsageShare, error) {
	if n <= 0 {
		return []models.UsageShare{}, nil
	}

	var keys []*models.APIKey
	query := r.db.Rebind(`
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		ORDER BY total_requests DESC, created_at ASC
		LIMIT ?
	`)
	if err := r.db.conn.SelectContext(ctx, &keys, query, n); err != nil {
		return nil, persistenceError("aggregate top usage", err)
	}

	shares := make([]models.UsageShare, 0, len(keys))
	for _, k := range keys {
		shares = append(shares, models.UsageShare{Label: k.Label(), Value: k.TotalRequests})
	}
	return shares, nil
}

// RequestsToday sums today's counters across keys whose window is today
func (r *APIKeyRepository) RequestsToday(ctx context.Context) (int64, error) {
	var total int64
	query := r.db.Rebind(`SELECT COALESCE(SUM(requests_today), 0) FROM api_keys WHERE last_reset_date = ?`)

	if err := r.db.conn.GetContext(ctx, &total, query, models.Day(r.db.now())); err != nil {
		return 0, persistenceError("aggregate requests today", err)
	}
	return total, nil
}

// CountActive counts keys that have not expired
func (r *APIKeyRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM api_keys WHERE expires_at IS NULL OR expires_at > ?`)

	if err := r.db.conn.GetContext(ctx, &count, query, r.db.now()); err != nil {
		return 0, persistenceError("count active keys", err)
	}
	return count, nil
}

// normalizeKey converts scanned timestamps to UTC; SQLite hands back fixed zones
func normalizeKey(k *models.APIKey) {
	k.CreatedAt = k.CreatedAt.UTC()
	if k.ExpiresAt != nil {
		t := k.ExpiresAt.UTC()
		k.ExpiresAt = &t
	}
}
