package storage

import (
	"context"
	"database/sql"
	"errors"

	"media_gateway/internal/models"
	"media_gateway/internal/utils"
)

const cacheRecordColumns = `url_hash, media_type, quality, title, duration_seconds,
	source_url, blob_file_ref, blob_message_ref, created_at`

// CacheRepository maps URL hashes to uploaded blobs, with a read-through
// in-memory cache in front of the table
type CacheRepository struct {
	db *DB
}

// NewCacheRepository creates a new cache record repository
func NewCacheRepository(db *DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// GetByHash returns the record for a URL hash or ErrCacheRecordNotFound
func (r *CacheRepository) GetByHash(ctx context.Context, hash string) (*models.CacheRecord, error) {
	// Check cache first
	if cached, ok := r.db.recordCache.Get(hash); ok {
		return &cached, nil
	}

	var rec models.CacheRecord
	query := r.db.Rebind(`SELECT ` + cacheRecordColumns + ` FROM cache_records WHERE url_hash = ?`)

	err := r.db.conn.GetContext(ctx, &rec, query, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheRecordNotFound
		}
		return nil, persistenceError("get cache record", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	// Cache the result
	r.db.recordCache.Add(hash, rec)
	return &rec, nil
}

// GetByURL hashes the URL with the canonical hash and looks it up
func (r *CacheRepository) GetByURL(ctx context.Context, url string) (*models.CacheRecord, error) {
	return r.GetByHash(ctx, utils.HashURL(url))
}

// Put upserts a record keyed by its hash and stamps CreatedAt. Concurrent
// puts for one hash converge on the last write.
func (r *CacheRepository) Put(ctx context.Context, rec *models.CacheRecord) error {
	rec.CreatedAt = r.db.now()

	query := r.db.Rebind(`
		INSERT INTO cache_records (` + cacheRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url_hash) DO UPDATE SET
			media_type = excluded.media_type,
			quality = excluded.quality,
			title = excluded.title,
			duration_seconds = excluded.duration_seconds,
			source_url = excluded.source_url,
			blob_file_ref = excluded.blob_file_ref,
			blob_message_ref = excluded.blob_message_ref,
			created_at = excluded.created_at
	`)

	_, err := r.db.conn.ExecContext(ctx, query,
		rec.URLHash, rec.MediaType, rec.Quality, rec.Title, rec.DurationSeconds,
		rec.SourceURL, rec.BlobFileRef, rec.BlobMessageRef, rec.CreatedAt,
	)
	if err != nil {
		return persistenceError("put cache record", err)
	}

	r.db.recordCache.Add(rec.URLHash, *rec)
	return nil
}

// Count returns the number of cached records
func (r *CacheRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.conn.GetContext(ctx, &count, `SELECT COUNT(*) FROM cache_records`); err != nil {
		return 0, persistenceError("count cache records", err)
	}
	return count, nil
}
