package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media_gateway/internal/models"
	"media_gateway/internal/utils"
)

func sampleRecord(url, fileRef string) *models.CacheRecord {
	return &models.CacheRecord{
		URLHash:         utils.HashURL(url),
		MediaType:       models.MediaAudio,
		Quality:         "128 kbps",
		Title:           "Song",
		DurationSeconds: 215,
		SourceURL:       "https://cdn.example/song.mp3",
		BlobFileRef:     fileRef,
		BlobMessageRef:  "42",
	}
}

func TestCacheRepository_PutAndGet(t *testing.T) {
	db, clock := newTestDB(t)
	repo := db.NewCacheRepository()
	ctx := context.Background()

	rec := sampleRecord("https://youtu.be/abc", "file-1")
	require.NoError(t, repo.Put(ctx, rec))
	assert.True(t, rec.CreatedAt.Equal(clock.Now()))

	// bypass the in-memory cache to read what was stored
	db.recordCache.Purge()

	got, err := repo.GetByHash(ctx, rec.URLHash)
	require.NoError(t, err)
	assert.Equal(t, models.MediaAudio, got.MediaType)
	assert.Equal(t, "file-1", got.BlobFileRef)
	assert.Equal(t, "42", got.BlobMessageRef)
	assert.Equal(t, 215, got.DurationSeconds)
	assert.True(t, got.CreatedAt.Equal(clock.Now()))

	// lookups by URL use the canonical hash, so whitespace does not matter
	byURL, err := repo.GetByURL(ctx, "  https://youtu.be/abc\n")
	require.NoError(t, err)
	assert.Equal(t, rec.URLHash, byURL.URLHash)
}

func TestCacheRepository_NotFound(t *testing.T) {
	db, _ := newTestDB(t)
	repo := db.NewCacheRepository()

	_, err := repo.GetByHash(context.Background(), "0123")
	assert.ErrorIs(t, err, ErrCacheRecordNotFound)

	_, err = repo.GetByURL(context.Background(), "https://youtu.be/none")
	assert.ErrorIs(t, err, ErrCacheRecordNotFound)
}

func TestCacheRepository_PutUpsertsByHash(t *testing.T) {
	db, clock := newTestDB(t)
	repo := db.NewCacheRepository()
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, sampleRecord("https://youtu.be/same", "file-a")))
	clock.Advance(time.Minute)
	require.NoError(t, repo.Put(ctx, sampleRecord("https://youtu.be/same", "file-b")))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	db.recordCache.Purge()
	got, err := repo.GetByURL(ctx, "https://youtu.be/same")
	require.NoError(t, err)
	assert.Equal(t, "file-b", got.BlobFileRef, "last write wins")
	assert.True(t, got.CreatedAt.Equal(clock.Now()))
}

func TestCacheRepository_ReadThroughCache(t *testing.T) {
	db, _ := newTestDB(t)
	repo := db.NewCacheRepository()
	ctx := context.Background()

	rec := sampleRecord("https://youtu.be/cached", "file-c")
	require.NoError(t, repo.Put(ctx, rec))

	// remove the row behind the cache's back; the cached copy is still served
	_, err := db.Conn().Exec(`DELETE FROM cache_records`)
	require.NoError(t, err)

	got, err := repo.GetByHash(ctx, rec.URLHash)
	require.NoError(t, err)
	assert.Equal(t, "file-c", got.BlobFileRef)

	// callers get a copy, not the cached value
	got.BlobFileRef = "mutated"
	again, err := repo.GetByHash(ctx, rec.URLHash)
	require.NoError(t, err)
	assert.Equal(t, "file-c", again.BlobFileRef)

	assert.Equal(t, 1, db.GetStats().CachedRecords)
}
