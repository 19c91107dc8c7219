// Package cacheflow resolves audio through the blob cache: a URL that was
// uploaded once is served from its stored blob reference ever after.
package cacheflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"media_gateway/internal/metrics"
	"media_gateway/internal/models"
	"media_gateway/internal/providers"
	"media_gateway/internal/storage"
	"media_gateway/internal/utils"
)

const (
	defaultUploadTimeout = 120 * time.Second
	defaultCaptionTitle  = "Audio"
)

// RecordStore is the part of the cache repository the controller needs.
type RecordStore interface {
	GetByHash(ctx context.Context, hash string) (*models.CacheRecord, error)
	Put(ctx context.Context, rec *models.CacheRecord) error
}

// Options holds the optional settings of Controller.
type Options struct {
	// UploadTimeout bounds an upload and its record write. It is measured
	// from the miss, not from the caller's deadline.
	UploadTimeout time.Duration
	Metrics       metrics.Metrics
}

// Controller owns the lookup, upload-on-miss, record-write sequence.
type Controller struct {
	records       RecordStore
	uploader      providers.BlobUploader
	uploadTimeout time.Duration
	metrics       metrics.Metrics
	flights       singleflight.Group
	logger        *utils.Logger
}

func NewController(records RecordStore, uploader providers.BlobUploader, opts Options) *Controller {
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = defaultUploadTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}
	return &Controller{
		records:       records,
		uploader:      uploader,
		uploadTimeout: opts.UploadTimeout,
		metrics:       opts.Metrics,
		logger:        utils.NewLogger("cacheflow"),
	}
}

// flight is what one populate run hands to every waiter
type flight struct {
	rec    *models.CacheRecord
	reused bool
}

// ResolveAudio returns meta with the blob references for url, uploading the
// audio on the first request for that URL. A caller that gives up while an
// upload is running does not cancel it; the record is still written.
func (c *Controller) ResolveAudio(ctx context.Context, url string, meta *models.MediaMeta) (*models.MediaResult, error) {
	hash := utils.HashURL(url)

	rec, err := c.lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		c.metrics.RecordCacheLookup(true)
		return result(meta, rec, true), nil
	}
	c.metrics.RecordCacheLookup(false)

	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(hash, func() (any, error) {
		return c.populate(detached, hash, meta)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		f := res.Val.(*flight)
		return result(meta, f.rec, f.reused), nil
	case <-ctx.Done():
		c.logger.Debug("Caller left during upload, upload continues", "hash", hash)
		return nil, ctx.Err()
	}
}

// ResolveVideo returns video metadata as is. Video is not cached.
func (c *Controller) ResolveVideo(meta *models.MediaMeta) *models.MediaResult {
	return &models.MediaResult{MediaMeta: *meta}
}

// Lookup returns the cached record for url, or nil when there is none.
func (c *Controller) Lookup(ctx context.Context, url string) (*models.CacheRecord, error) {
	return c.lookup(ctx, utils.HashURL(url))
}

func (c *Controller) lookup(ctx context.Context, hash string) (*models.CacheRecord, error) {
	rec, err := c.records.GetByHash(ctx, hash)
	if errors.Is(err, storage.ErrCacheRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	return rec, nil
}

// populate uploads the audio and writes its record. The record is only
// written once the uploader acknowledged the upload.
func (c *Controller) populate(ctx context.Context, hash string, meta *models.MediaMeta) (*flight, error) {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	// another instance may have finished the upload since our lookup
	if rec, err := c.lookup(ctx, hash); err == nil && rec != nil {
		return &flight{rec: rec, reused: true}, nil
	}

	title := meta.Title
	if title == "" {
		title = defaultCaptionTitle
	}
	caption := fmt.Sprintf("%s\n\nID: %s", title, hash)

	start := time.Now()
	up, err := c.uploader.UploadAudio(ctx, meta.SourceURL, caption)
	c.metrics.RecordUpload(err == nil, time.Since(start))
	if err != nil {
		c.logger.Warn("Blob upload failed", "hash", hash, "error", err)
		if !errors.Is(err, providers.ErrUpstreamUpload) {
			err = fmt.Errorf("%w: %w", providers.ErrUpstreamUpload, err)
		}
		return nil, err
	}

	mediaType := meta.Type
	if mediaType == "" {
		mediaType = models.MediaAudio
	}
	rec := &models.CacheRecord{
		URLHash:         hash,
		MediaType:       mediaType,
		Quality:         meta.Quality,
		Title:           meta.Title,
		DurationSeconds: meta.DurationSeconds,
		SourceURL:       meta.SourceURL,
		BlobFileRef:     up.FileRef,
		BlobMessageRef:  up.MessageRef,
	}
	if err := c.records.Put(ctx, rec); err != nil {
		// the blob exists and can be served; only the dedup is lost
		c.logger.Error("Cache record write failed after upload", "hash", hash, "error", err)
	}

	return &flight{rec: rec}, nil
}

func result(meta *models.MediaMeta, rec *models.CacheRecord, cached bool) *models.MediaResult {
	return &models.MediaResult{
		MediaMeta:      *meta,
		Cached:         cached,
		BlobFileRef:    rec.BlobFileRef,
		BlobMessageRef: rec.BlobMessageRef,
	}
}
