// Package providers holds the outbound collaborators of the gateway: the
// media-fetch services that turn a YouTube URL into a transient download link
// and the Telegram channel used as durable blob storage.
package providers

import (
	"context"
	"errors"

	"github.com/go-resty/resty/v2"

	"media_gateway/internal/models"
	"media_gateway/internal/utils"
)

var (
	// ErrUpstreamFetch is returned when no provider could resolve the media.
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	// ErrUpstreamUpload is returned when the blob channel did not acknowledge an upload.
	ErrUpstreamUpload = errors.New("upstream upload failed")
)

// DefaultQualityLadder is tried when the caller states no preference.
var DefaultQualityLadder = []string{"1080", "720", "480", "360", "240"}

// MediaFetcher resolves a source URL into media metadata and a transient download link.
type MediaFetcher interface {
	FetchAudio(ctx context.Context, url string) (*models.MediaMeta, error)
	// FetchVideo tries each quality of ladder in order against every provider
	// and returns the first success.
	FetchVideo(ctx context.Context, url string, ladder []string) (*models.MediaMeta, error)
}

// UploadResult identifies an uploaded blob.
type UploadResult struct {
	FileRef    string
	MessageRef string
}

// BlobUploader stores media durably and returns references that can re-serve it.
type BlobUploader interface {
	UploadAudio(ctx context.Context, sourceURL, caption string) (*UploadResult, error)
}

// retryCondition retries throttling and server side failures only.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil || r == nil {
		return false
	}
	return utils.IsRetryableStatus(r.StatusCode())
}
