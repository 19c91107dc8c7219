package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"media_gateway/internal/models"
	"media_gateway/internal/utils"
)

const (
	defaultAudioTimeout = 40 * time.Second
	defaultVideoTimeout = 60 * time.Second
	defaultAudioQuality = "128 kbps"
	autoQuality         = "auto"
)

// FetcherConfig configures HTTPFetcher.
type FetcherConfig struct {
	AudioURL string
	// VideoURLs are tried in order for every quality of the ladder.
	VideoURLs     []string
	QualityLadder []string
	AudioTimeout  time.Duration
	VideoTimeout  time.Duration
	RetryCount    int
}

type audioResponse struct {
	Status   bool     `json:"status"`
	Quality  string   `json:"quality"`
	Title    string   `json:"title"`
	Duration Duration `json:"duration"`
	URL      string   `json:"url"`
}

type videoResult struct {
	Quality  string   `json:"quality"`
	Title    string   `json:"title"`
	Duration Duration `json:"duration"`
	URL      string   `json:"url"`
}

type videoResponse struct {
	Status bool        `json:"status"`
	Result videoResult `json:"result"`
}

// HTTPFetcher resolves media through JSON-over-HTTP conversion services.
type HTTPFetcher struct {
	client       *resty.Client
	audioURL     string
	videoURLs    []string
	ladder       []string
	audioTimeout time.Duration
	videoTimeout time.Duration
	logger       *utils.Logger
}

// NewHTTPFetcher creates a fetcher; zero timeouts fall back to 40s (audio) and 60s (video).
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.AudioTimeout <= 0 {
		cfg.AudioTimeout = defaultAudioTimeout
	}
	if cfg.VideoTimeout <= 0 {
		cfg.VideoTimeout = defaultVideoTimeout
	}
	ladder := cfg.QualityLadder
	if len(ladder) == 0 {
		ladder = DefaultQualityLadder
	}

	client := resty.New().
		SetHeader("Accept", "application/json").
		SetRetryCount(max(cfg.RetryCount, 0)).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryCondition)

	return &HTTPFetcher{
		client:       client,
		audioURL:     cfg.AudioURL,
		videoURLs:    cfg.VideoURLs,
		ladder:       ladder,
		audioTimeout: cfg.AudioTimeout,
		videoTimeout: cfg.VideoTimeout,
		logger:       utils.NewLogger("fetcher"),
	}
}

// FetchAudio asks the audio endpoint for an MP3 link.
func (f *HTTPFetcher) FetchAudio(ctx context.Context, url string) (*models.MediaMeta, error) {
	if f.audioURL == "" {
		return nil, fmt.Errorf("%w: no audio provider configured", ErrUpstreamFetch)
	}

	var body audioResponse
	if err := f.getJSON(ctx, f.audioTimeout, f.audioURL, map[string]string{"url": url}, &body); err != nil {
		f.logger.Warn("Audio provider failed", "url", url, "error", err)
		return nil, fmt.Errorf("%w: audio: %w", ErrUpstreamFetch, err)
	}
	if !body.Status {
		return nil, fmt.Errorf("%w: audio: provider reported failure", ErrUpstreamFetch)
	}
	if body.URL == "" {
		return nil, fmt.Errorf("%w: audio: provider returned no source url", ErrUpstreamFetch)
	}

	quality := body.Quality
	if quality == "" {
		quality = defaultAudioQuality
	}
	return &models.MediaMeta{
		Type:            models.MediaAudio,
		Quality:         quality,
		Title:           body.Title,
		DurationSeconds: int(body.Duration),
		SourceURL:       body.URL,
	}, nil
}

// FetchVideo walks ladder × providers, then makes one last pass without a
// quality parameter. It fails only when every combination failed.
func (f *HTTPFetcher) FetchVideo(ctx context.Context, url string, ladder []string) (*models.MediaMeta, error) {
	if len(f.videoURLs) == 0 {
		return nil, fmt.Errorf("%w: no video providers configured", ErrUpstreamFetch)
	}
	if len(ladder) == 0 {
		ladder = f.ladder
	}

	qualities := append(append([]string(nil), ladder...), "")
	for _, quality := range qualities {
		for _, provider := range f.videoURLs {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: video: %w", ErrUpstreamFetch, err)
			}

			meta, err := f.tryVideo(ctx, provider, url, quality)
			if err != nil {
				f.logger.Debug("Video provider attempt failed", "provider", provider, "quality", quality, "error", err)
				continue
			}
			return meta, nil
		}
	}

	return nil, fmt.Errorf("%w: video: all providers exhausted", ErrUpstreamFetch)
}

func (f *HTTPFetcher) tryVideo(ctx context.Context, provider, url, quality string) (*models.MediaMeta, error) {
	params := map[string]string{"url": url}
	if quality != "" {
		params["quality"] = quality
	}

	var body videoResponse
	if err := f.getJSON(ctx, f.videoTimeout, provider, params, &body); err != nil {
		return nil, err
	}
	if !body.Status {
		return nil, fmt.Errorf("provider reported failure")
	}
	if body.Result.URL == "" {
		return nil, fmt.Errorf("provider returned no source url")
	}

	q := body.Result.Quality
	if q == "" {
		q = quality
	}
	if q == "" {
		q = autoQuality
	}
	return &models.MediaMeta{
		Type:            models.MediaVideo,
		Quality:         q,
		Title:           body.Result.Title,
		DurationSeconds: int(body.Result.Duration),
		SourceURL:       body.Result.URL,
	}, nil
}

// getJSON runs one bounded GET and decodes the body regardless of its content type.
func (f *HTTPFetcher) getJSON(ctx context.Context, timeout time.Duration, endpoint string, params map[string]string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(endpoint)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("invalid response body: %w", err)
	}
	return nil
}
