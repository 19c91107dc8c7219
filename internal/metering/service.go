// Package metering gates requests on API-key validity and daily quota and
// accounts for every request in the usage log.
package metering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"media_gateway/internal/metrics"
	"media_gateway/internal/models"
	"media_gateway/internal/ratelimit"
	"media_gateway/internal/storage"
	"media_gateway/internal/utils"
)

// unknownKey is logged for requests that carried no key at all
const unknownKey = "unknown"

// KeyStore is the part of the key repository metering needs.
type KeyStore interface {
	Lookup(ctx context.Context, key string) (*models.APIKey, error)
	IncrementUsage(ctx context.Context, key string) (int, error)
}

// UsageRecorder appends request log entries. Record must not fail the caller.
type UsageRecorder interface {
	Record(ctx context.Context, entry *models.LogEntry)
}

// Options holds the optional collaborators of Service.
type Options struct {
	// Limiter is a per-minute burst guard checked after the daily quota.
	Limiter   ratelimit.Limiter
	PerMinute int
	Metrics   metrics.Metrics
	Now       func() time.Time
}

// Service is stateless; all state lives in the key store and the usage log.
type Service struct {
	keys      KeyStore
	usage     UsageRecorder
	limiter   ratelimit.Limiter
	perMinute int
	metrics   metrics.Metrics
	now       func() time.Time
	logger    *utils.Logger
}

func NewService(keys KeyStore, usage UsageRecorder, opts Options) *Service {
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewNoopLimiter()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		keys:      keys,
		usage:     usage,
		limiter:   opts.Limiter,
		perMinute: opts.PerMinute,
		metrics:   opts.Metrics,
		now:       opts.Now,
		logger:    utils.NewLogger("metering"),
	}
}

// AuthResult is the outcome of an authorization. Limit and Remaining are
// filled whenever the key was found, so callers can always emit rate-limit
// hints.
type AuthResult struct {
	OK        bool
	Key       *models.APIKey
	Limit     int
	Remaining int
	Err       error
}

// Authorize validates key and its daily quota as a complete request of its
// own: it writes one log entry and never charges.
func (s *Service) Authorize(ctx context.Context, key, endpoint string) AuthResult {
	call := s.Begin(key, endpoint, nil)
	defer call.End()
	return call.Authorize(ctx)
}

// Begin starts accounting for one request. The caller must defer End.
func (s *Service) Begin(key, endpoint string, params models.QueryParams) *Call {
	return &Call{
		svc:      s,
		key:      key,
		endpoint: endpoint,
		params:   params,
		start:    s.now(),
	}
}

// Call tracks one request from authorization to its single log entry.
// A Call belongs to the goroutine serving the request.
type Call struct {
	svc      *Service
	key      string
	endpoint string
	params   models.QueryParams
	start    time.Time

	apiKey    *models.APIKey
	remaining int
	charged   bool
	err       error
	endOnce   sync.Once
}

// Identify checks that the key exists and has not expired, applying the
// daily reset on the way. It does not look at the quota.
func (c *Call) Identify(ctx context.Context) (*models.APIKey, error) {
	k, err := c.svc.keys.Lookup(ctx, c.key)
	switch {
	case errors.Is(err, storage.ErrAPIKeyNotFound):
		c.svc.metrics.RecordQuotaRejection("invalid_key")
		return nil, c.Fail(ErrInvalidKey)
	case errors.Is(err, storage.ErrAPIKeyExpired):
		c.svc.metrics.RecordQuotaRejection("key_expired")
		return nil, c.Fail(ErrKeyExpired)
	case err != nil:
		return nil, c.Fail(fmt.Errorf("key lookup: %w", err))
	}

	c.apiKey = k
	c.remaining = k.Remaining()
	return k, nil
}

// Authorize runs Identify, then the daily quota, then the optional burst guard.
func (c *Call) Authorize(ctx context.Context) AuthResult {
	k, err := c.Identify(ctx)
	if err != nil {
		return AuthResult{Err: err}
	}

	res := AuthResult{Key: k, Limit: k.DailyLimit, Remaining: k.Remaining()}
	if k.QuotaExhausted() {
		c.svc.metrics.RecordQuotaRejection("quota_exceeded")
		c.remaining = 0
		res.Remaining = 0
		res.Err = c.Fail(ErrQuotaExceeded)
		return res
	}

	if c.svc.perMinute > 0 {
		allowed, _, _, err := c.svc.limiter.AllowWithDetails(ctx, k.Key, c.svc.perMinute)
		switch {
		case err != nil:
			// the burst guard fails open; the daily quota still applies
			c.svc.logger.Warn("Rate limiter unavailable", "error", err)
		case !allowed:
			c.svc.metrics.RecordQuotaRejection("rate_limited")
			res.Err = c.Fail(ErrRateLimited)
			return res
		}
	}

	res.OK = true
	return res
}

// Fail marks the request as failed. The first failure is the one logged.
// It returns err for convenience.
func (c *Call) Fail(err error) error {
	if err != nil && c.err == nil {
		c.err = err
	}
	return err
}

// Charge counts the request against the key's quota. It is called only once
// the media was served; a failed increment is logged and otherwise ignored.
// It returns the remaining quota after the charge.
func (c *Call) Charge(ctx context.Context) int {
	if c.apiKey == nil || c.charged {
		return c.remaining
	}
	c.charged = true

	used, err := c.svc.keys.IncrementUsage(context.WithoutCancel(ctx), c.apiKey.Key)
	if err != nil {
		c.svc.logger.Error("Usage increment failed after serving request",
			"key", c.apiKey.Label(),
			"endpoint", c.endpoint,
			"error", err,
		)
		used = c.apiKey.RequestsToday + 1
	}

	c.remaining = max(0, c.apiKey.DailyLimit-used)
	return c.remaining
}

// Key returns the identified key, or nil.
func (c *Call) Key() *models.APIKey {
	return c.apiKey
}

// Remaining is the quota hint for response headers.
func (c *Call) Remaining() int {
	return c.remaining
}

// Err returns the recorded failure, if any.
func (c *Call) Err() error {
	return c.err
}

// End writes the request's log entry. It must be deferred directly so a
// panic in the handler is logged as a failure before it propagates.
func (c *Call) End() {
	r := recover()
	if r != nil {
		c.Fail(fmt.Errorf("internal error: %v", r))
	}

	c.endOnce.Do(c.record)

	if r != nil {
		panic(r)
	}
}

func (c *Call) record() {
	latency := c.svc.now().Sub(c.start)
	key := c.key
	if key == "" {
		key = unknownKey
	}

	entry := &models.LogEntry{
		Timestamp:   c.start.UTC(),
		Key:         key,
		Endpoint:    c.endpoint,
		Success:     c.err == nil,
		LatencyMS:   latency.Milliseconds(),
		QueryParams: c.params,
	}
	if c.err != nil {
		msg := c.err.Error()
		entry.Error = &msg
	}

	c.svc.metrics.RecordRequest(c.endpoint, entry.Success, latency)
	c.svc.usage.Record(context.Background(), entry)
}
