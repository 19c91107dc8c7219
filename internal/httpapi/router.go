package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"media_gateway/internal/auth"
	"media_gateway/internal/cacheflow"
	"media_gateway/internal/config"
	"media_gateway/internal/metering"
	"media_gateway/internal/metrics"
	"media_gateway/internal/middleware"
	"media_gateway/internal/providers"
	"media_gateway/internal/queue"
	"media_gateway/internal/ratelimit"
	"media_gateway/internal/storage"
	"media_gateway/internal/utils"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Keys        KeyAdmin
	Records     RecordCounter
	Logs        LogReader
	Health      HealthChecker
	Pool        PoolStats

	// RedisHealth and Bursts are nil when Redis is disabled
	RedisHealth HealthChecker
	Bursts      BurstAdmin
	BurstLimit  int

	DeadLetters DeadLetterAdmin
	Metering    *metering.Service
	Cache       *cacheflow.Controller
	Fetcher     providers.MediaFetcher
	Metrics     metrics.Metrics
	Admin       *auth.AdminGuard
	Plans       config.PlanConfig
	ProjectName string

	logger  *utils.Logger
	closers []func() error
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(ctx context.Context, cfg *config.Config) (http.Handler, *Dependencies, error) {
	deps, err := NewDependencies(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewHandler(deps), deps, nil
}

// NewDependencies opens the stores and builds the services. Close releases
// everything it opened.
func NewDependencies(ctx context.Context, cfg *config.Config) (_ *Dependencies, err error) {
	logger := utils.NewLogger("gateway")
	deps := &Dependencies{logger: logger}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	// Initialize database
	db, err := storage.NewDB(storage.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		RecordCacheSize: cfg.Cache.RecordCacheSize,
		RecordCacheTTL:  cfg.Cache.RecordCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	deps.closers = append(deps.closers, db.Close)

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	m := metrics.NewPrometheus("media_gateway")

	// Usage log queue: Redis when configured, in-memory otherwise
	queueCfg := queue.DefaultConfig("usage")
	queueCfg.BatchSize = cfg.UsageQueue.BatchSize
	queueCfg.BatchTimeout = cfg.UsageQueue.BatchTimeout
	queueCfg.MaxRetries = cfg.UsageQueue.MaxRetries
	queueCfg.RetryBackoff = cfg.UsageQueue.RetryBackoff

	var (
		usageQueue queue.Queue
		usageDLQ   queue.DeadLetterQueue
		limiter    ratelimit.Limiter = ratelimit.NewNoopLimiter()
	)
	if cfg.Redis.Enabled() {
		redisClient, err := storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		deps.closers = append(deps.closers, redisClient.Close)

		if usageQueue, err = queue.NewRedisQueue(redisClient.Client(), queueCfg); err != nil {
			return nil, fmt.Errorf("failed to create usage queue: %w", err)
		}
		if usageDLQ, err = queue.NewRedisDeadLetterQueue(redisClient.Client(), queueCfg); err != nil {
			return nil, fmt.Errorf("failed to create usage DLQ: %w", err)
		}
		burst := ratelimit.NewRateLimiter(redisClient.Client())
		limiter = burst
		deps.Bursts = burst
		deps.RedisHealth = redisClient
	} else {
		if cfg.RateLimit.PerMinute > 0 {
			logger.Warn("RATE_LIMIT_PER_MINUTE ignored: the burst guard needs Redis")
		}
		usageQueue = queue.NewMemoryQueue(queueCfg)
		usageDLQ = queue.NewMemoryDeadLetterQueue()
	}

	logs := db.NewLogRepository()
	worker := storage.NewUsageQueueWorker(usageQueue, usageDLQ, logs, queueCfg)
	worker.SetFailureCounter(m)
	worker.Start(context.WithoutCancel(ctx))
	// closers run in reverse: the worker drains before its queues close
	deps.closers = append(deps.closers, usageDLQ.Close, usageQueue.Close, worker.Stop)

	keys := db.NewAPIKeyRepository()
	records := db.NewCacheRepository()

	fetcher := providers.NewHTTPFetcher(providers.FetcherConfig{
		AudioURL:      cfg.Provider.AudioURL,
		VideoURLs:     cfg.Provider.VideoURLs,
		QualityLadder: cfg.Provider.QualityLadder,
		AudioTimeout:  cfg.Provider.AudioTimeout,
		VideoTimeout:  cfg.Provider.VideoTimeout,
		RetryCount:    1,
	})
	uploader := providers.NewTelegramUploader(providers.TelegramConfig{
		APIURL:     cfg.Telegram.APIURL,
		BotToken:   cfg.Telegram.BotToken,
		ChannelID:  cfg.Telegram.ChannelID,
		Timeout:    cfg.Telegram.UploadTimeout,
		RetryCount: 1,
	})

	deps.Keys = keys
	deps.Records = records
	deps.Logs = logs
	deps.Health = db
	deps.Pool = db
	deps.DeadLetters = worker
	deps.Metering = metering.NewService(keys, worker, metering.Options{
		Limiter:   limiter,
		PerMinute: cfg.RateLimit.PerMinute,
		Metrics:   m,
	})
	deps.Cache = cacheflow.NewController(records, uploader, cacheflow.Options{
		UploadTimeout: cfg.Telegram.UploadTimeout,
		Metrics:       m,
	})
	deps.Fetcher = fetcher
	deps.Metrics = m
	deps.Admin = auth.NewAdminGuard(cfg.AdminKey)
	deps.BurstLimit = cfg.RateLimit.PerMinute
	deps.Plans = cfg.Plans
	deps.ProjectName = cfg.ProjectName

	return deps, nil
}

// Close stops the usage worker, flushing buffered log entries, then closes
// the queues, Redis and the database.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewHandler registers every route on a new mux and wraps it with the
// shared middleware.
func NewHandler(d *Dependencies) http.Handler {
	if d.logger == nil {
		d.logger = utils.NewLogger("gateway")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNoop()
	}

	mux := http.NewServeMux()
	registerRoutes(mux, d)

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.RequestLogger(utils.NewLogger("http")),
		middleware.Recovery(d.logger),
	)
}

func registerRoutes(mux *http.ServeMux, d *Dependencies) {
	// Metered user API
	mux.HandleFunc("GET /api/media", d.handleMedia)
	mux.HandleFunc("GET /api/usage", d.handleUsage)
	mux.HandleFunc("GET /api/resolve_cache", d.handleResolveCache)
	mux.HandleFunc("GET /api/health", d.handleAPIHealth)

	// Liveness check - public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithJSON(w, http.StatusOK, statusResponse{Status: true, Message: "alive"})
	})

	// Metrics endpoint - public
	mux.Handle("GET /metrics", d.Metrics.HTTPHandler())

	// Admin endpoints - protected with the admin token
	admin := d.Admin.Middleware
	mux.Handle("POST /admin/create", admin(http.HandlerFunc(d.handleAdminCreate)))
	mux.Handle("POST /admin/delete", admin(http.HandlerFunc(d.handleAdminDelete)))
	mux.Handle("GET /admin/keys", admin(http.HandlerFunc(d.handleAdminKeys)))
	mux.Handle("GET /admin/stats", admin(http.HandlerFunc(d.handleAdminStats)))
	mux.Handle("GET /admin/overview", admin(http.HandlerFunc(d.handleAdminOverview)))
	mux.Handle("GET /admin/export_logs", admin(http.HandlerFunc(d.handleAdminExportLogs)))
	mux.Handle("GET /admin/rate_limit", admin(http.HandlerFunc(d.handleAdminRateLimit)))
	mux.Handle("POST /admin/rate_limit/reset", admin(http.HandlerFunc(d.handleAdminResetRateLimit)))
	mux.Handle("GET /admin/dead_letters", admin(http.HandlerFunc(d.handleAdminDeadLetters)))
	mux.Handle("POST /admin/dead_letters/retry", admin(http.HandlerFunc(d.handleAdminRetryDeadLetter)))
}
