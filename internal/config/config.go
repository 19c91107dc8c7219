package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the gateway. It is loaded once at startup
// and treated as read-only afterwards.
type Config struct {
	HTTPPort    string
	LogLevel    string
	ProjectName string
	AdminKey    string
	Database    DatabaseConfig
	Cache       CacheConfig
	Redis       RedisConfig
	UsageQueue  UsageQueueConfig
	RateLimit   RateLimitConfig
	Provider    ProviderConfig
	Telegram    TelegramConfig
	Plans       PlanConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // "postgres" or "sqlite"
	URL             string
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds in-process cache settings
type CacheConfig struct {
	RecordCacheSize int
	RecordCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings. An empty Address disables Redis.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

// UsageQueueConfig controls the background usage log writer
type UsageQueueConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// RateLimitConfig holds the per-key burst guard. Zero disables it.
type RateLimitConfig struct {
	PerMinute int
}

// ProviderConfig holds media-fetch provider settings
type ProviderConfig struct {
	AudioURL      string
	VideoURLs     []string
	QualityLadder []string
	AudioTimeout  time.Duration
	VideoTimeout  time.Duration
}

// TelegramConfig holds the blob channel credentials
type TelegramConfig struct {
	APIURL        string
	BotToken      string
	ChannelID     string
	UploadTimeout time.Duration
}

// PlanConfig holds the default quotas offered by the admin surface
type PlanConfig struct {
	FreeDailyLimit int
	PaidDailyLimit int
	DefaultDays    int
}

var defaultQualityLadder = []string{"1080", "720", "480", "360", "240"}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return SplitList(val)
}

// SplitList splits a comma separated list, trimming entries and dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadDatabase reads only the database settings. The admin CLI uses it so it
// does not need gateway-only variables such as ADMIN_KEY.
func LoadDatabase() (DatabaseConfig, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return DatabaseConfig{}, fmt.Errorf("DATABASE_URL is required")
	}

	driver := getEnvString("DATABASE_DRIVER", "postgres")
	if driver != "postgres" && driver != "sqlite" {
		return DatabaseConfig{}, fmt.Errorf("unsupported DATABASE_DRIVER %q", driver)
	}

	return DatabaseConfig{
		Driver:          driver,
		URL:             dbURL,
		AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
	}, nil
}

// LoadPlans reads the default key quotas. The HTTP admin surface and the CLI
// share it so both issue identical keys.
func LoadPlans() PlanConfig {
	return PlanConfig{
		FreeDailyLimit: getEnvInt("FREE_DAILY_LIMIT", 1000),
		PaidDailyLimit: getEnvInt("PAID_DAILY_LIMIT", 5000),
		DefaultDays:    getEnvInt("DEFAULT_KEY_DAYS", 30),
	}
}

// Limit returns the default daily limit for a plan name; anything other
// than "paid" is the free plan.
func (p PlanConfig) Limit(plan string) int {
	if strings.EqualFold(strings.TrimSpace(plan), "paid") {
		return p.PaidDailyLimit
	}
	return p.FreeDailyLimit
}

// Load reads configuration from environment variables, after merging any .env file.
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	db, err := LoadDatabase()
	if err != nil {
		return nil, err
	}

	adminKey := os.Getenv("ADMIN_KEY")
	if adminKey == "" {
		return nil, fmt.Errorf("ADMIN_KEY is required")
	}

	cfg := &Config{
		HTTPPort:    getEnvString("HTTP_PORT", "8080"),
		LogLevel:    getEnvString("LOG_LEVEL", "info"),
		ProjectName: getEnvString("PROJECT_NAME", "Media Gateway"),
		AdminKey:    adminKey,
		Database:    db,
		Cache: CacheConfig{
			RecordCacheSize: getEnvInt("CACHE_RECORD_CACHE_SIZE", 5000),
			RecordCacheTTL:  getEnvDuration("CACHE_RECORD_CACHE_TTL", 30*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", ""),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		UsageQueue: UsageQueueConfig{
			BatchSize:    getEnvInt("USAGE_QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_QUEUE_RETRY_BACKOFF", 500*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			PerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		},
		Provider: ProviderConfig{
			AudioURL:      getEnvString("AUDIO_PROVIDER_URL", "https://jerrycoder.oggyapi.workers.dev/ytmp3"),
			VideoURLs:     getEnvList("VIDEO_PROVIDER_URLS", nil),
			QualityLadder: getEnvList("VIDEO_QUALITY_LADDER", defaultQualityLadder),
			AudioTimeout:  getEnvDuration("AUDIO_FETCH_TIMEOUT", 40*time.Second),
			VideoTimeout:  getEnvDuration("VIDEO_FETCH_TIMEOUT", 60*time.Second),
		},
		Telegram: TelegramConfig{
			APIURL:        getEnvString("TELEGRAM_API_URL", "https://api.telegram.org"),
			BotToken:      getEnvString("BOT_TOKEN", ""),
			ChannelID:     getEnvString("CHANNEL_ID", ""),
			UploadTimeout: getEnvDuration("UPLOAD_TIMEOUT", 120*time.Second),
		},
		Plans: LoadPlans(),
	}

	return cfg, nil
}
