package storage

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"media_gateway/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

var gooseInitMu sync.Mutex

func init() {
	// modernc registers as "sqlite", which sqlx does not know about
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DB wraps the database connection and provides health checks
type DB struct {
	conn   *sqlx.DB
	driver string

	// Cache records are immutable, so they can be served from memory
	recordCache *expirable.LRU[string, models.CacheRecord]

	clockMu sync.RWMutex
	clock   func() time.Time
}

// DBConfig holds database configuration
type DBConfig struct {
	// Connection settings
	Driver string // "postgres" or "sqlite"
	DSN    string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Cache settings
	RecordCacheSize int
	RecordCacheTTL  time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		Driver: DriverPostgres,
		DSN:    "host=localhost port=5432 dbname=media_gateway user=postgres sslmode=disable",

		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		RecordCacheSize: 5000,
		RecordCacheTTL:  30 * time.Minute,
	}
}

// NewDB creates a new database connection with caching
func NewDB(cfg DBConfig) (*DB, error) {
	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	conn, err := sqlx.Connect(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	if cfg.Driver == DriverSQLite && isMemoryDSN(dsn) {
		// every connection to :memory: is a separate database
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
		conn.SetConnMaxIdleTime(0)
	} else {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	size := cfg.RecordCacheSize
	if size <= 0 {
		size = 1
	}

	return &DB{
		conn:        conn,
		driver:      cfg.Driver,
		recordCache: expirable.NewLRU[string, models.CacheRecord](size, nil, cfg.RecordCacheTTL),
		clock:       time.Now,
	}, nil
}

// sqliteDSN pins the time format and busy timeout the repositories rely on.
func sqliteDSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_time_format=") {
		params = append(params, "_time_format=sqlite")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Migrate applies the embedded migrations for the configured driver
func (db *DB) Migrate(ctx context.Context) error {
	dialect, dir := "postgres", "migrations/postgres"
	if db.driver == DriverSQLite {
		dialect, dir = "sqlite3", "migrations/sqlite"
	}

	gooseInitMu.Lock()
	defer func() {
		goose.SetBaseFS(nil)
		gooseInitMu.Unlock()
	}()
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.conn.DB, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.recordCache.Purge()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	// Check connection
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Check if we can execute a simple query
	var result int
	err := db.conn.GetContext(ctx, &result, "SELECT 1")
	if err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// Stats returns database statistics
type DBStats struct {
	Driver             string        `json:"driver"`
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration_ns"`

	// entries in the in-process record cache, not rows
	CachedRecords int `json:"lru_records"`
}

// GetStats returns current database and cache statistics
func (db *DB) GetStats() DBStats {
	stats := db.conn.Stats()

	return DBStats{
		Driver:             db.driver,
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,

		CachedRecords: db.recordCache.Len(),
	}
}

// Conn returns the underlying sqlx connection
// Use this for custom queries not covered by repositories
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// Rebind converts a query written with ? placeholders to the driver's bindvar style
func (db *DB) Rebind(query string) string {
	return db.conn.Rebind(query)
}

// SetClock replaces the time source used for expiry, daily windows and timestamps.
func (db *DB) SetClock(clock func() time.Time) {
	db.clockMu.Lock()
	defer db.clockMu.Unlock()
	db.clock = clock
}

// now returns the current UTC time at the precision both drivers store.
func (db *DB) now() time.Time {
	db.clockMu.RLock()
	defer db.clockMu.RUnlock()
	return db.clock().UTC().Truncate(time.Microsecond)
}

// Repository factory methods

// NewAPIKeyRepository creates a new API key repository
func (db *DB) NewAPIKeyRepository() *APIKeyRepository {
	return NewAPIKeyRepository(db)
}

// NewCacheRepository creates a new cache record repository
func (db *DB) NewCacheRepository() *CacheRepository {
	return NewCacheRepository(db)
}

// NewLogRepository creates a new request log repository
func (db *DB) NewLogRepository() *LogRepository {
	return NewLogRepository(db)
}
