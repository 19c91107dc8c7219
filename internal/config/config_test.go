package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ADMIN_KEY", "secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_RequiresAdminKey(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "file::memory:")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("ADMIN_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_KEY")
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "mongodb://localhost")
	t.Setenv("DATABASE_DRIVER", "mongo")
	t.Setenv("ADMIN_KEY", "secret")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/media")
	t.Setenv("ADMIN_KEY", "secret")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("REDIS_ADDRESS", "")
	t.Setenv("VIDEO_QUALITY_LADDER", "")
	t.Setenv("AUDIO_FETCH_TIMEOUT", "")
	t.Setenv("VIDEO_FETCH_TIMEOUT", "")
	t.Setenv("UPLOAD_TIMEOUT", "")
	t.Setenv("FREE_DAILY_LIMIT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "secret", cfg.AdminKey)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, []string{"1080", "720", "480", "360", "240"}, cfg.Provider.QualityLadder)
	assert.Equal(t, 40*time.Second, cfg.Provider.AudioTimeout)
	assert.Equal(t, 60*time.Second, cfg.Provider.VideoTimeout)
	assert.Equal(t, 120*time.Second, cfg.Telegram.UploadTimeout)
	assert.Equal(t, 1000, cfg.Plans.FreeDailyLimit)
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "file:media.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("ADMIN_KEY", "secret")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")
	t.Setenv("VIDEO_PROVIDER_URLS", " https://a.example/api , ,https://b.example/api")
	t.Setenv("VIDEO_QUALITY_LADDER", "720,360")
	t.Setenv("UPLOAD_TIMEOUT", "90s")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")
	t.Setenv("DB_AUTO_MIGRATE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, []string{"https://a.example/api", "https://b.example/api"}, cfg.Provider.VideoURLs)
	assert.Equal(t, []string{"720", "360"}, cfg.Provider.QualityLadder)
	assert.Equal(t, 90*time.Second, cfg.Telegram.UploadTimeout)
	assert.Equal(t, 30, cfg.RateLimit.PerMinute)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/media")
	t.Setenv("ADMIN_KEY", "secret")
	t.Setenv("USAGE_QUEUE_BATCH_SIZE", "lots")
	t.Setenv("USAGE_QUEUE_BATCH_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.UsageQueue.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.UsageQueue.BatchTimeout)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("MEDIA_GW_DOTENV_VALUE=from-file\n"), 0o600))

	t.Setenv("MEDIA_GW_DOTENV_VALUE", "")
	os.Unsetenv("MEDIA_GW_DOTENV_VALUE")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("MEDIA_GW_DOTENV_VALUE"))

	// existing variables win
	t.Setenv("MEDIA_GW_DOTENV_VALUE", "from-env")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("MEDIA_GW_DOTENV_VALUE"))

	// missing files are ignored
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"1080", "720"}, SplitList(" 1080, ,720 ,"))
	assert.Nil(t, SplitList(" , "))
}

func TestLoadPlans(t *testing.T) {
	t.Setenv("FREE_DAILY_LIMIT", "7")
	t.Setenv("PAID_DAILY_LIMIT", "70")
	t.Setenv("DEFAULT_KEY_DAYS", "")

	plans := LoadPlans()
	assert.Equal(t, 7, plans.Limit(""))
	assert.Equal(t, 7, plans.Limit("free"))
	assert.Equal(t, 70, plans.Limit(" Paid "))
	assert.Equal(t, 30, plans.DefaultDays)
}
