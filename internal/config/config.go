package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the clipforge server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Cache      CacheConfig
	S3         S3Config
	Transcoder TranscoderConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type CacheConfig struct {
	JobTTL  time.Duration
	ListTTL time.Duration
}

// S3Config configures the object store. An empty Bucket leaves the store
// unconfigured; upload operations then fail with a service-unavailable error.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	UploadURLTTL    time.Duration
	DownloadURLTTL  time.Duration
}

// Configured reports whether an object store can be constructed.
func (c S3Config) Configured() bool {
	return c.Bucket != ""
}

type TranscoderConfig struct {
	FFmpegPath    string
	FFprobePath   string
	WorkDir       string
	StallTimeout  time.Duration
	SweepSchedule string
}

var validDrivers = map[string]bool{
	"postgres": true,
	"sqlite":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("CLIPFORGE_PORT", 8080),
			Env:             envString("CLIPFORGE_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			Driver:          envString("DATABASE_DRIVER", "postgres"),
			URL:             os.Getenv("DATABASE_URL"),
			SQLitePath:      envString("SQLITE_PATH", "clipforge.db"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Cache: CacheConfig{
			JobTTL:  envDuration("CACHE_JOB_TTL", 30*time.Second),
			ListTTL: envDuration("CACHE_LIST_TTL", 45*time.Second),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET_NAME"),
			Region:          envString("AWS_REGION", envString("AWS_DEFAULT_REGION", "ap-southeast-2")),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			ForcePathStyle:  envBool("S3_FORCE_PATH_STYLE", false),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			UploadURLTTL:    envDuration("UPLOAD_URL_TTL", time.Hour),
			DownloadURLTTL:  envDuration("DOWNLOAD_URL_TTL", time.Hour),
		},
		Transcoder: TranscoderConfig{
			FFmpegPath:    envString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:   envString("FFPROBE_PATH", "ffprobe"),
			WorkDir:       envString("TRANSCODE_WORK_DIR", os.TempDir()),
			StallTimeout:  envDuration("TRANSCODE_STALL_TIMEOUT", 0),
			SweepSchedule: envString("STALL_SWEEP_SCHEDULE", "@every 1m"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, sqlite; got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER is postgres")
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when DATABASE_DRIVER is sqlite")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.S3.Endpoint != "" && !strings.HasPrefix(c.S3.Endpoint, "http://") && !strings.HasPrefix(c.S3.Endpoint, "https://") {
		return fmt.Errorf("S3_ENDPOINT must start with http:// or https://, got %q", c.S3.Endpoint)
	}
	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}
	if c.S3.UploadURLTTL <= 0 || c.S3.DownloadURLTTL <= 0 {
		return fmt.Errorf("UPLOAD_URL_TTL and DOWNLOAD_URL_TTL must be positive")
	}

	if c.Cache.JobTTL <= 0 || c.Cache.ListTTL <= 0 {
		return fmt.Errorf("CACHE_JOB_TTL and CACHE_LIST_TTL must be positive")
	}

	if c.Transcoder.StallTimeout < 0 {
		return fmt.Errorf("TRANSCODE_STALL_TIMEOUT must not be negative, got %s", c.Transcoder.StallTimeout)
	}
	if c.Transcoder.StallTimeout > 0 && c.Transcoder.SweepSchedule == "" {
		return fmt.Errorf("STALL_SWEEP_SCHEDULE is required when TRANSCODE_STALL_TIMEOUT is set")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
