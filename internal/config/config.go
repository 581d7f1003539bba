package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the platewise server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Analyzer AnalyzerConfig
	Upload   UploadConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL               string
	RequestsPerMinute int
}

// StorageConfig points at the S3-compatible bucket holding meal photos.
type StorageConfig struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PublicBaseURL string
}

// AnalyzerConfig describes the external food-analysis service.
type AnalyzerConfig struct {
	BaseURL           string
	StreamPath        string
	HeaderTimeout     time.Duration
	MaxStreamDuration time.Duration
}

type UploadConfig struct {
	MaxImages    int
	MaxBytes     int64
	MaxDimension int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           envInt("PLATEWISE_PORT", 8080),
			Env:            envString("PLATEWISE_ENV", "development"),
			AllowedOrigins: envList("PLATEWISE_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:               os.Getenv("REDIS_URL"),
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
		},
		Storage: StorageConfig{
			Endpoint:      os.Getenv("STORAGE_ENDPOINT"),
			Region:        envString("STORAGE_REGION", "us-east-1"),
			Bucket:        envString("STORAGE_BUCKET", "platewise"),
			AccessKey:     os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey:     os.Getenv("STORAGE_SECRET_KEY"),
			UseSSL:        envBool("STORAGE_USE_SSL", false),
			PublicBaseURL: strings.TrimSuffix(os.Getenv("STORAGE_PUBLIC_BASE_URL"), "/"),
		},
		Analyzer: AnalyzerConfig{
			BaseURL:           strings.TrimSuffix(os.Getenv("AI_API_URL"), "/"),
			StreamPath:        envString("AI_API_STREAM_PATH", "/analyze-stream"),
			HeaderTimeout:     envDuration("AI_API_HEADER_TIMEOUT", 60*time.Second),
			MaxStreamDuration: envDurationSecs("AI_API_MAX_STREAM_SECS", 300*time.Second),
		},
		Upload: UploadConfig{
			MaxImages:    envInt("UPLOAD_MAX_IMAGES", 10),
			MaxBytes:     int64(envInt("UPLOAD_MAX_BYTES", 32<<20)),
			MaxDimension: envInt("UPLOAD_MAX_DIMENSION", 2048),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("STORAGE_ENDPOINT is required")
	}
	if strings.Contains(c.Storage.Endpoint, "://") {
		return fmt.Errorf("STORAGE_ENDPOINT must be host[:port] without a scheme, got %q", c.Storage.Endpoint)
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return fmt.Errorf("STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required")
	}

	if c.Analyzer.BaseURL == "" {
		return fmt.Errorf("AI_API_URL is required")
	}
	if !strings.HasPrefix(c.Analyzer.BaseURL, "http://") && !strings.HasPrefix(c.Analyzer.BaseURL, "https://") {
		return fmt.Errorf("AI_API_URL must start with http:// or https://, got %q", c.Analyzer.BaseURL)
	}
	if !strings.HasPrefix(c.Analyzer.StreamPath, "/") {
		return fmt.Errorf("AI_API_STREAM_PATH must start with /, got %q", c.Analyzer.StreamPath)
	}
	if c.Analyzer.MaxStreamDuration <= 0 {
		return fmt.Errorf("AI_API_MAX_STREAM_SECS must be positive")
	}

	if c.Upload.MaxImages <= 0 {
		return fmt.Errorf("UPLOAD_MAX_IMAGES must be positive, got %d", c.Upload.MaxImages)
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

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
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

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
