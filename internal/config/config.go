package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"pdf-annotator/internal/domain"
)

// AppConfig implements the domain.Config interface
type AppConfig struct {
	ServerPort       string
	MaxFileSize      int64
	LogLevel         string
	SupabaseURL      string
	SupabaseKey      string
	StorageBucket    string
	AnnotationsTable string
	RenderScale      float64
	PageCacheSize    int
	FetchTimeout     time.Duration
	FontMirrorURL    string
	CORSOrigins      []string
}

// NewConfig creates a new configuration instance with default values
func NewConfig() domain.Config {
	return &AppConfig{
		// Cloud Run (and many PaaS) provide the listening port via PORT.
		// Keep SERVER_PORT for local/dev compatibility.
		ServerPort:       getEnvOrDefault("PORT", getEnvOrDefault("SERVER_PORT", "8080")),
		MaxFileSize:      getEnvInt64OrDefault("MAX_FILE_SIZE", 50*1024*1024), // 50MB default
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		SupabaseURL:      getEnvOrDefault("SUPABASE_URL", ""),
		SupabaseKey:      getEnvOrDefault("SUPABASE_ANON_KEY", ""),
		StorageBucket:    getEnvOrDefault("STORAGE_BUCKET", "documents"),
		AnnotationsTable: getEnvOrDefault("ANNOTATIONS_TABLE", "annotations"),
		RenderScale:      getEnvPositiveFloatOrDefault("RENDER_SCALE", 2.0),
		PageCacheSize:    int(getEnvInt64OrDefault("PAGE_CACHE_SIZE", 32)),
		FetchTimeout:     getEnvDurationOrDefault("FETCH_TIMEOUT", 30*time.Second),
		FontMirrorURL:    getEnvOrDefault("FONT_MIRROR_URL", ""),
		CORSOrigins: getEnvListOrDefault("CORS_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:4173",
			"http://localhost:3000",
		}),
	}
}

// GetServerPort returns the server port
func (c *AppConfig) GetServerPort() string {
	return c.ServerPort
}

// GetMaxFileSize returns the maximum accepted document size
func (c *AppConfig) GetMaxFileSize() int64 {
	return c.MaxFileSize
}

// GetLogLevel returns the logging level
func (c *AppConfig) GetLogLevel() string {
	return c.LogLevel
}

// GetSupabaseURL returns the Supabase URL
func (c *AppConfig) GetSupabaseURL() string {
	return c.SupabaseURL
}

// GetSupabaseKey returns the Supabase anon key
func (c *AppConfig) GetSupabaseKey() string {
	return c.SupabaseKey
}

// GetStorageBucket returns the storage bucket holding documents
func (c *AppConfig) GetStorageBucket() string {
	return c.StorageBucket
}

// GetAnnotationsTable returns the PostgREST table for annotation records
func (c *AppConfig) GetAnnotationsTable() string {
	return c.AnnotationsTable
}

// GetRenderScale returns the fixed rasterization quality factor
func (c *AppConfig) GetRenderScale() float64 {
	return c.RenderScale
}

// GetPageCacheSize returns how many page rasters are kept per viewer
func (c *AppConfig) GetPageCacheSize() int {
	return c.PageCacheSize
}

// GetFetchTimeout bounds remote document fetches
func (c *AppConfig) GetFetchTimeout() time.Duration {
	return c.FetchTimeout
}

// GetFontMirrorURL returns the font mirror template; empty disables substitution
func (c *AppConfig) GetFontMirrorURL() string {
	return c.FontMirrorURL
}

// GetCORSOrigins returns the allowed browser origins
func (c *AppConfig) GetCORSOrigins() []string {
	return c.CORSOrigins
}

// Helper functions for environment variable handling
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvPositiveFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
