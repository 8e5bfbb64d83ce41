package config

import (
	"testing"
	"time"
)

const defaultMaxFileSize int64 = 50 * 1024 * 1024

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "SERVER_PORT", "MAX_FILE_SIZE", "LOG_LEVEL", "SUPABASE_URL",
		"SUPABASE_ANON_KEY", "STORAGE_BUCKET", "ANNOTATIONS_TABLE", "RENDER_SCALE",
		"PAGE_CACHE_SIZE", "FETCH_TIMEOUT", "FONT_MIRROR_URL", "CORS_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := NewConfig()

	if cfg.GetServerPort() != "8080" {
		t.Fatalf("expected default server port 8080, got %s", cfg.GetServerPort())
	}
	if cfg.GetMaxFileSize() != defaultMaxFileSize {
		t.Fatalf("expected default max file size %d, got %d", defaultMaxFileSize, cfg.GetMaxFileSize())
	}
	if cfg.GetLogLevel() != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.GetLogLevel())
	}
	if cfg.GetRenderScale() != 2.0 {
		t.Fatalf("expected default render scale 2.0, got %v", cfg.GetRenderScale())
	}
	if cfg.GetStorageBucket() != "documents" {
		t.Fatalf("expected default bucket documents, got %s", cfg.GetStorageBucket())
	}
	if cfg.GetAnnotationsTable() != "annotations" {
		t.Fatalf("expected default table annotations, got %s", cfg.GetAnnotationsTable())
	}
	if cfg.GetPageCacheSize() != 32 {
		t.Fatalf("expected default page cache size 32, got %d", cfg.GetPageCacheSize())
	}
	if cfg.GetFetchTimeout() != 30*time.Second {
		t.Fatalf("expected default fetch timeout 30s, got %v", cfg.GetFetchTimeout())
	}
	if cfg.GetFontMirrorURL() != "" {
		t.Fatalf("expected font mirror disabled by default, got %s", cfg.GetFontMirrorURL())
	}
	if len(cfg.GetCORSOrigins()) != 3 {
		t.Fatalf("expected 3 default CORS origins, got %v", cfg.GetCORSOrigins())
	}
}

func TestNewConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("MAX_FILE_SIZE", "12345")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SUPABASE_URL", "http://localhost:54321")
	t.Setenv("SUPABASE_ANON_KEY", "test-key")
	t.Setenv("RENDER_SCALE", "3")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := NewConfig()

	if cfg.GetServerPort() != "9090" {
		t.Fatalf("expected server port 9090, got %s", cfg.GetServerPort())
	}
	if cfg.GetMaxFileSize() != 12345 {
		t.Fatalf("expected max file size 12345, got %d", cfg.GetMaxFileSize())
	}
	if cfg.GetLogLevel() != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.GetLogLevel())
	}
	if cfg.GetSupabaseURL() != "http://localhost:54321" {
		t.Fatalf("expected supabase url http://localhost:54321, got %s", cfg.GetSupabaseURL())
	}
	if cfg.GetSupabaseKey() != "test-key" {
		t.Fatalf("expected supabase key test-key, got %s", cfg.GetSupabaseKey())
	}
	if cfg.GetRenderScale() != 3 {
		t.Fatalf("expected render scale 3, got %v", cfg.GetRenderScale())
	}
	if cfg.GetFetchTimeout() != 5*time.Second {
		t.Fatalf("expected fetch timeout 5s, got %v", cfg.GetFetchTimeout())
	}
	origins := cfg.GetCORSOrigins()
	if len(origins) != 2 || origins[1] != "https://b.example" {
		t.Fatalf("unexpected CORS origins %v", origins)
	}
}

func TestNewConfig_Fallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "9091")
	t.Setenv("MAX_FILE_SIZE", "not-a-number")
	t.Setenv("RENDER_SCALE", "-1")
	t.Setenv("FETCH_TIMEOUT", "forever")

	cfg := NewConfig()

	if cfg.GetServerPort() != "9091" {
		t.Fatalf("expected server port 9091, got %s", cfg.GetServerPort())
	}
	if cfg.GetMaxFileSize() != defaultMaxFileSize {
		t.Fatalf("expected default max file size %d, got %d", defaultMaxFileSize, cfg.GetMaxFileSize())
	}
	if cfg.GetRenderScale() != 2.0 {
		t.Fatalf("expected non-positive render scale to fall back to 2.0, got %v", cfg.GetRenderScale())
	}
	if cfg.GetFetchTimeout() != 30*time.Second {
		t.Fatalf("expected invalid timeout to fall back, got %v", cfg.GetFetchTimeout())
	}
}

func TestNewContainer_WithoutSupabase(t *testing.T) {
	clearEnv(t)

	c := NewContainer()
	defer c.GetViewers().CloseAll()

	if c.GetAuthService() == nil || c.GetViewers() == nil {
		t.Fatalf("expected auth service and viewer manager to be wired")
	}
	if c.DocumentStore == nil || c.AnnotationRepository == nil {
		t.Fatalf("expected Supabase collaborators to be wired")
	}
	if _, err := c.GetAuthService().ValidateToken("anything"); err == nil {
		t.Fatalf("expected validation to fail without a Supabase client")
	}
	if ids := c.GetViewers().List("alice"); len(ids) != 0 {
		t.Fatalf("expected no sessions, got %v", ids)
	}
}
