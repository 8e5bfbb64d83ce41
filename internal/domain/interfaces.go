package domain

import (
	"context"
	"time"
)

// Logger defines the interface for logging operations
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, err error, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
}

// Config defines the interface for configuration management
type Config interface {
	GetServerPort() string
	GetMaxFileSize() int64
	GetLogLevel() string
	GetSupabaseURL() string
	GetSupabaseKey() string
	GetStorageBucket() string
	GetAnnotationsTable() string
	GetRenderScale() float64
	GetPageCacheSize() int
	GetFetchTimeout() time.Duration
	GetFontMirrorURL() string
	GetCORSOrigins() []string
}

// DocumentStore is the remote file collaborator.
type DocumentStore interface {
	Fetch(ctx context.Context, ref DocumentRef, token string) ([]byte, error)
	Upload(ctx context.Context, data []byte, name string, parentRef string, token string) (string, error)
	Delete(ctx context.Context, id string, token string) error
}

// AnnotationRepository is the annotation persistence collaborator.
type AnnotationRepository interface {
	Load(ctx context.Context, userScope string, documentRef string, token string) ([]*Annotation, error)
	Save(ctx context.Context, userScope string, documentRef string, annotation *Annotation, token string) (*Annotation, error)
	Delete(ctx context.Context, userScope string, annotationID string, token string) error
}

// FontProvider fetches a substitute font program by family name.
type FontProvider interface {
	Fetch(ctx context.Context, family string) ([]byte, error)
}

// AuthService validates bearer tokens.
type AuthService interface {
	ValidateToken(token string) (*SupabaseUser, error)
}
