package config

import (
	"net/http"

	"pdf-annotator/internal/domain"
	"pdf-annotator/internal/infra/supabase"
	"pdf-annotator/internal/repository"
	"pdf-annotator/internal/service"
	"pdf-annotator/pkg/logger"
)

// Container holds all application dependencies
type Container struct {
	Config               domain.Config
	Logger               domain.Logger
	SupabaseClient       domain.SupabaseClient
	AuthService          domain.AuthService
	DocumentStore        domain.DocumentStore
	AnnotationRepository domain.AnnotationRepository
	DocumentSource       *service.DocumentSource
	Viewers              *service.ViewerManager
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	config := NewConfig()
	appLogger := logger.NewLogger(config.GetLogLevel())

	supabaseClient := supabase.NewSupabaseClient(config, appLogger)
	if err := supabaseClient.Initialize(); err != nil {
		appLogger.Warn("Supabase unavailable, remote documents disabled", "error", err)
	}

	documentStore := repository.NewDocumentStore(supabaseClient, config.GetStorageBucket(), appLogger)
	annotationRepo := repository.NewAnnotationRepository(supabaseClient, config.GetAnnotationsTable(), appLogger)
	source := service.NewDocumentSource(documentStore, config.GetMaxFileSize(), config.GetFetchTimeout(), appLogger)

	deps := service.ViewerDeps{
		Decoder:     service.NewPDFDecoder(appLogger),
		Documents:   documentStore,
		Annotations: annotationRepo,
		Flattener:   service.NewExportFlattener(appLogger),
		Logger:      appLogger,
	}
	if fonts := service.NewHTTPFontProvider(config.GetFontMirrorURL(), &http.Client{Timeout: config.GetFetchTimeout()}); fonts != nil {
		deps.Fonts = fonts
	}

	return &Container{
		Config:               config,
		Logger:               appLogger,
		SupabaseClient:       supabaseClient,
		AuthService:          service.NewAuthService(supabaseClient, appLogger),
		DocumentStore:        documentStore,
		AnnotationRepository: annotationRepo,
		DocumentSource:       source,
		Viewers:              service.NewViewerManager(deps, source, config, appLogger),
	}
}

// GetConfig returns the configuration instance
func (c *Container) GetConfig() domain.Config {
	return c.Config
}

// GetLogger returns the logger instance
func (c *Container) GetLogger() domain.Logger {
	return c.Logger
}

// GetSupabaseClient returns the Supabase client instance
func (c *Container) GetSupabaseClient() domain.SupabaseClient {
	return c.SupabaseClient
}

// GetAuthService returns the token validator
func (c *Container) GetAuthService() domain.AuthService {
	return c.AuthService
}

// GetViewers returns the viewer session manager
func (c *Container) GetViewers() *service.ViewerManager {
	return c.Viewers
}
