package service

import (
	"context"
	"sync"
	"time"

	"pdf-annotator/internal/domain"
	apperrors "pdf-annotator/pkg/errors"

	"github.com/google/uuid"
)

// OpenRequest describes the document for a new viewer: either a remote
// reference or uploaded bytes.
type OpenRequest struct {
	UserID         string
	Token          string
	Ref            *domain.DocumentRef
	Name           string
	Data           []byte
	OnClose        func()
	OnUnauthorized func(error)
}

// ViewerManager owns the open viewer sessions, keyed by id and scoped to
// the user that opened them.
type ViewerManager struct {
	deps        ViewerDeps
	source      *DocumentSource
	renderScale float64
	cacheSize   int
	logger      domain.Logger

	mu      sync.Mutex
	viewers map[string]*Viewer
}

// NewViewerManager creates a manager.
func NewViewerManager(deps ViewerDeps, source *DocumentSource, cfg domain.Config, logger domain.Logger) *ViewerManager {
	return &ViewerManager{
		deps:        deps,
		source:      source,
		renderScale: cfg.GetRenderScale(),
		cacheSize:   cfg.GetPageCacheSize(),
		logger:      logger,
		viewers:     make(map[string]*Viewer),
	}
}

// Open obtains the bytes, decodes them and registers a new session.
func (m *ViewerManager) Open(ctx context.Context, req OpenRequest) (*Viewer, error) {
	var (
		src *domain.SourceDocument
		err error
	)
	if req.Ref != nil {
		src, err = m.source.FromRemote(ctx, *req.Ref, req.Token)
	} else {
		src, err = m.source.FromBytes(req.Name, req.Data)
	}
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	opts := ViewerOptions{
		UserID:         req.UserID,
		Token:          req.Token,
		RenderScale:    m.renderScale,
		CacheSize:      m.cacheSize,
		Viewport:       DefaultViewportOptions(),
		OnUnauthorized: req.OnUnauthorized,
		OnClose: func() {
			m.forget(id)
			if req.OnClose != nil {
				req.OnClose()
			}
		},
	}
	v, err := OpenViewer(ctx, id, m.deps, src, opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.viewers[id] = v
	m.mu.Unlock()
	return v, nil
}

// Get returns the session id owned by userID.
func (m *ViewerManager) Get(id, userID string) (*Viewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.viewers[id]
	if !ok || v.UserID() != userID {
		return nil, apperrors.NewNotFoundError(domain.ErrViewerNotFound.Error())
	}
	return v, nil
}

// List returns the ids of userID's sessions.
func (m *ViewerManager) List(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, v := range m.viewers {
		if v.UserID() == userID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Close closes one session.
func (m *ViewerManager) Close(id, userID string) error {
	v, err := m.Get(id, userID)
	if err != nil {
		return err
	}
	return v.Close()
}

// CloseIdle closes sessions unused for longer than maxIdle.
func (m *ViewerManager) CloseIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	var idle []*Viewer
	for _, v := range m.viewers {
		if time.Since(v.LastUsed()) > maxIdle {
			idle = append(idle, v)
		}
	}
	m.mu.Unlock()

	for _, v := range idle {
		if err := v.Close(); err != nil {
			m.logger.Warn("Failed to close idle viewer", "viewer", v.ID(), "error", err)
		}
	}
	return len(idle)
}

// CloseAll closes every session.
func (m *ViewerManager) CloseAll() {
	m.mu.Lock()
	all := make([]*Viewer, 0, len(m.viewers))
	for _, v := range m.viewers {
		all = append(all, v)
	}
	m.mu.Unlock()

	for _, v := range all {
		if err := v.Close(); err != nil {
			m.logger.Warn("Failed to close viewer", "viewer", v.ID(), "error", err)
		}
	}
}

func (m *ViewerManager) forget(id string) {
	m.mu.Lock()
	delete(m.viewers, id)
	m.mu.Unlock()
}
