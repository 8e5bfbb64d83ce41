package handler

import (
	"context"
	"fmt"
	"image"
	"math"
	"net/http"
	"path"
	"sync"
	"time"

	"pdf-annotator/internal/domain"
	"pdf-annotator/internal/service"
)

// Mock logger used by handler package tests.
type MockHandlerLogger struct{}

func NewMockHandlerLogger() domain.Logger {
	return &MockHandlerLogger{}
}

func (l *MockHandlerLogger) Info(msg string, fields ...interface{})             {}
func (l *MockHandlerLogger) Error(msg string, err error, fields ...interface{}) {}
func (l *MockHandlerLogger) Debug(msg string, fields ...interface{})            {}
func (l *MockHandlerLogger) Warn(msg string, fields ...interface{})             {}

type mockAuthService struct {
	users     map[string]*domain.SupabaseUser
	err       error
	lastToken string
}

func (m *mockAuthService) ValidateToken(token string) (*domain.SupabaseUser, error) {
	m.lastToken = token
	if m.err != nil {
		return nil, m.err
	}
	user, ok := m.users[token]
	if !ok {
		return nil, fmt.Errorf("invalid token: %w", domain.ErrUnauthorized)
	}
	return user, nil
}

// stubDecoder serves letter-sized pages with no text.
type stubDecoder struct {
	pages int
}

func (d stubDecoder) Open(ctx context.Context, data []byte) (domain.Document, error) {
	return &stubDocument{pages: d.pages}, nil
}

type stubDocument struct {
	pages int
}

func (d *stubDocument) PageCount() int { return d.pages }
func (d *stubDocument) Close() error   { return nil }

func (d *stubDocument) Page(ctx context.Context, number int) (domain.Page, error) {
	if number < 1 || number > d.pages {
		return nil, domain.ErrPageOutOfRange
	}
	return stubPage{number: number}, nil
}

type stubPage struct {
	number int
}

func (p stubPage) Number() int       { return p.number }
func (p stubPage) Size() domain.Size { return domain.Size{Width: 612, Height: 792} }

func (p stubPage) Rasterize(ctx context.Context, scale float64) (*image.RGBA, error) {
	w := int(math.Ceil(612 * scale))
	h := int(math.Ceil(792 * scale))
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

func (p stubPage) TextRuns(ctx context.Context) ([]domain.TextRun, error) {
	return nil, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Fetch(ctx context.Context, ref domain.DocumentRef, token string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[ref.ID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return data, nil
}

func (s *memStore) Upload(ctx context.Context, data []byte, name string, parentRef string, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := path.Join(parentRef, name)
	s.objects[id] = data
	return id, nil
}

func (s *memStore) Delete(ctx context.Context, id string, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
	return nil
}

type mockConfig struct{}

func (mockConfig) GetServerPort() string          { return "8080" }
func (mockConfig) GetMaxFileSize() int64          { return 1 << 20 }
func (mockConfig) GetLogLevel() string            { return "debug" }
func (mockConfig) GetSupabaseURL() string         { return "" }
func (mockConfig) GetSupabaseKey() string         { return "" }
func (mockConfig) GetStorageBucket() string       { return "documents" }
func (mockConfig) GetAnnotationsTable() string    { return "annotations" }
func (mockConfig) GetRenderScale() float64        { return 2 }
func (mockConfig) GetPageCacheSize() int          { return 4 }
func (mockConfig) GetFetchTimeout() time.Duration { return time.Second }
func (mockConfig) GetFontMirrorURL() string       { return "" }
func (mockConfig) GetCORSOrigins() []string       { return []string{"http://localhost:5173"} }

var samplePDF = []byte("%PDF-1.4\n%stub\n")

// newTestAPI wires the router against stubbed collaborators. Tokens
// "alice-token" and "bob-token" authenticate.
func newTestAPI(store *memStore) (http.Handler, *service.ViewerManager) {
	logger := NewMockHandlerLogger()
	cfg := mockConfig{}
	deps := service.ViewerDeps{
		Decoder:   stubDecoder{pages: 3},
		Documents: store,
		Logger:    logger,
	}
	source := service.NewDocumentSource(store, cfg.GetMaxFileSize(), cfg.GetFetchTimeout(), logger)
	viewers := service.NewViewerManager(deps, source, cfg, logger)

	auth := &mockAuthService{users: map[string]*domain.SupabaseUser{
		"alice-token": {ID: "alice", Email: "alice@example.com"},
		"bob-token":   {ID: "bob", Email: "bob@example.com"},
	}}
	router := NewRouter(
		NewViewerHandler(viewers, cfg.GetMaxFileSize(), logger),
		NewAuthMiddleware(auth, logger).Middleware,
		cfg.GetCORSOrigins(),
	)
	return router, viewers
}
