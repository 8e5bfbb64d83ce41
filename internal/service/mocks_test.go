package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"pdf-annotator/internal/domain"
)

// MockLogger records messages; safe for use from render and persistence
// goroutines.
type MockLogger struct {
	mu       sync.Mutex
	messages []string
}

func NewMockLogger() *MockLogger {
	return &MockLogger{
		messages: []string{},
	}
}

func (m *MockLogger) Info(msg string, args ...interface{}) {
	m.add("INFO: " + msg)
}

func (m *MockLogger) Error(msg string, err error, args ...interface{}) {
	if err != nil {
		msg += " - " + err.Error()
	}
	m.add("ERROR: " + msg)
}

func (m *MockLogger) Debug(msg string, args ...interface{}) {
	m.add("DEBUG: " + msg)
}

func (m *MockLogger) Warn(msg string, args ...interface{}) {
	m.add("WARN: " + msg)
}

func (m *MockLogger) add(s string) {
	m.mu.Lock()
	m.messages = append(m.messages, s)
	m.mu.Unlock()
}

// Contains reports whether any message starts with prefix.
func (m *MockLogger) Contains(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// MockDecoder opens every blob as a document with the configured pages.
type MockDecoder struct {
	Sizes   []domain.Size
	Runs    map[int][]domain.TextRun
	OpenErr error

	mu   sync.Mutex
	docs []*MockDocument
}

func NewMockDecoder(sizes ...domain.Size) *MockDecoder {
	if len(sizes) == 0 {
		sizes = []domain.Size{{Width: 612, Height: 792}}
	}
	return &MockDecoder{Sizes: sizes, Runs: map[int][]domain.TextRun{}}
}

func (d *MockDecoder) Open(ctx context.Context, data []byte) (domain.Document, error) {
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	doc := NewMockDocument(d.Sizes...)
	for n, runs := range d.Runs {
		doc.runs[n] = runs
	}
	d.mu.Lock()
	d.docs = append(d.docs, doc)
	d.mu.Unlock()
	return doc, nil
}

// Last returns the most recently opened document.
func (d *MockDecoder) Last() *MockDocument {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.docs) == 0 {
		return nil
	}
	return d.docs[len(d.docs)-1]
}

// MockDocument is an in-memory document. Rasterize calls are counted and
// can be held open with Block.
type MockDocument struct {
	sizes []domain.Size
	runs  map[int][]domain.TextRun

	mu         sync.Mutex
	pages      map[int]*MockPage
	gate       chan struct{}
	started    chan int
	rasterErr  error
	rasterized map[int]int
	closed     bool
}

func NewMockDocument(sizes ...domain.Size) *MockDocument {
	return &MockDocument{
		sizes:      sizes,
		runs:       map[int][]domain.TextRun{},
		pages:      map[int]*MockPage{},
		rasterized: map[int]int{},
	}
}

func (d *MockDocument) PageCount() int {
	return len(d.sizes)
}

func (d *MockDocument) Page(ctx context.Context, number int) (domain.Page, error) {
	if number < 1 || number > len(d.sizes) {
		return nil, fmt.Errorf("page %d: %w", number, domain.ErrPageOutOfRange)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pages[number]; ok {
		return p, nil
	}
	p := &MockPage{doc: d, number: number, size: d.sizes[number-1]}
	d.pages[number] = p
	return p, nil
}

func (d *MockDocument) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Block holds every following Rasterize call until Unblock. Each held call
// reports its page on the returned channel.
func (d *MockDocument) Block() <-chan int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = make(chan struct{})
	d.started = make(chan int, 16)
	return d.started
}

func (d *MockDocument) Unblock() {
	d.mu.Lock()
	gate := d.gate
	d.gate = nil
	d.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (d *MockDocument) FailRaster(err error) {
	d.mu.Lock()
	d.rasterErr = err
	d.mu.Unlock()
}

// Rasterized counts completed and attempted rasterizations of page n.
func (d *MockDocument) Rasterized(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rasterized[n]
}

func (d *MockDocument) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type MockPage struct {
	doc    *MockDocument
	number int
	size   domain.Size
}

func (p *MockPage) Number() int       { return p.number }
func (p *MockPage) Size() domain.Size { return p.size }

func (p *MockPage) Rasterize(ctx context.Context, scale float64) (*image.RGBA, error) {
	p.doc.mu.Lock()
	p.doc.rasterized[p.number]++
	gate, started, failure := p.doc.gate, p.doc.started, p.doc.rasterErr
	p.doc.mu.Unlock()

	if gate != nil {
		started <- p.number
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	w := int(math.Ceil(p.size.Width * scale))
	h := int(math.Ceil(p.size.Height * scale))
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

func (p *MockPage) TextRuns(ctx context.Context) ([]domain.TextRun, error) {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	return p.doc.runs[p.number], nil
}

// MockAnnotationRepository keeps rows in memory and assigns sequential ids.
type MockAnnotationRepository struct {
	mu        sync.Mutex
	rows      []*domain.Annotation
	saved     []*domain.Annotation
	deleted   []string
	next      int
	saveErr   error
	loadErr   error
	deleteErr error
	saveGate  chan struct{}
}

func NewMockAnnotationRepository() *MockAnnotationRepository {
	return &MockAnnotationRepository{}
}

func (r *MockAnnotationRepository) Load(ctx context.Context, userScope, documentRef, token string) ([]*domain.Annotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	var out []*domain.Annotation
	for _, a := range r.rows {
		if a.UserID == userScope && a.DocumentID == documentRef {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (r *MockAnnotationRepository) Save(ctx context.Context, userScope, documentRef string, a *domain.Annotation, token string) (*domain.Annotation, error) {
	r.mu.Lock()
	gate := r.saveGate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return nil, r.saveErr
	}
	r.next++
	saved := a.Clone()
	saved.ID = fmt.Sprintf("db-%d", r.next)
	saved.UserID = userScope
	saved.DocumentID = documentRef
	r.rows = append(r.rows, saved.Clone())
	r.saved = append(r.saved, saved.Clone())
	return saved, nil
}

func (r *MockAnnotationRepository) Delete(ctx context.Context, userScope, annotationID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deleted = append(r.deleted, annotationID)
	kept := r.rows[:0]
	for _, a := range r.rows {
		if a.ID != annotationID {
			kept = append(kept, a)
		}
	}
	r.rows = kept
	return nil
}

func (r *MockAnnotationRepository) Seed(a *domain.Annotation) {
	r.mu.Lock()
	r.rows = append(r.rows, a.Clone())
	r.mu.Unlock()
}

func (r *MockAnnotationRepository) Saved() []*domain.Annotation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Annotation(nil), r.saved...)
}

func (r *MockAnnotationRepository) Deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

// HoldSaves makes Save wait until the returned function is called.
func (r *MockAnnotationRepository) HoldSaves() func() {
	gate := make(chan struct{})
	r.mu.Lock()
	r.saveGate = gate
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.saveGate = nil
		r.mu.Unlock()
		close(gate)
	}
}

// MockDocumentStore records calls in order.
type MockDocumentStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	calls     []string
	fetchErr  error
	uploadErr error
	deleteErr error
}

func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{objects: map[string][]byte{}}
}

func (s *MockDocumentStore) Put(id string, data []byte) {
	s.mu.Lock()
	s.objects[id] = data
	s.mu.Unlock()
}

func (s *MockDocumentStore) Fetch(ctx context.Context, ref domain.DocumentRef, token string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "fetch:"+ref.ID)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	data, ok := s.objects[ref.ID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return data, nil
}

func (s *MockDocumentStore) Upload(ctx context.Context, data []byte, name, parentRef, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := name
	if parentRef != "" {
		id = parentRef + "/" + name
	}
	s.calls = append(s.calls, "upload:"+id)
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.objects[id] = data
	return id, nil
}

func (s *MockDocumentStore) Delete(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "delete:"+id)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.objects[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(s.objects, id)
	return nil
}

func (s *MockDocumentStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *MockDocumentStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	return ok
}

// MockFontProvider serves fixed bytes per family. Fetches can be held
// open with Hold.
type MockFontProvider struct {
	mu      sync.Mutex
	fonts   map[string][]byte
	calls   map[string]int
	gate    chan struct{}
	started chan string
}

func NewMockFontProvider() *MockFontProvider {
	return &MockFontProvider{fonts: map[string][]byte{}, calls: map[string]int{}}
}

func (p *MockFontProvider) Fetch(ctx context.Context, family string) ([]byte, error) {
	p.mu.Lock()
	p.calls[family]++
	gate, started := p.gate, p.started
	p.mu.Unlock()

	if gate != nil {
		started <- family
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.fonts[family]
	if !ok {
		return nil, errors.New("font not mirrored")
	}
	return data, nil
}

// Hold blocks following fetches until the returned function is called.
// Each held fetch reports its family on the returned channel.
func (p *MockFontProvider) Hold() (<-chan string, func()) {
	gate := make(chan struct{})
	started := make(chan string, 16)
	p.mu.Lock()
	p.gate, p.started = gate, started
	p.mu.Unlock()
	return started, func() {
		p.mu.Lock()
		p.gate = nil
		p.mu.Unlock()
		close(gate)
	}
}

func (p *MockFontProvider) Calls(family string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[family]
}

// stubFonts resolves every family to itself except the listed fallbacks.
type stubFonts map[string]bool

func (f stubFonts) Resolve(family string) (string, bool) {
	if f[family] {
		return FallbackFontFamily, true
	}
	return family, false
}

// samplePDF is enough bytes to pass the header check.
var samplePDF = []byte("%PDF-1.4\n%mock\n")
