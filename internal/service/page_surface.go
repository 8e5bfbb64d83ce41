package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"pdf-annotator/internal/domain"
	apperrors "pdf-annotator/pkg/errors"
)

// RenderStatus is the lifecycle state of a page raster.
type RenderStatus string

const (
	StatusIdle      RenderStatus = "idle"
	StatusRendering RenderStatus = "rendering"
	StatusRendered  RenderStatus = "rendered"
	StatusFailed    RenderStatus = "failed"
)

// PageView is what a client needs to draw one page at the current zoom.
type PageView struct {
	Page          int          `json:"page"`
	Status        RenderStatus `json:"status"`
	IntrinsicSize domain.Size  `json:"intrinsic_size"`
	RasterSize    domain.Size  `json:"raster_size"`
	DisplaySize   domain.Size  `json:"display_size"`
	Transform     float64      `json:"transform"`
	CSSTransform  string       `json:"css_transform"`
	Visible       bool         `json:"visible"`
	HasText       bool         `json:"has_text"`
	FontFallback  bool         `json:"font_fallback"`
	TextLayer     *TextLayer   `json:"text_layer,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// PageSurface owns the raster, text layer and render lifecycle of one page.
// Zoom never reaches it: display scaling is a transform over the raster
// produced at the fixed render scale.
type PageSurface struct {
	number      int
	doc         domain.Document
	renderScale float64
	cache       *RasterCache
	fonts       FontResolver
	logger      domain.Logger

	mu          sync.Mutex
	page        domain.Page
	size        domain.Size
	sizeKnown   bool
	visible     bool
	status      RenderStatus
	layer       *TextLayer
	err         error
	generation  uint64
	cancel      context.CancelFunc
	done        chan struct{}
	rasterCalls int
}

// NewPageSurface creates the surface for page number. Nothing is fetched
// until the page first becomes visible.
func NewPageSurface(number int, doc domain.Document, renderScale float64, cache *RasterCache, fonts FontResolver, logger domain.Logger) *PageSurface {
	return &PageSurface{
		number:      number,
		doc:         doc,
		renderScale: renderScale,
		cache:       cache,
		fonts:       fonts,
		logger:      logger,
		status:      StatusIdle,
	}
}

// Number returns the 1-based page number.
func (s *PageSurface) Number() int {
	return s.number
}

// SetVisible updates visibility. Becoming visible renders when no raster is
// cached; losing visibility cancels an in-flight render and lets the raster
// cache reclaim the raster.
func (s *PageSurface) SetVisible(visible bool) {
	s.mu.Lock()
	if s.visible == visible {
		s.mu.Unlock()
		return
	}
	s.visible = visible

	if !visible {
		if s.status == StatusRendering {
			s.generation++
			s.cancel()
			s.cancel = nil
			s.status = StatusIdle
			s.logger.Debug("Render cancelled", "page", s.number, "reason", apperrors.NewRenderCancelledError(s.number).Type)
		}
		s.mu.Unlock()
		return
	}

	needsRender := s.status != StatusRendering && !(s.status == StatusRendered && s.cache.Contains(s.number))
	s.mu.Unlock()
	if needsRender {
		s.Render()
	}
}

// Visible reports the last visibility flag.
func (s *PageSurface) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Render starts a new render, superseding any in-flight one. The new render
// waits for its predecessor to exit so one page never rasterizes twice at
// once, and only the most recently issued render may commit.
func (s *PageSurface) Render() {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	prev := s.done
	done := make(chan struct{})
	s.done = done
	s.status = StatusRendering
	s.err = nil
	s.mu.Unlock()

	go s.run(ctx, gen, prev, done)
}

// Wait blocks until the most recently issued render has finished.
func (s *PageSurface) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any in-flight render and waits for it to exit.
func (s *PageSurface) Close() {
	s.mu.Lock()
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.cache.Release(s.number)
}

func (s *PageSurface) run(ctx context.Context, gen uint64, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	if ctx.Err() != nil {
		s.commit(gen, nil, nil, ctx.Err())
		return
	}
	img, layer, err := s.render(ctx)
	s.commit(gen, img, layer, err)
}

func (s *PageSurface) render(ctx context.Context) (*image.RGBA, *TextLayer, error) {
	page, err := s.handle(ctx)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	s.rasterCalls++
	s.mu.Unlock()
	img, err := page.Rasterize(ctx, s.renderScale)
	if err != nil {
		return nil, nil, err
	}

	// The text layer is sized from the raster, so it is built only after the
	// raster is in hand.
	runs, err := page.TextRuns(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		s.logger.Warn("Text extraction failed", "page", s.number, "error", err)
		runs = nil
	}
	layer := SynthesizeTextLayer(runs, page.Size(), s.renderScale, s.fonts)
	return img, &layer, nil
}

// handle fetches the page handle and intrinsic size once.
func (s *PageSurface) handle(ctx context.Context) (domain.Page, error) {
	s.mu.Lock()
	if s.page != nil {
		p := s.page
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	p, err := s.doc.Page(ctx, s.number)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		s.page = p
		s.size = p.Size()
		s.sizeKnown = true
	}
	return s.page, nil
}

func (s *PageSurface) commit(gen uint64, img *image.RGBA, layer *TextLayer, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return
	}
	s.cancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.status = StatusIdle
			return
		}
		s.status = StatusFailed
		s.err = err
		s.logger.Error("Page render failed", err, "page", s.number)
		return
	}

	s.cache.Put(s.number, img)
	s.layer = layer
	s.status = StatusRendered
	s.logger.Debug("Page rendered", "page", s.number, "spans", len(layer.Spans))
}

// Size returns the intrinsic size and whether it has been fetched yet.
func (s *PageSurface) Size() (domain.Size, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, s.sizeKnown
}

// EnsureSize fetches the page handle without rendering.
func (s *PageSurface) EnsureSize(ctx context.Context) (domain.Size, error) {
	p, err := s.handle(ctx)
	if err != nil {
		return domain.Size{}, err
	}
	return p.Size(), nil
}

// Raster returns the cached raster at render scale.
func (s *PageSurface) Raster() (*image.RGBA, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRendered {
		return nil, false
	}
	return s.cache.Get(s.number)
}

// RasterCalls counts rasterizations issued for this page.
func (s *PageSurface) RasterCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rasterCalls
}

// Status returns the render status.
func (s *PageSurface) Status() RenderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State describes the page at viewScale. It only computes a transform.
func (s *PageSurface) State(viewScale float64) PageView {
	s.mu.Lock()
	defer s.mu.Unlock()

	scales := domain.Scales{Render: s.renderScale, View: viewScale}
	t := scales.Transform()
	v := PageView{
		Page:          s.number,
		Status:        s.status,
		IntrinsicSize: s.size,
		RasterSize:    s.size.Scale(s.renderScale),
		DisplaySize:   s.size.Scale(viewScale),
		Transform:     t,
		CSSTransform:  fmt.Sprintf("scale(%g)", t),
		Visible:       s.visible,
	}
	if s.layer != nil {
		v.TextLayer = s.layer
		v.HasText = s.layer.HasText()
		v.FontFallback = s.layer.FontFallback
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	return v
}
