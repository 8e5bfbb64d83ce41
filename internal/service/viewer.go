package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"pdf-annotator/internal/domain"
	apperrors "pdf-annotator/pkg/errors"
)

// ViewerDeps are the collaborators shared by every viewer.
type ViewerDeps struct {
	Decoder     domain.Decoder
	Documents   domain.DocumentStore
	Annotations domain.AnnotationRepository
	Fonts       domain.FontProvider
	Flattener   *ExportFlattener
	Logger      domain.Logger
}

// ViewerOptions are per-session settings and callbacks.
type ViewerOptions struct {
	UserID         string
	Token          string
	RenderScale    float64
	CacheSize      int
	Viewport       ViewportOptions
	OnClose        func()
	OnUnauthorized func(error)
}

// ViewerInfo summarizes an open session.
type ViewerInfo struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	DocumentID      string                 `json:"document_id,omitempty"`
	PageCount       int                    `json:"page_count"`
	RenderScale     float64                `json:"render_scale"`
	Remote          bool                   `json:"remote"`
	ExportAvailable bool                   `json:"export_available"`
	Tool            Tool                   `json:"tool"`
	Style           domain.AnnotationStyle `json:"style"`
	Viewport        ViewportState          `json:"viewport"`
	Annotations     int                    `json:"annotations"`
}

// ViewportUpdate carries a scroll/zoom change. Only set fields apply, in
// the order container, scroll, zoom.
type ViewportUpdate struct {
	ContainerWidth  *float64 `json:"container_width,omitempty"`
	ContainerHeight *float64 `json:"container_height,omitempty"`
	ScrollTop       *float64 `json:"scroll_top,omitempty"`
	ScrollLeft      *float64 `json:"scroll_left,omitempty"`
	ViewScale       *float64 `json:"view_scale,omitempty"`
	Zoom            string   `json:"zoom,omitempty"`
	FitWidth        bool     `json:"fit_width,omitempty"`
}

// Viewer is one open document session. Its mutex plays the role of the
// UI thread: every state change happens while holding it, and render,
// persistence and font goroutines re-enter through their own components.
type Viewer struct {
	id        string
	opts      ViewerOptions
	logger    domain.Logger
	documents domain.DocumentStore
	flattener *ExportFlattener

	mu        sync.Mutex
	source    *domain.SourceDocument
	doc       domain.Document
	cache     *RasterCache
	surfaces  []*PageSurface
	viewport  *Viewport
	fonts     *FontSubstituter
	store     *AnnotationStore
	tools     *ToolController
	selection *SelectionTracker
	closed    bool
	lastUsed  time.Time
}

type fieldLogger interface {
	With(fields ...interface{}) domain.Logger
}

func scopedLogger(l domain.Logger, fields ...interface{}) domain.Logger {
	if fl, ok := l.(fieldLogger); ok {
		return fl.With(fields...)
	}
	return l
}

// OpenViewer decodes source and prepares a session. Annotations are loaded
// before it returns; a load failure other than Unauthorized leaves the
// session usable with an empty set.
func OpenViewer(ctx context.Context, id string, deps ViewerDeps, source *domain.SourceDocument, opts ViewerOptions) (*Viewer, error) {
	if source == nil {
		return nil, apperrors.NewSourceUnavailableError("no document bytes", domain.ErrInvalidFile)
	}
	if opts.RenderScale <= 0 {
		opts.RenderScale = 2
	}
	if opts.Viewport.MaxScale <= 0 {
		opts.Viewport = DefaultViewportOptions()
	}
	logger := scopedLogger(deps.Logger, "viewer", id)

	doc, err := deps.Decoder.Open(ctx, source.Data)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeDecodeFailure) {
			return nil, err
		}
		return nil, apperrors.NewDecodeFailureError("failed to open document", err)
	}

	cache, err := NewRasterCache(opts.CacheSize)
	if err != nil {
		_ = doc.Close()
		return nil, apperrors.NewInternalError("failed to create raster cache", err)
	}

	flattener := deps.Flattener
	if flattener == nil {
		flattener = NewExportFlattener(logger)
	}
	v := &Viewer{
		id:        id,
		opts:      opts,
		logger:    logger,
		documents: deps.Documents,
		flattener: flattener,
		source:    source,
		doc:       doc,
		cache:     cache,
		fonts:     NewFontSubstituter(deps.Fonts, logger),
		selection: NewSelectionTracker(),
		lastUsed:  time.Now(),
	}

	documentRef := source.Ref.ID
	if documentRef == "" {
		documentRef = "local:" + id
	}
	var repo domain.AnnotationRepository
	if source.Remote {
		repo = deps.Annotations
	}
	v.store = NewAnnotationStore(repo, StoreScope{UserID: opts.UserID, DocumentRef: documentRef, Token: opts.Token}, logger, v.reportUnauthorized)
	v.tools = NewToolController(v.store, logger)

	count := doc.PageCount()
	v.surfaces = make([]*PageSurface, count)
	for i := range v.surfaces {
		v.surfaces[i] = NewPageSurface(i+1, doc, opts.RenderScale, cache, v.fonts, scopedLogger(logger, "page", i+1))
	}
	v.viewport = NewViewport(count, v.pageSize, opts.Viewport)

	// Page 1 sizes the layout of pages not fetched yet.
	if _, err := v.surfaces[0].EnsureSize(ctx); err != nil {
		_ = doc.Close()
		return nil, apperrors.NewDecodeFailureError("failed to read first page", err)
	}

	if err := v.store.Load(ctx); err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeUnauthorized) || errors.Is(err, domain.ErrUnauthorized) {
			_ = doc.Close()
			return nil, apperrors.NewUnauthorizedError("not authorized to load annotations", err)
		}
		logger.Warn("Starting without persisted annotations", "error", err)
	}

	logger.Info("Viewer opened", "name", source.DisplayName(), "pages", count, "remote", source.Remote)
	return v, nil
}

func (v *Viewer) pageSize(n int) (domain.Size, bool) {
	if n < 1 || n > len(v.surfaces) {
		return domain.Size{}, false
	}
	return v.surfaces[n-1].Size()
}

func (v *Viewer) reportUnauthorized(err error) {
	v.logger.Warn("Authorization failed", "error", err)
	if v.opts.OnUnauthorized != nil {
		v.opts.OnUnauthorized(err)
	}
}

// ID returns the session id.
func (v *Viewer) ID() string {
	return v.id
}

// UserID returns the owning user scope.
func (v *Viewer) UserID() string {
	return v.opts.UserID
}

// LastUsed returns when the session last handled a call.
func (v *Viewer) LastUsed() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastUsed
}

// lock takes the session mutex and fails on a closed session. Callers
// unlock.
func (v *Viewer) lock() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return domain.ErrViewerClosed
	}
	v.lastUsed = time.Now()
	return nil
}

func (v *Viewer) surface(n int) (*PageSurface, error) {
	if n < 1 || n > len(v.surfaces) {
		return nil, fmt.Errorf("page %d of %d: %w", n, len(v.surfaces), domain.ErrPageOutOfRange)
	}
	return v.surfaces[n-1], nil
}

// syncVisibility pushes the viewport's visible set into the surfaces.
func (v *Viewer) syncVisibility() {
	visible := make(map[int]bool)
	for _, n := range v.viewport.VisiblePages() {
		visible[n] = true
	}
	for _, s := range v.surfaces {
		s.SetVisible(visible[s.Number()])
	}
}

// Info summarizes the session.
func (v *Viewer) Info() (ViewerInfo, error) {
	if err := v.lock(); err != nil {
		return ViewerInfo{}, err
	}
	defer v.mu.Unlock()
	return v.infoLocked(), nil
}

func (v *Viewer) infoLocked() ViewerInfo {
	return ViewerInfo{
		ID:              v.id,
		Name:            v.source.DisplayName(),
		DocumentID:      v.source.Ref.ID,
		PageCount:       len(v.surfaces),
		RenderScale:     v.opts.RenderScale,
		Remote:          v.source.Remote,
		ExportAvailable: v.exportAvailableLocked(),
		Tool:            v.tools.Tool(),
		Style:           v.tools.Style(),
		Viewport:        v.viewport.State(),
		Annotations:     v.store.Len(),
	}
}

func (v *Viewer) exportAvailableLocked() bool {
	return v.source.Remote && v.opts.Token != "" && v.documents != nil && len(v.source.Data) > 0
}

// UpdateViewport applies a scroll/zoom change and refreshes visibility.
// Zoom only changes transforms; rendered pages are not rasterized again.
func (v *Viewer) UpdateViewport(u ViewportUpdate) (ViewportState, error) {
	if err := v.lock(); err != nil {
		return ViewportState{}, err
	}
	defer v.mu.Unlock()

	if u.ContainerWidth != nil || u.ContainerHeight != nil {
		w, h := v.viewport.Container()
		if u.ContainerWidth != nil {
			w = *u.ContainerWidth
		}
		if u.ContainerHeight != nil {
			h = *u.ContainerHeight
		}
		v.viewport.SetContainer(w, h)
	}
	if u.ScrollTop != nil || u.ScrollLeft != nil {
		top, left := v.viewport.ScrollTop(), v.viewport.ScrollLeft()
		if u.ScrollTop != nil {
			top = *u.ScrollTop
		}
		if u.ScrollLeft != nil {
			left = *u.ScrollLeft
		}
		v.viewport.SetScroll(top, left)
	}

	switch {
	case u.FitWidth:
		v.viewport.FitToWidth()
	case u.ViewScale != nil:
		v.viewport.SetScale(*u.ViewScale)
	case u.Zoom == "in":
		v.viewport.ZoomIn()
	case u.Zoom == "out":
		v.viewport.ZoomOut()
	case u.Zoom != "":
		return ViewportState{}, apperrors.NewValidationError("zoom must be \"in\" or \"out\"")
	}

	v.syncVisibility()
	return v.viewport.State(), nil
}

// JumpToPage scrolls page n to the top.
func (v *Viewer) JumpToPage(n int) (ViewportState, error) {
	if err := v.lock(); err != nil {
		return ViewportState{}, err
	}
	defer v.mu.Unlock()
	if err := v.viewport.JumpToPage(n); err != nil {
		return ViewportState{}, err
	}
	v.syncVisibility()
	return v.viewport.State(), nil
}

// ViewScale returns the current zoom.
func (v *Viewer) ViewScale() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.viewport.Scale()
}

// Page describes page n at the current zoom.
func (v *Viewer) Page(n int) (PageView, error) {
	if err := v.lock(); err != nil {
		return PageView{}, err
	}
	defer v.mu.Unlock()
	s, err := v.surface(n)
	if err != nil {
		return PageView{}, err
	}
	return s.State(v.viewport.Scale()), nil
}

// RasterCalls counts rasterizations issued for page n.
func (v *Viewer) RasterCalls(n int) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, err := v.surface(n)
	if err != nil {
		return 0, err
	}
	return s.RasterCalls(), nil
}

// PageRaster returns the render-scale raster of page n, rendering it when
// it is missing or was evicted. A render superseded while waiting is issued
// again, so callers only see the raster, a failure or ctx's error.
func (v *Viewer) PageRaster(ctx context.Context, n int) (*image.RGBA, error) {
	for {
		s, img, err := v.requestRaster(n)
		if err != nil || img != nil {
			return img, err
		}
		if err := s.Wait(ctx); err != nil {
			return nil, err
		}
		if img, ok := s.Raster(); ok {
			return img, nil
		}
		if state := s.State(v.ViewScale()); state.Status == StatusFailed {
			return nil, apperrors.NewDecodeFailureError("page render failed", errors.New(state.Error))
		}
		v.logger.Debug("Raster request outlived its render, retrying", "page", n)
	}
}

// requestRaster returns page n's cached raster, or its surface with a
// render in flight.
func (v *Viewer) requestRaster(n int) (*PageSurface, *image.RGBA, error) {
	if err := v.lock(); err != nil {
		return nil, nil, err
	}
	defer v.mu.Unlock()
	s, err := v.surface(n)
	if err != nil {
		return nil, nil, err
	}
	if img, ok := s.Raster(); ok {
		return s, img, nil
	}
	if s.Status() != StatusRendering {
		s.Render()
	}
	return s, nil, nil
}

// WaitRendered blocks until every surface's latest render has finished.
func (v *Viewer) WaitRendered(ctx context.Context) error {
	v.mu.Lock()
	surfaces := append([]*PageSurface(nil), v.surfaces...)
	v.mu.Unlock()
	for _, s := range surfaces {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Overlay returns page n's annotations in view pixels.
func (v *Viewer) Overlay(n int) ([]OverlayItem, error) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()
	if _, err := v.surface(n); err != nil {
		return nil, err
	}
	return BuildOverlay(v.store.ListForPage(n), v.viewport.Scale()), nil
}

// OverlayImage rasterizes page n's highlights and ink at render scale.
func (v *Viewer) OverlayImage(ctx context.Context, n int) (*image.RGBA, error) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()
	s, err := v.surface(n)
	if err != nil {
		return nil, err
	}
	size, ok := s.Size()
	if !ok {
		if size, err = s.EnsureSize(ctx); err != nil {
			return nil, err
		}
	}
	return RenderOverlay(v.store.ListForPage(n), size, v.opts.RenderScale), nil
}

// SetTool switches the active tool.
func (v *Viewer) SetTool(t Tool, style domain.AnnotationStyle) error {
	if err := v.lock(); err != nil {
		return err
	}
	defer v.mu.Unlock()
	if err := v.tools.SetTool(t, style); err != nil {
		return err
	}
	if t != ToolCursor {
		v.selection.Clear()
	}
	return nil
}

// Pointer feeds a page-relative pointer sample to the active tool.
func (v *Viewer) Pointer(n int, ev PointerEvent) (ToolOutcome, error) {
	if err := v.lock(); err != nil {
		return ToolOutcome{}, err
	}
	defer v.mu.Unlock()
	if _, err := v.surface(n); err != nil {
		return ToolOutcome{}, err
	}
	return v.tools.Pointer(n, ev, v.viewport.Scale())
}

// CommitDraft saves the open note draft.
func (v *Viewer) CommitDraft(text string) (*domain.Annotation, error) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()
	return v.tools.CommitDraft(text)
}

// CancelDraft discards the open note draft.
func (v *Viewer) CancelDraft() error {
	if err := v.lock(); err != nil {
		return err
	}
	defer v.mu.Unlock()
	v.tools.CancelDraft()
	return nil
}

// Select handles a native selection-end event.
func (v *Viewer) Select(ev SelectionEvent) (*PendingSelection, bool, error) {
	if err := v.lock(); err != nil {
		return nil, false, err
	}
	defer v.mu.Unlock()
	origin := func(page int) domain.Point {
		p := v.viewport.PageClientOrigin(page)
		return domain.Point{X: ev.Container.X + p.X, Y: ev.Container.Y + p.Y}
	}
	pending, ok := v.selection.Observe(ev, v.tools.Tool(), v.viewport.Scale(), origin)
	return pending, ok, nil
}

// CommitSelection creates one highlight per pending fragment. An empty
// color takes the cursor tool's style.
func (v *Viewer) CommitSelection(color string) ([]*domain.Annotation, error) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()

	style := v.tools.Style()
	if color == "" {
		color = style.Color
	}
	drafts, err := v.selection.Commit(color, style.Opacity)
	if err != nil {
		return nil, err
	}
	created := make([]*domain.Annotation, 0, len(drafts))
	for _, d := range drafts {
		a, err := v.store.Add(d)
		if err != nil {
			return created, err
		}
		created = append(created, a)
	}
	return created, nil
}

// ClearSelection drops the pending selection.
func (v *Viewer) ClearSelection() error {
	if err := v.lock(); err != nil {
		return err
	}
	defer v.mu.Unlock()
	v.selection.Clear()
	return nil
}

// Annotations lists records of page n, or every record when n is 0.
func (v *Viewer) Annotations(n int) ([]*domain.Annotation, error) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()
	if n == 0 {
		return v.store.All(), nil
	}
	if _, err := v.surface(n); err != nil {
		return nil, err
	}
	return v.store.ListForPage(n), nil
}

// DeleteAnnotation applies the store's delete rule to id.
func (v *Viewer) DeleteAnnotation(id string) ([]*domain.Annotation, error) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()
	return v.store.Delete(id)
}

// DeleteNote removes a note through its explicit control.
func (v *Viewer) DeleteNote(id string) ([]*domain.Annotation, error) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()
	return v.tools.DeleteNote(id)
}

// Summary lists one entry per logical annotation.
func (v *Viewer) Summary() ([]SummaryEntry, error) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()
	return v.store.ListSummary(), nil
}

// Digest returns the reading notes and the attachment file name.
func (v *Viewer) Digest() (string, string, error) {
	if err := v.lock(); err != nil {
		return "", "", err
	}
	defer v.mu.Unlock()
	name := v.source.DisplayName()
	return DigestFileName(name), v.store.Digest(name), nil
}

// Export flattens every annotation into the original and replaces it at
// the document store.
func (v *Viewer) Export(ctx context.Context) (*ExportResult, error) {
	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()

	if !v.exportAvailableLocked() {
		return nil, apperrors.NewValidationError(domain.ErrExportUnavailable.Error())
	}

	pages := make([]domain.Size, len(v.surfaces))
	for i, s := range v.surfaces {
		size, err := s.EnsureSize(ctx)
		if err != nil {
			return nil, apperrors.NewExportError("failed to read page size", err)
		}
		pages[i] = size
	}
	annotations := v.store.All()
	flattened, err := v.flattener.Render(v.source.Data, PlanExport(pages, annotations))
	if err != nil {
		return nil, err
	}

	result, err := ReplaceOriginal(ctx, v.documents, v.source, flattened, v.opts.Token, v.logger)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			v.reportUnauthorized(err)
		}
		v.logger.Error("Export failed", err, "document", v.source.Ref.ID)
		return nil, err
	}
	result.Pages = len(pages)
	result.Annotations = len(annotations)

	// Later exports replace the new copy, still starting from the
	// unannotated bytes.
	v.source.Ref.ID = result.DocumentID
	v.logger.Info("Export completed", "document", result.DocumentID, "annotations", result.Annotations)
	return result, nil
}

// Close releases the document. In-flight saves are allowed to finish.
func (v *Viewer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	surfaces := v.surfaces
	v.mu.Unlock()

	for _, s := range surfaces {
		s.Close()
	}
	v.cache.Purge()
	v.store.Wait()
	v.fonts.Wait()
	err := v.doc.Close()

	v.logger.Info("Viewer closed")
	if v.opts.OnClose != nil {
		v.opts.OnClose()
	}
	return err
}
