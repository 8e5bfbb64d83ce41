package service

import (
	"fmt"
	"math"

	"pdf-annotator/internal/domain"
)

// ViewportOptions bound the zoom and describe the page column layout.
type ViewportOptions struct {
	MinScale float64
	MaxScale float64
	// ZoomStep is multiplicative.
	ZoomStep float64
	// PageGap is the space in view pixels above, below and beside pages.
	PageGap float64
}

// DefaultViewportOptions returns the standard zoom range and layout.
func DefaultViewportOptions() ViewportOptions {
	return ViewportOptions{MinScale: 0.25, MaxScale: 5.0, ZoomStep: 1.25, PageGap: 16}
}

// PageSizer returns the unit-scale size of page n, or false when it has not
// been fetched yet.
type PageSizer func(page int) (domain.Size, bool)

// ViewportState is the serializable scroll/zoom state.
type ViewportState struct {
	ViewScale       float64 `json:"view_scale"`
	ContainerWidth  float64 `json:"container_width"`
	ContainerHeight float64 `json:"container_height"`
	ScrollTop       float64 `json:"scroll_top"`
	ScrollLeft      float64 `json:"scroll_left"`
	ContentHeight   float64 `json:"content_height"`
	CurrentPage     int     `json:"current_page"`
	VisiblePages    []int   `json:"visible_pages"`
}

// Viewport owns scroll and zoom for one viewer. Pages are laid out in a
// single centered column; pages whose size is unknown borrow the size of
// the first known page.
type Viewport struct {
	opts       ViewportOptions
	pageCount  int
	sizeOf     PageSizer
	fallback   domain.Size
	scale      float64
	width      float64
	height     float64
	scrollTop  float64
	scrollLeft float64
}

// NewViewport creates a viewport at scale 1.
func NewViewport(pageCount int, sizeOf PageSizer, opts ViewportOptions) *Viewport {
	return &Viewport{
		opts:      opts,
		pageCount: pageCount,
		sizeOf:    sizeOf,
		fallback:  defaultPageSize,
		scale:     1,
	}
}

// Scale returns the current view scale.
func (v *Viewport) Scale() float64 {
	return v.scale
}

// PageCount returns the number of pages laid out.
func (v *Viewport) PageCount() int {
	return v.pageCount
}

// SetContainer records the live scroll container geometry.
func (v *Viewport) SetContainer(width, height float64) {
	v.width = math.Max(0, width)
	v.height = math.Max(0, height)
	v.clampScroll()
}

// Container returns the scroll container size.
func (v *Viewport) Container() (float64, float64) {
	return v.width, v.height
}

// SetScroll moves the scroll position, clamped to the content.
func (v *Viewport) SetScroll(top, left float64) {
	v.scrollTop = top
	v.scrollLeft = left
	v.clampScroll()
}

// ScrollTop returns the vertical scroll offset in view pixels.
func (v *Viewport) ScrollTop() float64 {
	return v.scrollTop
}

// ScrollLeft returns the horizontal scroll offset in view pixels.
func (v *Viewport) ScrollLeft() float64 {
	return v.scrollLeft
}

// SetScale clamps s to the zoom range and applies it, keeping the content
// at the top of the container in place. It returns the applied scale.
func (v *Viewport) SetScale(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
		return v.scale
	}
	s = math.Min(v.opts.MaxScale, math.Max(v.opts.MinScale, s))
	if s == v.scale {
		return s
	}

	anchor := v.pageAt(v.scrollTop)
	top := v.PageTop(anchor)
	h := v.pageSize(anchor).Height * v.scale
	frac := 0.0
	if h > 0 {
		frac = (v.scrollTop - top) / h
	}

	v.scrollLeft *= s / v.scale
	v.scale = s
	v.scrollTop = v.PageTop(anchor) + frac*v.pageSize(anchor).Height*v.scale
	v.clampScroll()
	return s
}

// ZoomIn multiplies the scale by one step.
func (v *Viewport) ZoomIn() float64 {
	return v.SetScale(v.scale * v.opts.ZoomStep)
}

// ZoomOut divides the scale by one step.
func (v *Viewport) ZoomOut() float64 {
	return v.SetScale(v.scale / v.opts.ZoomStep)
}

// FitToWidth picks the scale at which the widest known page fills the
// container width minus the side gaps.
func (v *Viewport) FitToWidth() float64 {
	widest := 0.0
	for n := 1; n <= v.pageCount; n++ {
		if size, ok := v.sizeOf(n); ok && size.Width > widest {
			widest = size.Width
		}
	}
	if widest == 0 {
		widest = v.pageSize(1).Width
	}
	avail := v.width - 2*v.opts.PageGap
	if widest <= 0 || avail <= 0 {
		return v.scale
	}
	return v.SetScale(avail / widest)
}

// JumpToPage scrolls so page n starts at the top of the container.
func (v *Viewport) JumpToPage(n int) error {
	if n < 1 || n > v.pageCount {
		return fmt.Errorf("page %d of %d: %w", n, v.pageCount, domain.ErrPageOutOfRange)
	}
	v.scrollTop = v.PageTop(n) - v.opts.PageGap
	v.clampScroll()
	return nil
}

// PageTop returns the top edge of page n in content pixels.
func (v *Viewport) PageTop(n int) float64 {
	top := v.opts.PageGap
	for p := 1; p < n && p <= v.pageCount; p++ {
		top += v.pageSize(p).Height*v.scale + v.opts.PageGap
	}
	return top
}

// ContentHeight returns the height of the full page column.
func (v *Viewport) ContentHeight() float64 {
	return v.PageTop(v.pageCount+1)
}

// PageClientOrigin returns the top-left corner of page n relative to the
// scroll container's client origin.
func (v *Viewport) PageClientOrigin(n int) domain.Point {
	w := v.pageSize(n).Width * v.scale
	left := math.Max(v.opts.PageGap, (v.width-w)/2)
	return domain.Point{X: left - v.scrollLeft, Y: v.PageTop(n) - v.scrollTop}
}

// VisiblePages returns the pages intersecting the container, extended by
// one container height above and below.
func (v *Viewport) VisiblePages() []int {
	overscan := v.height
	lo := v.scrollTop - overscan
	hi := v.scrollTop + v.height + overscan

	var pages []int
	top := v.opts.PageGap
	for n := 1; n <= v.pageCount; n++ {
		bottom := top + v.pageSize(n).Height*v.scale
		if bottom >= lo && top <= hi {
			pages = append(pages, n)
		}
		if top > hi {
			break
		}
		top = bottom + v.opts.PageGap
	}
	return pages
}

// CurrentPage is the page under the container's vertical midpoint.
func (v *Viewport) CurrentPage() int {
	return v.pageAt(v.scrollTop + v.height/2)
}

// State snapshots the viewport.
func (v *Viewport) State() ViewportState {
	return ViewportState{
		ViewScale:       v.scale,
		ContainerWidth:  v.width,
		ContainerHeight: v.height,
		ScrollTop:       v.scrollTop,
		ScrollLeft:      v.scrollLeft,
		ContentHeight:   v.ContentHeight(),
		CurrentPage:     v.CurrentPage(),
		VisiblePages:    v.VisiblePages(),
	}
}

func (v *Viewport) pageAt(y float64) int {
	top := v.opts.PageGap
	for n := 1; n <= v.pageCount; n++ {
		bottom := top + v.pageSize(n).Height*v.scale
		if y < bottom+v.opts.PageGap {
			return n
		}
		top = bottom + v.opts.PageGap
	}
	if v.pageCount == 0 {
		return 1
	}
	return v.pageCount
}

func (v *Viewport) pageSize(n int) domain.Size {
	if size, ok := v.sizeOf(n); ok {
		return size
	}
	if size, ok := v.sizeOf(1); ok {
		return size
	}
	return v.fallback
}

func (v *Viewport) clampScroll() {
	maxTop := math.Max(0, v.ContentHeight()-v.height)
	v.scrollTop = math.Min(maxTop, math.Max(0, v.scrollTop))
	v.scrollLeft = math.Max(0, v.scrollLeft)
}
