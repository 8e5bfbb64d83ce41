package service

import (
	"image"
	"image/color"
	"math"

	"pdf-annotator/internal/domain"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/vector"
)

// NoteMarkerSize is the on-screen edge of a note marker in view pixels at
// every zoom level.
const NoteMarkerSize = 18.0

// OverlayItem is one annotation converted to page-relative view pixels.
// Key is the render identity and survives id reconciliation.
type OverlayItem struct {
	Key         string                `json:"key"`
	ID          string                `json:"id"`
	Kind        domain.AnnotationKind `json:"kind"`
	Rects       []domain.Rect         `json:"rects,omitempty"`
	Anchor      *domain.Point         `json:"anchor,omitempty"`
	MarkerSize  float64               `json:"marker_size,omitempty"`
	Points      []domain.Point        `json:"points,omitempty"`
	StrokeWidth float64               `json:"stroke_width,omitempty"`
	Text        string                `json:"text,omitempty"`
	Color       string                `json:"color"`
	Opacity     float64               `json:"opacity"`
}

// BuildOverlay converts page annotations to view pixels at viewScale. Order
// follows the input so stacking is stable.
func BuildOverlay(annotations []*domain.Annotation, viewScale float64) []OverlayItem {
	scales := domain.Scales{View: viewScale}
	items := make([]OverlayItem, 0, len(annotations))
	for _, a := range annotations {
		item := OverlayItem{
			Key:     a.LocalKey,
			ID:      a.ID,
			Kind:    a.Kind,
			Text:    a.Text,
			Color:   a.Color,
			Opacity: a.Opacity,
		}
		switch a.Kind {
		case domain.KindHighlight:
			for _, r := range a.Rects {
				item.Rects = append(item.Rects, scales.RectToView(r))
			}
		case domain.KindNote:
			if a.Point != nil {
				p := scales.UnitToView(*a.Point)
				item.Anchor = &p
			}
			item.MarkerSize = NoteMarkerSize
		case domain.KindInk:
			for _, p := range a.Points {
				item.Points = append(item.Points, scales.UnitToView(p))
			}
			item.StrokeWidth = a.StrokeWidth * viewScale
		}
		items = append(items, item)
	}
	return items
}

// RenderOverlay rasterizes highlights and ink strokes at renderScale on a
// transparent image matching the page raster. Note markers keep a fixed
// on-screen size, so they are left to the client.
func RenderOverlay(annotations []*domain.Annotation, page domain.Size, renderScale float64) *image.RGBA {
	w := int(math.Ceil(page.Width * renderScale))
	h := int(math.Ceil(page.Height * renderScale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	z := vector.NewRasterizer(w, h)

	for _, a := range annotations {
		src := image.NewUniform(overlayColor(a.Color, a.Opacity))
		switch a.Kind {
		case domain.KindHighlight:
			for _, r := range a.Rects {
				r = r.Scale(renderScale)
				z.Reset(w, h)
				z.MoveTo(float32(r.X), float32(r.Y))
				z.LineTo(float32(r.Right()), float32(r.Y))
				z.LineTo(float32(r.Right()), float32(r.Bottom()))
				z.LineTo(float32(r.X), float32(r.Bottom()))
				z.ClosePath()
				z.Draw(dst, dst.Bounds(), src, image.Point{})
			}
		case domain.KindInk:
			// Segments and joins share one pass so overlaps do not stack alpha.
			z.Reset(w, h)
			half := a.StrokeWidth * renderScale / 2
			for i := 1; i < len(a.Points); i++ {
				strokeSegment(z, a.Points[i-1].Scale(renderScale), a.Points[i].Scale(renderScale), half)
			}
			for _, p := range a.Points {
				strokeCap(z, p.Scale(renderScale), half)
			}
			z.Draw(dst, dst.Bounds(), src, image.Point{})
		}
	}
	return dst
}

// strokeSegment adds the quad covering a line of half-width half.
func strokeSegment(z *vector.Rasterizer, a, b domain.Point, half float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}
	nx, ny := -dy/l*half, dx/l*half
	z.MoveTo(float32(a.X+nx), float32(a.Y+ny))
	z.LineTo(float32(b.X+nx), float32(b.Y+ny))
	z.LineTo(float32(b.X-nx), float32(b.Y-ny))
	z.LineTo(float32(a.X-nx), float32(a.Y-ny))
	z.ClosePath()
}

// strokeCap adds an octagon approximating a round join, wound the same way
// as the segment quads.
func strokeCap(z *vector.Rasterizer, c domain.Point, r float64) {
	const sides = 8
	for i := 0; i <= sides; i++ {
		theta := -float64(i) * 2 * math.Pi / sides
		x, y := float32(c.X+r*math.Cos(theta)), float32(c.Y+r*math.Sin(theta))
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
}

func overlayColor(hex string, opacity float64) color.NRGBA {
	c, err := colorful.Hex(hex)
	if err != nil {
		c, _ = colorful.Hex(DefaultHighlightColor)
	}
	r, g, b := c.RGB255()
	if opacity <= 0 || opacity > 1 {
		opacity = 1
	}
	return color.NRGBA{R: r, G: g, B: b, A: uint8(math.Round(opacity * 255))}
}
