package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// AnnotationKind identifies the markup type of an Annotation.
type AnnotationKind string

const (
	KindHighlight AnnotationKind = "highlight"
	KindNote      AnnotationKind = "note"
	KindInk       AnnotationKind = "ink"
)

// TentativeIDPrefix marks identifiers generated locally before the
// persistence collaborator confirmed the record.
const TentativeIDPrefix = "tmp-"

// Annotation is the persisted unit of markup. All geometry is unit scale,
// origin top-left of the page.
type Annotation struct {
	ID         string
	LocalKey   string
	DocumentID string
	UserID     string
	Page       int
	Kind       AnnotationKind

	// Rects holds the highlight fragment (one per record).
	Rects []Rect
	// Point anchors a note.
	Point *Point
	// Points is the ink polyline.
	Points []Point

	Text        string
	Color       string
	Opacity     float64
	StrokeWidth float64
	CreatedAt   time.Time
}

// IsTentative reports whether the record still carries a local id.
func (a *Annotation) IsTentative() bool {
	return strings.HasPrefix(a.ID, TentativeIDPrefix)
}

// Clone returns a deep copy.
func (a *Annotation) Clone() *Annotation {
	if a == nil {
		return nil
	}
	c := *a
	c.Rects = append([]Rect(nil), a.Rects...)
	c.Points = append([]Point(nil), a.Points...)
	if a.Point != nil {
		p := *a.Point
		c.Point = &p
	}
	return &c
}

// Bounds returns the unit-scale bounding box of the geometry.
func (a *Annotation) Bounds() Rect {
	switch a.Kind {
	case KindHighlight:
		if len(a.Rects) == 0 {
			return Rect{}
		}
		b := a.Rects[0]
		for _, r := range a.Rects[1:] {
			b = b.Union(r)
		}
		return b
	case KindNote:
		if a.Point == nil {
			return Rect{}
		}
		return Rect{X: a.Point.X, Y: a.Point.Y}
	case KindInk:
		if len(a.Points) == 0 {
			return Rect{}
		}
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, p := range a.Points {
			minX, minY = math.Min(minX, p.X), math.Min(minY, p.Y)
			maxX, maxY = math.Max(maxX, p.X), math.Max(maxY, p.Y)
		}
		return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	}
	return Rect{}
}

// FragmentKey groups records that belong to one logical annotation:
// same page, same kind and identical text. Records without text have no
// fragment key.
func (a *Annotation) FragmentKey() (string, bool) {
	if a.Kind == KindInk || a.Text == "" {
		return "", false
	}
	return fmt.Sprintf("%d\x00%s\x00%s", a.Page, a.Kind, a.Text), true
}

// Validate checks the geometry invariants of the record.
func (a *Annotation) Validate() error {
	if a.Page < 1 {
		return &ValidationError{Field: "page", Message: "must be 1 or greater"}
	}
	switch a.Kind {
	case KindHighlight:
		if len(a.Rects) == 0 {
			return &ValidationError{Field: "geometry", Message: "highlight needs at least one rectangle"}
		}
		for _, r := range a.Rects {
			if r.Empty() {
				return &ValidationError{Field: "geometry", Message: "highlight rectangle has no area"}
			}
		}
	case KindNote:
		if a.Point == nil {
			return &ValidationError{Field: "geometry", Message: "note needs an anchor point"}
		}
		if strings.TrimSpace(a.Text) == "" {
			return &ValidationError{Field: "text", Message: "note text is required"}
		}
	case KindInk:
		if len(a.Points) < 2 {
			return &ValidationError{Field: "geometry", Message: "ink needs at least two points"}
		}
		if a.StrokeWidth <= 0 {
			return &ValidationError{Field: "stroke_width", Message: "must be positive"}
		}
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", a.Kind)}
	}
	if a.Opacity < 0 || a.Opacity > 1 {
		return &ValidationError{Field: "opacity", Message: "must be between 0 and 1"}
	}
	return nil
}

// annotationRecord is the wire shape every persistence collaborator must
// round-trip.
type annotationRecord struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"document_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Page        int            `json:"page"`
	Kind        AnnotationKind `json:"kind"`
	Geometry    [][]float64    `json:"geometry"`
	Text        string         `json:"text,omitempty"`
	Color       string         `json:"color"`
	Opacity     float64        `json:"opacity"`
	StrokeWidth float64        `json:"stroke_width,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// GeometryArray flattens the geometry into the record's array form:
// [[x,y,w,h],...] for highlights, [[x,y]] for notes, [[x,y],...] for ink.
func (a *Annotation) GeometryArray() [][]float64 {
	switch a.Kind {
	case KindHighlight:
		out := make([][]float64, 0, len(a.Rects))
		for _, r := range a.Rects {
			out = append(out, []float64{r.X, r.Y, r.Width, r.Height})
		}
		return out
	case KindNote:
		if a.Point == nil {
			return [][]float64{}
		}
		return [][]float64{{a.Point.X, a.Point.Y}}
	default:
		out := make([][]float64, 0, len(a.Points))
		for _, p := range a.Points {
			out = append(out, []float64{p.X, p.Y})
		}
		return out
	}
}

// SetGeometryArray is the inverse of GeometryArray.
func (a *Annotation) SetGeometryArray(geometry [][]float64) error {
	a.Rects, a.Point, a.Points = nil, nil, nil
	switch a.Kind {
	case KindHighlight:
		for _, g := range geometry {
			if len(g) != 4 {
				return fmt.Errorf("highlight geometry entry needs 4 values, got %d", len(g))
			}
			a.Rects = append(a.Rects, Rect{X: g[0], Y: g[1], Width: g[2], Height: g[3]})
		}
	case KindNote:
		if len(geometry) != 1 || len(geometry[0]) != 2 {
			return fmt.Errorf("note geometry needs exactly one point")
		}
		a.Point = &Point{X: geometry[0][0], Y: geometry[0][1]}
	case KindInk:
		for _, g := range geometry {
			if len(g) != 2 {
				return fmt.Errorf("ink geometry entry needs 2 values, got %d", len(g))
			}
			a.Points = append(a.Points, Point{X: g[0], Y: g[1]})
		}
	default:
		return fmt.Errorf("unknown annotation kind %q", a.Kind)
	}
	return nil
}

// MarshalJSON encodes the record shape.
func (a Annotation) MarshalJSON() ([]byte, error) {
	return json.Marshal(annotationRecord{
		ID:          a.ID,
		DocumentID:  a.DocumentID,
		UserID:      a.UserID,
		Page:        a.Page,
		Kind:        a.Kind,
		Geometry:    a.GeometryArray(),
		Text:        a.Text,
		Color:       a.Color,
		Opacity:     a.Opacity,
		StrokeWidth: a.StrokeWidth,
		CreatedAt:   a.CreatedAt,
	})
}

// UnmarshalJSON decodes the record shape.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var rec annotationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*a = Annotation{
		ID:          rec.ID,
		LocalKey:    rec.ID,
		DocumentID:  rec.DocumentID,
		UserID:      rec.UserID,
		Page:        rec.Page,
		Kind:        rec.Kind,
		Text:        rec.Text,
		Color:       rec.Color,
		Opacity:     rec.Opacity,
		StrokeWidth: rec.StrokeWidth,
		CreatedAt:   rec.CreatedAt,
	}
	return a.SetGeometryArray(rec.Geometry)
}

// AnnotationStyle carries the tool-specific drawing parameters.
type AnnotationStyle struct {
	Color       string  `json:"color"`
	Opacity     float64 `json:"opacity"`
	StrokeWidth float64 `json:"stroke_width"`
}
