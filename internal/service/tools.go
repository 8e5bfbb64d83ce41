package service

import (
	"fmt"
	"math"
	"strings"

	"pdf-annotator/internal/domain"
)

// Tool is the active page interaction mode.
type Tool string

const (
	ToolCursor Tool = "cursor"
	ToolText   Tool = "text"
	ToolInk    Tool = "ink"
	ToolEraser Tool = "eraser"
)

// ParseTool validates a tool name.
func ParseTool(name string) (Tool, error) {
	switch t := Tool(strings.ToLower(strings.TrimSpace(name))); t {
	case ToolCursor, ToolText, ToolInk, ToolEraser:
		return t, nil
	}
	return "", &domain.ValidationError{Field: "tool", Message: fmt.Sprintf("unknown tool %q", name)}
}

// Tool defaults.
const (
	DefaultInkColor   = "#e53935"
	DefaultInkWidth   = 2.0
	DefaultNoteColor  = "#ffb300"
	eraserTolerancePx = 6.0
)

// PointerPhase is the stage of a pointer gesture.
type PointerPhase string

const (
	PointerDown PointerPhase = "down"
	PointerMove PointerPhase = "move"
	PointerUp   PointerPhase = "up"
)

// PointerEvent is a pointer sample in page-relative view pixels.
type PointerEvent struct {
	Phase PointerPhase `json:"phase"`
	X     float64      `json:"x"`
	Y     float64      `json:"y"`
}

// NoteDraft is an open, unsaved note.
type NoteDraft struct {
	Page  int          `json:"page"`
	Point domain.Point `json:"point"`
}

// ToolOutcome reports what a pointer event did. Passthrough means the page
// did not intercept the event; Capturing is set while an ink stroke is
// being recorded.
type ToolOutcome struct {
	Passthrough bool                 `json:"passthrough,omitempty"`
	Capturing   bool                 `json:"capturing,omitempty"`
	Draft       *NoteDraft           `json:"draft,omitempty"`
	Created     *domain.Annotation   `json:"created,omitempty"`
	Deleted     []*domain.Annotation `json:"deleted,omitempty"`
}

type inkStroke struct {
	page   int
	points []domain.Point
}

// ToolController runs the text, ink, eraser and cursor state machines.
// Pointer coordinates are divided by the view scale before anything is
// stored.
type ToolController struct {
	store  *AnnotationStore
	logger domain.Logger

	tool   Tool
	style  domain.AnnotationStyle
	draft  *NoteDraft
	stroke *inkStroke
}

// NewToolController starts in cursor mode.
func NewToolController(store *AnnotationStore, logger domain.Logger) *ToolController {
	return &ToolController{
		store:  store,
		logger: logger,
		tool:   ToolCursor,
		style:  defaultStyle(ToolCursor),
	}
}

func defaultStyle(t Tool) domain.AnnotationStyle {
	switch t {
	case ToolInk:
		return domain.AnnotationStyle{Color: DefaultInkColor, Opacity: 1, StrokeWidth: DefaultInkWidth}
	case ToolText:
		return domain.AnnotationStyle{Color: DefaultNoteColor, Opacity: 1}
	default:
		return domain.AnnotationStyle{Color: DefaultHighlightColor, Opacity: DefaultHighlightOpacity}
	}
}

// Tool returns the active tool.
func (c *ToolController) Tool() Tool {
	return c.tool
}

// Style returns the active tool's style.
func (c *ToolController) Style() domain.AnnotationStyle {
	return c.style
}

// SetTool switches tools. Zero style fields take the tool's defaults.
// Switching abandons an open draft and any stroke in progress.
func (c *ToolController) SetTool(t Tool, style domain.AnnotationStyle) error {
	if style.Opacity < 0 || style.Opacity > 1 {
		return &domain.ValidationError{Field: "opacity", Message: "must be between 0 and 1"}
	}
	if style.StrokeWidth < 0 {
		return &domain.ValidationError{Field: "width", Message: "must not be negative"}
	}
	def := defaultStyle(t)
	if style.Color == "" {
		style.Color = def.Color
	}
	if style.Opacity == 0 {
		style.Opacity = def.Opacity
	}
	if style.StrokeWidth == 0 {
		style.StrokeWidth = def.StrokeWidth
	}
	if t != c.tool {
		c.draft = nil
		c.stroke = nil
	}
	c.tool = t
	c.style = style
	return nil
}

// Draft returns the open note draft.
func (c *ToolController) Draft() (*NoteDraft, bool) {
	return c.draft, c.draft != nil
}

// Pointer feeds one pointer sample on page. viewScale converts the
// page-relative pixel position to unit scale.
func (c *ToolController) Pointer(page int, ev PointerEvent, viewScale float64) (ToolOutcome, error) {
	if viewScale <= 0 {
		return ToolOutcome{}, &domain.ValidationError{Field: "view_scale", Message: "must be positive"}
	}
	pt := domain.Point{X: ev.X / viewScale, Y: ev.Y / viewScale}

	switch c.tool {
	case ToolText:
		if ev.Phase != PointerDown {
			return ToolOutcome{}, nil
		}
		c.draft = &NoteDraft{Page: page, Point: pt}
		return ToolOutcome{Draft: c.draft}, nil

	case ToolInk:
		return c.ink(page, ev.Phase, pt)

	case ToolEraser:
		if ev.Phase != PointerDown {
			return ToolOutcome{}, nil
		}
		removed, err := c.erase(page, pt, eraserTolerancePx/viewScale)
		if err != nil {
			return ToolOutcome{}, err
		}
		return ToolOutcome{Deleted: removed}, nil
	}
	return ToolOutcome{Passthrough: true}, nil
}

func (c *ToolController) ink(page int, phase PointerPhase, pt domain.Point) (ToolOutcome, error) {
	switch phase {
	case PointerDown:
		c.stroke = &inkStroke{page: page, points: []domain.Point{pt}}
		return ToolOutcome{Capturing: true}, nil

	case PointerMove:
		if c.stroke == nil || c.stroke.page != page {
			return ToolOutcome{}, nil
		}
		c.stroke.appendPoint(pt)
		return ToolOutcome{Capturing: true}, nil

	case PointerUp:
		stroke := c.stroke
		c.stroke = nil
		if stroke == nil {
			return ToolOutcome{}, nil
		}
		if stroke.page == page {
			stroke.appendPoint(pt)
		}
		if len(stroke.points) < 2 {
			return ToolOutcome{}, nil
		}
		created, err := c.store.Add(&domain.Annotation{
			Page:        stroke.page,
			Kind:        domain.KindInk,
			Points:      stroke.points,
			Color:       c.style.Color,
			Opacity:     c.style.Opacity,
			StrokeWidth: c.style.StrokeWidth,
		})
		if err != nil {
			return ToolOutcome{}, err
		}
		return ToolOutcome{Created: created}, nil
	}
	return ToolOutcome{}, &domain.ValidationError{Field: "phase", Message: fmt.Sprintf("unknown phase %q", phase)}
}

func (s *inkStroke) appendPoint(p domain.Point) {
	if last := s.points[len(s.points)-1]; last == p {
		return
	}
	s.points = append(s.points, p)
}

// erase deletes the topmost ink stroke or highlight under pt. Notes are
// skipped; they have their own delete control.
func (c *ToolController) erase(page int, pt domain.Point, tolerance float64) ([]*domain.Annotation, error) {
	records := c.store.ListForPage(page)
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if !hitTest(rec, pt, tolerance) {
			continue
		}
		c.logger.Debug("Eraser hit", "page", page, "kind", rec.Kind, "id", rec.ID)
		return c.store.Delete(rec.LocalKey)
	}
	return nil, nil
}

func hitTest(a *domain.Annotation, pt domain.Point, tolerance float64) bool {
	switch a.Kind {
	case domain.KindHighlight:
		for _, r := range a.Rects {
			if r.Contains(pt) {
				return true
			}
		}
	case domain.KindInk:
		reach := math.Max(a.StrokeWidth/2, tolerance)
		for i := 1; i < len(a.Points); i++ {
			if segmentDistance(pt, a.Points[i-1], a.Points[i]) <= reach {
				return true
			}
		}
	}
	return false
}

func segmentDistance(p, a, b domain.Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

// CommitDraft saves the open draft as a note. Blank text is rejected and
// the draft stays open.
func (c *ToolController) CommitDraft(text string) (*domain.Annotation, error) {
	if c.draft == nil {
		return nil, domain.ErrNoDraft
	}
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "text", Message: "note text is required"}
	}
	pt := c.draft.Point
	created, err := c.store.Add(&domain.Annotation{
		Page:    c.draft.Page,
		Kind:    domain.KindNote,
		Point:   &pt,
		Text:    text,
		Color:   c.style.Color,
		Opacity: c.style.Opacity,
	})
	if err != nil {
		return nil, err
	}
	c.draft = nil
	return created, nil
}

// CancelDraft discards the open draft.
func (c *ToolController) CancelDraft() {
	c.draft = nil
}

// DeleteNote removes a note through its explicit control.
func (c *ToolController) DeleteNote(id string) ([]*domain.Annotation, error) {
	rec, ok := c.store.Get(id)
	if !ok {
		return nil, domain.ErrAnnotationNotFound
	}
	if rec.Kind != domain.KindNote {
		return nil, &domain.ValidationError{Field: "id", Message: "annotation is not a note"}
	}
	return c.store.Delete(id)
}
