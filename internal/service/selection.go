package service

import (
	"strings"

	"pdf-annotator/internal/domain"
)

// Popup geometry in view pixels.
const (
	popupHeight = 40.0
	popupMargin = 8.0
)

// DefaultHighlightOpacity is used when a highlight is committed without an
// explicit opacity.
const DefaultHighlightOpacity = 0.35

// DefaultHighlightColor is the fill of highlights committed without a color.
const DefaultHighlightColor = "#ffeb3b"

// ElementKind classifies an entry of a selection's ancestry chain.
type ElementKind string

const (
	ElementPage    ElementKind = "page"
	ElementControl ElementKind = "control"
	ElementOther   ElementKind = "other"
)

// Element is one ancestor of the selection anchor.
type Element struct {
	Kind ElementKind `json:"kind"`
	Page int         `json:"page,omitempty"`
}

// SelectionEvent is a native selection-end notification. All rectangles are
// in client pixels.
type SelectionEvent struct {
	Collapsed bool `json:"collapsed"`
	// Ancestry lists the anchor's ancestors, innermost first.
	Ancestry    []Element     `json:"ancestry"`
	Text        string        `json:"text"`
	ClientRects []domain.Rect `json:"client_rects"`
	// Container is the scroll container's client rectangle at event time.
	Container domain.Rect `json:"container"`
	// PageOrigin is the page element's client top-left when the client
	// knows it; otherwise it is derived from the viewport layout.
	PageOrigin *domain.Point `json:"page_origin,omitempty"`
}

// PopupPlacement says which side of the selection the affordance sits on.
type PopupPlacement string

const (
	PopupBelow PopupPlacement = "below"
	PopupAbove PopupPlacement = "above"
)

// Popup is the create-highlight affordance anchor in client pixels.
type Popup struct {
	X         float64        `json:"x"`
	Y         float64        `json:"y"`
	Placement PopupPlacement `json:"placement"`
}

// PendingSelection is a normalized selection awaiting commit.
type PendingSelection struct {
	Page  int           `json:"page"`
	Text  string        `json:"text"`
	Rects []domain.Rect `json:"rects"`
	Popup Popup         `json:"popup"`
}

// SelectionTracker turns native selections into unit-scale highlight
// fragments.
type SelectionTracker struct {
	pending *PendingSelection
}

// NewSelectionTracker creates an empty tracker.
func NewSelectionTracker() *SelectionTracker {
	return &SelectionTracker{}
}

// Observe handles a selection-end event. pageOrigin maps a page number to
// its client-space origin for events that carry none. It returns the new
// pending selection, or false when the event is ignored.
func (t *SelectionTracker) Observe(ev SelectionEvent, tool Tool, viewScale float64, pageOrigin func(page int) domain.Point) (*PendingSelection, bool) {
	if tool != ToolCursor || ev.Collapsed {
		t.pending = nil
		return nil, false
	}
	page := 0
	for _, el := range ev.Ancestry {
		if el.Kind == ElementControl {
			// Clicking the popup itself lands here; keep what is pending.
			return nil, false
		}
		if el.Kind == ElementPage && page == 0 {
			page = el.Page
		}
	}
	if page < 1 || viewScale <= 0 {
		return nil, false
	}

	origin := pageOrigin(page)
	if ev.PageOrigin != nil {
		origin = *ev.PageOrigin
	}
	scales := domain.Scales{View: viewScale}

	var bounds domain.Rect
	rects := make([]domain.Rect, 0, len(ev.ClientRects))
	for _, r := range ev.ClientRects {
		if r.Empty() {
			continue
		}
		if len(rects) == 0 {
			bounds = r
		} else {
			bounds = bounds.Union(r)
		}
		r.X -= origin.X
		r.Y -= origin.Y
		rects = append(rects, scales.ViewToUnitRect(r))
	}
	if len(rects) == 0 || strings.TrimSpace(ev.Text) == "" {
		return nil, false
	}

	t.pending = &PendingSelection{
		Page:  page,
		Text:  ev.Text,
		Rects: rects,
		Popup: placePopup(bounds, ev.Container),
	}
	return t.pending, true
}

// placePopup puts the affordance below the selection unless the live
// container has less than one popup of room under it.
func placePopup(selection, container domain.Rect) Popup {
	p := Popup{X: selection.X + selection.Width/2}
	spaceBelow := container.Bottom() - selection.Bottom()
	if spaceBelow < popupHeight+popupMargin {
		p.Placement = PopupAbove
		p.Y = selection.Y - popupMargin - popupHeight
		return p
	}
	p.Placement = PopupBelow
	p.Y = selection.Bottom() + popupMargin
	return p
}

// Pending returns the selection awaiting commit.
func (t *SelectionTracker) Pending() (*PendingSelection, bool) {
	return t.pending, t.pending != nil
}

// Commit builds one highlight per fragment, all sharing text and color,
// and clears the pending selection.
func (t *SelectionTracker) Commit(color string, opacity float64) ([]*domain.Annotation, error) {
	if t.pending == nil {
		return nil, domain.ErrNoSelection
	}
	if color == "" {
		color = DefaultHighlightColor
	}
	if opacity <= 0 {
		opacity = DefaultHighlightOpacity
	}

	out := make([]*domain.Annotation, 0, len(t.pending.Rects))
	for _, r := range t.pending.Rects {
		out = append(out, &domain.Annotation{
			Page:    t.pending.Page,
			Kind:    domain.KindHighlight,
			Rects:   []domain.Rect{r},
			Text:    t.pending.Text,
			Color:   color,
			Opacity: opacity,
		})
	}
	t.pending = nil
	return out, nil
}

// Clear drops the pending selection.
func (t *SelectionTracker) Clear() {
	t.pending = nil
}
