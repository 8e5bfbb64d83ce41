package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"pdf-annotator/internal/domain"
	apperrors "pdf-annotator/pkg/errors"

	"codeberg.org/go-pdf/fpdf"
	"codeberg.org/go-pdf/fpdf/contrib/gofpdi"
	"github.com/lucasb-eyer/go-colorful"
)

// NoteFootprint is the edge of the square drawn for a note, in unit points.
const NoteFootprint = 18.0

// DrawOpKind is a primitive in an export plan.
type DrawOpKind string

const (
	DrawFillRect DrawOpKind = "fill_rect"
	DrawLine     DrawOpKind = "line"
)

// DrawOp is one primitive in native page coordinates (points, origin
// bottom-left).
type DrawOp struct {
	Page      int          `json:"page"`
	Kind      DrawOpKind   `json:"kind"`
	Rect      domain.Rect  `json:"rect"`
	From      domain.Point `json:"from"`
	To        domain.Point `json:"to"`
	Color     string       `json:"color"`
	Opacity   float64      `json:"opacity"`
	LineWidth float64      `json:"line_width,omitempty"`
}

// ExportPlan lists the pages of the original and what to draw on them.
type ExportPlan struct {
	Pages []domain.Size
	Ops   []DrawOp
}

// ExportResult describes a completed replace-original export.
type ExportResult struct {
	DocumentID      string `json:"document_id"`
	Name            string `json:"name"`
	Pages           int    `json:"pages"`
	Annotations     int    `json:"annotations"`
	OriginalDeleted bool   `json:"original_deleted"`
}

// PlanExport flips every annotation into native coordinates. Stored
// geometry is unit scale, so no zoom or render scale enters here.
func PlanExport(pages []domain.Size, annotations []*domain.Annotation) ExportPlan {
	plan := ExportPlan{Pages: pages}
	for _, a := range annotations {
		if a.Page < 1 || a.Page > len(pages) {
			continue
		}
		h := pages[a.Page-1].Height
		switch a.Kind {
		case domain.KindHighlight:
			opacity := a.Opacity
			if opacity <= 0 {
				opacity = DefaultHighlightOpacity
			}
			for _, r := range a.Rects {
				plan.Ops = append(plan.Ops, DrawOp{
					Page:    a.Page,
					Kind:    DrawFillRect,
					Rect:    domain.Rect{X: r.X, Y: h - r.Y - r.Height, Width: r.Width, Height: r.Height},
					Color:   a.Color,
					Opacity: opacity,
				})
			}
		case domain.KindNote:
			if a.Point == nil {
				continue
			}
			plan.Ops = append(plan.Ops, DrawOp{
				Page:    a.Page,
				Kind:    DrawFillRect,
				Rect:    domain.Rect{X: a.Point.X, Y: h - a.Point.Y - NoteFootprint, Width: NoteFootprint, Height: NoteFootprint},
				Color:   a.Color,
				Opacity: nonZeroOpacity(a.Opacity),
			})
		case domain.KindInk:
			for i := 1; i < len(a.Points); i++ {
				p0, p1 := a.Points[i-1], a.Points[i]
				plan.Ops = append(plan.Ops, DrawOp{
					Page:      a.Page,
					Kind:      DrawLine,
					From:      domain.Point{X: p0.X, Y: h - p0.Y},
					To:        domain.Point{X: p1.X, Y: h - p1.Y},
					Color:     a.Color,
					Opacity:   nonZeroOpacity(a.Opacity),
					LineWidth: a.StrokeWidth,
				})
			}
		}
	}
	return plan
}

func nonZeroOpacity(o float64) float64 {
	if o <= 0 || o > 1 {
		return 1
	}
	return o
}

// ExportFlattener redraws annotations onto a copy of the original PDF.
type ExportFlattener struct {
	logger domain.Logger
}

// NewExportFlattener creates a flattener.
func NewExportFlattener(logger domain.Logger) *ExportFlattener {
	return &ExportFlattener{logger: logger}
}

// Render imports every page of original and paints plan over it. Drawing
// goes through raw operators so plan coordinates are used untouched.
func (f *ExportFlattener) Render(original []byte, plan ExportPlan) (out []byte, err error) {
	if len(original) == 0 || len(plan.Pages) == 0 {
		return nil, apperrors.NewExportError("nothing to export", domain.ErrInvalidFile)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = apperrors.NewExportError("failed to import original pages", fmt.Errorf("%v", rec))
		}
	}()

	byPage := make(map[int][]DrawOp)
	for _, op := range plan.Ops {
		byPage[op.Page] = append(byPage[op.Page], op)
	}

	box := templateBox(original)
	pdf := fpdf.New("P", "pt", "", "")
	pdf.SetAutoPageBreak(false, 0)
	importer := gofpdi.NewImporter()
	rs := io.ReadSeeker(bytes.NewReader(original))

	for i, size := range plan.Pages {
		n := i + 1
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: size.Width, Ht: size.Height})
		tpl := importer.ImportPageFromStream(pdf, &rs, n, box)
		importer.UseImportedTemplate(pdf, tpl, 0, 0, size.Width, size.Height)

		for _, op := range byPage[n] {
			pdf.RawWriteStr("q")
			pdf.SetAlpha(op.Opacity, "Normal")
			pdf.RawWriteStr(operators(op))
			pdf.RawWriteStr("Q")
		}
		if pdf.Err() {
			return nil, apperrors.NewExportError("failed to draw page", pdf.Error())
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, apperrors.NewExportError("failed to write PDF", err)
	}
	f.logger.Debug("Export rendered", "pages", len(plan.Pages), "ops", len(plan.Ops), "bytes", buf.Len())
	return buf.Bytes(), nil
}

// templateBox picks the box pages are imported with, so exported pages
// match the displayed area. gofpdi reads boxes from the first page only and
// reports an absent CropBox as empty rather than falling back.
func templateBox(original []byte) (box string) {
	box = "/MediaBox"
	defer func() {
		if recover() != nil {
			box = "/MediaBox"
		}
	}()
	r, err := openTextReader(original)
	if err != nil || r.NumPage() == 0 {
		return box
	}
	if _, ok := inheritedBox(r.Page(1).V, "CropBox"); ok {
		box = "/CropBox"
	}
	return box
}

// operators returns the content-stream operators for op.
func operators(op DrawOp) string {
	r, g, b := rgb(op.Color)
	var s strings.Builder
	switch op.Kind {
	case DrawFillRect:
		fmt.Fprintf(&s, "%.3f %.3f %.3f rg\n", r, g, b)
		fmt.Fprintf(&s, "%.3f %.3f %.3f %.3f re f", op.Rect.X, op.Rect.Y, op.Rect.Width, op.Rect.Height)
	case DrawLine:
		fmt.Fprintf(&s, "%.3f %.3f %.3f RG\n", r, g, b)
		fmt.Fprintf(&s, "%.3f w 1 J 1 j\n", op.LineWidth)
		fmt.Fprintf(&s, "%.3f %.3f m %.3f %.3f l S", op.From.X, op.From.Y, op.To.X, op.To.Y)
	}
	return s.String()
}

func rgb(hex string) (float64, float64, float64) {
	c, err := colorful.Hex(hex)
	if err != nil {
		c, _ = colorful.Hex(DefaultHighlightColor)
	}
	return c.R, c.G, c.B
}

// ReplaceOriginal uploads the flattened document and only then deletes the
// original. An upload failure leaves the original untouched.
func ReplaceOriginal(ctx context.Context, store domain.DocumentStore, source *domain.SourceDocument, flattened []byte, token string, logger domain.Logger) (*ExportResult, error) {
	name := source.DisplayName()
	newID, err := store.Upload(ctx, flattened, name, source.Ref.ParentRef, token)
	if err != nil {
		return nil, apperrors.NewExportError("upload of annotated document failed", err)
	}

	result := &ExportResult{DocumentID: newID, Name: name}
	if newID == source.Ref.ID {
		// Same object overwritten in place.
		result.OriginalDeleted = true
		return result, nil
	}
	if err := store.Delete(ctx, source.Ref.ID, token); err != nil {
		logger.Warn("Annotated copy uploaded but original not deleted", "original", source.Ref.ID, "copy", newID, "error", err)
		return result, nil
	}
	result.OriginalDeleted = true
	return result, nil
}
