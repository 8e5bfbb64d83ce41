package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pdf-annotator/internal/domain"
	apperrors "pdf-annotator/pkg/errors"

	"codeberg.org/go-pdf/fpdf"
	"github.com/stretchr/testify/require"
)

func TestPlanExport_FlipsHighlightRect(t *testing.T) {
	a := highlight(1, "x", domain.Rect{X: 10, Y: 20, Width: 100, Height: 15})
	plan := PlanExport([]domain.Size{{Width: 600, Height: 800}}, []*domain.Annotation{a})

	require.Len(t, plan.Ops, 1)
	op := plan.Ops[0]
	require.Equal(t, DrawFillRect, op.Kind)
	require.Equal(t, domain.Rect{X: 10, Y: 765, Width: 100, Height: 15}, op.Rect)
	require.Equal(t, DefaultHighlightOpacity, op.Opacity)
}

func TestPlanExport_NotesAndInk(t *testing.T) {
	pages := []domain.Size{{Width: 600, Height: 800}, {Width: 400, Height: 500}}
	annotations := []*domain.Annotation{
		note(1, "n", domain.Point{X: 30, Y: 40}),
		ink(2, domain.Point{X: 0, Y: 0}, domain.Point{X: 10, Y: 100}, domain.Point{X: 20, Y: 50}),
		highlight(3, "off the end", domain.Rect{Width: 1, Height: 1}),
	}
	plan := PlanExport(pages, annotations)

	require.Len(t, plan.Ops, 3)
	require.Equal(t, domain.Rect{X: 30, Y: 800 - 40 - NoteFootprint, Width: NoteFootprint, Height: NoteFootprint}, plan.Ops[0].Rect)
	require.Equal(t, DrawLine, plan.Ops[1].Kind)
	require.Equal(t, domain.Point{X: 0, Y: 500}, plan.Ops[1].From)
	require.Equal(t, domain.Point{X: 10, Y: 400}, plan.Ops[1].To)
	require.Equal(t, domain.Point{X: 20, Y: 450}, plan.Ops[2].To)
	require.Equal(t, DefaultInkWidth, plan.Ops[2].LineWidth)
}

func TestPlanExport_IgnoresViewAndRenderScale(t *testing.T) {
	// Geometry captured at two different zoom levels for the same spot on
	// the page must plan identically.
	a1 := highlight(1, "x", domain.Scales{Render: 2, View: 0.5}.ViewToUnitRect(domain.Rect{X: 5, Y: 10, Width: 50, Height: 7.5}))
	a2 := highlight(1, "x", domain.Scales{Render: 2, View: 3}.ViewToUnitRect(domain.Rect{X: 30, Y: 60, Width: 300, Height: 45}))
	plan := PlanExport([]domain.Size{{Width: 600, Height: 800}}, []*domain.Annotation{a1, a2})
	require.Equal(t, plan.Ops[0].Rect, plan.Ops[1].Rect)
	require.Equal(t, 765.0, plan.Ops[0].Rect.Y)
}

func TestOperators(t *testing.T) {
	fill := operators(DrawOp{Kind: DrawFillRect, Rect: domain.Rect{X: 10, Y: 765, Width: 100, Height: 15}, Color: "#ff0000"})
	require.Equal(t, "1.000 0.000 0.000 rg\n10.000 765.000 100.000 15.000 re f", fill)

	line := operators(DrawOp{Kind: DrawLine, From: domain.Point{X: 1, Y: 2}, To: domain.Point{X: 3, Y: 4}, Color: "#0000ff", LineWidth: 2})
	require.True(t, strings.HasPrefix(line, "0.000 0.000 1.000 RG\n2.000 w"))
	require.True(t, strings.HasSuffix(line, "1.000 2.000 m 3.000 4.000 l S"))
}

func blankPDF(t *testing.T, pages int) []byte {
	t.Helper()
	doc := fpdf.New("P", "pt", "A4", "")
	for i := 0; i < pages; i++ {
		doc.AddPage()
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func TestExportFlattener_Render(t *testing.T) {
	original := blankPDF(t, 2)
	a4 := domain.Size{Width: 595.28, Height: 841.89}
	plan := PlanExport([]domain.Size{a4, a4}, []*domain.Annotation{
		highlight(1, "x", domain.Rect{X: 10, Y: 20, Width: 100, Height: 15}),
		ink(2, domain.Point{X: 10, Y: 10}, domain.Point{X: 200, Y: 200}),
	})

	out, err := NewExportFlattener(NewMockLogger()).Render(original, plan)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	require.NotEqual(t, original, out)
}

func TestExportFlattener_RejectsEmptyInput(t *testing.T) {
	_, err := NewExportFlattener(NewMockLogger()).Render(nil, ExportPlan{})
	require.True(t, apperrors.IsType(err, apperrors.ErrorTypeExport))
}

func TestReplaceOriginal_UploadsBeforeDeleting(t *testing.T) {
	store := NewMockDocumentStore()
	store.Put("shelf/paper.pdf", samplePDF)
	source := &domain.SourceDocument{
		Ref:    domain.DocumentRef{ID: "shelf/paper.pdf", Name: "paper annotated.pdf", ParentRef: "shelf"},
		Data:   samplePDF,
		Remote: true,
	}

	result, err := ReplaceOriginal(context.Background(), store, source, []byte("%PDF-flat"), "tok", NewMockLogger())
	require.NoError(t, err)
	require.Equal(t, []string{"upload:shelf/paper annotated.pdf", "delete:shelf/paper.pdf"}, store.Calls())
	require.Equal(t, "shelf/paper annotated.pdf", result.DocumentID)
	require.True(t, result.OriginalDeleted)
	require.False(t, store.Has("shelf/paper.pdf"))
}

func TestReplaceOriginal_OverwriteInPlace(t *testing.T) {
	store := NewMockDocumentStore()
	store.Put("shelf/paper.pdf", samplePDF)
	source := &domain.SourceDocument{
		Ref:  domain.DocumentRef{ID: "shelf/paper.pdf", Name: "paper.pdf", ParentRef: "shelf"},
		Data: samplePDF,
	}

	result, err := ReplaceOriginal(context.Background(), store, source, []byte("%PDF-flat"), "tok", NewMockLogger())
	require.NoError(t, err)
	require.Equal(t, []string{"upload:shelf/paper.pdf"}, store.Calls())
	require.True(t, result.OriginalDeleted)
	require.True(t, store.Has("shelf/paper.pdf"))
}

func TestReplaceOriginal_UploadFailureKeepsOriginal(t *testing.T) {
	store := NewMockDocumentStore()
	store.Put("paper.pdf", samplePDF)
	store.uploadErr = errors.New("503 service unavailable")
	source := &domain.SourceDocument{Ref: domain.DocumentRef{ID: "paper.pdf", Name: "copy.pdf"}, Data: samplePDF}

	_, err := ReplaceOriginal(context.Background(), store, source, []byte("%PDF-flat"), "tok", NewMockLogger())
	require.True(t, apperrors.IsType(err, apperrors.ErrorTypeExport))
	require.Contains(t, err.Error(), "503 service unavailable")
	require.Equal(t, []string{"upload:copy.pdf"}, store.Calls())
	require.True(t, store.Has("paper.pdf"))
}

func TestReplaceOriginal_DeleteFailureIsNotFatal(t *testing.T) {
	store := NewMockDocumentStore()
	store.deleteErr = errors.New("timeout")
	logger := NewMockLogger()
	source := &domain.SourceDocument{Ref: domain.DocumentRef{ID: "paper.pdf", Name: "copy.pdf"}, Data: samplePDF}

	result, err := ReplaceOriginal(context.Background(), store, source, []byte("%PDF-flat"), "tok", logger)
	require.NoError(t, err)
	require.False(t, result.OriginalDeleted)
	require.True(t, logger.Contains("WARN: Annotated copy uploaded"))
}
