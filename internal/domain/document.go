package domain

import (
	"context"
	"image"
)

// DocumentRef identifies a document at the remote store.
type DocumentRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ParentRef string `json:"parent_ref,omitempty"`
}

// SourceDocument is what the Document Source Adapter hands to the decoder:
// raw bytes plus metadata, nothing decoded.
type SourceDocument struct {
	Ref    DocumentRef
	Data   []byte
	Remote bool
}

// DisplayName returns the name used for exports.
func (s *SourceDocument) DisplayName() string {
	if s.Ref.Name != "" {
		return s.Ref.Name
	}
	if s.Ref.ID != "" {
		return s.Ref.ID
	}
	return "document.pdf"
}

// TextRun is a positioned piece of extractable text. Transform maps glyph
// space to unit-scale PDF space (origin bottom-left): [a b c d e f] with
// (e, f) the baseline origin and the font size folded into a..d.
type TextRun struct {
	Text      string
	Transform Matrix
	Width     float64
	FontName  string
}

// Decoder opens raw document bytes.
type Decoder interface {
	Open(ctx context.Context, data []byte) (Document, error)
}

// Document is a decoded handle exposing per-page access.
type Document interface {
	PageCount() int
	Page(ctx context.Context, number int) (Page, error)
	Close() error
}

// Page is one decoded page. Implementations fetch data lazily and must be
// safe to call from a render goroutine.
type Page interface {
	Number() int
	// Size is the intrinsic size at unit scale.
	Size() Size
	Rasterize(ctx context.Context, scale float64) (*image.RGBA, error)
	TextRuns(ctx context.Context) ([]TextRun, error)
}
