package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"pdf-annotator/internal/domain"
	apperrors "pdf-annotator/pkg/errors"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

// pointsPerInch converts a scale factor to the DPI go-fitz expects.
const pointsPerInch = 72.0

// US Letter, used when a page has no usable MediaBox.
var defaultPageSize = domain.Size{Width: 612, Height: 792}

// PDFDecoder opens PDF bytes. Rasterization goes through MuPDF (go-fitz);
// page boxes and positioned text come from the pure-Go parser. Sizes and
// text positions are reported in display space, matching the raster.
type PDFDecoder struct {
	logger domain.Logger
}

// NewPDFDecoder creates a new PDF decoder
func NewPDFDecoder(logger domain.Logger) *PDFDecoder {
	return &PDFDecoder{logger: logger}
}

// Open decodes data. Any failure is a DecodeFailure.
func (d *PDFDecoder) Open(ctx context.Context, data []byte) (domain.Document, error) {
	if len(data) == 0 {
		return nil, apperrors.NewDecodeFailureError("empty document", domain.ErrInvalidFile)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	textReader, err := openTextReader(data)
	if err != nil {
		return nil, apperrors.NewDecodeFailureError("failed to parse PDF", err)
	}

	raster, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, apperrors.NewDecodeFailureError("failed to open PDF", err)
	}

	count := raster.NumPage()
	if n := textReader.NumPage(); n != count {
		d.logger.Warn("Page count mismatch between decoders", "raster_pages", count, "text_pages", n)
		if n < count {
			count = n
		}
	}
	if count <= 0 {
		_ = raster.Close()
		return nil, apperrors.NewDecodeFailureError("document has no pages", domain.ErrInvalidFile)
	}

	d.logger.Debug("PDF opened", "pages", count, "bytes", len(data))
	return &pdfDocument{
		raster:    raster,
		text:      textReader,
		pageCount: count,
		pages:     make(map[int]*pdfPage),
		logger:    d.logger,
	}, nil
}

func openTextReader(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf parser panic: %v", rec)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

type pdfDocument struct {
	raster    *fitz.Document
	text      *pdf.Reader
	pageCount int
	logger    domain.Logger

	mu       sync.Mutex
	pages    map[int]*pdfPage
	inflight sync.WaitGroup
	closed   bool
}

func (d *pdfDocument) PageCount() int {
	return d.pageCount
}

// Page returns the cached handle for number, creating it on first use.
func (d *pdfDocument) Page(ctx context.Context, number int) (domain.Page, error) {
	if number < 1 || number > d.pageCount {
		return nil, fmt.Errorf("page %d of %d: %w", number, d.pageCount, domain.ErrPageOutOfRange)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, domain.ErrViewerClosed
	}
	if p, ok := d.pages[number]; ok {
		return p, nil
	}
	p := &pdfPage{doc: d, number: number}
	p.size, p.toDisplay = d.geometry(number)
	d.pages[number] = p
	return p, nil
}

func (d *pdfDocument) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.inflight.Wait()
	return d.raster.Close()
}

// pageBox is a rectangle in default user space.
type pageBox struct {
	llx, lly, urx, ury float64
}

func (b pageBox) width() float64  { return b.urx - b.llx }
func (b pageBox) height() float64 { return b.ury - b.lly }

func (b pageBox) intersect(o pageBox) pageBox {
	return pageBox{
		llx: math.Max(b.llx, o.llx),
		lly: math.Max(b.lly, o.lly),
		urx: math.Min(b.urx, o.urx),
		ury: math.Min(b.ury, o.ury),
	}
}

// geometry returns the displayed size of a page and the matrix taking user
// space to display space: the CropBox clipped to the MediaBox, rotated by
// /Rotate, origin at its lower-left corner. This is the area MuPDF
// rasterizes. Callers hold d.mu.
func (d *pdfDocument) geometry(number int) (size domain.Size, toDisplay domain.Matrix) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Warn("Failed to read page boxes", "page", number, "panic", rec)
			size, toDisplay = defaultPageSize, domain.IdentityMatrix
		}
	}()

	page := d.text.Page(number).V
	media, ok := inheritedBox(page, "MediaBox")
	if !ok {
		media = pageBox{urx: defaultPageSize.Width, ury: defaultPageSize.Height}
	}
	var crop *pageBox
	if b, ok := inheritedBox(page, "CropBox"); ok {
		crop = &b
	}
	return pageGeometry(media, crop, int(inherited(page, "Rotate").Float64()))
}

// inherited looks key up on node and then along /Parent.
func inherited(node pdf.Value, key string) pdf.Value {
	for depth := 0; depth < 32 && !node.IsNull(); depth++ {
		if v := node.Key(key); !v.IsNull() {
			return v
		}
		node = node.Key("Parent")
	}
	return pdf.Value{}
}

func inheritedBox(node pdf.Value, key string) (pageBox, bool) {
	v := inherited(node, key)
	if v.Len() != 4 {
		return pageBox{}, false
	}
	x0, y0 := v.Index(0).Float64(), v.Index(1).Float64()
	x1, y1 := v.Index(2).Float64(), v.Index(3).Float64()
	b := pageBox{
		llx: math.Min(x0, x1),
		lly: math.Min(y0, y1),
		urx: math.Max(x0, x1),
		ury: math.Max(y0, y1),
	}
	if b.width() <= 0 || b.height() <= 0 {
		return pageBox{}, false
	}
	return b, true
}

// pageGeometry maps the visible box and clockwise rotation to a display
// size and the user-space to display-space matrix.
func pageGeometry(media pageBox, crop *pageBox, rotate int) (domain.Size, domain.Matrix) {
	visible := media
	if crop != nil {
		if clipped := crop.intersect(media); clipped.width() > 0 && clipped.height() > 0 {
			visible = clipped
		}
	}
	w, h := visible.width(), visible.height()
	x0, y0 := visible.llx, visible.lly

	switch ((rotate%360 + 360) % 360) / 90 {
	case 1:
		return domain.Size{Width: h, Height: w}, domain.Matrix{0, -1, 1, 0, -y0, w + x0}
	case 2:
		return domain.Size{Width: w, Height: h}, domain.Matrix{-1, 0, 0, -1, w + x0, h + y0}
	case 3:
		return domain.Size{Width: h, Height: w}, domain.Matrix{0, 1, -1, 0, h + y0, -x0}
	default:
		return domain.Size{Width: w, Height: h}, domain.Matrix{1, 0, 0, 1, -x0, -y0}
	}
}

type pdfPage struct {
	doc       *pdfDocument
	number    int
	size      domain.Size
	toDisplay domain.Matrix

	runsOnce sync.Once
	runs     []domain.TextRun
	runsErr  error
}

func (p *pdfPage) Number() int       { return p.number }
func (p *pdfPage) Size() domain.Size { return p.size }

type rasterResult struct {
	img *image.RGBA
	err error
}

// Rasterize renders the page at scale. MuPDF calls cannot be interrupted, so
// a cancelled context abandons the result instead.
func (p *pdfPage) Rasterize(ctx context.Context, scale float64) (*image.RGBA, error) {
	if err := p.acquire(); err != nil {
		return nil, err
	}

	resultCh := make(chan rasterResult, 1)
	go func() {
		defer p.doc.inflight.Done()
		img, err := p.doc.raster.ImageDPI(p.number-1, pointsPerInch*scale)
		resultCh <- rasterResult{img: img, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("rasterize page %d: %w", p.number, res.err)
		}
		return res.img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TextRuns extracts positioned text once per page handle.
func (p *pdfPage) TextRuns(ctx context.Context) ([]domain.TextRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.runsOnce.Do(func() {
		p.runs, p.runsErr = p.extractRuns()
	})
	return p.runs, p.runsErr
}

func (p *pdfPage) acquire() error {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	if p.doc.closed {
		return domain.ErrViewerClosed
	}
	p.doc.inflight.Add(1)
	return nil
}

func (p *pdfPage) extractRuns() (runs []domain.TextRun, err error) {
	p.doc.mu.Lock()
	defer p.doc.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("text extraction panic on page %d: %v", p.number, rec)
		}
	}()

	page := p.doc.text.Page(p.number)
	if page.V.IsNull() {
		return nil, nil
	}
	runs = groupGlyphs(page.Content().Text)
	for i := range runs {
		runs[i].Transform = runs[i].Transform.Multiply(p.toDisplay)
	}
	return runs, nil
}

// groupGlyphs merges per-glyph output into runs: consecutive glyphs on one
// baseline with the same font and size. Small gaps become a single space,
// large gaps start a new run.
func groupGlyphs(glyphs []pdf.Text) []domain.TextRun {
	var runs []domain.TextRun
	var cur *domain.TextRun
	var text strings.Builder
	var endX, size, baseline float64
	var font string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = text.String()
		cur.Width = endX - cur.Transform[4]
		runs = append(runs, *cur)
		cur = nil
		text.Reset()
	}

	for _, g := range glyphs {
		if g.S == "" || g.FontSize <= 0 {
			continue
		}
		if cur != nil {
			sameLine := math.Abs(g.Y-baseline) <= size*0.1
			gap := g.X - endX
			if !sameLine || g.Font != font || math.Abs(g.FontSize-size) > 1e-3 || gap < -size*0.5 || gap >= size*1.5 {
				flush()
			} else if gap > size*0.25 && !strings.HasSuffix(text.String(), " ") && !strings.HasPrefix(g.S, " ") {
				text.WriteByte(' ')
			}
		}
		if cur == nil {
			cur = &domain.TextRun{
				Transform: domain.Matrix{g.FontSize, 0, 0, g.FontSize, g.X, g.Y},
				FontName:  g.Font,
			}
			font, size, baseline = g.Font, g.FontSize, g.Y
		}
		text.WriteString(g.S)
		endX = g.X + g.W
	}
	flush()
	return runs
}
