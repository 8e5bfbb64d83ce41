package service

import (
	"math"

	"pdf-annotator/internal/domain"
)

// Fraction of the font height above the baseline when the font program's
// ascent is unknown.
const defaultAscent = 0.8

// Stretch factors closer to 1 than this are not emitted.
const stretchTolerance = 1e-3

// TextSpan is one invisible, selectable text node positioned over the
// raster in RenderScale pixels.
type TextSpan struct {
	Text       string  `json:"text"`
	Left       float64 `json:"left"`
	Top        float64 `json:"top"`
	FontSize   float64 `json:"font_size"`
	FontFamily string  `json:"font_family"`
	// ScaleX is the horizontal stretch; 1 when the run is not condensed or expanded.
	ScaleX float64 `json:"scale_x"`
	// Angle is the rotation in radians, clockwise in screen space.
	Angle float64 `json:"angle"`
	// LineBreakBefore separates this span from the previous line so a
	// selection across the boundary does not merge the two.
	LineBreakBefore bool `json:"line_break_before"`
}

// TextLayer is the synthesized selectable overlay for one page.
type TextLayer struct {
	Width        float64    `json:"width"`
	Height       float64    `json:"height"`
	Spans        []TextSpan `json:"spans"`
	FontFallback bool       `json:"font_fallback"`
}

// HasText reports whether the page has any extractable text.
func (l *TextLayer) HasText() bool {
	for _, s := range l.Spans {
		if s.Text != "" {
			return true
		}
	}
	return false
}

// FontResolver maps a font family to the family available for rendering.
type FontResolver interface {
	Resolve(family string) (resolved string, fallback bool)
}

// SynthesizeTextLayer positions one span per run in RenderScale pixel
// space. Run text is kept verbatim, whitespace included.
func SynthesizeTextLayer(runs []domain.TextRun, page domain.Size, renderScale float64, fonts FontResolver) TextLayer {
	layer := TextLayer{
		Width:  page.Width * renderScale,
		Height: page.Height * renderScale,
		Spans:  make([]TextSpan, 0, len(runs)),
	}
	// PDF space (origin bottom-left) to RenderScale pixels (origin top-left).
	viewport := domain.Matrix{renderScale, 0, 0, -renderScale, 0, page.Height * renderScale}

	havePrev := false
	var prevBaseline float64
	for _, run := range runs {
		if run.Text == "" {
			continue
		}
		tx := run.Transform.Multiply(viewport)

		angle := math.Atan2(tx[1], tx[0])
		fontHeight := math.Hypot(tx[2], tx[3])
		if fontHeight == 0 {
			continue
		}
		ascent := fontHeight * defaultAscent

		span := TextSpan{
			Text:     run.Text,
			FontSize: fontHeight,
			Angle:    angle,
			ScaleX:   1,
		}
		if angle == 0 {
			span.Left = tx[4]
			span.Top = tx[5] - ascent
		} else {
			span.Left = tx[4] + ascent*math.Sin(angle)
			span.Top = tx[5] - ascent*math.Cos(angle)
		}

		if stretch := math.Hypot(tx[0], tx[1]) / fontHeight; math.Abs(stretch-1) > stretchTolerance {
			span.ScaleX = stretch
		}

		baseline := tx[5]
		if havePrev && math.Abs(baseline-prevBaseline) > fontHeight/2 {
			span.LineBreakBefore = true
		}
		prevBaseline, havePrev = baseline, true

		span.FontFamily = FallbackFontFamily
		if fonts != nil {
			family, fallback := fonts.Resolve(FontFamily(run.FontName))
			span.FontFamily = family
			if fallback {
				layer.FontFallback = true
			}
		}

		layer.Spans = append(layer.Spans, span)
	}
	return layer
}
