package domain

import "math"

// Point is a position in unit-scale page space (origin top-left, y down)
// unless stated otherwise.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Size is a page extent.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Scale multiplies every coordinate by s.
func (p Point) Scale(s float64) Point {
	return Point{X: p.X * s, Y: p.Y * s}
}

// Scale multiplies every coordinate by s.
func (r Rect) Scale(s float64) Rect {
	return Rect{X: r.X * s, Y: r.Y * s, Width: r.Width * s, Height: r.Height * s}
}

// Scale multiplies both extents by s.
func (s Size) Scale(f float64) Size {
	return Size{Width: s.Width * f, Height: s.Height * f}
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Bottom returns the largest y covered by r.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Right returns the largest x covered by r.
func (r Rect) Right() float64 { return r.X + r.Width }

// Union returns the smallest rectangle covering r and o.
func (r Rect) Union(o Rect) Rect {
	x0 := math.Min(r.X, o.X)
	y0 := math.Min(r.Y, o.Y)
	x1 := math.Max(r.Right(), o.Right())
	y1 := math.Max(r.Bottom(), o.Bottom())
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Scales holds the two independent scale values of a viewer.
// Render is fixed while a document is open; View follows the user's zoom.
type Scales struct {
	Render float64 `json:"render_scale"`
	View   float64 `json:"view_scale"`
}

// Transform is the uniform factor applied to content rasterized at Render
// to display it at View.
func (s Scales) Transform() float64 {
	if s.Render == 0 {
		return 0
	}
	return s.View / s.Render
}

// ViewToUnit converts page-relative view pixels to unit scale.
func (s Scales) ViewToUnit(p Point) Point {
	return Point{X: p.X / s.View, Y: p.Y / s.View}
}

// UnitToView converts a unit-scale point to page-relative view pixels.
func (s Scales) UnitToView(p Point) Point {
	return p.Scale(s.View)
}

// ViewToUnitRect converts a page-relative view rectangle to unit scale.
func (s Scales) ViewToUnitRect(r Rect) Rect {
	return Rect{X: r.X / s.View, Y: r.Y / s.View, Width: r.Width / s.View, Height: r.Height / s.View}
}

// RectToView converts a unit-scale rectangle to view pixels.
func (s Scales) RectToView(r Rect) Rect {
	return r.Scale(s.View)
}

// Matrix is a PDF-style affine transform [a b c d e f] mapping
// (x, y) to (a*x + c*y + e, b*x + d*y + f).
type Matrix [6]float64

// IdentityMatrix leaves points unchanged.
var IdentityMatrix = Matrix{1, 0, 0, 1, 0, 0}

// Multiply returns m followed by o.
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

// Apply transforms p.
func (m Matrix) Apply(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}
