package geowarp

import "math"

// Rectangle is a pixel-space rectangle. X and Y address the top-left
// corner; rows grow downward.
type Rectangle struct {
	X      int
	Y      int
	Width  int
	Height int
}

// IsEmpty reports whether the rectangle covers no pixels.
func (r Rectangle) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Expand grows the rectangle by p pixels on every side.
func (r Rectangle) Expand(p int) Rectangle {
	return Rectangle{X: r.X - p, Y: r.Y - p, Width: r.Width + 2*p, Height: r.Height + 2*p}
}

// Intersect returns the overlap of two rectangles.
func (r Rectangle) Intersect(o Rectangle) Rectangle {
	x0 := max(r.X, o.X)
	y0 := max(r.Y, o.Y)
	x1 := min(r.X+r.Width, o.X+o.Width)
	y1 := min(r.Y+r.Height, o.Y+o.Height)
	return Rectangle{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// GridGeometry ties a pixel rectangle to the world-space envelope it
// covers, row 0 along the envelope's top edge.
type GridGeometry struct {
	Range    Rectangle
	Envelope Envelope
}

// NewGridGeometry pairs a pixel range with its envelope.
func NewGridGeometry(rng Rectangle, env Envelope) GridGeometry {
	return GridGeometry{Range: rng, Envelope: env}
}

// Resolution returns world units per pixel on each axis.
func (gg GridGeometry) Resolution() (float64, float64) {
	if gg.Range.IsEmpty() {
		return 0, 0
	}
	return gg.Envelope.Width() / float64(gg.Range.Width),
		gg.Envelope.Height() / float64(gg.Range.Height)
}

// WithGutter expands the grid by p pixels on every side, growing the
// envelope to match.
func (gg GridGeometry) WithGutter(p int) GridGeometry {
	if p <= 0 {
		return gg
	}
	rx, ry := gg.Resolution()
	return GridGeometry{
		Range: gg.Range.Expand(p),
		Envelope: NewEnvelope(
			gg.Envelope.Bound.Min[0]-float64(p)*rx,
			gg.Envelope.Bound.Min[1]-float64(p)*ry,
			gg.Envelope.Bound.Max[0]+float64(p)*rx,
			gg.Envelope.Bound.Max[1]+float64(p)*ry,
			gg.Envelope.CRS),
	}
}

// GridToWorld maps a pixel coordinate to world space. Pixel (0,0) is the
// top-left corner of Range.
func (gg GridGeometry) GridToWorld(px, py float64) (float64, float64) {
	rx, ry := gg.Resolution()
	return gg.Envelope.Bound.Min[0] + (px-float64(gg.Range.X))*rx,
		gg.Envelope.Bound.Max[1] - (py-float64(gg.Range.Y))*ry
}

// WorldToGrid maps a world coordinate to fractional pixel space.
func (gg GridGeometry) WorldToGrid(x, y float64) (float64, float64) {
	rx, ry := gg.Resolution()
	if rx == 0 || ry == 0 {
		return 0, 0
	}
	return float64(gg.Range.X) + (x-gg.Envelope.Bound.Min[0])/rx,
		float64(gg.Range.Y) + (gg.Envelope.Bound.Max[1]-y)/ry
}

// SliceForEnvelope returns the pixel-snapped sub-geometry covering env.
// The result may extend past Range; callers clamp against the data they
// actually hold.
func (gg GridGeometry) SliceForEnvelope(env Envelope) GridGeometry {
	x0, y0 := gg.WorldToGrid(env.Bound.Min[0], env.Bound.Max[1])
	x1, y1 := gg.WorldToGrid(env.Bound.Max[0], env.Bound.Min[1])
	rect := Rectangle{
		X:      int(math.Floor(x0)),
		Y:      int(math.Floor(y0)),
		Width:  int(math.Ceil(x1)) - int(math.Floor(x0)),
		Height: int(math.Ceil(y1)) - int(math.Floor(y0)),
	}
	if rect.Width < 1 {
		rect.Width = 1
	}
	if rect.Height < 1 {
		rect.Height = 1
	}
	minX, maxY := gg.GridToWorld(float64(rect.X), float64(rect.Y))
	maxX, minY := gg.GridToWorld(float64(rect.X+rect.Width), float64(rect.Y+rect.Height))
	return GridGeometry{
		Range:    rect,
		Envelope: NewEnvelope(minX, minY, maxX, maxY, gg.Envelope.CRS),
	}
}
