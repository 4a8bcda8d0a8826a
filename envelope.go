package geowarp

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Envelope is an axis-aligned rectangle tagged with the system its
// coordinates are expressed in.
type Envelope struct {
	Bound orb.Bound
	CRS   *CRS
}

// NewEnvelope builds an envelope from its corner ordinates.
func NewEnvelope(minX, minY, maxX, maxY float64, crs *CRS) Envelope {
	return Envelope{
		Bound: orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}},
		CRS:   crs,
	}
}

func (e Envelope) String() string {
	return fmt.Sprintf("[%v, %v, %v, %v] %s",
		e.Bound.Min[0], e.Bound.Min[1], e.Bound.Max[0], e.Bound.Max[1], e.CRS)
}

// Width returns the horizontal span.
func (e Envelope) Width() float64 { return e.Bound.Max[0] - e.Bound.Min[0] }

// Height returns the vertical span.
func (e Envelope) Height() float64 { return e.Bound.Max[1] - e.Bound.Min[1] }

// CenterX returns the horizontal midpoint.
func (e Envelope) CenterX() float64 { return (e.Bound.Min[0] + e.Bound.Max[0]) / 2 }

// IsEmpty reports whether the envelope encloses no area.
func (e Envelope) IsEmpty() bool {
	return e.Bound.Min[0] >= e.Bound.Max[0] || e.Bound.Min[1] >= e.Bound.Max[1]
}

// Translate returns the envelope shifted by (dx, dy).
func (e Envelope) Translate(dx, dy float64) Envelope {
	return NewEnvelope(
		e.Bound.Min[0]+dx, e.Bound.Min[1]+dy,
		e.Bound.Max[0]+dx, e.Bound.Max[1]+dy, e.CRS)
}

// Intersection returns the overlap of the two envelopes. ok is false when
// they do not overlap.
func (e Envelope) Intersection(o Envelope) (Envelope, bool) {
	r := NewEnvelope(
		math.Max(e.Bound.Min[0], o.Bound.Min[0]),
		math.Max(e.Bound.Min[1], o.Bound.Min[1]),
		math.Min(e.Bound.Max[0], o.Bound.Max[0]),
		math.Min(e.Bound.Max[1], o.Bound.Max[1]),
		e.CRS)
	if r.IsEmpty() {
		return Envelope{CRS: e.CRS}, false
	}
	return r, true
}

// Contains reports whether o lies fully inside e.
func (e Envelope) Contains(o Envelope) bool { return e.ContainsBound(o.Bound) }

// ContainsBound reports whether b lies fully inside e.
func (e Envelope) ContainsBound(b orb.Bound) bool {
	return b.Min[0] >= e.Bound.Min[0] && b.Max[0] <= e.Bound.Max[0] &&
		b.Min[1] >= e.Bound.Min[1] && b.Max[1] <= e.Bound.Max[1]
}

// Intersects reports whether the two envelopes share any area.
func (e Envelope) Intersects(o Envelope) bool {
	_, ok := e.Intersection(o)
	return ok
}

// Polygon returns the envelope outline as a closed single-ring polygon.
func (e Envelope) Polygon() orb.Polygon {
	return orb.Polygon{orb.Ring{
		e.Bound.Min,
		orb.Point{e.Bound.Max[0], e.Bound.Min[1]},
		e.Bound.Max,
		orb.Point{e.Bound.Min[0], e.Bound.Max[1]},
		e.Bound.Min,
	}}
}

// Equal reports whether the two envelopes match within tol on every edge.
func (e Envelope) Equal(o Envelope, tol float64) bool {
	return math.Abs(e.Bound.Min[0]-o.Bound.Min[0]) <= tol &&
		math.Abs(e.Bound.Min[1]-o.Bound.Min[1]) <= tol &&
		math.Abs(e.Bound.Max[0]-o.Bound.Max[0]) <= tol &&
		math.Abs(e.Bound.Max[1]-o.Bound.Max[1]) <= tol
}

// envelopeEdgeSamples is the number of interior points sampled per edge
// when an envelope is restated in another system. Projections bend edges,
// so corners alone undershoot the true extent.
const envelopeEdgeSamples = 5

// Transform restates the envelope in another system by sampling its
// outline and taking the bounds of the transformed samples.
func (e Envelope) Transform(to *CRS) (Envelope, error) {
	if e.CRS.Equal(to) {
		return Envelope{Bound: e.Bound, CRS: to}, nil
	}
	t, err := FindTransform(e.CRS, to)
	if err != nil {
		return Envelope{}, err
	}
	var (
		minX, minY = math.Inf(1), math.Inf(1)
		maxX, maxY = math.Inf(-1), math.Inf(-1)
	)
	n := envelopeEdgeSamples + 1
	for i := 0; i <= n; i++ {
		fx := e.Bound.Min[0] + e.Width()*float64(i)/float64(n)
		for j := 0; j <= n; j++ {
			fy := e.Bound.Min[1] + e.Height()*float64(j)/float64(n)
			if i != 0 && i != n && j != 0 && j != n {
				continue
			}
			x, y, err := t.Apply(fx, fy)
			if err != nil {
				return Envelope{}, err
			}
			minX, minY = math.Min(minX, x), math.Min(minY, y)
			maxX, maxY = math.Max(maxX, x), math.Max(maxY, y)
		}
	}
	return NewEnvelope(minX, minY, maxX, maxY, to), nil
}
