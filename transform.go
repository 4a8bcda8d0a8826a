package geowarp

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// Transform maps planar coordinates between two coordinate reference
// systems. Implementations are safe for concurrent use.
type Transform interface {
	Apply(x, y float64) (float64, float64, error)
	Inverse() Transform
}

// ErrNoTransform is returned when no path exists between two systems.
var ErrNoTransform = fmt.Errorf("geowarp: no transform between systems")

// FindTransform returns the transform from src to dst coordinates. Equal
// systems yield an identity transform.
func FindTransform(src, dst *CRS) (Transform, error) {
	if src == nil || dst == nil {
		return nil, fmt.Errorf("%w: nil CRS", ErrNoTransform)
	}
	if src.Equal(dst) {
		return IdentityTransform(), nil
	}
	if src.geo == nil || dst.geo == nil {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoTransform, src, dst)
	}
	return &crsTransform{
		src: src, dst: dst,
		fwd: makeTransformFunc(src, dst),
		inv: makeTransformFunc(dst, src),
	}, nil
}

// IdentityTransform returns the transform that leaves coordinates alone.
func IdentityTransform() Transform { return identityTransform{} }

type identityTransform struct{}

func (identityTransform) Apply(x, y float64) (float64, float64, error) { return x, y, nil }

func (identityTransform) Inverse() Transform { return identityTransform{} }

type coordFunc func(a, b, c float64) (float64, float64, float64)

type crsTransform struct {
	src, dst *CRS
	fwd, inv coordFunc
}

func (t *crsTransform) Apply(x, y float64) (float64, float64, error) {
	a, b, _ := t.fwd(x, y, 0)
	if math.IsNaN(a) || math.IsInf(a, 0) || math.IsNaN(b) || math.IsInf(b, 0) {
		return 0, 0, fmt.Errorf("geowarp: point (%v,%v) outside domain of %s to %s", x, y, t.src, t.dst)
	}
	// The geocentric pipeline normalizes longitudes into the canonical
	// world range. Between two periodic systems the horizontal axes
	// correspond linearly, so coordinates past the antimeridian can be
	// restored by picking the period branch nearest that line. Envelope
	// transforms rely on this to stay continuous across the seam.
	if t.src.Periodic() && t.dst.Periodic() {
		sMin, sMax := t.src.PeriodRange()
		dMin, dMax := t.dst.PeriodRange()
		ref := (dMin+dMax)/2 + (x-(sMin+sMax)/2)*(t.dst.Period()/t.src.Period())
		a += t.dst.Period() * math.Round((ref-a)/t.dst.Period())
	}
	return a, b, nil
}

func (t *crsTransform) Inverse() Transform {
	return &crsTransform{src: t.dst, dst: t.src, fwd: t.inv, inv: t.fwd}
}

// OffsetTransform wraps a base transform with a constant horizontal shift
// applied to its output. The renderer uses it to slide the map one or more
// periods sideways when the rendering envelope lives outside the canonical
// world range.
func OffsetTransform(base Transform, dx float64) Transform {
	if dx == 0 {
		return base
	}
	return &offsetTransform{base: base, dx: dx}
}

type offsetTransform struct {
	base Transform
	dx   float64
	pre  bool
}

func (t *offsetTransform) Apply(x, y float64) (float64, float64, error) {
	if t.pre {
		return t.base.Apply(x+t.dx, y)
	}
	a, b, err := t.base.Apply(x, y)
	return a + t.dx, b, err
}

func (t *offsetTransform) Inverse() Transform {
	return &offsetTransform{base: t.base.Inverse(), dx: -t.dx, pre: !t.pre}
}

// TransformGeometry applies t to every coordinate of g and returns a new
// geometry. g is never modified.
func TransformGeometry(g orb.Geometry, t Transform) (orb.Geometry, error) {
	switch v := g.(type) {
	case orb.Point:
		x, y, err := t.Apply(v[0], v[1])
		if err != nil {
			return nil, err
		}
		return orb.Point{x, y}, nil
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(v))
		if err := transformPoints(v, out, t); err != nil {
			return nil, err
		}
		return out, nil
	case orb.LineString:
		out := make(orb.LineString, len(v))
		if err := transformPoints(v, out, t); err != nil {
			return nil, err
		}
		return out, nil
	case orb.Ring:
		out := make(orb.Ring, len(v))
		if err := transformPoints(v, out, t); err != nil {
			return nil, err
		}
		return out, nil
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			out[i] = make(orb.LineString, len(ls))
			if err := transformPoints(ls, out[i], t); err != nil {
				return nil, err
			}
		}
		return out, nil
	case orb.Polygon:
		out := make(orb.Polygon, len(v))
		for i, r := range v {
			out[i] = make(orb.Ring, len(r))
			if err := transformPoints(r, out[i], t); err != nil {
				return nil, err
			}
		}
		return out, nil
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			tp, err := TransformGeometry(p, t)
			if err != nil {
				return nil, err
			}
			out[i] = tp.(orb.Polygon)
		}
		return out, nil
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, c := range v {
			tc, err := TransformGeometry(c, t)
			if err != nil {
				return nil, err
			}
			out[i] = tc
		}
		return out, nil
	case orb.Bound:
		tp, err := TransformGeometry(v.ToPolygon(), t)
		if err != nil {
			return nil, err
		}
		return tp.Bound(), nil
	}
	return nil, fmt.Errorf("geowarp: unsupported geometry type %T", g)
}

func transformPoints(in, out []orb.Point, t Transform) error {
	for i, p := range in {
		x, y, err := t.Apply(p[0], p[1])
		if err != nil {
			return err
		}
		out[i] = orb.Point{x, y}
	}
	return nil
}

func makeTransformFunc(src, dst *CRS) coordFunc {
	f := wgs84.Transform(src.geo, dst.geo)
	return func(a, b, c float64) (float64, float64, float64) {
		return f(a, b, c)
	}
}
