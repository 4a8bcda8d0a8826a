package geowarp

import (
	"math"

	"github.com/paulmach/orb"
)

// unwrapSeam rebuilds a geometry whose vertices straddle the periodic
// seam, shifting runs of vertices by whole periods until consecutive
// points sit close together again. The result is accepted only when it
// ends up narrower than half a period; a genuinely world-spanning
// geometry fails that check and comes back untouched.
func (ph *ProjectionHandler) unwrapSeam(g orb.Geometry, inverse Transform) (orb.Geometry, bool) {
	period := ph.target.Period()
	half := period / 2
	clone := orb.Clone(g)
	changed := false
	eachPath(clone, func(pts []orb.Point) {
		offset := 0.0
		prev := pts[0]
		for i := 1; i < len(pts); i++ {
			cur := pts[i]
			d := cur[0] - prev[0]
			if math.Abs(d) > half && ph.orientableJump(prev, cur, d, inverse) {
				if d > 0 {
					offset -= period
				} else {
					offset += period
				}
				changed = true
			}
			prev = cur
			pts[i][0] = cur[0] + offset
		}
	})
	if !changed {
		return g, false
	}
	b := clone.Bound()
	if b.Max[0]-b.Min[0] >= half {
		return g, false
	}
	return clone, true
}

// orientableJump decides whether a seam jump between two consecutive
// vertices is an artifact of coordinate normalization rather than a real
// edge. Jumps well short of a full period carry their own direction.
// Near-full-period jumps are ambiguous: the inverse transform settles
// them by measuring how far apart the two vertices sit in source space.
func (ph *ProjectionHandler) orientableJump(a, b orb.Point, d float64, inverse Transform) bool {
	half := ph.target.Period() / 2
	if math.Abs(d) <= maxOrientableJumpFactor*half {
		return true
	}
	if inverse == nil {
		return false
	}
	ax, _, err := inverse.Apply(a[0], a[1])
	if err != nil {
		return false
	}
	bx, _, err := inverse.Apply(b[0], b[1])
	if err != nil {
		return false
	}
	if !ph.source.Periodic() {
		// A projected source folds the seam onto itself, so two
		// vertices that land close together were split apart only by
		// normalization.
		return math.Abs(bx-ax) < math.Abs(d)
	}
	return math.Abs(bx-ax) < ph.source.Period()/2
}

// snapLatitudes pins near-limit ordinates exactly onto the latitude
// limits, so rings that graze a pole after reprojection close cleanly.
func snapLatitudes(g orb.Geometry, min, max, tol float64) orb.Geometry {
	b := g.Bound()
	if b.Min[1] > min+tol && b.Max[1] < max-tol {
		return g
	}
	clone := orb.Clone(g)
	snapped := mapPoints(clone, func(p orb.Point) orb.Point {
		if p[1] > max-tol {
			p[1] = max
		} else if p[1] < min+tol {
			p[1] = min
		}
		return p
	})
	return snapped
}

func translateGeometry(g orb.Geometry, dx float64) orb.Geometry {
	return mapPoints(orb.Clone(g), func(p orb.Point) orb.Point {
		p[0] += dx
		return p
	})
}

// mapPoints rewrites every vertex of g in place and returns g. The value
// must already be a private clone.
func mapPoints(g orb.Geometry, fn func(orb.Point) orb.Point) orb.Geometry {
	switch v := g.(type) {
	case orb.Point:
		return fn(v)
	case orb.MultiPoint:
		for i := range v {
			v[i] = fn(v[i])
		}
		return v
	case orb.Collection:
		for i := range v {
			v[i] = mapPoints(v[i], fn)
		}
		return v
	default:
		eachPath(g, func(pts []orb.Point) {
			for i := range pts {
				pts[i] = fn(pts[i])
			}
		})
		return g
	}
}

// eachPath visits every run of connected vertices in g.
func eachPath(g orb.Geometry, fn func([]orb.Point)) {
	switch v := g.(type) {
	case orb.LineString:
		if len(v) > 0 {
			fn(v)
		}
	case orb.Ring:
		if len(v) > 0 {
			fn(v)
		}
	case orb.MultiLineString:
		for _, l := range v {
			eachPath(l, fn)
		}
	case orb.Polygon:
		for _, r := range v {
			eachPath(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			eachPath(p, fn)
		}
	case orb.Collection:
		for _, c := range v {
			eachPath(c, fn)
		}
	}
}

func geometryEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return true
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.Ring:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.Collection:
		for _, c := range v {
			if !geometryEmpty(c) {
				return false
			}
		}
		return true
	}
	return g == nil
}

// combineParts merges world copies into the narrowest multi type that can
// hold them, falling back to a collection for mixed content.
func combineParts(parts []orb.Geometry) orb.Geometry {
	var (
		polys  orb.MultiPolygon
		lines  orb.MultiLineString
		points orb.MultiPoint
		mixed  bool
	)
	for _, p := range parts {
		switch v := p.(type) {
		case orb.Polygon:
			polys = append(polys, v)
		case orb.MultiPolygon:
			polys = append(polys, v...)
		case orb.LineString:
			lines = append(lines, v)
		case orb.MultiLineString:
			lines = append(lines, v...)
		case orb.Point:
			points = append(points, v)
		case orb.MultiPoint:
			points = append(points, v...)
		default:
			mixed = true
		}
	}
	kinds := 0
	if len(polys) > 0 {
		kinds++
	}
	if len(lines) > 0 {
		kinds++
	}
	if len(points) > 0 {
		kinds++
	}
	if mixed || kinds > 1 {
		return orb.Collection(parts)
	}
	switch {
	case len(polys) > 0:
		return polys
	case len(lines) > 0:
		return lines
	default:
		return points
	}
}
