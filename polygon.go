package geowarp

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// extractPolygons flattens any geometry into its polygonal components,
// discarding points and lines.
func extractPolygons(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return []orb.Polygon(v)
	case orb.Ring:
		return []orb.Polygon{{v}}
	case orb.Bound:
		return []orb.Polygon{v.ToPolygon()}
	case orb.Collection:
		var out []orb.Polygon
		for _, c := range v {
			out = append(out, extractPolygons(c)...)
		}
		return out
	}
	return nil
}

// largestPolygon returns the component with the greatest area, or false
// when g has no polygonal part.
func largestPolygon(g orb.Geometry) (orb.Polygon, bool) {
	polys := extractPolygons(g)
	if len(polys) == 0 {
		return nil, false
	}
	best, bestArea := polys[0], planar.Area(polys[0])
	for _, p := range polys[1:] {
		if a := planar.Area(p); a > bestArea {
			best, bestArea = p, a
		}
	}
	return best, true
}
