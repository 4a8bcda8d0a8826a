package geowarp

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
)

// WrapLimit caps how many times a geometry may be duplicated on each side
// of the canonical world when a continuous map is rendered. A rendering
// envelope spanning more worlds than this gets at most 2*WrapLimit+1
// copies of any feature.
const WrapLimit = 10

// maxOrientableJumpFactor scales the half period into the largest seam
// jump whose direction is still trusted on its own. Jumps close to a full
// period are ambiguous and need the inverse transform to decide.
const maxOrientableJumpFactor = 1.9

// ProjectionHandler decides which parts of a data source are worth
// querying for a given rendering envelope, cuts geometries down to the
// area their projection can express, and heals or duplicates geometries
// around the periodic seam after reprojection.
type ProjectionHandler struct {
	renderingEnvelope Envelope
	source            *CRS
	target            *CRS
	validArea         *Envelope

	queryWrap bool
	postWrap  bool
	wrapLimit int
}

// NewProjectionHandler builds a handler for one rendering request.
// validArea, when non-nil, is a lon/lat envelope outside which the target
// projection misbehaves; geometries get clipped to it before reprojection.
// wrap enables dateline-crossing queries and seam duplication on systems
// whose horizontal axis is periodic.
func NewProjectionHandler(renderingEnvelope Envelope, source *CRS, validArea *Envelope, wrap bool) (*ProjectionHandler, error) {
	if source == nil {
		return nil, fmt.Errorf("geowarp: nil source CRS")
	}
	target := renderingEnvelope.CRS
	if target == nil {
		return nil, fmt.Errorf("geowarp: rendering envelope has no CRS")
	}
	if _, err := FindTransform(source, target); err != nil {
		return nil, err
	}
	return &ProjectionHandler{
		renderingEnvelope: renderingEnvelope,
		source:            source,
		target:            target,
		validArea:         validArea,
		queryWrap:         wrap && source.Periodic(),
		postWrap:          wrap && target.Periodic(),
		wrapLimit:         WrapLimit,
	}, nil
}

// RenderingEnvelope returns the envelope this handler was built for.
func (ph *ProjectionHandler) RenderingEnvelope() Envelope { return ph.renderingEnvelope }

// SourceCRS returns the system the data arrives in.
func (ph *ProjectionHandler) SourceCRS() *CRS { return ph.source }

// TargetCRS returns the system the map is drawn in.
func (ph *ProjectionHandler) TargetCRS() *CRS { return ph.target }

// ValidArea returns the lon/lat envelope safe for the target projection,
// or nil when the whole globe projects.
func (ph *ProjectionHandler) ValidArea() *Envelope { return ph.validArea }

// Wrapping reports whether this handler duplicates geometries across the
// periodic seam.
func (ph *ProjectionHandler) Wrapping() bool { return ph.postWrap }

// SetWrapLimit overrides the per-side duplication cap.
func (ph *ProjectionHandler) SetWrapLimit(n int) {
	if n > 0 {
		ph.wrapLimit = n
	}
}

// validAreaInSource restates the valid area in source coordinates. The
// second return is false when no valid area applies.
func (ph *ProjectionHandler) validAreaInSource() (Envelope, bool, error) {
	if ph.validArea == nil {
		return Envelope{}, false, nil
	}
	va := *ph.validArea
	if ph.source.IsGeographic() {
		return Envelope{Bound: va.Bound, CRS: ph.source}, true, nil
	}
	// Projected sources cannot hold data past the canonical world, so an
	// unbounded longitude range clamps before it goes through a
	// projection that would reject it.
	b := va.Bound
	b.Min[0] = math.Max(b.Min[0], -180)
	b.Max[0] = math.Min(b.Max[0], 180)
	out, err := Envelope{Bound: b, CRS: va.CRS}.Transform(ph.source)
	if err != nil {
		return Envelope{}, false, err
	}
	return out, true, nil
}

// effectiveValidArea returns the valid area in source coordinates, shifted
// by whole periods to the alias that best overlaps b. Valid areas of zoned
// projections can reach past the antimeridian while source data stays
// normalized, so the raw band may miss the data entirely.
func (ph *ProjectionHandler) effectiveValidArea(b orb.Bound) (Envelope, bool, error) {
	va, ok, err := ph.validAreaInSource()
	if err != nil || !ok {
		return va, ok, err
	}
	if !ph.source.Periodic() {
		return va, true, nil
	}
	period := ph.source.Period()
	overlap := func(e Envelope) float64 {
		return math.Min(e.Bound.Max[0], b.Max[0]) - math.Max(e.Bound.Min[0], b.Min[0])
	}
	best, score := va, overlap(va)
	for _, dx := range [2]float64{-period, period} {
		if alt := va.Translate(dx, 0); overlap(alt) > score {
			best, score = alt, overlap(alt)
		}
	}
	return best, true, nil
}

// intersectValidArea clips a query envelope against the valid area and,
// on a periodic source, against its period aliases. A valid band that
// reaches past the canonical seam otherwise loses the normalized far
// side of the viewport. The raw-position piece, when any, comes first;
// alias pieces already covered by an earlier one are dropped.
func (ph *ProjectionHandler) intersectValidArea(q, va Envelope) []Envelope {
	var out []Envelope
	if clipped, ok := q.Intersection(va); ok {
		out = append(out, clipped)
	}
	if !ph.source.Periodic() {
		return out
	}
	period := ph.source.Period()
	for _, dx := range [2]float64{-period, period} {
		clipped, ok := q.Intersection(va.Translate(dx, 0))
		if !ok {
			continue
		}
		covered := false
		for _, e := range out {
			if e.Contains(clipped) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, clipped)
		}
	}
	return out
}

// QueryEnvelopes returns the envelopes to query the data source with, in
// source coordinates. The first one always covers the rendering envelope
// itself; the rest are seam-alias pieces of the valid area followed by
// periodic aliases clipped to the canonical world. An empty result means
// nothing can be drawn.
func (ph *ProjectionHandler) QueryEnvelopes() ([]Envelope, error) {
	q, err := ph.renderingEnvelope.Transform(ph.source)
	if err != nil {
		return nil, err
	}
	out := []Envelope{q}
	if va, ok, err := ph.validAreaInSource(); err != nil {
		return nil, err
	} else if ok {
		out = ph.intersectValidArea(q, va)
		if len(out) == 0 {
			return nil, nil
		}
		q = out[0]
	}
	if !ph.queryWrap {
		return out, nil
	}
	period := ph.source.Period()
	wmin, wmax := ph.source.PeriodRange()
	if q.Width() >= period {
		return []Envelope{NewEnvelope(wmin, q.Bound.Min[1], wmax, q.Bound.Max[1], ph.source)}, nil
	}
	world := NewEnvelope(wmin, math.Inf(-1), wmax, math.Inf(1), ph.source)
	for k := 1; k <= ph.wrapLimit; k++ {
		found := false
		for _, dx := range [2]float64{float64(k) * period, -float64(k) * period} {
			if alias, ok := q.Translate(dx, 0).Intersection(world); ok {
				out = append(out, alias)
				found = true
			}
		}
		if !found {
			break
		}
	}
	return out, nil
}

// RequiresProcessing reports whether g needs PreProcess or PostProcess at
// all, so unaffected geometries can skip both.
func (ph *ProjectionHandler) RequiresProcessing(g orb.Geometry) bool {
	if ph.queryWrap || ph.postWrap {
		return true
	}
	if ph.validArea == nil || g == nil {
		return false
	}
	va, ok, err := ph.effectiveValidArea(g.Bound())
	if err != nil || !ok {
		return true
	}
	return !va.ContainsBound(g.Bound())
}

// PreProcess cuts a source geometry down to the valid area of the target
// projection. It returns nil when nothing survives, and the input
// unchanged when no cutting is needed. Feeding the result back in returns
// it unchanged.
func (ph *ProjectionHandler) PreProcess(g orb.Geometry) (orb.Geometry, error) {
	if geometryEmpty(g) {
		return nil, fmt.Errorf("geowarp: empty geometry")
	}
	b := g.Bound()
	va, ok, err := ph.effectiveValidArea(b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return g, nil
	}
	if va.ContainsBound(b) {
		return g, nil
	}
	if !va.Intersects(Envelope{Bound: b, CRS: ph.source}) {
		return nil, nil
	}
	clipped := clip.Geometry(va.Bound, g)
	if geometryEmpty(clipped) {
		return nil, nil
	}
	return clipped, nil
}

// PostProcess heals a reprojected geometry around the periodic seam and
// duplicates it into every world copy the rendering envelope shows.
// inverse maps target coordinates back to source coordinates; it may be
// nil, in which case ambiguous seam jumps are left alone.
func (ph *ProjectionHandler) PostProcess(inverse Transform, g orb.Geometry) (orb.Geometry, error) {
	if geometryEmpty(g) {
		return nil, fmt.Errorf("geowarp: empty geometry")
	}
	if !ph.postWrap {
		return g, nil
	}
	period := ph.target.Period()
	half := period / 2
	env := g.Bound()
	// A viewport inside a single world cannot need copies, so a geometry
	// that fits it and stays clear of the seam passes through untouched.
	if ph.renderingEnvelope.Width() <= period &&
		env.Max[0]-env.Min[0] < half && ph.renderingEnvelope.ContainsBound(env) {
		return g, nil
	}
	if env.Max[0]-env.Min[0] > half {
		if unwrapped, ok := ph.unwrapSeam(g, inverse); ok {
			g = unwrapped
			env = g.Bound()
		}
	}
	if ph.target.IsGeographic() {
		g = snapLatitudes(g, -90, 90, period*1e-8)
	}
	return ph.duplicate(g, env), nil
}

// duplicate emits one copy of g per world the rendering envelope touches,
// nearest copies first, capped at 2*wrapLimit+1 parts. Copies are clipped
// to the rendering envelope whenever more than one survives.
func (ph *ProjectionHandler) duplicate(g orb.Geometry, env orb.Bound) orb.Geometry {
	period := ph.target.Period()
	re := ph.renderingEnvelope.Bound
	var offsets []float64
	add := func(k int) bool {
		dx := float64(k) * period
		if env.Min[0]+dx < re.Max[0] && env.Max[0]+dx > re.Min[0] {
			offsets = append(offsets, dx)
			return true
		}
		return false
	}
	add(0)
	for k := 1; k <= ph.wrapLimit && len(offsets) < 2*ph.wrapLimit+1; k++ {
		neg := add(-k)
		var pos bool
		if len(offsets) < 2*ph.wrapLimit+1 {
			pos = add(k)
		}
		if !neg && !pos {
			break
		}
	}
	switch len(offsets) {
	case 0:
		return g
	case 1:
		if offsets[0] == 0 {
			return g
		}
		return translateGeometry(g, offsets[0])
	}
	parts := make([]orb.Geometry, 0, len(offsets))
	for _, dx := range offsets {
		dup := translateGeometry(g, dx)
		clipped := clip.Geometry(re, dup)
		if !geometryEmpty(clipped) {
			parts = append(parts, clipped)
		}
	}
	switch len(parts) {
	case 0:
		return g
	case 1:
		return parts[0]
	}
	return combineParts(parts)
}

// RenderingTransform wraps the source-to-target transform with the period
// shift that brings canonical-world data into a rendering envelope drawn
// outside it. base may be nil when source and target coincide.
func (ph *ProjectionHandler) RenderingTransform(base Transform) Transform {
	if base == nil {
		base = IdentityTransform()
	}
	if !ph.postWrap {
		return base
	}
	wmin, wmax := ph.target.PeriodRange()
	center := ph.renderingEnvelope.CenterX()
	if center >= wmin && center <= wmax {
		return base
	}
	period := ph.target.Period()
	offset := period * math.Round((center-(wmin+wmax)/2)/period)
	return OffsetTransform(base, offset)
}
