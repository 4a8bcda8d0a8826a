package geowarp

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
)

// DefaultReadGutter is the padding, in pixels, added around reads that
// will be reprojected or interpolated. Resampling kernels need source
// pixels past the requested edge.
const DefaultReadGutter = 10

// Interpolation selects the resampling kernel the renderer will apply to
// the data after it is read.
type Interpolation int

const (
	InterpolationNearest Interpolation = iota
	InterpolationBilinear
	InterpolationBicubic
)

// CoverageReader reads the coverages needed to fill one map request. It
// turns the projection handler's query envelopes into padded pixel reads
// against a Source and cuts the results down to what the target
// projection can display.
type CoverageReader struct {
	source  Source
	grid    GridGeometry
	sameCRS bool
	padding bool
	log     *zap.Logger
}

// NewCoverageReader sets up reads for a map request covering mapExtent
// rendered onto rasterArea pixels. Reads are padded whenever the source
// must be reprojected or interp is not nearest-neighbor.
func NewCoverageReader(source Source, rasterArea Rectangle, mapExtent Envelope, interp Interpolation) (*CoverageReader, error) {
	if source == nil {
		return nil, fmt.Errorf("geowarp: nil source")
	}
	if mapExtent.CRS == nil {
		return nil, fmt.Errorf("geowarp: map extent has no CRS")
	}
	if rasterArea.IsEmpty() {
		return nil, fmt.Errorf("geowarp: empty raster area")
	}
	sameCRS := mapExtent.CRS.Equal(source.CRS())
	return &CoverageReader{
		source:  source,
		grid:    NewGridGeometry(rasterArea, mapExtent),
		sameCRS: sameCRS,
		padding: !sameCRS || interp != InterpolationNearest,
		log:     zap.NewNop(),
	}, nil
}

// SetLogger routes diagnostics to l instead of discarding them.
func (cr *CoverageReader) SetLogger(l *zap.Logger) {
	if l != nil {
		cr.log = l
	}
}

// ReadEnvelope returns the envelope a plain read will cover, padding
// included.
func (cr *CoverageReader) ReadEnvelope() Envelope {
	return cr.paddedGrid().Envelope
}

func (cr *CoverageReader) paddedGrid() GridGeometry {
	if cr.padding {
		return cr.grid.WithGutter(DefaultReadGutter)
	}
	return cr.grid
}

// ReadCoverage reads the full map extent in one go, ignoring projection
// handling. It returns nil when the source has no data there.
func (cr *CoverageReader) ReadCoverage() (*Coverage, error) {
	return cr.readSingle(cr.paddedGrid())
}

// ReadCoverages reads one coverage per query envelope of the handler and
// crops each to the area the target projection can display. A nil
// handler degrades to a single plain read.
func (cr *CoverageReader) ReadCoverages(handler *ProjectionHandler) ([]*Coverage, error) {
	if handler == nil {
		cov, err := cr.ReadCoverage()
		if err != nil || cov == nil {
			return nil, err
		}
		return []*Coverage{cov}, nil
	}
	envs, err := handler.QueryEnvelopes()
	if err != nil {
		return nil, err
	}
	var out []*Coverage
	for _, env := range envs {
		pieces, err := cr.readEnvelope(env, handler)
		if err != nil {
			return nil, err
		}
		out = append(out, pieces...)
	}
	return out, nil
}

// ReadCoveragesConcurrent is ReadCoverages with the per-envelope reads
// fanned out over workers goroutines. Results keep envelope order.
func (cr *CoverageReader) ReadCoveragesConcurrent(handler *ProjectionHandler, workers int) ([]*Coverage, error) {
	if handler == nil || workers <= 1 {
		return cr.ReadCoverages(handler)
	}
	envs, err := handler.QueryEnvelopes()
	if err != nil {
		return nil, err
	}
	if len(envs) < 2 {
		return cr.ReadCoverages(handler)
	}
	if workers > len(envs) {
		workers = len(envs)
	}
	results := make([][]*Coverage, len(envs))
	errs := make([]error, len(envs))
	jobs := make(chan int, len(envs))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], errs[i] = cr.readEnvelope(envs[i], handler)
			}
		}()
	}
	for i := range envs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	var out []*Coverage
	for i := range envs {
		if errs[i] != nil {
			return nil, errs[i]
		}
		out = append(out, results[i]...)
	}
	return out, nil
}

func (cr *CoverageReader) readEnvelope(env Envelope, handler *ProjectionHandler) ([]*Coverage, error) {
	rg, ok, err := cr.readingGeometry(env, handler)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if cr.padding {
		rg = rg.WithGutter(DefaultReadGutter)
	}
	cov, err := cr.readSingle(rg)
	if err != nil || cov == nil {
		return nil, err
	}
	return cr.cropToValidArea(cov, rg, handler)
}

// readingGeometry sizes the pixel read for one query envelope. When the
// map and the source share a CRS the envelope slices the request grid
// directly; otherwise the read is sized from the source's own resolution.
func (cr *CoverageReader) readingGeometry(env Envelope, handler *ProjectionHandler) (GridGeometry, bool, error) {
	if cr.sameCRS {
		return cr.grid.SliceForEnvelope(env), true, nil
	}
	reduced, ok, err := cr.reduceEnvelope(env, handler)
	if err != nil || !ok {
		return GridGeometry{}, false, err
	}
	rx, ry := cr.sourceResolution(reduced)
	if rx <= 0 || ry <= 0 {
		return GridGeometry{}, false, nil
	}
	w := int(math.Ceil(reduced.Width() / rx))
	h := int(math.Ceil(reduced.Height() / ry))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return NewGridGeometry(Rectangle{Width: w, Height: h}, reduced), true, nil
}

// reduceEnvelope shrinks a query envelope to the part the handler's valid
// area keeps, taking the largest surviving polygon when the clip splits it.
func (cr *CoverageReader) reduceEnvelope(env Envelope, handler *ProjectionHandler) (Envelope, bool, error) {
	pre, err := handler.PreProcess(env.Polygon())
	if err != nil {
		return Envelope{}, false, err
	}
	if geometryEmpty(pre) {
		return Envelope{}, false, nil
	}
	p, ok := largestPolygon(pre)
	if !ok {
		return Envelope{}, false, nil
	}
	return Envelope{Bound: p.Bound(), CRS: env.CRS}, true, nil
}

func (cr *CoverageReader) sourceResolution(env Envelope) (float64, float64) {
	if levels := cr.source.ResolutionLevels(); len(levels) > 0 {
		return levels[0][0], levels[0][1]
	}
	// No declared levels: spread the request grid over the envelope.
	return env.Width() / float64(cr.grid.Range.Width),
		env.Height() / float64(cr.grid.Range.Height)
}

// readSingle performs one read, first rejecting requests that cannot
// overlap the dataset at all. The rejection test reprojects both extents
// to lon/lat; if that fails the read proceeds anyway, since a failed
// comparison is no proof of a miss.
func (cr *CoverageReader) readSingle(gg GridGeometry) (*Coverage, error) {
	if !cr.intersectsData(gg) {
		return nil, nil
	}
	return cr.source.Read(gg)
}

func (cr *CoverageReader) intersectsData(gg GridGeometry) bool {
	orig := cr.source.OriginalEnvelope()
	if orig.IsEmpty() || orig.CRS == nil {
		return true
	}
	if orig.CRS.Equal(gg.Envelope.CRS) {
		return orig.Intersects(gg.Envelope)
	}
	world := MustResolveCRS(4326)
	a, err := orig.Transform(world)
	if err != nil {
		cr.log.Warn("cannot compare data and request extents, reading anyway", zap.Error(err))
		return true
	}
	b, err := gg.Envelope.Transform(world)
	if err != nil {
		cr.log.Warn("cannot compare data and request extents, reading anyway", zap.Error(err))
		return true
	}
	return a.Intersects(b)
}

// cropToValidArea cuts a read coverage down to the handler's valid area.
// A footprint untouched by PreProcess is kept whole, trimmed only to the
// reading envelope; a cut footprint yields one piece per surviving
// polygon.
func (cr *CoverageReader) cropToValidArea(cov *Coverage, rg GridGeometry, handler *ProjectionHandler) ([]*Coverage, error) {
	footprint := cov.Envelope()
	pre, err := handler.PreProcess(footprint.Polygon())
	if err != nil {
		return nil, err
	}
	if geometryEmpty(pre) {
		return nil, nil
	}
	tol := 1e-9 * math.Max(footprint.Width(), footprint.Height())
	if footprint.Equal(Envelope{Bound: pre.Bound(), CRS: footprint.CRS}, tol) {
		if rg.Envelope.Contains(footprint) {
			return []*Coverage{cov}, nil
		}
		isect, ok := rg.Envelope.Intersection(footprint)
		if !ok {
			return nil, nil
		}
		if cropped := cov.Crop(isect); cropped != nil {
			return []*Coverage{cropped}, nil
		}
		return nil, nil
	}
	var out []*Coverage
	for _, p := range extractPolygons(pre) {
		pieceEnv, ok := rg.Envelope.Intersection(Envelope{Bound: p.Bound(), CRS: footprint.CRS})
		if !ok {
			continue
		}
		if cropped := cov.Crop(pieceEnv); cropped != nil {
			out = append(out, cropped)
		}
	}
	return out, nil
}
