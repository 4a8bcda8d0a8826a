package geowarp

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/valyala/fasthttp"
)

// GeoTIFF keys carried in the GeoKeyDirectory tag.
const (
	geoKeyModelType      = 1024
	geoKeyGeographicType = 2048
	geoKeyProjectedType  = 3072
)

// overviewLevel is one resolution of the pyramid. All levels share the
// dataset envelope; only the pixel grid changes.
type overviewLevel struct {
	dir    *tiffDir
	width  int
	height int
	resX   float64
	resY   float64
}

// GeoTIFFSource reads coverages out of a GeoTIFF, local or remote. The
// base image and any overview directories become resolution levels, so
// the reader machinery can pick the cheapest one for a request.
type GeoTIFFSource struct {
	mu     sync.Mutex
	r      io.ReadSeeker
	closer io.Closer

	crs         *CRS
	bounds      orb.Bound
	order       binary.ByteOrder
	photometric uint64
	sample      SampleType
	bandCount   int
	levels      []overviewLevel
}

// OpenGeoTIFF opens a GeoTIFF at a local path or an http(s) URL. Remote
// files are read through ranged requests on the given client; pass nil
// to use a default client.
func OpenGeoTIFF(pathOrURL string, client *fasthttp.Client) (*GeoTIFFSource, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		rr, err := NewRangeReader(pathOrURL, client)
		if err != nil {
			return nil, err
		}
		return NewGeoTIFFSource(rr)
	}
	f, err := os.Open(pathOrURL)
	if err != nil {
		return nil, err
	}
	src, err := NewGeoTIFFSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewGeoTIFFSource parses the directory structure and georeferencing of
// an already-open TIFF.
func NewGeoTIFFSource(r io.ReadSeeker) (*GeoTIFFSource, error) {
	dirs, err := parseTIFF(r)
	if err != nil {
		return nil, err
	}
	base := dirs[0]
	width, height := base.imageWidth(), base.imageHeight()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("geowarp: base image has no dimensions")
	}

	bounds, err := georeference(base, width, height)
	if err != nil {
		return nil, err
	}

	src := &GeoTIFFSource{
		r:           r,
		crs:         crsFromGeoKeys(base),
		bounds:      bounds,
		order:       base.order,
		photometric: base.uintVal(tagPhotometric, 1),
		sample:      base.sampleType(),
		bandCount:   base.bands(),
	}
	for _, d := range dirs {
		w, h := d.imageWidth(), d.imageHeight()
		if w <= 0 || h <= 0 {
			continue
		}
		src.levels = append(src.levels, overviewLevel{
			dir:    d,
			width:  w,
			height: h,
			resX:   (bounds.Max[0] - bounds.Min[0]) / float64(w),
			resY:   (bounds.Max[1] - bounds.Min[1]) / float64(h),
		})
	}
	return src, nil
}

// Close releases the underlying file, if the source owns one.
func (s *GeoTIFFSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// georeference derives the world extent from the pixel scale and tiepoint
// tags. Only the north-up affine without rotation is supported.
func georeference(d *tiffDir, width, height int) (orb.Bound, error) {
	scale := d.floatSlice(tagModelPixelScale)
	tie := d.floatSlice(tagModelTiepoint)
	if len(scale) < 2 || len(tie) < 6 {
		return orb.Bound{}, fmt.Errorf("geowarp: missing georeferencing tags")
	}
	sx, sy := scale[0], scale[1]
	if sx <= 0 || sy <= 0 {
		return orb.Bound{}, fmt.Errorf("geowarp: invalid pixel scale %v,%v", sx, sy)
	}
	originX := tie[3] - tie[0]*sx
	originY := tie[4] + tie[1]*sy
	return orb.Bound{
		Min: orb.Point{originX, originY - float64(height)*sy},
		Max: orb.Point{originX + float64(width)*sx, originY},
	}, nil
}

// crsFromGeoKeys resolves the coordinate system from the GeoKeyDirectory.
// Codes outside the registry still open, as generic systems without a
// transform path.
func crsFromGeoKeys(d *tiffDir) *CRS {
	keys := d.uintSlice(tagGeoKeyDirectory)
	if len(keys) < 4 {
		return NewGenericCRS(0)
	}
	numKeys := int(keys[3])
	var projected, geographic int
	for i := 0; i < numKeys && 4+i*4+3 < len(keys); i++ {
		entry := keys[4+i*4 : 4+i*4+4]
		if entry[1] != 0 {
			continue
		}
		switch entry[0] {
		case geoKeyProjectedType:
			projected = int(entry[3])
		case geoKeyGeographicType:
			geographic = int(entry[3])
		}
	}
	code := projected
	// 32767 marks a user-defined projection.
	if code == 0 || code == 32767 {
		code = geographic
	}
	if code == 0 || code == 32767 {
		return NewGenericCRS(code)
	}
	crs, err := ResolveCRS(code)
	if err != nil {
		return NewGenericCRS(code)
	}
	return crs
}

// CRS returns the system the raster is stored in.
func (s *GeoTIFFSource) CRS() *CRS { return s.crs }

// OriginalEnvelope returns the full dataset extent.
func (s *GeoTIFFSource) OriginalEnvelope() Envelope {
	return Envelope{Bound: s.bounds, CRS: s.crs}
}

// ResolutionLevels lists the pyramid resolutions, finest first.
func (s *GeoTIFFSource) ResolutionLevels() [][2]float64 {
	out := make([][2]float64, len(s.levels))
	for i, lv := range s.levels {
		out[i] = [2]float64{lv.resX, lv.resY}
	}
	return out
}

// Read returns the raster data overlapping the grid geometry, decoded
// from the coarsest overview that still satisfies the requested
// resolution. Returns (nil, nil) when the request misses the dataset.
func (s *GeoTIFFSource) Read(gg GridGeometry) (*Coverage, error) {
	full := Envelope{Bound: s.bounds, CRS: s.crs}
	isect, ok := gg.Envelope.Intersection(full)
	if !ok {
		return nil, nil
	}
	lv := s.pickLevel(gg)

	x0 := int(math.Floor((isect.Bound.Min[0] - s.bounds.Min[0]) / lv.resX))
	x1 := int(math.Ceil((isect.Bound.Max[0] - s.bounds.Min[0]) / lv.resX))
	y0 := int(math.Floor((s.bounds.Max[1] - isect.Bound.Max[1]) / lv.resY))
	y1 := int(math.Ceil((s.bounds.Max[1] - isect.Bound.Min[1]) / lv.resY))
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, lv.width), min(y1, lv.height)
	rect := Rectangle{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	if rect.IsEmpty() {
		return nil, nil
	}

	s.mu.Lock()
	raw, err := readTIFFRegion(s.r, lv.dir, rect)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	data := decodeSamples(raw, rect.Width, rect.Height, s.bandCount, s.sample, s.order, s.photometric)

	return &Coverage{
		Data:   data,
		Width:  rect.Width,
		Height: rect.Height,
		Bands:  s.bandCount,
		Bounds: orb.Bound{
			Min: orb.Point{s.bounds.Min[0] + float64(x0)*lv.resX, s.bounds.Max[1] - float64(y1)*lv.resY},
			Max: orb.Point{s.bounds.Min[0] + float64(x1)*lv.resX, s.bounds.Max[1] - float64(y0)*lv.resY},
		},
		CRS: s.crs,
	}, nil
}

// pickLevel chooses the coarsest overview whose resolution still meets
// the request. Levels are stored finest first.
func (s *GeoTIFFSource) pickLevel(gg GridGeometry) overviewLevel {
	want, _ := gg.Resolution()
	best := s.levels[0]
	for _, lv := range s.levels[1:] {
		if lv.resX <= want {
			best = lv
		}
	}
	return best
}
