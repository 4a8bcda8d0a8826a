package geowarp

import (
	"math"

	"github.com/paulmach/orb"
)

// Coverage is a georeferenced raster. Samples are stored as a flat array
// in band-interleaved-by-pixel order:
// index = y * Width * Bands + x * Bands + band
type Coverage struct {
	Data   []uint64
	Width  int
	Height int
	Bands  int
	Bounds orb.Bound
	CRS    *CRS
}

// At returns the sample at (band, x, y), or 0 outside the raster.
func (c *Coverage) At(band, x, y int) uint64 {
	if band < 0 || band >= c.Bands || x < 0 || x >= c.Width || y < 0 || y >= c.Height {
		return 0
	}
	return c.Data[y*c.Width*c.Bands+x*c.Bands+band]
}

// Set stores a sample at (band, x, y). Out-of-range coordinates are ignored.
func (c *Coverage) Set(band, x, y int, value uint64) {
	if band < 0 || band >= c.Bands || x < 0 || x >= c.Width || y < 0 || y >= c.Height {
		return
	}
	c.Data[y*c.Width*c.Bands+x*c.Bands+band] = value
}

// Index returns the flat array index for (band, x, y).
func (c *Coverage) Index(band, x, y int) int {
	return y*c.Width*c.Bands + x*c.Bands + band
}

// Envelope returns the georeferenced extent.
func (c *Coverage) Envelope() Envelope {
	return Envelope{Bound: c.Bounds, CRS: c.CRS}
}

// Resolution returns world units per pixel on each axis.
func (c *Coverage) Resolution() (float64, float64) {
	if c.Width == 0 || c.Height == 0 {
		return 0, 0
	}
	return (c.Bounds.Max[0] - c.Bounds.Min[0]) / float64(c.Width),
		(c.Bounds.Max[1] - c.Bounds.Min[1]) / float64(c.Height)
}

// Crop returns the pixel-aligned portion of the coverage inside env, or
// nil when they do not overlap. Pixels are copied, never shared.
func (c *Coverage) Crop(env Envelope) *Coverage {
	rx, ry := c.Resolution()
	if rx == 0 || ry == 0 {
		return nil
	}
	x0 := int(math.Floor((env.Bound.Min[0] - c.Bounds.Min[0]) / rx))
	x1 := int(math.Ceil((env.Bound.Max[0] - c.Bounds.Min[0]) / rx))
	y0 := int(math.Floor((c.Bounds.Max[1] - env.Bound.Max[1]) / ry))
	y1 := int(math.Ceil((c.Bounds.Max[1] - env.Bound.Min[1]) / ry))
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, c.Width), min(y1, c.Height)
	w, h := x1-x0, y1-y0
	if w <= 0 || h <= 0 {
		return nil
	}
	data := make([]uint64, w*h*c.Bands)
	for row := 0; row < h; row++ {
		src := ((y0+row)*c.Width + x0) * c.Bands
		dst := row * w * c.Bands
		copy(data[dst:dst+w*c.Bands], c.Data[src:src+w*c.Bands])
	}
	return &Coverage{
		Data:   data,
		Width:  w,
		Height: h,
		Bands:  c.Bands,
		Bounds: orb.Bound{
			Min: orb.Point{c.Bounds.Min[0] + float64(x0)*rx, c.Bounds.Max[1] - float64(y1)*ry},
			Max: orb.Point{c.Bounds.Min[0] + float64(x1)*rx, c.Bounds.Max[1] - float64(y0)*ry},
		},
		CRS: c.CRS,
	}
}

// Source supplies coverages for a single dataset.
type Source interface {
	// Read returns the data overlapping the grid geometry, or (nil, nil)
	// when the dataset holds nothing there.
	Read(gg GridGeometry) (*Coverage, error)
	// ResolutionLevels lists the available (x, y) resolutions, finest
	// first. May be empty when the source has a single implicit level.
	ResolutionLevels() [][2]float64
	// OriginalEnvelope returns the full extent of the dataset.
	OriginalEnvelope() Envelope
	// CRS returns the system the data is stored in.
	CRS() *CRS
}

// MemorySource serves a coverage held in memory. It is the simplest
// Source and doubles as the test double for the reader machinery.
type MemorySource struct {
	cov *Coverage
}

// NewMemorySource wraps an in-memory coverage.
func NewMemorySource(c *Coverage) *MemorySource {
	return &MemorySource{cov: c}
}

func (s *MemorySource) CRS() *CRS { return s.cov.CRS }

func (s *MemorySource) OriginalEnvelope() Envelope { return s.cov.Envelope() }

func (s *MemorySource) ResolutionLevels() [][2]float64 {
	rx, ry := s.cov.Resolution()
	return [][2]float64{{rx, ry}}
}

func (s *MemorySource) Read(gg GridGeometry) (*Coverage, error) {
	isect, ok := gg.Envelope.Intersection(s.cov.Envelope())
	if !ok {
		return nil, nil
	}
	return s.cov.Crop(isect), nil
}
