package geowarp

import (
	"testing"
)

// worldCoverage builds a 36x18 one-band raster covering the whole globe
// at ten degrees per pixel, each sample holding its own index.
func worldCoverage(crs *CRS) *Coverage {
	c := &Coverage{
		Data:   make([]uint64, 36*18),
		Width:  36,
		Height: 18,
		Bands:  1,
		Bounds: geoEnv(-180, -90, 180, 90).Bound,
		CRS:    crs,
	}
	for i := range c.Data {
		c.Data[i] = uint64(i)
	}
	return c
}

func TestCoverageCrop(t *testing.T) {
	geo := MustResolveCRS(4326)
	cov := worldCoverage(geo)
	crop := cov.Crop(geoEnv(0, 0, 40, 40))
	if crop == nil {
		t.Fatal("crop inside the raster returned nil")
	}
	if crop.Width != 4 || crop.Height != 4 {
		t.Fatalf("crop dims %dx%d, want 4x4", crop.Width, crop.Height)
	}
	if crop.Bounds != geoEnv(0, 0, 40, 40).Bound {
		t.Errorf("crop bounds = %v", crop.Bounds)
	}
	// Top-left of the crop is pixel (18, 5) of the source.
	if got := crop.At(0, 0, 0); got != 5*36+18 {
		t.Errorf("sample = %d, want %d", got, 5*36+18)
	}

	if cov.Crop(geoEnv(500, 500, 600, 600)) != nil {
		t.Error("crop outside the raster should return nil")
	}
}

func TestCoverageAtOutOfRange(t *testing.T) {
	cov := worldCoverage(MustResolveCRS(4326))
	if cov.At(0, -1, 0) != 0 || cov.At(0, 36, 0) != 0 || cov.At(1, 0, 0) != 0 {
		t.Error("out-of-range samples must read as zero")
	}
}

func TestMemorySourceMiss(t *testing.T) {
	src := NewMemorySource(worldCoverage(MustResolveCRS(4326)))
	gg := NewGridGeometry(Rectangle{Width: 4, Height: 4}, geoEnv(500, 500, 600, 600))
	cov, err := src.Read(gg)
	if err != nil {
		t.Fatal(err)
	}
	if cov != nil {
		t.Errorf("read outside the data returned %v", cov)
	}
}

func TestGridGeometry(t *testing.T) {
	geo := MustResolveCRS(4326)
	gg := NewGridGeometry(Rectangle{Width: 36, Height: 18}, geoEnv(-180, -90, 180, 90))
	rx, ry := gg.Resolution()
	if rx != 10 || ry != 10 {
		t.Fatalf("resolution = %v, %v, want 10, 10", rx, ry)
	}

	x, y := gg.WorldToGrid(-180, 90)
	if x != 0 || y != 0 {
		t.Errorf("top-left maps to (%v, %v), want (0, 0)", x, y)
	}
	x, y = gg.WorldToGrid(180, -90)
	if x != 36 || y != 18 {
		t.Errorf("bottom-right maps to (%v, %v), want (36, 18)", x, y)
	}

	wx, wy := gg.GridToWorld(18, 9)
	if wx != 0 || wy != 0 {
		t.Errorf("grid center maps to (%v, %v), want (0, 0)", wx, wy)
	}

	slice := gg.SliceForEnvelope(NewEnvelope(-5, -5, 5, 5, geo))
	if slice.Range.X != 17 || slice.Range.Y != 8 || slice.Range.Width != 2 || slice.Range.Height != 2 {
		t.Errorf("slice range = %+v", slice.Range)
	}
	// The envelope is re-derived from the snapped pixels.
	if !slice.Envelope.Equal(NewEnvelope(-10, -10, 10, 10, geo), 1e-9) {
		t.Errorf("slice envelope = %v", slice.Envelope)
	}

	padded := gg.WithGutter(2)
	if padded.Range.X != -2 || padded.Range.Width != 40 {
		t.Errorf("padded range = %+v", padded.Range)
	}
	if !padded.Envelope.Equal(NewEnvelope(-200, -110, 200, 110, geo), 1e-9) {
		t.Errorf("padded envelope = %v", padded.Envelope)
	}
}

func TestReadCoverageSameCRS(t *testing.T) {
	geo := MustResolveCRS(4326)
	src := NewMemorySource(worldCoverage(geo))
	reader, err := NewCoverageReader(src, Rectangle{Width: 36, Height: 18},
		geoEnv(-180, -90, 180, 90), InterpolationNearest)
	if err != nil {
		t.Fatal(err)
	}
	cov, err := reader.ReadCoverage()
	if err != nil {
		t.Fatal(err)
	}
	if cov == nil || cov.Width != 36 || cov.Height != 18 {
		t.Fatalf("got %+v, want the full raster", cov)
	}
}

func TestReadEnvelopePadding(t *testing.T) {
	geo := MustResolveCRS(4326)
	src := NewMemorySource(worldCoverage(geo))

	// Same CRS with nearest neighbor needs no gutter.
	plain, err := NewCoverageReader(src, Rectangle{Width: 36, Height: 18},
		NewEnvelope(0, 0, 36, 18, geo), InterpolationNearest)
	if err != nil {
		t.Fatal(err)
	}
	if !plain.ReadEnvelope().Equal(NewEnvelope(0, 0, 36, 18, geo), 1e-9) {
		t.Errorf("unpadded read envelope = %v", plain.ReadEnvelope())
	}

	// Bilinear kernels reach past the edge, so the read grows.
	padded, err := NewCoverageReader(src, Rectangle{Width: 36, Height: 18},
		NewEnvelope(0, 0, 36, 18, geo), InterpolationBilinear)
	if err != nil {
		t.Fatal(err)
	}
	want := NewEnvelope(-DefaultReadGutter, -DefaultReadGutter,
		36+DefaultReadGutter, 18+DefaultReadGutter, geo)
	if !padded.ReadEnvelope().Equal(want, 1e-9) {
		t.Errorf("padded read envelope = %v, want %v", padded.ReadEnvelope(), want)
	}
}

func TestReadCoveragesDateline(t *testing.T) {
	geo := MustResolveCRS(4326)
	src := NewMemorySource(worldCoverage(geo))
	env := geoEnv(170, -10, 190, 10)
	reader, err := NewCoverageReader(src, Rectangle{Width: 20, Height: 20}, env, InterpolationNearest)
	if err != nil {
		t.Fatal(err)
	}
	handler := mustHandler(t, env, geo, true)

	covs, err := reader.ReadCoverages(handler)
	if err != nil {
		t.Fatal(err)
	}
	if len(covs) != 2 {
		t.Fatalf("got %d coverages, want one per side of the dateline", len(covs))
	}
	for i, c := range covs {
		if c.Width != 1 || c.Height != 2 {
			t.Errorf("coverage %d is %dx%d, want 1x2", i, c.Width, c.Height)
		}
	}
	// The eastern strip first, then its alias on the western edge.
	if covs[0].Bounds.Min[0] != 170 {
		t.Errorf("first coverage starts at %v, want 170", covs[0].Bounds.Min[0])
	}
	if covs[1].Bounds.Max[0] != -170 {
		t.Errorf("second coverage ends at %v, want -170", covs[1].Bounds.Max[0])
	}
}

func TestReadCoveragesConcurrent(t *testing.T) {
	geo := MustResolveCRS(4326)
	src := NewMemorySource(worldCoverage(geo))
	env := geoEnv(170, -10, 190, 10)
	reader, err := NewCoverageReader(src, Rectangle{Width: 20, Height: 20}, env, InterpolationNearest)
	if err != nil {
		t.Fatal(err)
	}
	handler := mustHandler(t, env, geo, true)

	seq, err := reader.ReadCoverages(handler)
	if err != nil {
		t.Fatal(err)
	}
	par, err := reader.ReadCoveragesConcurrent(handler, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(par) != len(seq) {
		t.Fatalf("concurrent read returned %d coverages, sequential %d", len(par), len(seq))
	}
	for i := range par {
		if par[i].Bounds != seq[i].Bounds {
			t.Errorf("coverage %d bounds differ: %v vs %v", i, par[i].Bounds, seq[i].Bounds)
		}
	}
}

func TestReadCoveragesNilHandler(t *testing.T) {
	geo := MustResolveCRS(4326)
	src := NewMemorySource(worldCoverage(geo))
	reader, err := NewCoverageReader(src, Rectangle{Width: 36, Height: 18},
		geoEnv(-180, -90, 180, 90), InterpolationNearest)
	if err != nil {
		t.Fatal(err)
	}
	covs, err := reader.ReadCoverages(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(covs) != 1 {
		t.Fatalf("got %d coverages, want 1 plain read", len(covs))
	}
}

func TestReadCoveragesOutsideData(t *testing.T) {
	geo := MustResolveCRS(4326)
	small := &Coverage{
		Data:   make([]uint64, 16),
		Width:  4,
		Height: 4,
		Bands:  1,
		Bounds: geoEnv(0, 0, 4, 4).Bound,
		CRS:    geo,
	}
	src := NewMemorySource(small)
	env := geoEnv(100, 50, 120, 60)
	reader, err := NewCoverageReader(src, Rectangle{Width: 10, Height: 10}, env, InterpolationNearest)
	if err != nil {
		t.Fatal(err)
	}
	handler := mustHandler(t, env, geo, true)
	covs, err := reader.ReadCoverages(handler)
	if err != nil {
		t.Fatal(err)
	}
	if len(covs) != 0 {
		t.Fatalf("got %d coverages for a miss, want 0", len(covs))
	}
}

// Reading geographic data for a Mercator map exercises the cross-CRS
// path: the query envelope is restated in the source system, sized from
// the source resolution, and cut to the projectable latitudes.
func TestReadCoveragesReprojected(t *testing.T) {
	geo := MustResolveCRS(4326)
	merc := MustResolveCRS(3857)
	src := NewMemorySource(worldCoverage(geo))

	worldMin, worldMax := merc.PeriodRange()
	env := NewEnvelope(worldMin, worldMin, worldMax, worldMax, merc)
	reader, err := NewCoverageReader(src, Rectangle{Width: 64, Height: 64}, env, InterpolationNearest)
	if err != nil {
		t.Fatal(err)
	}
	handler := mustHandler(t, env, geo, false)

	covs, err := reader.ReadCoverages(handler)
	if err != nil {
		t.Fatal(err)
	}
	if len(covs) != 1 {
		t.Fatalf("got %d coverages, want 1", len(covs))
	}
	if covs[0].Width != 36 || covs[0].Height != 18 {
		t.Errorf("coverage is %dx%d, want the full 36x18 raster", covs[0].Width, covs[0].Height)
	}
}

func TestNewCoverageReaderErrors(t *testing.T) {
	geo := MustResolveCRS(4326)
	src := NewMemorySource(worldCoverage(geo))
	if _, err := NewCoverageReader(nil, Rectangle{Width: 1, Height: 1}, geoEnv(0, 0, 1, 1), InterpolationNearest); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := NewCoverageReader(src, Rectangle{}, geoEnv(0, 0, 1, 1), InterpolationNearest); err == nil {
		t.Error("expected error for empty raster area")
	}
	noCRS := Envelope{Bound: geoEnv(0, 0, 1, 1).Bound}
	if _, err := NewCoverageReader(src, Rectangle{Width: 1, Height: 1}, noCRS, InterpolationNearest); err == nil {
		t.Error("expected error for extent without a CRS")
	}
}
