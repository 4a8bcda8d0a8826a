package geowarp

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"math"
	"testing"
)

// testTIFF assembles a minimal little-endian GeoTIFF in memory.
type testTIFF struct {
	width, height int
	bits          int
	compression   int
	rowsPerStrip  int // stripped layout when > 0
	tileSize      int // tiled layout when > 0
	chunks        [][]byte
	pixelScale    []float64
	tiepoint      []float64
	geoKeys       []uint16
}

type testEntry struct {
	id, typ uint16
	data    []byte
	offset  uint32
}

func leShorts(vals ...uint16) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, vals)
	return buf.Bytes()
}

func leLongs(vals ...uint32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, vals)
	return buf.Bytes()
}

func leDoubles(vals ...float64) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, vals)
	return buf.Bytes()
}

func (tt *testTIFF) build(t *testing.T) []byte {
	t.Helper()
	entries := []testEntry{
		{id: tagImageWidth, typ: 3, data: leShorts(uint16(tt.width))},
		{id: tagImageLength, typ: 3, data: leShorts(uint16(tt.height))},
		{id: tagBitsPerSample, typ: 3, data: leShorts(uint16(tt.bits))},
		{id: tagCompression, typ: 3, data: leShorts(uint16(tt.compression))},
		{id: tagPhotometric, typ: 3, data: leShorts(1)},
		{id: tagSamplesPerPixel, typ: 3, data: leShorts(1)},
	}
	counts := make([]uint32, len(tt.chunks))
	for i, c := range tt.chunks {
		counts[i] = uint32(len(c))
	}
	var chunkOffsetEntry int
	if tt.tileSize > 0 {
		entries = append(entries,
			testEntry{id: tagTileWidth, typ: 3, data: leShorts(uint16(tt.tileSize))},
			testEntry{id: tagTileLength, typ: 3, data: leShorts(uint16(tt.tileSize))},
			testEntry{id: tagTileOffsets, typ: 4, data: leLongs(make([]uint32, len(tt.chunks))...)},
			testEntry{id: tagTileByteCounts, typ: 4, data: leLongs(counts...)},
		)
		chunkOffsetEntry = len(entries) - 2
	} else {
		entries = append(entries,
			testEntry{id: tagStripOffsets, typ: 4, data: leLongs(make([]uint32, len(tt.chunks))...)},
			testEntry{id: tagRowsPerStrip, typ: 3, data: leShorts(uint16(tt.rowsPerStrip))},
			testEntry{id: tagStripByteCounts, typ: 4, data: leLongs(counts...)},
		)
		chunkOffsetEntry = len(entries) - 3
	}
	if tt.pixelScale != nil {
		entries = append(entries, testEntry{id: tagModelPixelScale, typ: 12, data: leDoubles(tt.pixelScale...)})
	}
	if tt.tiepoint != nil {
		entries = append(entries, testEntry{id: tagModelTiepoint, typ: 12, data: leDoubles(tt.tiepoint...)})
	}
	if tt.geoKeys != nil {
		entries = append(entries, testEntry{id: tagGeoKeyDirectory, typ: 3, data: leShorts(tt.geoKeys...)})
	}

	// Lay out the out-of-line values after the IFD and the chunks last.
	cursor := uint32(8 + 2 + len(entries)*12 + 4)
	for i := range entries {
		if len(entries[i].data) > 4 {
			entries[i].offset = cursor
			cursor += uint32(len(entries[i].data))
		}
	}
	chunkOffsets := make([]uint32, len(tt.chunks))
	for i, c := range tt.chunks {
		chunkOffsets[i] = cursor
		cursor += uint32(len(c))
	}
	entries[chunkOffsetEntry].data = leLongs(chunkOffsets...)

	buf := new(bytes.Buffer)
	buf.Write([]byte{'I', 'I'})
	binary.Write(buf, binary.LittleEndian, uint16(42))
	binary.Write(buf, binary.LittleEndian, uint32(8))
	binary.Write(buf, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(buf, binary.LittleEndian, e.id)
		binary.Write(buf, binary.LittleEndian, e.typ)
		binary.Write(buf, binary.LittleEndian, uint32(len(e.data)/tiffTypeSize(e.typ)))
		if len(e.data) <= 4 {
			padded := make([]byte, 4)
			copy(padded, e.data)
			buf.Write(padded)
		} else {
			binary.Write(buf, binary.LittleEndian, e.offset)
		}
	}
	binary.Write(buf, binary.LittleEndian, uint32(0))
	for _, e := range entries {
		if len(e.data) > 4 {
			buf.Write(e.data)
		}
	}
	for _, c := range tt.chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}

// gradientStrips fills an 8-bit image with sample = y*width + x, cut
// into strips of the given height.
func gradientStrips(width, height, rowsPerStrip int) [][]byte {
	var chunks [][]byte
	for y0 := 0; y0 < height; y0 += rowsPerStrip {
		strip := make([]byte, rowsPerStrip*width)
		for r := 0; r < rowsPerStrip && y0+r < height; r++ {
			for x := 0; x < width; x++ {
				strip[r*width+x] = byte((y0+r)*width + x)
			}
		}
		chunks = append(chunks, strip)
	}
	return chunks
}

func wgs84Keys() []uint16 {
	return []uint16{1, 1, 0, 1, geoKeyGeographicType, 0, 1, 4326}
}

func basicGeoTIFF(t *testing.T) []byte {
	tt := &testTIFF{
		width: 8, height: 8, bits: 8,
		compression:  compressionNone,
		rowsPerStrip: 4,
		chunks:       gradientStrips(8, 8, 4),
		pixelScale:   []float64{1, 1, 0},
		tiepoint:     []float64{0, 0, 0, -4, 4, 0},
		geoKeys:      wgs84Keys(),
	}
	return tt.build(t)
}

func TestParseTIFF(t *testing.T) {
	dirs, err := parseTIFF(bytes.NewReader(basicGeoTIFF(t)))
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 {
		t.Fatalf("got %d directories, want 1", len(dirs))
	}
	d := dirs[0]
	if d.imageWidth() != 8 || d.imageHeight() != 8 {
		t.Errorf("dims %dx%d, want 8x8", d.imageWidth(), d.imageHeight())
	}
	if d.bands() != 1 || d.sampleType() != SampleUint8 {
		t.Errorf("bands=%d type=%v", d.bands(), d.sampleType())
	}
	if d.tiled() {
		t.Error("stripped file reported as tiled")
	}
	if scale := d.floatSlice(tagModelPixelScale); len(scale) != 3 || scale[0] != 1 {
		t.Errorf("pixel scale = %v", scale)
	}
}

func TestParseTIFFBadMagic(t *testing.T) {
	if _, err := parseTIFF(bytes.NewReader([]byte("not a tiff at all"))); err == nil {
		t.Fatal("expected an error for garbage input")
	}
}

func TestReadTIFFRegionStripped(t *testing.T) {
	dirs, err := parseTIFF(bytes.NewReader(basicGeoTIFF(t)))
	if err != nil {
		t.Fatal(err)
	}
	r := bytes.NewReader(basicGeoTIFF(t))
	// Rows 2..5 span both strips.
	out, err := readTIFFRegion(r, dirs[0], Rectangle{X: 1, Y: 2, Width: 3, Height: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 12 {
		t.Fatalf("got %d bytes, want 12", len(out))
	}
	for row := 0; row < 4; row++ {
		for col := 0; col < 3; col++ {
			want := byte((row+2)*8 + col + 1)
			if out[row*3+col] != want {
				t.Fatalf("pixel (%d,%d) = %d, want %d", col, row, out[row*3+col], want)
			}
		}
	}
}

func TestGeoTIFFSource(t *testing.T) {
	src, err := NewGeoTIFFSource(bytes.NewReader(basicGeoTIFF(t)))
	if err != nil {
		t.Fatal(err)
	}
	if src.CRS().Code != 4326 {
		t.Errorf("CRS = %s, want EPSG:4326", src.CRS())
	}
	env := src.OriginalEnvelope()
	if !env.Equal(geoEnv(-4, -4, 4, 4), 1e-9) {
		t.Errorf("envelope = %v, want [-4, -4, 4, 4]", env)
	}
	levels := src.ResolutionLevels()
	if len(levels) != 1 || levels[0][0] != 1 || levels[0][1] != 1 {
		t.Errorf("levels = %v, want one 1x1 degree level", levels)
	}

	gg := NewGridGeometry(Rectangle{Width: 4, Height: 4}, geoEnv(0, 0, 4, 4))
	cov, err := src.Read(gg)
	if err != nil {
		t.Fatal(err)
	}
	if cov == nil || cov.Width != 4 || cov.Height != 4 {
		t.Fatalf("coverage = %+v, want 4x4", cov)
	}
	// The quadrant starts at image pixel (4, 0).
	if cov.At(0, 0, 0) != 4 {
		t.Errorf("first sample = %d, want 4", cov.At(0, 0, 0))
	}
	if cov.At(0, 3, 3) != 31 {
		t.Errorf("last sample = %d, want 31", cov.At(0, 3, 3))
	}

	miss, err := src.Read(NewGridGeometry(Rectangle{Width: 4, Height: 4}, geoEnv(100, 100, 104, 104)))
	if err != nil {
		t.Fatal(err)
	}
	if miss != nil {
		t.Errorf("read outside the file returned %+v", miss)
	}
}

func TestGeoTIFFSourceTiled(t *testing.T) {
	tile := make([]byte, 16*16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			tile[y*16+x] = byte(y*16 + x)
		}
	}
	tt := &testTIFF{
		width: 8, height: 8, bits: 8,
		compression: compressionNone,
		tileSize:    16,
		chunks:      [][]byte{tile},
		pixelScale:  []float64{1, 1, 0},
		tiepoint:    []float64{0, 0, 0, -4, 4, 0},
		geoKeys:     wgs84Keys(),
	}
	src, err := NewGeoTIFFSource(bytes.NewReader(tt.build(t)))
	if err != nil {
		t.Fatal(err)
	}
	cov, err := src.Read(NewGridGeometry(Rectangle{Width: 4, Height: 4}, geoEnv(0, 0, 4, 4)))
	if err != nil {
		t.Fatal(err)
	}
	if cov == nil || cov.Width != 4 || cov.Height != 4 {
		t.Fatalf("coverage = %+v, want 4x4", cov)
	}
	// Image pixel (4, 0) reads tile byte 4.
	if cov.At(0, 0, 0) != 4 {
		t.Errorf("first sample = %d, want 4", cov.At(0, 0, 0))
	}
	// Image pixel (7, 3) reads tile byte 3*16+7.
	if cov.At(0, 3, 3) != 3*16+7 {
		t.Errorf("last sample = %d, want %d", cov.At(0, 3, 3), 3*16+7)
	}
}

func TestGeoTIFFSourceDeflate(t *testing.T) {
	var chunks [][]byte
	for _, raw := range gradientStrips(8, 8, 4) {
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(raw)
		fw.Close()
		chunks = append(chunks, buf.Bytes())
	}
	tt := &testTIFF{
		width: 8, height: 8, bits: 8,
		compression:  compressionDeflate,
		rowsPerStrip: 4,
		chunks:       chunks,
		pixelScale:   []float64{1, 1, 0},
		tiepoint:     []float64{0, 0, 0, -4, 4, 0},
		geoKeys:      wgs84Keys(),
	}
	src, err := NewGeoTIFFSource(bytes.NewReader(tt.build(t)))
	if err != nil {
		t.Fatal(err)
	}
	cov, err := src.Read(NewGridGeometry(Rectangle{Width: 8, Height: 8}, geoEnv(-4, -4, 4, 4)))
	if err != nil {
		t.Fatal(err)
	}
	if cov == nil || cov.Width != 8 || cov.Height != 8 {
		t.Fatalf("coverage = %+v, want the full 8x8 image", cov)
	}
	for i, want := range []uint64{0, 1, 2} {
		if got := cov.At(0, i, 0); got != want {
			t.Errorf("sample %d = %d, want %d", i, got, want)
		}
	}
}

func TestGeoTIFFProjectedKeys(t *testing.T) {
	tt := &testTIFF{
		width: 8, height: 8, bits: 8,
		compression:  compressionNone,
		rowsPerStrip: 8,
		chunks:       gradientStrips(8, 8, 8),
		pixelScale:   []float64{1000, 1000, 0},
		tiepoint:     []float64{0, 0, 0, 0, 8000, 0},
		geoKeys: []uint16{1, 1, 0, 2,
			geoKeyGeographicType, 0, 1, 4326,
			geoKeyProjectedType, 0, 1, 3857},
	}
	src, err := NewGeoTIFFSource(bytes.NewReader(tt.build(t)))
	if err != nil {
		t.Fatal(err)
	}
	if src.CRS().Code != 3857 {
		t.Errorf("CRS = %s, the projected key must win over the geographic one", src.CRS())
	}
}

func TestGeoTIFFUnknownKeys(t *testing.T) {
	tt := &testTIFF{
		width: 8, height: 8, bits: 8,
		compression:  compressionNone,
		rowsPerStrip: 8,
		chunks:       gradientStrips(8, 8, 8),
		pixelScale:   []float64{1, 1, 0},
		tiepoint:     []float64{0, 0, 0, 0, 8, 0},
		geoKeys:      []uint16{1, 1, 0, 1, geoKeyProjectedType, 0, 1, 27700},
	}
	src, err := NewGeoTIFFSource(bytes.NewReader(tt.build(t)))
	if err != nil {
		t.Fatal(err)
	}
	crs := src.CRS()
	if crs.Family != FamilyGeneric || crs.Code != 27700 {
		t.Errorf("CRS = %+v, want a generic wrapper around 27700", crs)
	}
}

func TestGeoTIFFMissingGeoref(t *testing.T) {
	tt := &testTIFF{
		width: 8, height: 8, bits: 8,
		compression:  compressionNone,
		rowsPerStrip: 8,
		chunks:       gradientStrips(8, 8, 8),
	}
	if _, err := NewGeoTIFFSource(bytes.NewReader(tt.build(t))); err == nil {
		t.Fatal("expected an error without georeferencing tags")
	}
}

func TestDecompressChunk(t *testing.T) {
	raw := []byte("twelve bytes")
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(raw)
	fw.Close()

	out, err := decompressChunk(buf.Bytes(), compressionDeflate, len(raw))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, raw) {
		t.Errorf("roundtrip gave %q", out)
	}

	if _, err := decompressChunk(buf.Bytes(), compressionDeflate, len(raw)+1); err == nil {
		t.Error("expected an error for a short chunk")
	}
	if _, err := decompressChunk(raw, 7, len(raw)); err == nil {
		t.Error("expected an error for unsupported compression")
	}
}

func TestDecodeSamples(t *testing.T) {
	t.Run("uint16", func(t *testing.T) {
		data := leShorts(1, 2, 65535)
		out := decodeSamples(data, 3, 1, 1, SampleUint16, binary.LittleEndian, 1)
		if out[0] != 1 || out[1] != 2 || out[2] != 65535 {
			t.Errorf("decoded %v", out)
		}
	})
	t.Run("int16", func(t *testing.T) {
		data := leShorts(0xFFFF) // -1
		out := decodeSamples(data, 1, 1, 1, SampleInt16, binary.LittleEndian, 1)
		if int64(out[0]) != -1 {
			t.Errorf("decoded %d, want -1", int64(out[0]))
		}
	})
	t.Run("float32 keeps bits", func(t *testing.T) {
		bits := math.Float32bits(1.5)
		data := leLongs(bits)
		out := decodeSamples(data, 1, 1, 1, SampleFloat32, binary.LittleEndian, 1)
		if math.Float32frombits(uint32(out[0])) != 1.5 {
			t.Errorf("decoded bits %x", out[0])
		}
	})
	t.Run("white is zero inverts", func(t *testing.T) {
		out := decodeSamples([]byte{0, 255}, 2, 1, 1, SampleUint8, binary.LittleEndian, 0)
		if out[0] != 255 || out[1] != 0 {
			t.Errorf("decoded %v, want inverted", out)
		}
	})
}

func TestSampleTypeSize(t *testing.T) {
	sizes := map[SampleType]int{
		SampleUint8: 1, SampleInt8: 1,
		SampleUint16: 2, SampleInt16: 2,
		SampleUint32: 4, SampleInt32: 4,
		SampleFloat32: 4, SampleFloat64: 8,
	}
	for st, want := range sizes {
		if st.Size() != want {
			t.Errorf("%v size = %d, want %d", st, st.Size(), want)
		}
	}
}
