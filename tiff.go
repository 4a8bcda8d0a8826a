package geowarp

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"

	"golang.org/x/image/tiff/lzw"
)

const (
	tiffMagicLE = 0x4949 // "II"
	tiffMagicBE = 0x4D4D // "MM"
	tiffVersion = 42
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
)

const (
	compressionNone    = 1
	compressionLZW     = 5
	compressionDeflate = 8
)

// SampleType describes how raster samples are encoded on disk.
type SampleType int

const (
	SampleUint8 SampleType = iota
	SampleInt8
	SampleUint16
	SampleInt16
	SampleUint32
	SampleInt32
	SampleFloat32
	SampleFloat64
)

// Size returns the sample width in bytes.
func (t SampleType) Size() int {
	switch t {
	case SampleUint8, SampleInt8:
		return 1
	case SampleUint16, SampleInt16:
		return 2
	case SampleFloat64:
		return 8
	}
	return 4
}

// tiffField is one decoded directory entry. Integer types land in ints,
// floating and rational types in floats, ASCII in str.
type tiffField struct {
	typ    uint16
	ints   []uint64
	floats []float64
	str    string
}

// tiffDir is a fully decoded image file directory.
type tiffDir struct {
	order  binary.ByteOrder
	fields map[uint16]*tiffField
}

func tiffTypeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7:
		return 1
	case 3, 8:
		return 2
	case 4, 9, 11:
		return 4
	case 5, 10, 12:
		return 8
	}
	return 0
}

// parseTIFF reads every directory of a classic TIFF, values included.
// Directories for a rendering source are small; eager decoding costs a
// handful of range requests and spares per-tag bookkeeping later.
func parseTIFF(r io.ReadSeeker) ([]*tiffDir, error) {
	header := make([]byte, 8)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading TIFF header: %w", err)
	}
	var order binary.ByteOrder
	switch binary.LittleEndian.Uint16(header[0:2]) {
	case tiffMagicLE:
		order = binary.LittleEndian
	case tiffMagicBE:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid TIFF magic 0x%04x", binary.LittleEndian.Uint16(header[0:2]))
	}
	if v := order.Uint16(header[2:4]); v != tiffVersion {
		return nil, fmt.Errorf("invalid TIFF version %d", v)
	}

	var dirs []*tiffDir
	next := order.Uint32(header[4:8])
	for next != 0 {
		dir, following, err := parseTIFFDir(r, order, next)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
		next = following
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("TIFF has no directories")
	}
	return dirs, nil
}

func parseTIFFDir(r io.ReadSeeker, order binary.ByteOrder, offset uint32) (*tiffDir, uint32, error) {
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, 0, err
	}
	var countBuf [2]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("reading directory at %d: %w", offset, err)
	}
	count := int(order.Uint16(countBuf[:]))

	// One read covers the whole entry table plus the next-directory link.
	table := make([]byte, count*12+4)
	if _, err := io.ReadFull(r, table); err != nil {
		return nil, 0, fmt.Errorf("reading directory entries: %w", err)
	}
	next := order.Uint32(table[count*12:])

	type pending struct {
		id     uint16
		typ    uint16
		n      uint32
		offset uint32
	}
	dir := &tiffDir{order: order, fields: make(map[uint16]*tiffField, count)}
	var deferred []pending
	for i := 0; i < count; i++ {
		e := table[i*12 : i*12+12]
		id := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		n := order.Uint32(e[4:8])
		size := tiffTypeSize(typ) * int(n)
		if size == 0 {
			continue
		}
		if size <= 4 {
			dir.fields[id] = decodeTIFFField(order, typ, n, e[8:8+size])
		} else {
			deferred = append(deferred, pending{id, typ, n, order.Uint32(e[8:12])})
		}
	}
	for _, p := range deferred {
		size := tiffTypeSize(p.typ) * int(p.n)
		buf := make([]byte, size)
		if _, err := r.Seek(int64(p.offset), io.SeekStart); err != nil {
			return nil, 0, err
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, 0, fmt.Errorf("reading value of tag %d: %w", p.id, err)
		}
		dir.fields[p.id] = decodeTIFFField(order, p.typ, p.n, buf)
	}
	return dir, next, nil
}

func decodeTIFFField(order binary.ByteOrder, typ uint16, count uint32, data []byte) *tiffField {
	f := &tiffField{typ: typ}
	n := int(count)
	switch typ {
	case 1, 7: // BYTE, UNDEFINED
		f.ints = make([]uint64, n)
		for i := 0; i < n; i++ {
			f.ints[i] = uint64(data[i])
		}
	case 6: // SBYTE
		f.ints = make([]uint64, n)
		for i := 0; i < n; i++ {
			f.ints[i] = uint64(int8(data[i]))
		}
	case 2: // ASCII
		f.str = string(bytes.TrimRight(data, "\x00"))
	case 3: // SHORT
		f.ints = make([]uint64, n)
		for i := 0; i < n; i++ {
			f.ints[i] = uint64(order.Uint16(data[i*2:]))
		}
	case 8: // SSHORT
		f.ints = make([]uint64, n)
		for i := 0; i < n; i++ {
			f.ints[i] = uint64(int16(order.Uint16(data[i*2:])))
		}
	case 4: // LONG
		f.ints = make([]uint64, n)
		for i := 0; i < n; i++ {
			f.ints[i] = uint64(order.Uint32(data[i*4:]))
		}
	case 9: // SLONG
		f.ints = make([]uint64, n)
		for i := 0; i < n; i++ {
			f.ints[i] = uint64(int32(order.Uint32(data[i*4:])))
		}
	case 5: // RATIONAL
		f.floats = make([]float64, n)
		for i := 0; i < n; i++ {
			num := order.Uint32(data[i*8:])
			den := order.Uint32(data[i*8+4:])
			if den != 0 {
				f.floats[i] = float64(num) / float64(den)
			}
		}
	case 10: // SRATIONAL
		f.floats = make([]float64, n)
		for i := 0; i < n; i++ {
			num := int32(order.Uint32(data[i*8:]))
			den := int32(order.Uint32(data[i*8+4:]))
			if den != 0 {
				f.floats[i] = float64(num) / float64(den)
			}
		}
	case 11: // FLOAT
		f.floats = make([]float64, n)
		for i := 0; i < n; i++ {
			f.floats[i] = float64(math.Float32frombits(order.Uint32(data[i*4:])))
		}
	case 12: // DOUBLE
		f.floats = make([]float64, n)
		for i := 0; i < n; i++ {
			f.floats[i] = math.Float64frombits(order.Uint64(data[i*8:]))
		}
	}
	return f
}

func (d *tiffDir) has(tag uint16) bool {
	_, ok := d.fields[tag]
	return ok
}

func (d *tiffDir) uintVal(tag uint16, def uint64) uint64 {
	if f, ok := d.fields[tag]; ok && len(f.ints) > 0 {
		return f.ints[0]
	}
	return def
}

func (d *tiffDir) uintSlice(tag uint16) []uint64 {
	if f, ok := d.fields[tag]; ok {
		return f.ints
	}
	return nil
}

func (d *tiffDir) floatSlice(tag uint16) []float64 {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}
	if f.floats != nil {
		return f.floats
	}
	out := make([]float64, len(f.ints))
	for i, v := range f.ints {
		out[i] = float64(v)
	}
	return out
}

func (d *tiffDir) imageWidth() int  { return int(d.uintVal(tagImageWidth, 0)) }
func (d *tiffDir) imageHeight() int { return int(d.uintVal(tagImageLength, 0)) }
func (d *tiffDir) bands() int       { return int(d.uintVal(tagSamplesPerPixel, 1)) }
func (d *tiffDir) compression() int { return int(d.uintVal(tagCompression, compressionNone)) }
func (d *tiffDir) tiled() bool      { return d.has(tagTileOffsets) }

func (d *tiffDir) sampleType() SampleType {
	bits := d.uintVal(tagBitsPerSample, 8)
	// 1 unsigned, 2 signed, 3 IEEE float
	format := d.uintVal(tagSampleFormat, 1)
	switch {
	case bits == 8 && format == 2:
		return SampleInt8
	case bits == 16 && format == 2:
		return SampleInt16
	case bits == 16:
		return SampleUint16
	case bits == 32 && format == 2:
		return SampleInt32
	case bits == 32 && format == 3:
		return SampleFloat32
	case bits == 32:
		return SampleUint32
	case bits == 64 && format == 3:
		return SampleFloat64
	}
	return SampleUint8
}

// readTIFFRegion reads the pixel rectangle rect from one directory,
// returning raw interleaved bytes in file sample order. rect must lie
// inside the image.
func readTIFFRegion(r io.ReadSeeker, d *tiffDir, rect Rectangle) ([]byte, error) {
	if rect.IsEmpty() {
		return nil, fmt.Errorf("geowarp: empty read rectangle")
	}
	if d.tiled() {
		return readTiledRegion(r, d, rect)
	}
	if d.has(tagStripOffsets) {
		return readStrippedRegion(r, d, rect)
	}
	return nil, fmt.Errorf("geowarp: image is neither tiled nor stripped")
}

type tileJob struct {
	tx, ty int
	comp   []byte
	raw    []byte
	err    error
}

func readTiledRegion(r io.ReadSeeker, d *tiffDir, rect Rectangle) ([]byte, error) {
	tileW := int(d.uintVal(tagTileWidth, 256))
	tileH := int(d.uintVal(tagTileLength, 256))
	offsets := d.uintSlice(tagTileOffsets)
	counts := d.uintSlice(tagTileByteCounts)
	compression := d.compression()
	bpp := d.bands() * d.sampleType().Size()
	tileBytes := tileW * tileH * bpp
	tilesPerRow := (d.imageWidth() + tileW - 1) / tileW

	var jobs []*tileJob
	for ty := rect.Y / tileH; ty <= (rect.Y+rect.Height-1)/tileH; ty++ {
		for tx := rect.X / tileW; tx <= (rect.X+rect.Width-1)/tileW; tx++ {
			if ty*tilesPerRow+tx < len(offsets) {
				jobs = append(jobs, &tileJob{tx: tx, ty: ty})
			}
		}
	}

	// I/O first, sequentially: range readers hate interleaved seeks.
	for _, j := range jobs {
		idx := j.ty*tilesPerRow + j.tx
		j.comp = getBuffer(int(counts[idx]))
		if _, err := r.Seek(int64(offsets[idx]), io.SeekStart); err != nil {
			releaseJobs(jobs)
			return nil, err
		}
		if _, err := io.ReadFull(r, j.comp); err != nil {
			releaseJobs(jobs)
			return nil, fmt.Errorf("reading tile %d,%d: %w", j.tx, j.ty, err)
		}
	}

	// Decompression fans out over the CPUs.
	if compression != compressionNone && len(jobs) > 1 {
		workers := runtime.NumCPU()
		if workers > len(jobs) {
			workers = len(jobs)
		}
		work := make(chan *tileJob, len(jobs))
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range work {
					j.raw, j.err = decompressChunk(j.comp, compression, tileBytes)
					putBuffer(j.comp)
					j.comp = nil
				}
			}()
		}
		for _, j := range jobs {
			work <- j
		}
		close(work)
		wg.Wait()
	} else {
		for _, j := range jobs {
			j.raw, j.err = decompressChunk(j.comp, compression, tileBytes)
			if compression != compressionNone {
				putBuffer(j.comp)
				j.comp = nil
			}
		}
	}

	out := make([]byte, rect.Width*rect.Height*bpp)
	for _, j := range jobs {
		if j.err != nil {
			return nil, fmt.Errorf("decompressing tile %d,%d: %w", j.tx, j.ty, j.err)
		}
		copyTileWindow(out, j.raw, rect, j.tx*tileW, j.ty*tileH, tileW, tileH, bpp)
		if compression == compressionNone {
			putBuffer(j.raw)
		}
	}
	return out, nil
}

func releaseJobs(jobs []*tileJob) {
	for _, j := range jobs {
		if j.comp != nil {
			putBuffer(j.comp)
		}
	}
}

// copyTileWindow copies the intersection of a tile and the requested
// rectangle into the output buffer.
func copyTileWindow(out, tile []byte, rect Rectangle, tileX, tileY, tileW, tileH, bpp int) {
	x0 := max(rect.X, tileX)
	y0 := max(rect.Y, tileY)
	x1 := min(rect.X+rect.Width, tileX+tileW)
	y1 := min(rect.Y+rect.Height, tileY+tileH)
	if x0 >= x1 || y0 >= y1 {
		return
	}
	rowBytes := (x1 - x0) * bpp
	for row := y0; row < y1; row++ {
		src := ((row-tileY)*tileW + (x0 - tileX)) * bpp
		dst := ((row-rect.Y)*rect.Width + (x0 - rect.X)) * bpp
		if src+rowBytes > len(tile) || dst+rowBytes > len(out) {
			return
		}
		copy(out[dst:dst+rowBytes], tile[src:src+rowBytes])
	}
}

func readStrippedRegion(r io.ReadSeeker, d *tiffDir, rect Rectangle) ([]byte, error) {
	offsets := d.uintSlice(tagStripOffsets)
	counts := d.uintSlice(tagStripByteCounts)
	compression := d.compression()
	width := d.imageWidth()
	rowsPerStrip := int(d.uintVal(tagRowsPerStrip, uint64(d.imageHeight())))
	if rowsPerStrip <= 0 {
		rowsPerStrip = d.imageHeight()
	}
	bpp := d.bands() * d.sampleType().Size()
	rowBytes := width * bpp

	out := make([]byte, rect.Width*rect.Height*bpp)
	for strip := rect.Y / rowsPerStrip; strip <= (rect.Y+rect.Height-1)/rowsPerStrip; strip++ {
		if strip >= len(offsets) {
			continue
		}
		comp := getBuffer(int(counts[strip]))
		if _, err := r.Seek(int64(offsets[strip]), io.SeekStart); err != nil {
			putBuffer(comp)
			return nil, err
		}
		if _, err := io.ReadFull(r, comp); err != nil {
			putBuffer(comp)
			return nil, fmt.Errorf("reading strip %d: %w", strip, err)
		}
		raw, err := decompressChunk(comp, compression, rowsPerStrip*rowBytes)
		if compression != compressionNone {
			putBuffer(comp)
		}
		if err != nil {
			return nil, fmt.Errorf("decompressing strip %d: %w", strip, err)
		}
		firstRow := strip * rowsPerStrip
		for row := max(rect.Y, firstRow); row < min(rect.Y+rect.Height, firstRow+rowsPerStrip); row++ {
			src := (row-firstRow)*rowBytes + rect.X*bpp
			dst := (row - rect.Y) * rect.Width * bpp
			n := rect.Width * bpp
			if src+n > len(raw) {
				break
			}
			copy(out[dst:dst+n], raw[src:src+n])
		}
		if compression == compressionNone {
			putBuffer(raw)
		}
	}
	return out, nil
}

// decompressChunk expands one tile or strip. Short output is an error;
// padding past expected is trimmed.
func decompressChunk(data []byte, compression, expected int) ([]byte, error) {
	switch compression {
	case compressionNone:
		return data, nil
	case compressionDeflate:
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		raw, err := io.ReadAll(fr)
		if err != nil {
			return nil, err
		}
		if len(raw) < expected {
			return nil, fmt.Errorf("deflate chunk short: %d of %d bytes", len(raw), expected)
		}
		return raw[:expected], nil
	case compressionLZW:
		// TIFF LZW is MSB-first; some writers emit LSB anyway.
		lr := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		raw, err := io.ReadAll(lr)
		lr.Close()
		if err != nil {
			lr = lzw.NewReader(bytes.NewReader(data), lzw.LSB, 8)
			raw, err = io.ReadAll(lr)
			lr.Close()
		}
		if err != nil {
			return nil, err
		}
		if len(raw) < expected {
			return nil, fmt.Errorf("LZW chunk short: %d of %d bytes", len(raw), expected)
		}
		return raw[:expected], nil
	}
	return nil, fmt.Errorf("unsupported compression %d", compression)
}

// decodeSamples turns raw file bytes into the flat band-interleaved
// uint64 layout coverages use. Float samples keep their bit pattern.
func decodeSamples(data []byte, width, height, bands int, st SampleType, order binary.ByteOrder, photometric uint64) []uint64 {
	out := make([]uint64, width*height*bands)
	size := st.Size()
	total := len(out)
	if total > len(data)/size {
		total = len(data) / size
	}
	for i := 0; i < total; i++ {
		off := i * size
		switch st {
		case SampleUint8:
			out[i] = uint64(data[off])
		case SampleInt8:
			out[i] = uint64(int8(data[off]))
		case SampleUint16:
			out[i] = uint64(order.Uint16(data[off:]))
		case SampleInt16:
			out[i] = uint64(int16(order.Uint16(data[off:])))
		case SampleUint32:
			out[i] = uint64(order.Uint32(data[off:]))
		case SampleInt32:
			out[i] = uint64(int32(order.Uint32(data[off:])))
		case SampleFloat32:
			out[i] = uint64(order.Uint32(data[off:]))
		case SampleFloat64:
			out[i] = order.Uint64(data[off:])
		}
	}
	// WhiteIsZero single-band images invert so 0 stays darkest.
	if photometric == 0 && bands == 1 {
		var maxVal uint64
		switch st {
		case SampleUint8:
			maxVal = 255
		case SampleUint16:
			maxVal = 65535
		case SampleUint32:
			maxVal = math.MaxUint32
		}
		if maxVal != 0 {
			for i := range out {
				out[i] = maxVal - out[i]
			}
		}
	}
	return out
}
