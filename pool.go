package geowarp

import "sync"

// Buffer pools shared by the raster decode paths. Tile and strip reads
// churn through short-lived byte slices; tiering the pools by size keeps
// a 256px tile from pinning a strip-sized buffer.

const (
	smallBufferSize  = 64 * 1024
	mediumBufferSize = 256 * 1024
	largeBufferSize  = 1024 * 1024
	xlargeBufferSize = 4 * 1024 * 1024
)

type byteSlicePool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
	xlarge sync.Pool
}

var bufferPool = &byteSlicePool{
	small:  sync.Pool{New: func() interface{} { b := make([]byte, smallBufferSize); return &b }},
	medium: sync.Pool{New: func() interface{} { b := make([]byte, mediumBufferSize); return &b }},
	large:  sync.Pool{New: func() interface{} { b := make([]byte, largeBufferSize); return &b }},
	xlarge: sync.Pool{New: func() interface{} { b := make([]byte, xlargeBufferSize); return &b }},
}

// getBuffer returns a byte slice of exactly the requested length, backed
// by a pooled array when one of the size tiers fits. Pass it to putBuffer
// when done.
func getBuffer(size int) []byte {
	switch {
	case size <= smallBufferSize:
		return (*bufferPool.small.Get().(*[]byte))[:size]
	case size <= mediumBufferSize:
		return (*bufferPool.medium.Get().(*[]byte))[:size]
	case size <= largeBufferSize:
		return (*bufferPool.large.Get().(*[]byte))[:size]
	case size <= xlargeBufferSize:
		return (*bufferPool.xlarge.Get().(*[]byte))[:size]
	}
	return make([]byte, size)
}

// putBuffer returns a pooled buffer. Buffers from odd tiers are dropped.
func putBuffer(buf []byte) {
	c := cap(buf)
	if c == 0 {
		return
	}
	buf = buf[:c]
	switch c {
	case smallBufferSize:
		bufferPool.small.Put(&buf)
	case mediumBufferSize:
		bufferPool.medium.Put(&buf)
	case largeBufferSize:
		bufferPool.large.Put(&buf)
	case xlargeBufferSize:
		bufferPool.xlarge.Put(&buf)
	}
}
