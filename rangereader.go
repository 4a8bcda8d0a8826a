package geowarp

import (
	"fmt"
	"io"
	"sync"

	"github.com/valyala/fasthttp"
)

// defaultWindowSize is how much a range reader fetches past the requested
// bytes. Directory and tile reads cluster, so over-fetching one window
// saves a round trip per call.
const defaultWindowSize = 64 * 1024

// RangeReader is an io.ReadSeeker over a remote file served with HTTP
// range requests. A sliding window caches the most recent fetch so short
// sequential reads hit the network once.
type RangeReader struct {
	url    string
	client *fasthttp.Client

	mu       sync.Mutex
	pos      int64
	size     int64
	window   []byte
	winStart int64
	winSize  int
}

// NewRangeReader probes the remote file's size and returns a reader
// positioned at its start. A nil client gets a default one.
func NewRangeReader(url string, client *fasthttp.Client) (*RangeReader, error) {
	if client == nil {
		client = &fasthttp.Client{}
	}
	rr := &RangeReader{
		url:      url,
		client:   client,
		winStart: -1,
		winSize:  defaultWindowSize,
	}
	size, err := rr.probeSize()
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", url, err)
	}
	rr.size = size
	return rr, nil
}

// SetWindowSize adjusts the over-fetch window.
func (rr *RangeReader) SetWindowSize(n int) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if n > 0 {
		rr.winSize = n
	}
}

// Size returns the remote file size, or -1 when unknown.
func (rr *RangeReader) Size() int64 { return rr.size }

func (rr *RangeReader) probeSize() (int64, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodHead)
	if err := rr.client.Do(req, resp); err != nil {
		return 0, err
	}
	// Servers without HEAD support still work; Size just stays unknown.
	if n := resp.Header.ContentLength(); n > 0 {
		return int64(n), nil
	}
	return -1, nil
}

func (rr *RangeReader) Read(p []byte) (int, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if rr.size > 0 && rr.pos >= rr.size {
		return 0, io.EOF
	}
	want := len(p)
	if rr.size > 0 && rr.pos+int64(want) > rr.size {
		want = int(rr.size - rr.pos)
	}
	n := 0
	for n < want {
		if !rr.inWindow(rr.pos) {
			if err := rr.fill(rr.pos, want-n); err != nil {
				if n > 0 {
					return n, nil
				}
				return 0, err
			}
			if !rr.inWindow(rr.pos) {
				if n > 0 {
					return n, nil
				}
				return 0, io.EOF
			}
		}
		off := int(rr.pos - rr.winStart)
		c := copy(p[n:want], rr.window[off:])
		n += c
		rr.pos += int64(c)
	}
	return n, nil
}

func (rr *RangeReader) inWindow(pos int64) bool {
	return rr.winStart >= 0 && pos >= rr.winStart && pos < rr.winStart+int64(len(rr.window))
}

// fill fetches a window starting at pos, at least need bytes long.
func (rr *RangeReader) fill(pos int64, need int) error {
	fetch := rr.winSize
	if fetch < need {
		fetch = need
	}
	end := pos + int64(fetch) - 1
	if rr.size > 0 && end >= rr.size {
		end = rr.size - 1
	}
	if end < pos {
		rr.window = rr.window[:0]
		rr.winStart = -1
		return nil
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", pos, end))
	if err := rr.client.Do(req, resp); err != nil {
		return err
	}
	status := resp.StatusCode()
	switch status {
	case fasthttp.StatusPartialContent:
	case fasthttp.StatusOK:
		// The server ignored the Range header and sent the whole file,
		// so the window starts at byte zero, not at pos.
		pos = 0
	default:
		return fmt.Errorf("geowarp: range request returned status %d", status)
	}
	body := resp.Body()
	if cap(rr.window) < len(body) {
		rr.window = make([]byte, len(body))
	}
	rr.window = rr.window[:len(body)]
	copy(rr.window, body)
	rr.winStart = pos
	return nil
}

func (rr *RangeReader) Seek(offset int64, whence int) (int64, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = rr.pos + offset
	case io.SeekEnd:
		if rr.size < 0 {
			return 0, fmt.Errorf("geowarp: cannot seek from end, size unknown")
		}
		pos = rr.size + offset
	default:
		return 0, fmt.Errorf("geowarp: invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("geowarp: negative seek position %d", pos)
	}
	rr.pos = pos
	return pos, nil
}
