package video

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

const maxJPEGSize = 32 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// errTruncatedJPEG marks trailing bytes that never completed an image.
var errTruncatedJPEG = errors.New("truncated jpeg at end of stream")

// splitJPEG is a bufio.SplitFunc yielding one complete JPEG image per token
// from an MJPEG byte stream. Bytes before a start-of-image marker are skipped.
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			if len(bytes.TrimSpace(data)) > 0 {
				return len(data), nil, errTruncatedJPEG
			}
			return len(data), nil, nil
		}
		// Keep a possible half marker.
		if len(data) > 0 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+2:], jpegEOI)
	if end >= 0 {
		stop := start + 2 + end + 2
		return stop, data[start:stop], nil
	}
	if atEOF {
		return len(data), nil, errTruncatedJPEG
	}
	return start, nil, nil
}

// JPEGReader reads consecutive JPEG images from an MJPEG stream.
type JPEGReader struct {
	scanner *bufio.Scanner
}

// NewJPEGReader wraps r.
func NewJPEGReader(r io.Reader) *JPEGReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 256<<10), maxJPEGSize)
	s.Split(splitJPEG)
	return &JPEGReader{scanner: s}
}

// Next returns the next image, or io.EOF when the stream is exhausted.
func (r *JPEGReader) Next() ([]byte, error) {
	if r.scanner.Scan() {
		tok := r.scanner.Bytes()
		out := make([]byte, len(tok))
		copy(out, tok)
		return out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
