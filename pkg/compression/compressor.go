// Package compression wraps the codecs used for export artifacts. Gzip
// favors compatibility, lz4 favors speed; both operate in-memory and as
// writer wrappers for streamed artifact files.
package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/syncforge/pkg/errors"
)

// Algorithm names a supported codec
type Algorithm string

const (
	None Algorithm = "none"
	Gzip Algorithm = "gzip"
	LZ4  Algorithm = "lz4"
)

// ParseAlgorithm validates a configured codec name
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case None, "":
		return None, nil
	case Gzip:
		return Gzip, nil
	case LZ4:
		return LZ4, nil
	default:
		return None, errors.New(errors.ErrorTypeConfig, "unsupported compression algorithm").
			WithDetail("algorithm", name)
	}
}

// Extension returns the filename suffix for the codec
func (a Algorithm) Extension() string {
	switch a {
	case Gzip:
		return ".gz"
	case LZ4:
		return ".lz4"
	default:
		return ""
	}
}

// NewWriter wraps w with the codec. The returned writer must be closed to
// flush codec trailers; for None the close is a no-op and w is untouched.
func NewWriter(a Algorithm, w io.Writer) (io.WriteCloser, error) {
	switch a {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "unsupported compression algorithm").
			WithDetail("algorithm", string(a))
	}
}

// NewReader wraps r with the codec's decompressor
func NewReader(a Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch a {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "not a gzip stream")
		}
		return gr, nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "unsupported compression algorithm").
			WithDetail("algorithm", string(a))
	}
}

// Compress compresses data in memory
func Compress(a Algorithm, data []byte) ([]byte, error) {
	if a == None {
		return data, nil
	}
	var buf bytes.Buffer
	w, err := NewWriter(a, &buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "compression failed")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "compression failed")
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress
func Decompress(a Algorithm, data []byte) ([]byte, error) {
	if a == None {
		return data, nil
	}
	r, err := NewReader(a, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decompression failed")
	}
	return out, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
