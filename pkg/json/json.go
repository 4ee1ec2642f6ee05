// Package json provides high-performance JSON serialization for SyncForge
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// bufferPool recycles encode buffers across hot paths (saver, refiner
// cache keys, exporter serialization).
var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// Marshal encodes v to JSON bytes
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent encodes v to indented JSON bytes
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes JSON bytes into v
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// NewEncoder returns a JSON encoder writing to w with HTML escaping
// disabled, matching the on-disk export format.
func NewEncoder(w io.Writer) *gojson.Encoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// EncodePooled encodes v using a pooled buffer and returns a copy of the
// encoded bytes. The pooled buffer is returned to the pool before the
// function exits.
func EncodePooled(v interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	enc := NewEncoder(buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	// Trim the trailing newline Encode appends
	b := buf.Bytes()
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}

	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
