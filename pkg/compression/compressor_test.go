package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/syncforge/pkg/errors"
)

func TestRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("syncforge export artifact ", 200))

	for _, alg := range []Algorithm{None, Gzip, LZ4} {
		t.Run(string(alg), func(t *testing.T) {
			compressed, err := Compress(alg, payload)
			require.NoError(t, err)
			if alg != None {
				assert.Less(t, len(compressed), len(payload))
			}

			out, err := Decompress(alg, compressed)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestWriterRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("line of data\n", 100))

	var buf bytes.Buffer
	w, err := NewWriter(Gzip, &buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out, err := Decompress(Gzip, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, alg)

	alg, err = ParseAlgorithm("lz4")
	require.NoError(t, err)
	assert.Equal(t, LZ4, alg)

	_, err = ParseAlgorithm("zip")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "", None.Extension())
	assert.Equal(t, ".gz", Gzip.Extension())
	assert.Equal(t, ".lz4", LZ4.Extension())
}
