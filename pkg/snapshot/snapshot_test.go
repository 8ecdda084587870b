package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slopedb/slope/pkg/buffer"
)

func writeStream(t *testing.T, n int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.Append(buffer.Key(i)*3, buffer.Value(fmt.Sprintf("value-%d", i))))
	}
	require.NoError(t, w.Close())
	return &buf
}

func TestSnapshotRoundTrip(t *testing.T) {
	const n = 10000 // spans multiple blocks
	stream := writeStream(t, n)

	keys, values, err := Load(stream)
	require.NoError(t, err)
	require.Len(t, keys, n)
	for i := range keys {
		assert.Equal(t, buffer.Key(i)*3, keys[i])
		assert.Equal(t, buffer.Value(fmt.Sprintf("value-%d", i)), values[i])
	}
}

func TestSnapshotEmpty(t *testing.T) {
	stream := writeStream(t, 0)

	keys, values, err := Load(stream)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, values)
}

func TestSnapshotReaderNext(t *testing.T) {
	stream := writeStream(t, 3)

	r, err := NewReader(stream)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		k, v, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, buffer.Key(i)*3, k)
		assert.Equal(t, buffer.Value(fmt.Sprintf("value-%d", i)), v)
	}

	_, _, err = r.Next()
	assert.Equal(t, io.EOF, err)
	_, _, err = r.Next()
	assert.Equal(t, io.EOF, err, "EOF is sticky")
}

func TestSnapshotRejectsUnsortedAppend(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	require.NoError(t, w.Append(10, buffer.Value("a")))
	assert.Error(t, w.Append(10, buffer.Value("b")), "duplicate key")
	assert.Error(t, w.Append(5, buffer.Value("c")), "descending key")
}

func TestSnapshotBadMagic(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{0, 1, 2, 3, 4, 5, 6, 7}))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestSnapshotTruncated(t *testing.T) {
	stream := writeStream(t, 1000)
	data := stream.Bytes()

	_, _, err := Load(bytes.NewReader(data[:len(data)/2]))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestSnapshotBitFlip(t *testing.T) {
	stream := writeStream(t, 1000)
	data := stream.Bytes()

	// Flip a byte inside the first compressed block
	data[64] ^= 0xff
	_, _, err := Load(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestSnapshotZeroLengthValues(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.Append(1, nil))
	require.NoError(t, w.Append(2, buffer.Value{}))
	require.NoError(t, w.Close())

	keys, values, err := Load(&buf)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Empty(t, values[0])
	assert.Empty(t, values[1])
}
