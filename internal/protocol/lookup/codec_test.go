package lookup

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(n int32) []byte {
	b := make([]byte, CountSize)
	binary.BigEndian.PutUint32(b, uint32(n))
	return b
}

func TestReadCount(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		n, err := ReadCount(bytes.NewReader(header(3)), 10)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("Zero", func(t *testing.T) {
		n, err := ReadCount(bytes.NewReader(header(0)), 10)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("CleanEOF", func(t *testing.T) {
		_, err := ReadCount(bytes.NewReader(nil), 10)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("PartialHeader", func(t *testing.T) {
		_, err := ReadCount(bytes.NewReader([]byte{0, 0}), 10)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("Negative", func(t *testing.T) {
		_, err := ReadCount(bytes.NewReader(header(-1)), 10)
		assert.ErrorIs(t, err, ErrNegativeCount)
	})

	t.Run("TooLarge", func(t *testing.T) {
		_, err := ReadCount(bytes.NewReader(header(11)), 10)
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})

	t.Run("NoLimit", func(t *testing.T) {
		n, err := ReadCount(bytes.NewReader(header(math.MaxInt32)), 0)
		require.NoError(t, err)
		assert.Equal(t, math.MaxInt32, n)
	})
}

func TestRequestRoundTrip(t *testing.T) {
	keys := []Key{{0, 5, 7}, {1, -3, 9}, {255, math.MaxInt32, math.MinInt32}}

	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, keys))
	assert.Equal(t, CountSize+len(keys)*KeySize, buf.Len())

	r := bytes.NewReader(buf.Bytes())
	n, err := ReadCount(r, DefaultMaxBatch)
	require.NoError(t, err)
	require.Equal(t, len(keys), n)

	got, err := ReadKeys(r, nil, n)
	require.NoError(t, err)
	assert.Equal(t, keys, got)
	assert.Zero(t, r.Len())
}

func TestEncodeRequestLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, []Key{{1, 2, 3}}))

	assert.Equal(t, []byte{
		0, 0, 0, 1,
		0, 0, 0, 1,
		0, 0, 0, 2,
		0, 0, 0, 3,
	}, buf.Bytes())
}

func TestReadKeysReusesBuffer(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, []Key{{1, 2, 3}}))
	r := bytes.NewReader(buf.Bytes()[CountSize:])

	dst := make([]Key, 0, 8)
	got, err := ReadKeys(r, dst, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, cap(got))
}

func TestReadKeysTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeRequest(&buf, []Key{{1, 2, 3}, {4, 5, 6}}))
	data := buf.Bytes()[CountSize : buf.Len()-5]

	_, err := ReadKeys(bytes.NewReader(data), nil, 2)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriteValues(t *testing.T) {
	values := []float64{0.25, 0, math.MaxFloat64, -1.5}

	var buf bytes.Buffer
	require.NoError(t, WriteValues(&buf, values))
	require.Equal(t, len(values)*ValueSize, buf.Len())

	assert.Equal(t, math.Float64bits(0.25), binary.BigEndian.Uint64(buf.Bytes()[:8]))

	got, err := ReadValues(&buf, len(values))
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestReadValuesShort(t *testing.T) {
	_, err := ReadValues(bytes.NewReader(make([]byte, 12)), 2)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
