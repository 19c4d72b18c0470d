// Package lookup implements the wire format of the translation-table query
// protocol.
//
// A request is a big-endian signed 32-bit count N followed by N keys, each
// three big-endian signed 32-bit integers (provenance, source, target). The
// response is N big-endian IEEE-754 doubles in request order. All fields are
// plain XDR ints and doubles; there is no framing beyond the count.
package lookup

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

const (
	// CountSize is the size of the request header.
	CountSize = 4

	// KeySize is the encoded size of one key.
	KeySize = 12

	// ValueSize is the encoded size of one response value.
	ValueSize = 8

	// DefaultMaxBatch is the largest batch a server accepts by default.
	DefaultMaxBatch = 1 << 20

	keysPerChunk = 4096
)

var (
	// ErrNegativeCount is returned for a request header below zero.
	ErrNegativeCount = errors.New("negative batch count")

	// ErrBatchTooLarge is returned for a request header above the limit.
	ErrBatchTooLarge = errors.New("batch count exceeds limit")
)

// Key identifies one probability lookup.
type Key struct {
	Provenance int32
	Source     int32
	Target     int32
}

// ReadCount reads a request header.
//
// io.EOF is returned only when the stream ends before the first header
// byte, which is how a client ends a session. A header cut short yields
// io.ErrUnexpectedEOF. maxBatch <= 0 disables the upper bound.
func ReadCount(r io.Reader, maxBatch int) (int, error) {
	var header [CountSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, err
	}

	n := int32(binary.BigEndian.Uint32(header[:]))
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeCount, n)
	}
	if maxBatch > 0 && int(n) > maxBatch {
		return 0, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, n, maxBatch)
	}
	return int(n), nil
}

// ReadKeys reads n keys, reusing dst's storage when it is large enough.
// A stream that ends inside the batch yields io.ErrUnexpectedEOF.
func ReadKeys(r io.Reader, dst []Key, n int) ([]Key, error) {
	if cap(dst) < n {
		dst = make([]Key, n)
	}
	dst = dst[:n]

	var chunk [keysPerChunk * KeySize]byte
	for off := 0; off < n; off += keysPerChunk {
		m := min(keysPerChunk, n-off)
		raw := chunk[:m*KeySize]
		if _, err := io.ReadFull(r, raw); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read keys %d..%d of %d: %w", off, off+m, n, err)
		}
		if err := decodeKeys(raw, dst[off:off+m]); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func decodeKeys(raw []byte, keys []Key) error {
	dec := xdr.NewDecoder(bytes.NewReader(raw))
	for i := range keys {
		k := &keys[i]
		var err error
		if k.Provenance, _, err = dec.DecodeInt(); err != nil {
			return fmt.Errorf("decode key %d: %w", i, err)
		}
		if k.Source, _, err = dec.DecodeInt(); err != nil {
			return fmt.Errorf("decode key %d: %w", i, err)
		}
		if k.Target, _, err = dec.DecodeInt(); err != nil {
			return fmt.Errorf("decode key %d: %w", i, err)
		}
	}
	return nil
}

// WriteValues encodes values into buf. buf is not reset.
func WriteValues(buf *bytes.Buffer, values []float64) error {
	buf.Grow(len(values) * ValueSize)
	enc := xdr.NewEncoder(buf)
	for i, v := range values {
		if _, err := enc.EncodeDouble(v); err != nil {
			return fmt.Errorf("encode value %d: %w", i, err)
		}
	}
	return nil
}
