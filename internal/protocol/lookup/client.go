package lookup

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// EncodeRequest appends a complete request for keys to buf.
func EncodeRequest(buf *bytes.Buffer, keys []Key) error {
	if len(keys) > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrBatchTooLarge, len(keys))
	}
	buf.Grow(CountSize + len(keys)*KeySize)

	enc := xdr.NewEncoder(buf)
	if _, err := enc.EncodeInt(int32(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		for _, v := range [3]int32{k.Provenance, k.Source, k.Target} {
			if _, err := enc.EncodeInt(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadValues reads a response of n values.
func ReadValues(r io.Reader, n int) ([]float64, error) {
	raw := make([]byte, n*ValueSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read %d values: %w", n, err)
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Float64frombits(binary.BigEndian.Uint64(raw[i*ValueSize:]))
	}
	return values, nil
}

// Client issues batched lookups over an established stream, typically a
// net.Conn. It is not safe for concurrent use.
type Client struct {
	rw  io.ReadWriter
	r   *bufio.Reader
	buf bytes.Buffer
}

// NewClient wraps rw.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw, r: bufio.NewReader(rw)}
}

// Lookup sends keys as one batch and returns one value per key, in order.
// Missing entries come back as math.MaxFloat64.
func (c *Client) Lookup(keys []Key) ([]float64, error) {
	c.buf.Reset()
	if err := EncodeRequest(&c.buf, keys); err != nil {
		return nil, err
	}
	if _, err := c.rw.Write(c.buf.Bytes()); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return ReadValues(c.r, len(keys))
}
